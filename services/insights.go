package services

import (
	"fmt"
	"sort"
	"strings"

	"goofish-crawler/models"
	"goofish-crawler/utils"
)

// InsightService summarises stored listings. It only reads what the crawl
// pipeline has already persisted.
type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(keyword string, listings []*models.StoredListing) *models.InsightReport {
	report := &models.InsightReport{
		Keyword:          keyword,
		ListingsByArea:   make(map[string]int),
		ListingsBySeller: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var priced []*models.StoredListing
	for _, l := range listings {
		if l.Price.Valid && l.Price.Cents > 0 {
			priced = append(priced, l)
		}
		if l.LowConfidence {
			report.LowConfidence++
		}
		if l.Area != "" {
			report.ListingsByArea[l.Area]++
		}
		if l.Seller != "" {
			report.ListingsBySeller[l.Seller]++
		}
	}

	report.PricedListings = len(priced)
	if len(priced) == 0 {
		s.logger.Debug("[insights] no priced listings among %d", len(listings))
		return report
	}

	sort.SliceStable(priced, func(i, j int) bool {
		return priced[i].Price.Cents < priced[j].Price.Cents
	})

	var total int64
	for _, l := range priced {
		total += l.Price.Cents
	}

	report.Cheapest = priced[0]
	report.MostExpensive = priced[len(priced)-1]
	report.MinPrice = yuan(report.Cheapest.Price.Cents)
	report.MaxPrice = yuan(report.MostExpensive.Price.Cents)
	report.AveragePrice = round2(float64(total) / float64(len(priced)) / 100)

	mid := len(priced) / 2
	if len(priced)%2 == 1 {
		report.MedianPrice = yuan(priced[mid].Price.Cents)
	} else {
		report.MedianPrice = round2(float64(priced[mid-1].Price.Cents+priced[mid].Price.Cents) / 200)
	}

	return report
}

func (s *InsightService) Print(r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	title := "ALL LISTINGS"
	if r.Keyword != "" {
		title = "LISTINGS FOR " + r.Keyword
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 %s\033[0m\n", title)
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Stored listings        : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Printf("  With a price           : \033[1m%d\033[0m\n", r.PricedListings)
	fmt.Printf("  Low-confidence keys    : \033[1m%d\033[0m\n", r.LowConfidence)
	fmt.Println()

	fmt.Printf("\033[1;33m  Price Statistics (¥)\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.PricedListings > 0 {
		fmt.Printf("  Average price : \033[1;32m¥%.2f\033[0m\n", r.AveragePrice)
		fmt.Printf("  Median price  : \033[1;32m¥%.2f\033[0m\n", r.MedianPrice)
		fmt.Printf("  Minimum price : \033[1;32m¥%.2f\033[0m\n", r.MinPrice)
		fmt.Printf("  Maximum price : \033[1;32m¥%.2f\033[0m\n", r.MaxPrice)
	} else {
		fmt.Printf("  No price data available\n")
	}
	fmt.Println()

	if r.Cheapest != nil {
		fmt.Printf("\033[1;33m  Cheapest Listing\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  %s\n", utils.Truncate(r.Cheapest.Title, 50))
		fmt.Printf("  Seller : %s | Area : %s\n", r.Cheapest.Seller, r.Cheapest.Area)
		fmt.Printf("  URL    : %s\n", r.Cheapest.URL)
		fmt.Println()
	}

	fmt.Printf("\033[1;33m  Listings by Area\033[0m\n")
	fmt.Printf("  %s\n", thin)
	printCounts(r.ListingsByArea, 10)
	fmt.Println()

	fmt.Printf("\033[1;33m  Most Active Sellers\033[0m\n")
	fmt.Printf("  %s\n", thin)
	printCounts(r.ListingsBySeller, 5)

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func printCounts(counts map[string]int, max int) {
	if len(counts) == 0 {
		fmt.Printf("  No data\n")
		return
	}
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for name, cnt := range counts {
		entries = append(entries, entry{name, cnt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > max {
		entries = entries[:max]
	}
	for _, e := range entries {
		bar := strings.Repeat("█", e.count)
		fmt.Printf("  %-30s %s (%d)\n", utils.Truncate(e.name, 28), bar, e.count)
	}
}

func yuan(cents int64) float64 {
	return round2(float64(cents) / 100)
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
