package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxConcurrency      int
	RateLimitMs         int
	MaxRetries          int
	RetryBaseDelay      time.Duration
	PageTimeout         time.Duration
	MaxPagesLimit       int
	MaxPagesDefault     int
	LowConfidencePolicy string

	SearchURLTemplate string
	BrowserHeadless   bool
	UserAgent         string
	ChromeBin         string
	RenderWait        time.Duration
	SelectorsFile     string

	RedisAddr    string
	RedisPass    string
	RedisDB      int
	SeenCacheKey string
	SeenCacheTTL time.Duration

	ServerHost string
	ServerPort int

	Debug         bool
	CSVOutputPath string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "crawler"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "crawler123"),
		PostgresDB:       getEnv("POSTGRES_DB", "goofish"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxConcurrency:      getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:         getEnvInt("RATE_LIMIT_MS", 1000),
		MaxRetries:          getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY_MS", time.Millisecond, 2*time.Second),
		PageTimeout:         getEnvDuration("PAGE_TIMEOUT_SECONDS", time.Second, 60*time.Second),
		MaxPagesLimit:       getEnvInt("MAX_PAGES_LIMIT", 50),
		MaxPagesDefault:     getEnvInt("MAX_PAGES_DEFAULT", 1),
		LowConfidencePolicy: strings.ToLower(getEnv("LOW_CONFIDENCE_POLICY", "insert")),

		SearchURLTemplate: getEnv("SEARCH_URL_TEMPLATE", ""),
		BrowserHeadless:   getEnvBool("BROWSER_HEADLESS", true),
		UserAgent:         getEnv("USER_AGENT", ""),
		ChromeBin:         getEnv("CHROME_BIN", ""),
		RenderWait:        getEnvDuration("RENDER_WAIT_MS", time.Millisecond, 3*time.Second),
		SelectorsFile:     getEnv("SELECTORS_FILE", ""),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisPass:    getEnv("REDIS_PASS", ""),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		SeenCacheKey: getEnv("SEEN_CACHE_KEY", "goofish:seen"),
		SeenCacheTTL: getEnvDuration("SEEN_CACHE_TTL_SECONDS", time.Second, 7*24*time.Hour),

		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8000),

		Debug:         getEnvBool("DEBUG", false),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/listings.csv"),
	}
}

// Validate rejects settings the crawler cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.MaxConcurrency < 1 {
		problems = append(problems, fmt.Sprintf("MAX_CONCURRENCY must be >= 1, got %d", c.MaxConcurrency))
	}
	if c.RateLimitMs < 0 {
		problems = append(problems, fmt.Sprintf("RATE_LIMIT_MS must be >= 0, got %d", c.RateLimitMs))
	}
	if c.MaxRetries < 1 {
		problems = append(problems, fmt.Sprintf("MAX_RETRIES must be >= 1, got %d", c.MaxRetries))
	}
	if c.RetryBaseDelay < 0 {
		problems = append(problems, "RETRY_BASE_DELAY_MS must be >= 0")
	}
	if c.PageTimeout <= 0 {
		problems = append(problems, "PAGE_TIMEOUT_SECONDS must be > 0")
	}
	if c.MaxPagesLimit < 1 {
		problems = append(problems, fmt.Sprintf("MAX_PAGES_LIMIT must be >= 1, got %d", c.MaxPagesLimit))
	}
	if c.MaxPagesDefault < 1 || c.MaxPagesDefault > c.MaxPagesLimit {
		problems = append(problems, fmt.Sprintf("MAX_PAGES_DEFAULT must be in 1..%d, got %d", c.MaxPagesLimit, c.MaxPagesDefault))
	}
	switch c.LowConfidencePolicy {
	case "insert", "skip":
	default:
		problems = append(problems, fmt.Sprintf("LOW_CONFIDENCE_POLICY must be insert or skip, got %q", c.LowConfidencePolicy))
	}
	if c.SearchURLTemplate != "" && !strings.Contains(c.SearchURLTemplate, "{keyword}") {
		problems = append(problems, "SEARCH_URL_TEMPLATE must contain {keyword}")
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		problems = append(problems, fmt.Sprintf("SERVER_PORT out of range: %d", c.ServerPort))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DSN returns the PostgreSQL connection string. DATABASE_URL wins when set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// ServerAddr returns host:port for the HTTP server.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads an integer count of unit.
func getEnvDuration(key string, unit time.Duration, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return time.Duration(n) * unit
		}
	}
	return fallback
}
