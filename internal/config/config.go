package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/listings-proxy/internal/env"
	"github.com/yourorg/listings-proxy/internal/odata"
)

const (
	defaultBaseURL  = "https://ddfapi.realtor.ca/odata/v1"
	defaultTokenURL = "https://identity.crea.ca/connect/token"
	defaultScope    = "DDFApi_Read"
)

// Config captures runtime settings for the proxy.
type Config struct {
	Port     int
	LogLevel string

	DDF    DDFConfig
	Filter FilterConfig

	RateLimitPerMinute int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	PostgresDSN    string
	ArchiveWorkers int
	ArchiveQueue   int

	ServerReadTimeout       time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	GracefulShutdownTimeout time.Duration
}

// DDFConfig holds the upstream endpoints and client credentials.
type DDFConfig struct {
	BaseURL        *url.URL
	TokenURL       *url.URL
	ClientID       string
	ClientSecret   string
	Scope          string
	RequestTimeout time.Duration
	PageRate       float64
	MaxPages       int
	// Expand is passed through as $expand when set.
	Expand string
}

// FilterConfig carries the defaults the filter builder cannot infer from a request.
type FilterConfig struct {
	// CreatedAfter disables the creation cutoff clause when zero.
	CreatedAfter       time.Time
	DefaultTransaction string
}

// Load reads an optional .env file, then the environment, and validates required values.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	clientID, err := env.Required("DDF_CLIENT_ID")
	if err != nil {
		return Config{}, err
	}
	clientSecret, err := env.Required("DDF_CLIENT_SECRET")
	if err != nil {
		return Config{}, err
	}

	baseURL, err := parseAbsolute("DDF_BASE_URL", env.Get("DDF_BASE_URL", defaultBaseURL))
	if err != nil {
		return Config{}, err
	}
	tokenURL, err := parseAbsolute("DDF_TOKEN_URL", env.Get("DDF_TOKEN_URL", defaultTokenURL))
	if err != nil {
		return Config{}, err
	}

	var createdAfter time.Time
	if raw := env.Get("DDF_CREATED_AFTER", ""); raw != "" {
		createdAfter, err = parseCutoff(raw)
		if err != nil {
			return Config{}, err
		}
	}

	var errs []error
	intVar := func(k string, def int) int {
		v, err := env.GetInt(k, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	floatVar := func(k string, def float64) float64 {
		v, err := env.GetFloat(k, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durationVar := func(k string, def time.Duration) time.Duration {
		v, err := env.GetDuration(k, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		Port:     intVar("PORT", 4002),
		LogLevel: strings.ToLower(env.Get("LOG_LEVEL", "info")),
		DDF: DDFConfig{
			BaseURL:        baseURL,
			TokenURL:       tokenURL,
			ClientID:       clientID,
			ClientSecret:   clientSecret,
			Scope:          env.Get("DDF_SCOPE", defaultScope),
			RequestTimeout: durationVar("DDF_REQUEST_TIMEOUT", 10*time.Second),
			PageRate:       floatVar("DDF_PAGE_RATE", 10),
			MaxPages:       intVar("DDF_MAX_PAGES", 5),
			Expand:         env.Get("DDF_EXPAND", ""),
		},
		Filter: FilterConfig{
			CreatedAfter:       createdAfter,
			DefaultTransaction: env.Get("DDF_DEFAULT_TRANSACTION", odata.TransactionForSale),
		},
		RateLimitPerMinute:      intVar("RATE_LIMIT_PER_MINUTE", 100),
		RedisAddr:               env.Get("REDIS_ADDR", ""),
		RedisPassword:           env.Get("REDIS_PASSWORD", ""),
		RedisDB:                 intVar("REDIS_DB", 0),
		CacheTTL:                durationVar("CACHE_TTL", 5*time.Minute),
		PostgresDSN:             env.Get("PG_DSN", ""),
		ArchiveWorkers:          intVar("ARCHIVE_WORKERS", 2),
		ArchiveQueue:            intVar("ARCHIVE_QUEUE", 256),
		ServerReadTimeout:       durationVar("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout:      durationVar("SERVER_WRITE_TIMEOUT", 60*time.Second),
		ServerIdleTimeout:       durationVar("SERVER_IDLE_TIMEOUT", 120*time.Second),
		GracefulShutdownTimeout: durationVar("GRACEFUL_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if t, ok := odata.NormalizeTransaction(cfg.Filter.DefaultTransaction); ok {
		cfg.Filter.DefaultTransaction = t
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings that would only fail later, mid-request.
func (c Config) Validate() error {
	if c.DDF.ClientID == "" {
		return errors.New("DDF_CLIENT_ID is required")
	}
	if c.DDF.ClientSecret == "" {
		return errors.New("DDF_CLIENT_SECRET is required")
	}
	if c.DDF.BaseURL == nil || c.DDF.TokenURL == nil {
		return errors.New("DDF_BASE_URL and DDF_TOKEN_URL are required")
	}
	if c.DDF.MaxPages < 1 {
		return fmt.Errorf("DDF_MAX_PAGES must be at least 1, got %d", c.DDF.MaxPages)
	}
	if c.DDF.RequestTimeout <= 0 {
		return errors.New("DDF_REQUEST_TIMEOUT must be positive")
	}
	if _, ok := odata.NormalizeTransaction(c.Filter.DefaultTransaction); !ok {
		return fmt.Errorf("DDF_DEFAULT_TRANSACTION must be \"For Sale\" or \"For Rent\", got %q", c.Filter.DefaultTransaction)
	}
	return nil
}

func parseAbsolute(key, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%s must be absolute (scheme://host)", key)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// parseCutoff accepts a full RFC3339 timestamp or a plain date.
func parseCutoff(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid DDF_CREATED_AFTER %q: want RFC3339 or YYYY-MM-DD", raw)
	}
	return t.UTC(), nil
}
