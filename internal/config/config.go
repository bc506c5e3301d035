// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultHTTPAddr     = ":8080"
	DefaultGRPCAddr     = ":9090"
	DefaultDataset      = "new_gmc_data"
	DefaultLocation     = "US"
	DefaultRateBurst    = 20
	DefaultRatePerSec   = 10
	DefaultMaxBodyBytes = 1 << 20
)

var ErrInvalid = errors.New("config: invalid")

// Config is read once at startup and passed to the wiring in main.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	// Warehouse
	Credentials  []byte
	ProjectID    string
	Dataset      string
	Location     string
	TokenURL     string
	WarehouseURL string

	// Secrets
	AuthSecret        string
	UnsubscribeSecret string
	CronSecret        string

	PostgresDSN string

	ResendAPIKey string
	MailFrom     string
	AppBaseURL   string

	SearchAPIKey   string
	SearchEngineID string

	RateBurst      int
	RatePerSec     int
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// FromEnv builds a Config from environment variables, applying defaults.
func FromEnv() (Config, error) {
	c := Config{
		HTTPAddr:          envOr("HTTP_ADDR", DefaultHTTPAddr),
		GRPCAddr:          envOr("GRPC_ADDR", DefaultGRPCAddr),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		ProjectID:         firstEnv("GCP_PROJECT_ID", "GOOGLE_CLOUD_PROJECT_ID"),
		Dataset:           envOr("GCP_DATASET_ID", envOr("BIGQUERY_DATASET_ID", DefaultDataset)),
		Location:          envOr("BQ_LOCATION", DefaultLocation),
		TokenURL:          env("WAREHOUSE_TOKEN_URL"),
		WarehouseURL:      env("WAREHOUSE_BASE_URL"),
		AuthSecret:        env("ECOMPULSE_AUTH_SECRET"),
		UnsubscribeSecret: env("UNSUBSCRIBE_JWT_SECRET"),
		CronSecret:        env("CRON_SECRET"),
		PostgresDSN:       env("ECOMPULSE_PG_DSN"),
		ResendAPIKey:      env("RESEND_API_KEY"),
		MailFrom:          env("MAIL_FROM"),
		AppBaseURL:        strings.TrimRight(env("APP_BASE_URL"), "/"),
		SearchAPIKey:      env("GOOGLE_SEARCH_API_KEY"),
		SearchEngineID:    env("GOOGLE_SEARCH_ENGINE_ID"),
		AllowedOrigins:    splitCSV(env("CORS_ALLOWED_ORIGINS")),
	}

	if raw := env("GCP_SERVICE_ACCOUNT_JSON"); raw != "" {
		c.Credentials = []byte(raw)
	} else if path := env("GCP_SERVICE_ACCOUNT_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read GCP_SERVICE_ACCOUNT_FILE: %v", ErrInvalid, err)
		}
		c.Credentials = data
	}

	var err error
	if c.RateBurst, err = intEnv("RATE_LIMIT_BURST", DefaultRateBurst); err != nil {
		return Config{}, err
	}
	if c.RatePerSec, err = intEnv("RATE_LIMIT_PER_SEC", DefaultRatePerSec); err != nil {
		return Config{}, err
	}
	maxBody, err := intEnv("MAX_BODY_BYTES", DefaultMaxBodyBytes)
	if err != nil {
		return Config{}, err
	}
	c.MaxBodyBytes = int64(maxBody)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges. Missing optional integrations are allowed;
// their routes report the gap at request time.
func (c Config) Validate() error {
	switch {
	case c.RateBurst <= 0 || c.RatePerSec <= 0:
		return fmt.Errorf("%w: rate limits must be positive", ErrInvalid)
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: MAX_BODY_BYTES must be positive", ErrInvalid)
	case strings.TrimSpace(c.HTTPAddr) == "":
		return fmt.Errorf("%w: HTTP_ADDR is empty", ErrInvalid)
	}
	return nil
}

// HasWarehouse reports whether warehouse credentials are configured.
func (c Config) HasWarehouse() bool { return len(c.Credentials) > 0 }

// Presence reports which integrations are configured, without values.
func (c Config) Presence() map[string]map[string]bool {
	return map[string]map[string]bool{
		"warehouse": {
			"credentials": c.HasWarehouse(),
			"projectId":   c.ProjectID != "",
		},
		"auth": {
			"sessionSecret":     c.AuthSecret != "",
			"unsubscribeSecret": c.UnsubscribeSecret != "",
			"cronSecret":        c.CronSecret != "",
		},
		"mail":     {"apiKey": c.ResendAPIKey != ""},
		"search":   {"apiKey": c.SearchAPIKey != "", "engineId": c.SearchEngineID != ""},
		"database": {"url": c.PostgresDSN != ""},
	}
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func envOr(key, def string) string {
	if v := env(key); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := env(k); v != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, def int) (int, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	return n, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
