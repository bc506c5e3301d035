package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "GRPC_ADDR", "LOG_LEVEL", "GCP_PROJECT_ID", "GOOGLE_CLOUD_PROJECT_ID", "GCP_DATASET_ID",
		"BIGQUERY_DATASET_ID", "BQ_LOCATION", "GCP_SERVICE_ACCOUNT_JSON", "GCP_SERVICE_ACCOUNT_FILE",
		"RATE_LIMIT_BURST", "RATE_LIMIT_PER_SEC", "MAX_BODY_BYTES", "CORS_ALLOWED_ORIGINS", "CRON_SECRET",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.HTTPAddr != DefaultHTTPAddr || c.Dataset != DefaultDataset || c.Location != DefaultLocation {
		t.Fatalf("defaults = %+v", c)
	}
	if c.RateBurst != DefaultRateBurst || c.MaxBodyBytes != DefaultMaxBodyBytes || c.HasWarehouse() {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_CLOUD_PROJECT_ID", "fallback-project")
	t.Setenv("BIGQUERY_DATASET_ID", "legacy_ds")
	t.Setenv("GCP_SERVICE_ACCOUNT_JSON", `{"client_email":"svc@example.com"}`)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("CRON_SECRET", "cron")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.ProjectID != "fallback-project" || c.Dataset != "legacy_ds" || c.RateBurst != 5 {
		t.Fatalf("config = %+v", c)
	}
	if len(c.AllowedOrigins) != 2 || !c.HasWarehouse() {
		t.Fatalf("config = %+v", c)
	}
	p := c.Presence()
	if !p["auth"]["cronSecret"] || p["mail"]["apiKey"] {
		t.Fatalf("presence = %v", p)
	}
}

func TestFromEnvCredentialFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, []byte(`{"client_email":"svc@example.com"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GCP_SERVICE_ACCOUNT_FILE", path)
	c, err := FromEnv()
	if err != nil || !c.HasWarehouse() {
		t.Fatalf("FromEnv = %+v, %v", c, err)
	}

	t.Setenv("GCP_SERVICE_ACCOUNT_FILE", filepath.Join(t.TempDir(), "missing.json"))
	if _, err := FromEnv(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestFromEnvRejectsBadNumbers(t *testing.T) {
	for _, tc := range []struct{ key, val string }{
		{"RATE_LIMIT_BURST", "many"},
		{"RATE_LIMIT_PER_SEC", "0"},
		{"MAX_BODY_BYTES", "-1"},
	} {
		t.Run(tc.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := FromEnv(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
