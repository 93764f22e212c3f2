package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func writeIntegration(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "config", "integrations"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "integrations", name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadIntegrationDefaults(t *testing.T) {
	dir := t.TempDir()
	writeIntegration(t, dir, "acme.yaml", `
id: acme
name: Acme PMS
base_url: https://api.acme.example.com/v1
api_key_env: ACME_API_KEY
`)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ic, ok := cfg.Integrations["acme"]
	if !ok {
		t.Fatalf("integration not loaded: %v", cfg.Integrations)
	}
	if ic.APIKeyHeader != "X-ApiKey" {
		t.Errorf("api key header = %q, want default", ic.APIKeyHeader)
	}
	if ic.PageSize != 100 || ic.MaxPages != 50 || ic.MaxRetries != 3 {
		t.Errorf("defaults not applied: %+v", ic)
	}
	if ic.RetryBackoff() != 500*time.Millisecond {
		t.Errorf("retry backoff = %s, want default 500ms", ic.RetryBackoff())
	}
	if ic.WebhookDomain != "amazonaws.com" {
		t.Errorf("webhook domain = %q, want default", ic.WebhookDomain)
	}
}

func TestLoadIntegrationOverrides(t *testing.T) {
	dir := t.TempDir()
	writeIntegration(t, dir, "acme.yaml", `
id: acme
base_url: https://api.acme.example.com/v1
api_key_env: ACME_API_KEY
retry_backoff_ms: 250
webhook_domain: push.acme.example.com
endpoints:
  listings: /v2/properties
`)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ic := cfg.Integrations["acme"]
	if ic.RetryBackoff() != 250*time.Millisecond {
		t.Errorf("retry backoff = %s", ic.RetryBackoff())
	}
	if ic.WebhookDomain != "push.acme.example.com" {
		t.Errorf("webhook domain = %q", ic.WebhookDomain)
	}
	if ic.Endpoints["listings"] != "/v2/properties" {
		t.Errorf("endpoints = %v", ic.Endpoints)
	}
}

func TestLoadRejectsIncompleteIntegration(t *testing.T) {
	dir := t.TempDir()
	writeIntegration(t, dir, "broken.yaml", `
id: broken
api_key_env: BROKEN_KEY
`)
	chdir(t, dir)

	if _, err := Load(); err == nil {
		t.Fatal("want validation error for missing base_url")
	}
}

func TestLoadIntervalOverrides(t *testing.T) {
	dir := t.TempDir()
	writeIntegration(t, dir, "acme.yaml", `
id: acme
base_url: https://api.acme.example.com/v1
api_key_env: ACME_API_KEY
intervals:
  listings: 10m
  reviews: "0 3 * * *"
`)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ic := cfg.Integrations["acme"]
	if ic.Intervals["listings"] != "10m" || ic.Intervals["reviews"] != "0 3 * * *" {
		t.Errorf("intervals = %v", ic.Intervals)
	}
}

func TestAPIKeyFailsFastWhenUnset(t *testing.T) {
	ic := &IntegrationConfig{ID: "acme", APIKeyEnv: "DEFINITELY_NOT_SET_1234"}
	if _, err := ic.APIKey(); err == nil {
		t.Fatal("want error for missing key env")
	}

	t.Setenv("DEFINITELY_NOT_SET_1234", "k")
	key, err := ic.APIKey()
	if err != nil || key != "k" {
		t.Fatalf("key = %q, err = %v", key, err)
	}
}

func TestSyncIntervalEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SYNC_LISTINGS_INTERVAL", "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.ListingsInterval != 15*time.Minute {
		t.Errorf("listings interval = %s", cfg.Sync.ListingsInterval)
	}
	if cfg.Sync.ReservationsInterval != 5*time.Minute {
		t.Errorf("reservations interval = %s, want default", cfg.Sync.ReservationsInterval)
	}
}
