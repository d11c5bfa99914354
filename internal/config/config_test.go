package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("HELPPAGES_ROOT_DOMAIN", "")
	t.Setenv("HELPPAGES_AUTOSAVE_MIN_CHANGE", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q, want :8787", cfg.Addr)
	}
	if cfg.RootDomain != "localhost" {
		t.Fatalf("RootDomain = %q, want localhost", cfg.RootDomain)
	}
	if cfg.AutosaveMinChange != 0.2 {
		t.Fatalf("AutosaveMinChange = %v, want 0.2", cfg.AutosaveMinChange)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("AccessTTL = %v, want 15m", cfg.AccessTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HELPPAGES_ROOT_DOMAIN", "Docs.Example.COM")
	t.Setenv("HELPPAGES_REVISION_LIMIT", "25")
	t.Setenv("HELPPAGES_AUTOSAVE_MIN_CHANGE", "not-a-number")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("S3_PUBLIC_URL", "https://cdn.example.com/")

	cfg := Load()
	if cfg.RootDomain != "docs.example.com" {
		t.Fatalf("RootDomain = %q", cfg.RootDomain)
	}
	if cfg.RevisionLimit != 25 {
		t.Fatalf("RevisionLimit = %d", cfg.RevisionLimit)
	}
	if cfg.AutosaveMinChange != 0.2 {
		t.Fatalf("invalid float should fall back, got %v", cfg.AutosaveMinChange)
	}
	if !cfg.S3UseSSL {
		t.Fatal("expected S3UseSSL")
	}
	if cfg.S3PublicURL != "https://cdn.example.com" {
		t.Fatalf("S3PublicURL = %q", cfg.S3PublicURL)
	}
}

func TestPublicDocURL(t *testing.T) {
	cfg := Config{RootDomain: "docs.example.com", PublicScheme: "https"}
	if got := cfg.PublicDocURL("acme"); got != "https://acme.docs.example.com" {
		t.Fatalf("PublicDocURL() = %q", got)
	}
}
