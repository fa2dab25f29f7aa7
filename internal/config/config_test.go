package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("TIMEZONE", "UTC")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" || cfg.AIModel != "gemini-2.0-flash" || cfg.AIMaxTokens != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AITimeout != 20*time.Second || cfg.JWTTTL != 24*time.Hour {
		t.Fatalf("unexpected durations: %s %s", cfg.AITimeout, cfg.JWTTTL)
	}
	if cfg.RequireConfirm {
		t.Fatalf("confirmation before start must default to false")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/dimeloc")
	t.Setenv("AI_PROVIDER", "mock")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("REQUIRE_CONFIRMATION_BEFORE_START", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageDriver != "postgres" || cfg.AIProvider != "mock" || !cfg.RequireConfirm {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base := Config{StorageDriver: "memory", AIProvider: "mock", Timezone: "UTC"}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := base
	bad.StorageDriver = "mongo"
	if err := bad.Validate(); err == nil {
		t.Fatalf("mongo without MONGODB_URI must fail")
	}
	bad = base
	bad.AIProvider = "llama"
	if err := bad.Validate(); err == nil {
		t.Fatalf("unknown provider must fail")
	}
}

func TestProviderCredentialsOutsideDev(t *testing.T) {
	c := Config{Env: "production", StorageDriver: "memory", AIProvider: "gemini", Timezone: "UTC"}
	if err := c.Validate(); err == nil {
		t.Fatalf("gemini without credentials must fail outside dev")
	}
	c.AIAPIKey = "key"
	if err := c.Validate(); err != nil || c.UseMockProvider() {
		t.Fatalf("configured gemini must be used as is: %v", err)
	}

	dev := Config{Env: "dev", StorageDriver: "memory", AIProvider: "gemini", Timezone: "UTC"}
	if err := dev.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dev.UseMockProvider() {
		t.Fatalf("dev without credentials runs on the mock provider")
	}

	mock := Config{Env: "production", StorageDriver: "memory", AIProvider: "mock", Timezone: "UTC"}
	if err := mock.Validate(); err != nil || !mock.UseMockProvider() {
		t.Fatalf("an explicit mock provider is allowed everywhere: %v", err)
	}
}

func TestAllowedOrigins(t *testing.T) {
	c := Config{CORSAllowed: "https://a.mx, ,https://b.mx"}
	got := c.AllowedOrigins()
	if len(got) != 2 || got[0] != "https://a.mx" || got[1] != "https://b.mx" {
		t.Fatalf("unexpected origins: %v", got)
	}
}
