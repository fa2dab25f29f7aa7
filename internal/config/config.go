package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	Port              string        `mapstructure:"PORT"`
	StorageDriver     string        `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	MongoURI          string        `mapstructure:"MONGODB_URI"`
	MongoDatabase     string        `mapstructure:"MONGODB_DATABASE"`
	CatalogCollection string        `mapstructure:"CATALOG_COLLECTION"`
	CatalogFile       string        `mapstructure:"CATALOG_FILE"`
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	JWTTTL            time.Duration `mapstructure:"JWT_TTL"`
	AIProvider        string        `mapstructure:"AI_PROVIDER"`
	AIBaseURL         string        `mapstructure:"AI_BASE_URL"`
	AIModel           string        `mapstructure:"AI_MODEL"`
	AIAPIKey          string        `mapstructure:"AI_API_KEY"`
	AITimeout         time.Duration `mapstructure:"AI_TIMEOUT"`
	AIMaxTokens       int           `mapstructure:"AI_MAX_TOKENS"`
	AITemperature     float64       `mapstructure:"AI_TEMPERATURE"`
	AIRatePerSec      float64       `mapstructure:"AI_RATE_PER_SEC"`
	AIBreakerFailures uint32        `mapstructure:"AI_BREAKER_FAILURES"`
	CORSAllowed       string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	Timezone          string        `mapstructure:"TIMEZONE"`
	RequireConfirm    bool          `mapstructure:"REQUIRE_CONFIRMATION_BEFORE_START"`
	NominatimURL      string        `mapstructure:"NOMINATIM_URL"`
	GeocoderUserAgent string        `mapstructure:"GEOCODER_USER_AGENT"`
}

var defaults = map[string]any{
	"ENV":                               "dev",
	"PORT":                              "8080",
	"STORAGE_DRIVER":                    "mongo",
	"MONGODB_DATABASE":                  "dimeloc_data",
	"CATALOG_COLLECTION":                "puntos_venta",
	"JWT_TTL":                           "24h",
	"AI_PROVIDER":                       "gemini",
	"AI_MODEL":                          "gemini-2.0-flash",
	"AI_TIMEOUT":                        "20s",
	"AI_MAX_TOKENS":                     1000,
	"AI_TEMPERATURE":                    0.3,
	"AI_RATE_PER_SEC":                   2.0,
	"AI_BREAKER_FAILURES":               5,
	"CORS_ALLOWED_ORIGINS":              "*",
	"REQUEST_TIMEOUT":                   "30s",
	"LOG_LEVEL":                         "info",
	"TIMEZONE":                          "America/Monterrey",
	"REQUIRE_CONFIRMATION_BEFORE_START": false,
	"GEOCODER_USER_AGENT":               "dimeloc-backend",
}

// secrets have no default; they are bound explicitly so Unmarshal sees them when they
// only exist in the environment.
var secrets = []string{"DATABASE_URL", "MONGODB_URI", "JWT_SECRET", "AI_API_KEY", "AI_BASE_URL", "NOMINATIM_URL", "CATALOG_FILE"}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range secrets {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need to start.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORAGE_DRIVER=postgres")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for STORAGE_DRIVER=mongo")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.AIProvider {
	case "gemini", "openai":
		if c.AIAPIKey == "" && c.AIBaseURL == "" && !c.Dev() {
			return fmt.Errorf("AI_API_KEY or AI_BASE_URL is required for AI_PROVIDER=%s outside ENV=dev", c.AIProvider)
		}
	case "mock":
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

func (c Config) Dev() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "dev")
}

// UseMockProvider reports whether analysis runs on the canned adapter: on request, or in
// dev when no provider credentials are set.
func (c Config) UseMockProvider() bool {
	return c.AIProvider == "mock" || (c.Dev() && c.AIAPIKey == "" && c.AIBaseURL == "")
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
