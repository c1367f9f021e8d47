package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries the runtime settings for the API process. Values come from
// the environment, with an optional .env file loaded first for local runs.
type Config struct {
	Addr        string
	PostgresDSN string

	TokenSecret string
	Issuer      string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	RateBurst     int
	RatePerSecond int

	ResolverCacheTTL time.Duration
}

const envPrefix = "SGADMIN_"

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		Addr:             getEnv("ADDR", ":8080"),
		PostgresDSN:      getEnv("PG_DSN", ""),
		TokenSecret:      getEnv("AUTH_SECRET", ""),
		Issuer:           getEnv("ISSUER", "sgadmin"),
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       14 * 24 * time.Hour,
		RateBurst:        20,
		RatePerSecond:    10,
		ResolverCacheTTL: 30 * time.Second,
	}

	var err error
	if cfg.AccessTTL, err = getDuration("ACCESS_TTL", cfg.AccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = getDuration("REFRESH_TTL", cfg.RefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.ResolverCacheTTL, err = getDuration("RESOLVER_CACHE_TTL", cfg.ResolverCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = getInt("RATE_BURST", cfg.RateBurst); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSecond, err = getInt("RATE_PER_SECOND", cfg.RatePerSecond); err != nil {
		return Config{}, err
	}

	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return Config{}, fmt.Errorf("config: token TTLs must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return Config{}, fmt.Errorf("config: refresh TTL must exceed access TTL")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s%s: %w", envPrefix, key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s%s: %w", envPrefix, key, err)
	}
	return n, nil
}
