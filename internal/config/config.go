package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port      string
	BaseURL   string
	StaticDir string

	SurrealURL  string
	SurrealNS   string
	SurrealDB   string
	SurrealUser string
	SurrealPass string

	RedisURL string
	CacheTTL time.Duration

	SeedDataPath string
	AdminToken   string
	JWTKey       string
	CORSOrigins  []string
}

// Load returns configuration from environment variables
func Load() *Config {
	port := getEnv("PORT", "8080")
	return &Config{
		Port:      port,
		BaseURL:   getEnv("BASE_URL", "http://localhost:"+port),
		StaticDir: getEnv("STATIC_DIR", "./static"),

		SurrealURL:  getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealNS:   getEnv("SURREALDB_NS", "specmarket"),
		SurrealDB:   getEnv("SURREALDB_DB", "specdb"),
		SurrealUser: getEnv("SURREALDB_USER", "root"),
		SurrealPass: getEnv("SURREALDB_PASS", "root"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		CacheTTL: getDuration("CACHE_TTL_SECONDS", 60) * time.Second,

		SeedDataPath: getEnv("SPEC_DATA_PATH", "./data/specs.json"),
		AdminToken:   getEnv("ADMIN_TOKEN", "dev-admin-token"),
		JWTKey:       getEnv("JWT_KEY", "dev-jwt-key"),
		CORSOrigins:  getOrigins("CORS_ORIGINS"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback int64) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
			return time.Duration(n)
		}
	}
	return time.Duration(fallback)
}

func getOrigins(key string) []string {
	raw := getEnv(key, "*")
	if raw == "*" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
