package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// AppName is baked into database names and charge descriptions.
const AppName = "Geodirect"

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	CouchDBURL string

	LogLevel string
}

// Load loads configuration from environment variables and .env file.
//
// Keys are resolved in order GEODIRECT_X, GEARWORKS_X, then bare X, so the
// app can run alongside other gearworks-style deployments sharing an
// environment.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     AppName,
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		CouchDBURL:  strings.TrimRight(getenv("COUCHDB_URL", "http://localhost:5984"), "/"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}

	return cfg
}

func (c Config) IsLive() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	prefixes := []string{"GEODIRECT_", "GEARWORKS_", ""}
	for _, prefix := range prefixes {
		if v := os.Getenv(prefix + key); v != "" {
			return v
		}
	}
	return def
}

