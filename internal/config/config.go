// Package config loads runtime settings from the environment, with an
// optional .env file for local development and a YAML file for API client
// secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             string
	DatabaseURL      string // empty disables the persistent forecast cache
	ForecastBaseURL  string
	GeocodingBaseURL string

	RequestTimeout  time.Duration
	CacheTTL        time.Duration
	RefreshInterval time.Duration

	// ClientSecretsFile holds signing secrets for the request signature
	// middleware. Empty disables signing.
	ClientSecretsFile string
	SignatureMaxAge   time.Duration
}

func Load() Config {
	// Missing .env is fine outside local development.
	_ = godotenv.Load()

	return Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		ForecastBaseURL:  getEnv("OPEN_METEO_BASE_URL", "https://api.open-meteo.com"),
		GeocodingBaseURL: getEnv("OPEN_METEO_GEOCODING_URL", "https://geocoding-api.open-meteo.com"),

		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 10*time.Second),
		CacheTTL:        getDuration("CACHE_TTL", 10*time.Minute),
		RefreshInterval: getDuration("REFRESH_INTERVAL", 30*time.Minute),

		ClientSecretsFile: getEnv("CLIENT_SECRETS_FILE", ""),
		SignatureMaxAge:   getDuration("SIGNATURE_MAX_AGE", 5*time.Minute),
	}
}

// clientSecretsFile is the YAML shape of the secrets file:
//
//	clients:
//	  - id: ios-app
//	    secret: hunter2
type clientSecretsFile struct {
	Clients []struct {
		ID     string `yaml:"id"`
		Secret string `yaml:"secret"`
	} `yaml:"clients"`
}

// LoadClientSecrets reads the signing secrets YAML into an id-to-secret map.
func LoadClientSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	var file clientSecretsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	secrets := make(map[string]string, len(file.Clients))
	for _, c := range file.Clients {
		if c.ID == "" || c.Secret == "" {
			continue
		}
		secrets[c.ID] = c.Secret
	}
	return secrets, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
