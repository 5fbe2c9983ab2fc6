package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every setting the pipeline and API need. It is loaded once
// per process in main and passed explicitly into each constructor; no
// component reads the environment on its own.
type Config struct {
	// Bucket is the single object storage bucket shared by all stages.
	Bucket string

	Store  StoreConfig
	OCR    OCRConfig
	OpenAI OpenAIConfig
	API    APIConfig
}

type StoreConfig struct {
	// DataDir holds the sqlite database. ":memory:" is used by tests.
	DataDir string
}

type OCRConfig struct {
	BaseURL      string
	PollInterval time.Duration
	PollDeadline time.Duration
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type APIConfig struct {
	Port int
}

// Load reads configuration from the environment. ORGANA_BUCKET is required;
// everything else has a sensible default.
func Load() (Config, error) {
	bucket := getenv("ORGANA_BUCKET", "")
	if bucket == "" {
		return Config{}, fmt.Errorf("ORGANA_BUCKET environment variable must be set")
	}

	cfg := Config{
		Bucket: bucket,
		Store: StoreConfig{
			DataDir: getenv("ORGANA_DATA_DIR", "/var/lib/organa"),
		},
		OCR: OCRConfig{
			BaseURL:      getenv("ORGANA_OCR_URL", "http://localhost:8200"),
			PollInterval: getenvDuration("ORGANA_OCR_POLL_INTERVAL", 2*time.Second),
			PollDeadline: getenvDuration("ORGANA_OCR_POLL_DEADLINE", 10*time.Minute),
		},
		OpenAI: OpenAIConfig{
			APIKey: getenv("OPENAI_API_KEY", ""),
			Model:  getenv("ORGANA_EMBEDDING_MODEL", "text-embedding-ada-002"),
		},
		API: APIConfig{
			Port: getenvInt("ORGANA_API_PORT", 8080),
		},
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
