package main

import (
	"os"
	"strconv"
)

// Config is the exhaustive set of environment variables this process
// reads at startup.
type Config struct {
	APIKey          string // required
	DatabaseURL     string // entity store DSN; empty means in-memory
	CheckpointDBURL string // falls back to DatabaseURL

	OpenAIKey    string
	AnthropicKey string
	GoogleKey    string
	MistralKey   string

	Host  string
	Port  string
	Debug bool
}

// loadConfig reads Config from the process environment. godotenv.Load is
// called by main before this runs, so a local .env file's values are
// already in os.Environ by the time we get here.
func loadConfig() Config {
	cfg := Config{
		APIKey:          os.Getenv("API_KEY"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CheckpointDBURL: os.Getenv("CHECKPOINT_DB_URL"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:    os.Getenv("ANTHROPIC_API_KEY"),
		GoogleKey:       os.Getenv("GOOGLE_API_KEY"),
		MistralKey:      os.Getenv("MISTRAL_API_KEY"),
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		Debug:           getEnvAsBool("DEBUG", false),
	}
	if cfg.CheckpointDBURL == "" {
		cfg.CheckpointDBURL = cfg.DatabaseURL
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
