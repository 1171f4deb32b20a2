package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const DefaultAPIURL = "http://localhost:8000"

type Config struct {
	App    AppConfig
	API    APIConfig
	Export ExportConfig
	KB     KBConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
}

type APIConfig struct {
	BaseURL    string
	TokenFile  string
	Timeout    time.Duration
	GetRetries int
}

type ExportConfig struct {
	Dir      string
	S3Bucket string
	S3Prefix string
	Region   string
}

type KBConfig struct {
	CacheTTL time.Duration
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Note: could not read .env: %v", err)
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "chartcoder.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		},
		API: APIConfig{
			// The web workspace reads the same backend from either bundler's env name.
			BaseURL:    firstEnv([]string{"CHARTCODER_API_URL", "NEXT_PUBLIC_API_URL", "VITE_API_URL"}, DefaultAPIURL),
			TokenFile:  getEnv("CHARTCODER_TOKEN_FILE", defaultTokenFile()),
			Timeout:    time.Duration(getEnvAsInt("CHARTCODER_HTTP_TIMEOUT", 120)) * time.Second,
			GetRetries: getEnvAsInt("CHARTCODER_GET_RETRIES", 0),
		},
		Export: ExportConfig{
			Dir:      getEnv("EXPORT_DIR", "."),
			S3Bucket: getEnv("EXPORT_S3_BUCKET", ""),
			S3Prefix: getEnv("EXPORT_S3_PREFIX", "exports/"),
			Region:   getEnv("AWS_REGION", "us-east-1"),
		},
		KB: KBConfig{
			CacheTTL: time.Duration(getEnvAsInt("KB_CACHE_TTL", 300)) * time.Second,
		},
	}
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".chartcoder", "token.json")
	}
	return filepath.Join(home, ".chartcoder", "token.json")
}

func firstEnv(keys []string, fallback string) string {
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			return v
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
