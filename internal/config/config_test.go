package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_APIURLFallbacks(t *testing.T) {
	t.Setenv("CHARTCODER_API_URL", "")
	t.Setenv("NEXT_PUBLIC_API_URL", "")
	t.Setenv("VITE_API_URL", "")

	assert.Equal(t, DefaultAPIURL, Load().API.BaseURL)

	t.Setenv("VITE_API_URL", "http://vite:9000")
	assert.Equal(t, "http://vite:9000", Load().API.BaseURL)

	t.Setenv("NEXT_PUBLIC_API_URL", "http://next:9000")
	assert.Equal(t, "http://next:9000", Load().API.BaseURL)

	t.Setenv("CHARTCODER_API_URL", "http://cc:9000")
	assert.Equal(t, "http://cc:9000", Load().API.BaseURL)
}

func TestLoad_IntParsing(t *testing.T) {
	t.Setenv("CHARTCODER_HTTP_TIMEOUT", "15")
	t.Setenv("CHARTCODER_GET_RETRIES", "not-a-number")
	t.Setenv("KB_CACHE_TTL", "60")

	cfg := Load()
	assert.Equal(t, 15*time.Second, cfg.API.Timeout)
	assert.Equal(t, 0, cfg.API.GetRetries)
	assert.Equal(t, time.Minute, cfg.KB.CacheTTL)
}

func TestIsProduction(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	assert.True(t, Load().IsProduction())

	t.Setenv("GO_ENV", "development")
	assert.False(t, Load().IsProduction())
}
