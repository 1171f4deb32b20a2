package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileToken_ReadsOnEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	src := FileToken(path)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Empty(t, tok, "missing file means no token")

	require.NoError(t, SaveToken(path, "first"))
	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	require.NoError(t, SaveToken(path, "refreshed"))
	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok)
}

func TestFileToken_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := FileToken(path).Token()
	assert.Error(t, err)
}

func TestSaveToken_KeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{"refresh_token":"r"}`), 0o600))

	require.NoError(t, SaveToken(path, "a"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"refresh_token": "r"`)

	require.NoError(t, ClearToken(path))
	tok, err := FileToken(path).Token()
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestChain(t *testing.T) {
	t.Setenv("CC_TEST_TOKEN", "")
	c := Chain{EnvToken("CC_TEST_TOKEN"), nil, StaticToken("fallback")}

	tok, err := c.Token()
	require.NoError(t, err)
	assert.Equal(t, "fallback", tok)

	t.Setenv("CC_TEST_TOKEN", "from-env")
	tok, err = c.Token()
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok)
}

func TestInspect(t *testing.T) {
	exp := time.Date(2024, 3, 1, 10, 15, 30, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     "coder@example.com",
		"user_id": "u-1",
		"exp":     exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	info, err := Inspect(signed)
	require.NoError(t, err)
	assert.True(t, info.JWT)
	assert.Equal(t, "coder@example.com", info.Subject)
	assert.Equal(t, "u-1", info.UserID)
	assert.True(t, info.ExpiresAt.Equal(exp))
	assert.True(t, info.Expired(exp.Add(time.Second)))
	assert.False(t, info.Expired(exp.Add(-time.Second)))

	opaque, err := Inspect("opaque-token")
	require.NoError(t, err)
	assert.False(t, opaque.JWT)
	assert.False(t, opaque.Expired(time.Now()))
}
