package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKey is the storage key the web workspace keeps its bearer token under.
const TokenKey = "access_token"

// TokenSource yields the current bearer token. An empty token with a nil
// error means "send no Authorization header". Implementations are consulted
// on every request, so a token refreshed elsewhere is picked up on the next
// call.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token() (string, error) {
	return string(s), nil
}

// EnvToken reads an environment variable on every call.
type EnvToken string

func (e EnvToken) Token() (string, error) {
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

// FileToken reads the access_token key of a JSON file on every call. A
// missing file is not an error.
type FileToken string

func (f FileToken) Token() (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	var store map[string]string
	if err := json.Unmarshal(data, &store); err != nil {
		return "", fmt.Errorf("parsing token file %s: %w", string(f), err)
	}
	return strings.TrimSpace(store[TokenKey]), nil
}

// Chain returns the first non-empty token. Errors stop the chain.
type Chain []TokenSource

func (c Chain) Token() (string, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		tok, err := src.Token()
		if err != nil {
			return "", err
		}
		if tok != "" {
			return tok, nil
		}
	}
	return "", nil
}

// SaveToken writes token under access_token, keeping any other keys.
func SaveToken(path, token string) error {
	store := map[string]string{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &store)
	}
	store[TokenKey] = token

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ClearToken removes access_token from the file.
func ClearToken(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	store := map[string]string{}
	if err := json.Unmarshal(data, &store); err != nil {
		return os.Remove(path)
	}
	delete(store, TokenKey)
	if len(store) == 0 {
		return os.Remove(path)
	}
	out, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// TokenInfo is what can be read from a JWT without its signing key.
type TokenInfo struct {
	JWT       bool
	Subject   string
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token has an expiry in the past.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Inspect decodes a bearer token's claims without verifying the signature.
// The backend is the only party that verifies; this is for display and for
// warning about expired tokens before a request is made. Opaque tokens
// return JWT=false and no error.
func Inspect(token string) (TokenInfo, error) {
	if strings.Count(token, ".") != 2 {
		return TokenInfo{}, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("decoding token: %w", err)
	}

	info := TokenInfo{JWT: true}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if uid, ok := claims["user_id"].(string); ok {
		info.UserID = uid
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}
