package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyeh/chartcoder/internal/api"
	"github.com/gyeh/chartcoder/internal/codes"
)

// fakeBackend serves session s1 with two selected codes. Verification only
// returns a verdict for E11.9.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	selected := []codes.MedicalCode{
		{Code: "E11.9", Description: "Type 2 diabetes", Type: codes.ICD10, Confidence: codes.Float(0.93), Source: "ai"},
		{Code: "I10", Description: "Essential hypertension", Type: codes.ICD10, Confidence: codes.Float(0.85), Source: "ai"},
	}
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, codes.HealthStatus{Status: "healthy"})
	})
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, codes.Session{SessionID: "s1"})
	})
	mux.HandleFunc("/api/sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, codes.SessionData{
			Session:       codes.Session{SessionID: "s1", DocumentProcessed: true},
			PatientData:   &codes.PatientData{Name: "Jane Doe"},
			SelectedCodes: selected,
		})
	})
	mux.HandleFunc("/api/sessions/gone", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 404, map[string]string{"detail": "Session not found"})
	})
	mux.HandleFunc("/api/codes/selected/s1", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, api.SelectedCodesResponse{SessionID: "s1", SelectedCodes: selected})
	})
	mux.HandleFunc("/api/codes/verify", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, api.VerifyResponse{SessionID: "s1", VerificationResults: []codes.VerificationResult{
			{Code: "E11.9", Status: codes.StatusApproved, FinalScore: 0.92, VerificationConfidence: 0.9},
		}})
	})
	mux.HandleFunc("/api/codes/filter", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, api.FilterResponse{Query: r.URL.Query().Get("query"), TotalResults: 1, TotalAvailable: 70000,
			Results: []codes.MedicalCode{{Code: "E11.9", Description: "Type 2 diabetes", Type: codes.ICD10}}})
	})
	mux.HandleFunc("/api/export/csv/s1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("code,description\nE11.9,Type 2 diabetes\n"))
	})
	mux.HandleFunc("/api/system/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			reply(w, 401, map[string]string{"detail": "Not authenticated"})
			return
		}
		reply(w, 200, codes.SystemStatus{Status: "ok", Model: "coder-v2", ModelLoaded: true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// runCLI executes the root command against url and returns stdout.
func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_FILE_PATH", "")
	t.Setenv("CHARTCODER_SESSION", "")
	t.Setenv("CHARTCODER_ACCESS_TOKEN", "")
	t.Setenv("EXPORT_S3_BUCKET", "")
	if os.Getenv("CHARTCODER_TOKEN_FILE") == "" {
		t.Setenv("CHARTCODER_TOKEN_FILE", filepath.Join(t.TempDir(), "token.json"))
	}
	color.NoColor = true

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--api-url", url}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHealth(t *testing.T) {
	srv := fakeBackend(t)
	out, err := runCLI(t, srv.URL, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "healthy")
}

func TestSessionCreateJSON(t *testing.T) {
	srv := fakeBackend(t)
	out, err := runCLI(t, srv.URL, "--json", "session", "create")
	require.NoError(t, err)

	var s codes.Session
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, "s1", s.SessionID)
}

func TestVerifyShowsUnverifiedCodes(t *testing.T) {
	srv := fakeBackend(t)
	out, err := runCLI(t, srv.URL, "verify", "--session", "s1")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	var e11, i10 string
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "E11.9"):
			e11 = l
		case strings.HasPrefix(l, "I10"):
			i10 = l
		}
	}
	assert.Contains(t, e11, "approved")
	assert.Contains(t, i10, "unverified")
	assert.Contains(t, out, "1 approved, 0 warnings, 0 rejected, 1 unverified")
}

func TestCommandsNeedSession(t *testing.T) {
	srv := fakeBackend(t)
	for _, args := range [][]string{
		{"analyze"},
		{"selected"},
		{"verify"},
		{"export", "csv"},
	} {
		_, err := runCLI(t, srv.URL, args...)
		assert.Error(t, err, args)
	}
}

func TestSelectRejectsMalformedCodeLocally(t *testing.T) {
	srv := fakeBackend(t)
	_, err := runCLI(t, srv.URL, "select", "E11.9", "--session", "s1", "--description", "x", "--type", "LOINC")
	var pe *codes.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestExportWritesNamedFile(t *testing.T) {
	srv := fakeBackend(t)
	dir := t.TempDir()
	out, err := runCLI(t, srv.URL, "export", "csv", "--session", "s1", "--dir", dir)
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "medical_codes_s1_*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, out, matches[0])

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "E11.9")
}

func TestExportToStdout(t *testing.T) {
	srv := fakeBackend(t)
	out, err := runCLI(t, srv.URL, "export", "csv", "--session", "s1", "--stdout")
	require.NoError(t, err)
	assert.Equal(t, "code,description\nE11.9,Type 2 diabetes\n", out)
}

func TestFilterAndMissingSession(t *testing.T) {
	srv := fakeBackend(t)
	out, err := runCLI(t, srv.URL, "filter", "diabetes", "--type", "ICD-10")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 70000 codes")

	_, err = runCLI(t, srv.URL, "session", "get", "gone")
	assert.True(t, api.IsNotFound(err))

	var buf bytes.Buffer
	printError(&buf, err)
	assert.Equal(t, "Error: Session not found (HTTP 404)\n", buf.String())
}

func TestLoginTokenIsUsed(t *testing.T) {
	srv := fakeBackend(t)
	t.Setenv("CHARTCODER_TOKEN_FILE", filepath.Join(t.TempDir(), "token.json"))

	_, err := runCLI(t, srv.URL, "status")
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))

	_, err = runCLI(t, srv.URL, "login", "--token", "secret")
	require.NoError(t, err)

	out, err := runCLI(t, srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "coder-v2 (loaded)")

	_, err = runCLI(t, srv.URL, "logout")
	require.NoError(t, err)
	_, err = runCLI(t, srv.URL, "status")
	assert.True(t, api.IsUnauthorized(err))
}

func TestReadText(t *testing.T) {
	got, err := readText(strings.NewReader("from stdin"), "-", nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	got, err = readText(nil, "", []string{"chief", "complaint"})
	require.NoError(t, err)
	assert.Equal(t, "chief complaint", got)
}
