package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyeh/chartcoder/internal/api"
	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/config"
	"github.com/gyeh/chartcoder/internal/export"
	"github.com/gyeh/chartcoder/internal/kb"
	"github.com/gyeh/chartcoder/internal/workflow"
)

// stubBackend answers like a healthy coding backend. verifyErr, when set,
// is returned from VerifyCodes.
type stubBackend struct {
	verifyErr error
	uploaded  string
	filters   int
}

func (b *stubBackend) CreateSession(context.Context) (*codes.Session, error) {
	return &codes.Session{SessionID: "abc123"}, nil
}

func (b *stubBackend) GetSession(_ context.Context, id string) (*codes.SessionData, error) {
	if id == "missing" {
		return nil, &api.RequestError{Kind: api.KindHTTP, StatusCode: http.StatusNotFound, Status: "Not Found", Body: `{"detail":"Session not found"}`}
	}
	return &codes.SessionData{Session: codes.Session{SessionID: id}}, nil
}

func (b *stubBackend) UploadDocument(_ context.Context, filename string, r io.Reader, sessionID string, _ func(int64)) (*api.IngestResponse, error) {
	data, _ := io.ReadAll(r)
	b.uploaded = filename + ":" + string(data)
	return &api.IngestResponse{SessionID: sessionID, Filename: filename, TextLength: len(data), Processed: true,
		PatientData: &codes.PatientData{Name: "Jane Doe"}}, nil
}

func (b *stubBackend) ProcessText(_ context.Context, text, sessionID string) (*api.IngestResponse, error) {
	return &api.IngestResponse{SessionID: sessionID, TextLength: len(text), Processed: true}, nil
}

func (b *stubBackend) RunAnalysis(_ context.Context, sessionID string, _ codes.AnalysisOptions) (*api.AnalysisResponse, error) {
	return &api.AnalysisResponse{SessionID: sessionID, SuggestedCodes: []codes.MedicalCode{
		{Code: "E11.9", Description: "Type 2 diabetes", Type: codes.ICD10, Confidence: codes.Float(0.93), Source: "ai"},
		{Code: "R51", Description: "Headache", Type: codes.ICD10, Confidence: codes.Float(0.41), Source: "ai"},
	}, TotalCodes: 2}, nil
}

func (b *stubBackend) SearchCodes(_ context.Context, query string, codeType codes.CodeType) (*api.SearchResponse, error) {
	return &api.SearchResponse{Query: query, CodeType: codeType, Results: []codes.MedicalCode{
		{Code: "I10", Description: "Essential hypertension", Type: codes.ICD10},
	}}, nil
}

func (b *stubBackend) SelectCode(_ context.Context, _ string, code codes.MedicalCode) (codes.MedicalCode, error) {
	return codes.Normalize(code)
}

func (b *stubBackend) AddManualCode(_ context.Context, _, code, description string, codeType codes.CodeType, confidence float64) (codes.MedicalCode, error) {
	return codes.ManualCode(code, description, string(codeType), confidence)
}

func (b *stubBackend) SelectedCodes(context.Context, string) ([]codes.MedicalCode, error) {
	return []codes.MedicalCode{}, nil
}

func (b *stubBackend) RemoveSelectedCode(context.Context, string, string) error { return nil }

func (b *stubBackend) VerifyCodes(_ context.Context, _ string, selected []codes.MedicalCode) (*api.VerifyResponse, error) {
	if b.verifyErr != nil {
		return nil, b.verifyErr
	}
	return &api.VerifyResponse{VerificationResults: []codes.VerificationResult{
		{Code: selected[0].Code, Status: codes.StatusApproved, FinalScore: 0.9},
	}}, nil
}

func (b *stubBackend) Export(context.Context, string, export.Format, func(int64, int64)) (*api.Artifact, error) {
	return &api.Artifact{ReadCloser: io.NopCloser(strings.NewReader("code,description\n")), TotalBytes: -1}, nil
}

func (b *stubBackend) FilterCodes(_ context.Context, query string, codeType codes.CodeType, limit int) (*api.FilterResponse, error) {
	b.filters++
	return &api.FilterResponse{Query: query, CodeType: codeType, TotalAvailable: 70000, TotalResults: 1,
		Results: []codes.MedicalCode{{Code: "E11.9", Description: "Type 2 diabetes", Type: codes.ICD10}}}, nil
}

func (b *stubBackend) KnowledgeBaseStats(context.Context) (*codes.KnowledgeBaseStats, error) {
	return &codes.KnowledgeBaseStats{TotalCodes: 70000, ByType: map[string]int{"ICD-10": 68000}}, nil
}

func newTestServer(t *testing.T, b *stubBackend) *Server {
	t.Helper()
	clock := func() time.Time { return time.Date(2024, 3, 1, 10, 15, 30, 0, time.UTC) }
	hub := NewHub(nil)
	ws := workflow.New(b, workflow.Options{Clock: clock, Notifier: hub})
	return New(&config.Config{App: config.AppConfig{Port: "0"}}, ws, hub, kb.NewBrowser(b, time.Minute, nil), nil)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*http.Response, response) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.GetApp().Test(req, -1)
	require.NoError(t, err)

	var out response
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &stubBackend{})
	resp, err := s.GetApp().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWorkflowOverHTTP(t *testing.T) {
	s := newTestServer(t, &stubBackend{})

	resp, _ := do(t, s, http.MethodPost, "/workspace/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, s, http.MethodPost, "/workspace/analysis", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := do(t, s, http.MethodGet, "/workspace", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := out.Data.(map[string]interface{})
	assert.Len(t, data["suggested_codes"], 2)
	assert.Len(t, data["filtered_suggestions"], 1)

	resp, _ = do(t, s, http.MethodPost, "/workspace/selected", map[string]interface{}{
		"code": "E11.9", "description": "Type 2 diabetes", "type": "ICD-10",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out = do(t, s, http.MethodPost, "/workspace/selected/manual", map[string]string{
		"code": "99213", "description": "Office visit", "code_type": "cpt",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out.Data, 2)

	resp, out = do(t, s, http.MethodDelete, "/workspace/selected/99213", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out.Data, 1)

	resp, out = do(t, s, http.MethodPost, "/workspace/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := out.Data.(map[string]interface{})["summary"].(map[string]interface{})
	assert.EqualValues(t, 1, summary["approved"])

	resp, out = do(t, s, http.MethodPost, "/workspace/search", map[string]string{"query": "hypertension"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out.Data, 1)
}

func TestUploadMultipart(t *testing.T) {
	b := &stubBackend{}
	s := newTestServer(t, b)
	do(t, s, http.MethodPost, "/workspace/session", nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "chart.txt")
	require.NoError(t, err)
	io.WriteString(part, "CC: chest pain")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/workspace/document", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := s.GetApp().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chart.txt:CC: chest pain", b.uploaded)

	_, out := do(t, s, http.MethodGet, "/workspace", nil)
	patient := out.Data.(map[string]interface{})["patient_data"].(map[string]interface{})
	assert.Equal(t, "Jane Doe", patient["name"])
}

func TestUploadRequiresFile(t *testing.T) {
	s := newTestServer(t, &stubBackend{})
	resp, out := do(t, s, http.MethodPost, "/workspace/document", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, out.Success)
}

func TestPreconditionsAreConflicts(t *testing.T) {
	s := newTestServer(t, &stubBackend{})

	resp, out := do(t, s, http.MethodPost, "/workspace/verify", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, out.Message, "no active session")

	do(t, s, http.MethodPost, "/workspace/session", nil)
	resp, out = do(t, s, http.MethodPost, "/workspace/verify", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, out.Message, "no codes selected")
}

func TestBackendStatusPassesThrough(t *testing.T) {
	s := newTestServer(t, &stubBackend{})
	resp, out := do(t, s, http.MethodGet, "/workspace/session/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Session not found", out.Message)
}

func TestVerifyFailureKeepsStatus(t *testing.T) {
	b := &stubBackend{verifyErr: &api.RequestError{Kind: api.KindHTTP, StatusCode: http.StatusForbidden, Status: "Forbidden"}}
	s := newTestServer(t, b)
	do(t, s, http.MethodPost, "/workspace/session", nil)
	do(t, s, http.MethodPost, "/workspace/selected", map[string]interface{}{
		"code": "E11.9", "description": "Type 2 diabetes", "type": "ICD-10",
	})

	resp, _ := do(t, s, http.MethodPost, "/workspace/verify", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInvalidRequests(t *testing.T) {
	s := newTestServer(t, &stubBackend{})
	do(t, s, http.MethodPost, "/workspace/session", nil)

	resp, _ := do(t, s, http.MethodPost, "/workspace/text", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, s, http.MethodPost, "/workspace/selected", map[string]string{"code": "E11.9"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, s, http.MethodPost, "/workspace/search", map[string]string{"query": "x", "code_type": "LOINC"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, s, http.MethodGet, "/workspace/export/pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportDownload(t *testing.T) {
	s := newTestServer(t, &stubBackend{})
	do(t, s, http.MethodPost, "/workspace/session", nil)

	resp, err := s.GetApp().Test(httptest.NewRequest(http.MethodGet, "/workspace/export/csv", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="medical_codes_abc123_2024-03-01T10-15-30.csv"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "code,description\n", string(body))
	assert.Eventually(t, func() bool { return !s.ws.Snapshot().Loading.Exporting }, time.Second, 10*time.Millisecond)
}

func TestEventsRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, &stubBackend{})
	resp, err := s.GetApp().Test(httptest.NewRequest(http.MethodGet, "/workspace/events", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestHub_DropsNoticesWhenQueueFull(t *testing.T) {
	h := NewHub(nil)
	for i := 0; i < cap(h.broadcast)+10; i++ {
		h.Notify(workflow.Notice{Level: workflow.LevelInfo, Operation: workflow.OpSelect, Message: "x"})
	}
	assert.Len(t, h.broadcast, cap(h.broadcast))
}

func TestHub_ForwardsSnapshotsToClients(t *testing.T) {
	h := NewHub(nil)
	snaps := make(chan workflow.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx, snaps)

	client := &Client{Hub: h, Send: make(chan []byte, 4)}
	h.register <- client
	snaps <- workflow.Snapshot{Session: &codes.Session{SessionID: "abc123"}}

	select {
	case msg := <-client.Send:
		var ev struct {
			Type string `json:"type"`
			Data struct {
				Session codes.Session `json:"session"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, "snapshot", ev.Type)
		assert.Equal(t, "abc123", ev.Data.Session.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	<-h.done
	_, open := <-client.Send
	assert.False(t, open)
	assert.Equal(t, 0, h.ClientCount())
}

func TestKnowledgeBaseFilterIsCached(t *testing.T) {
	b := &stubBackend{}
	s := newTestServer(t, b)

	for i := 0; i < 2; i++ {
		resp, body := do(t, s, http.MethodGet, "/kb/filter?q=Diabetes&type=ICD-10&limit=10", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		data := body.Data.(map[string]interface{})
		assert.EqualValues(t, 70000, data["total_available"])
	}
	assert.Equal(t, 1, b.filters)

	resp, _ := do(t, s, http.MethodGet, "/kb/filter?q=x&type=LOINC", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, s, http.MethodGet, "/kb/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 70000, body.Data.(map[string]interface{})["total_codes"])
}
