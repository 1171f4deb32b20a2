package api

import (
	"context"
	"net/http"

	"github.com/gyeh/chartcoder/internal/codes"
)

// analysisRequest is the one request shape sent to /api/analysis/run.
type analysisRequest struct {
	SessionID           string  `json:"session_id"`
	RunICD10            bool    `json:"run_icd10"`
	RunCPT              bool    `json:"run_cpt"`
	RunHCPCS            bool    `json:"run_hcpcs"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

func newAnalysisRequest(sessionID string, opts codes.AnalysisOptions) analysisRequest {
	return analysisRequest{
		SessionID:           sessionID,
		RunICD10:            opts.IncludeICD10,
		RunCPT:              opts.IncludeCPT,
		RunHCPCS:            opts.IncludeHCPCS,
		ConfidenceThreshold: opts.ConfidenceThreshold,
	}
}

// AnalysisResponse carries the full, unfiltered suggestion set.
type AnalysisResponse struct {
	SessionID       string              `json:"session_id"`
	SuggestedCodes  []codes.MedicalCode `json:"suggested_codes"`
	AnalysisResults map[string]any      `json:"analysis_results,omitempty"`
	TotalCodes      int                 `json:"total_codes"`
}

// RunAnalysis requests AI code suggestions for the session's document.
func (c *Client) RunAnalysis(ctx context.Context, sessionID string, opts codes.AnalysisOptions) (*AnalysisResponse, error) {
	var res AnalysisResponse
	req := newAnalysisRequest(sessionID, opts)
	if err := c.do(ctx, http.MethodPost, "/api/analysis/run", nil, &req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
