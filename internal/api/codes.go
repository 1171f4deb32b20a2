package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gyeh/chartcoder/internal/codes"
)

// SearchResponse is one full page of search results.
type SearchResponse struct {
	Query        string              `json:"query"`
	CodeType     codes.CodeType      `json:"code_type"`
	Results      []codes.MedicalCode `json:"results"`
	TotalResults int                 `json:"total_results"`
}

// FilterResponse distinguishes rows matched from rows in the backing store.
type FilterResponse struct {
	Query          string              `json:"query"`
	CodeType       codes.CodeType      `json:"code_type"`
	Results        []codes.MedicalCode `json:"results"`
	TotalResults   int                 `json:"total_results"`
	TotalAvailable int                 `json:"total_available"`
}

// AckResponse is the loose acknowledgement returned by mutating code calls.
type AckResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SelectedCodesResponse lists a session's selected codes.
type SelectedCodesResponse struct {
	SessionID     string              `json:"session_id"`
	SelectedCodes []codes.MedicalCode `json:"selected_codes"`
	Total         int                 `json:"total,omitempty"`
}

type searchRequest struct {
	Query    string         `json:"query"`
	CodeType codes.CodeType `json:"code_type"`
}

type manualAddRequest struct {
	SessionID   string         `json:"session_id"`
	Code        string         `json:"code"`
	Description string         `json:"description"`
	CodeType    codes.CodeType `json:"code_type"`
	Confidence  float64        `json:"confidence"`
}

// SearchCodes runs a free-text search against the code knowledge base. An
// empty query returns an empty result without a round trip.
func (c *Client) SearchCodes(ctx context.Context, query string, codeType codes.CodeType) (*SearchResponse, error) {
	if codeType == "" {
		codeType = codes.All
	}
	if strings.TrimSpace(query) == "" {
		return &SearchResponse{Query: query, CodeType: codeType, Results: []codes.MedicalCode{}}, nil
	}

	var res SearchResponse
	err := c.do(ctx, http.MethodPost, "/api/codes/search", nil,
		&searchRequest{Query: query, CodeType: codeType}, &res)
	if err != nil {
		return nil, err
	}
	if res.Results == nil {
		res.Results = []codes.MedicalCode{}
	}
	return &res, nil
}

// FilterCodes browses the larger knowledge base. limit <= 0 lets the server pick.
func (c *Client) FilterCodes(ctx context.Context, query string, codeType codes.CodeType, limit int) (*FilterResponse, error) {
	if codeType == "" {
		codeType = codes.All
	}
	params := url.Values{}
	if query != "" {
		params.Set("query", query)
	}
	params.Set("code_type", string(codeType))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var res FilterResponse
	if err := c.do(ctx, http.MethodGet, "/api/codes/filter", params, nil, &res); err != nil {
		return nil, err
	}
	if res.Results == nil {
		res.Results = []codes.MedicalCode{}
	}
	return &res, nil
}

// KnowledgeBaseStats reports how many codes the backend knows about.
func (c *Client) KnowledgeBaseStats(ctx context.Context) (*codes.KnowledgeBaseStats, error) {
	var res codes.KnowledgeBaseStats
	if err := c.do(ctx, http.MethodGet, "/api/codes/knowledge-base/stats", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SelectCode records code against the session. The code is normalized first:
// malformed codes are rejected before any request, a missing confidence is
// sent as 0.5 and a missing source as the code type. The normalized code is
// returned.
func (c *Client) SelectCode(ctx context.Context, sessionID string, code codes.MedicalCode) (codes.MedicalCode, error) {
	norm, err := codes.Normalize(code)
	if err != nil {
		return codes.MedicalCode{}, err
	}

	params := url.Values{"session_id": []string{sessionID}}
	var res AckResponse
	if err := c.do(ctx, http.MethodPost, "/api/codes/select", params, &norm, &res); err != nil {
		return codes.MedicalCode{}, err
	}
	return norm, nil
}

// AddManualCode records a hand-entered code. Zero confidence means the
// manual default of 0.9; values outside [0, 1] are rejected locally.
func (c *Client) AddManualCode(ctx context.Context, sessionID, code, description string, codeType codes.CodeType, confidence float64) (codes.MedicalCode, error) {
	mc, err := codes.ManualCode(code, description, string(codeType), confidence)
	if err != nil {
		return codes.MedicalCode{}, err
	}

	var res AckResponse
	err = c.do(ctx, http.MethodPost, "/api/codes/manual-add", nil,
		&manualAddRequest{
			SessionID:   sessionID,
			Code:        mc.Code,
			Description: mc.Description,
			CodeType:    mc.Type,
			Confidence:  *mc.Confidence,
		}, &res)
	if err != nil {
		return codes.MedicalCode{}, err
	}
	return mc, nil
}

// SelectedCodes re-fetches the session's selected codes. It has no
// precondition and is the recovery path after client state is lost.
func (c *Client) SelectedCodes(ctx context.Context, sessionID string) ([]codes.MedicalCode, error) {
	var res SelectedCodesResponse
	if err := c.do(ctx, http.MethodGet, "/api/codes/selected/"+pathEscape(sessionID), nil, nil, &res); err != nil {
		return nil, err
	}
	if res.SelectedCodes == nil {
		return []codes.MedicalCode{}, nil
	}
	return res.SelectedCodes, nil
}

// RemoveSelectedCode deletes code from the session's selection. Removing a
// code the server does not have (404) is not an error.
func (c *Client) RemoveSelectedCode(ctx context.Context, sessionID, code string) error {
	path := "/api/codes/selected/" + pathEscape(sessionID) + "/" + pathEscape(code)
	err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}
