package api

import (
	"context"
	"net/http"

	"github.com/gyeh/chartcoder/internal/codes"
)

type verifyRequest struct {
	SessionID string              `json:"session_id"`
	Codes     []codes.MedicalCode `json:"codes"`
}

// VerifyResponse holds at most one result per submitted code. The server may
// omit codes it could not evaluate.
type VerifyResponse struct {
	SessionID           string                     `json:"session_id"`
	VerificationResults []codes.VerificationResult `json:"verification_results"`
}

// VerifyCodes submits the full current selection (not a delta) for
// verification. Codes are normalized the same way SelectCode does.
func (c *Client) VerifyCodes(ctx context.Context, sessionID string, selected []codes.MedicalCode) (*VerifyResponse, error) {
	submit := make([]codes.MedicalCode, 0, len(selected))
	for _, code := range selected {
		norm, err := codes.Normalize(code)
		if err != nil {
			return nil, err
		}
		submit = append(submit, norm)
	}

	var res VerifyResponse
	err := c.do(ctx, http.MethodPost, "/api/codes/verify", nil,
		&verifyRequest{SessionID: sessionID, Codes: submit}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Verification fetches the last verification stored for the session.
func (c *Client) Verification(ctx context.Context, sessionID string) (*VerifyResponse, error) {
	var res VerifyResponse
	if err := c.do(ctx, http.MethodGet, "/api/codes/verification/"+pathEscape(sessionID), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
