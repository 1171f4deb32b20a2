package api

import (
	"context"
	"net/http"

	"github.com/gyeh/chartcoder/internal/codes"
)

// CreateSession asks the server for a new session. Nothing is sent in the body.
func (c *Client) CreateSession(ctx context.Context) (*codes.Session, error) {
	var res codes.Session
	if err := c.do(ctx, http.MethodPost, "/api/sessions", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetSession fetches the server copy of a session, including patient data
// and selected codes when the server has them.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*codes.SessionData, error) {
	var res codes.SessionData
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+pathEscape(sessionID), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
