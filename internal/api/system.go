package api

import (
	"context"
	"net/http"

	"github.com/gyeh/chartcoder/internal/codes"
)

// SystemStatus reports backend health and model information.
func (c *Client) SystemStatus(ctx context.Context) (*codes.SystemStatus, error) {
	var res codes.SystemStatus
	if err := c.do(ctx, http.MethodGet, "/api/system/status", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health is the liveness probe.
func (c *Client) Health(ctx context.Context) (*codes.HealthStatus, error) {
	var res codes.HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Ping hits the connectivity smoke test and returns its raw JSON.
func (c *Client) Ping(ctx context.Context) (map[string]any, error) {
	res := map[string]any{}
	if err := c.do(ctx, http.MethodGet, "/api/test", nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}
