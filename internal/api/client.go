// Package api is a typed client for the medical-coding backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gyeh/chartcoder/internal/auth"
	"github.com/gyeh/chartcoder/internal/pkg/logger"
)

const module = "APIClient"

// Config configures a Client.
type Config struct {
	BaseURL    string
	Tokens     auth.TokenSource
	HTTPClient *http.Client  // default: otelhttp-instrumented client with Timeout
	Timeout    time.Duration // default 2m; ignored when HTTPClient is set
	GetRetries int           // extra attempts for idempotent GETs; mutating calls are never retried
	Logger     logger.ILogger
}

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
	getRetries int
	log        logger.ILogger

	// backoff returns the wait before retry attempt n (n >= 1).
	backoff func(attempt int) time.Duration
}

// New builds a Client. BaseURL defaults to http://localhost:8000.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:8000"
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		hc = &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			}),
			Timeout: timeout,
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = auth.StaticToken("")
	}

	return &Client{
		baseURL:    base,
		tokens:     tokens,
		httpClient: hc,
		getRetries: cfg.GetRetries,
		log:        log,
		backoff: func(attempt int) time.Duration {
			return time.Duration(math.Pow(2, float64(attempt))) * time.Second
		},
	}
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends req as JSON (or verbatim if it is an io.Reader or []byte) and
// decodes a 2xx JSON body into res when res is non-nil.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, req, res interface{}) error {
	var body []byte
	contentType := ""
	switch r := req.(type) {
	case nil:
	case []byte:
		body = r
	case io.Reader:
		b, err := io.ReadAll(r)
		if err != nil {
			return &RequestError{Kind: KindTransport, Method: method, Path: path, Err: err}
		}
		body = b
	default:
		b, err := json.Marshal(req)
		if err != nil {
			return &RequestError{Kind: KindTransport, Method: method, Path: path, Err: fmt.Errorf("encoding request: %w", err)}
		}
		body = b
		contentType = "application/json"
	}

	resp, reqID, err := c.send(ctx, method, path, params, func() io.Reader {
		if body == nil {
			return nil
		}
		return bytes.NewReader(body)
	}, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(&RequestError{Kind: KindTransport, Method: method, Path: path, StatusCode: resp.StatusCode, RequestID: reqID, Err: fmt.Errorf("reading response: %w", err)})
	}

	if res == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, res); err != nil {
		return c.fail(&RequestError{
			Kind:       KindDecode,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       truncate(string(data), 512),
			RequestID:  reqID,
			Err:        err,
		})
	}
	return nil
}

// send performs the request and returns a 2xx response whose body the
// caller must close. Non-2xx responses become *RequestError. newBody is
// called once per attempt.
func (c *Client) send(ctx context.Context, method, path string, params url.Values, newBody func() io.Reader, contentType string) (*http.Response, string, error) {
	u := c.baseURL + path
	if len(params) != 0 {
		u += "?" + params.Encode()
	}

	attempts := 1
	if method == http.MethodGet && c.getRetries > 0 {
		attempts += c.getRetries
	}

	reqID := uuid.NewString()
	var lastErr *RequestError
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, reqID, c.fail(&RequestError{Kind: KindTransport, Method: method, Path: path, RequestID: reqID, Err: ctx.Err()})
			case <-time.After(c.backoff(attempt)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, u, newBody())
		if err != nil {
			return nil, reqID, &RequestError{Kind: KindTransport, Method: method, Path: path, RequestID: reqID, Err: fmt.Errorf("creating request: %w", err)}
		}
		if contentType != "" {
			httpReq.Header.Set("Content-Type", contentType)
		}
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("X-Request-ID", reqID)

		// Read the token per request; never cache the header.
		token, err := c.tokens.Token()
		if err != nil {
			return nil, reqID, c.fail(&RequestError{Kind: KindTransport, Method: method, Path: path, RequestID: reqID, Err: fmt.Errorf("reading access token: %w", err)})
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = &RequestError{Kind: KindTransport, Method: method, Path: path, RequestID: reqID, Err: err}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.log.Debug(module, "request ok", map[string]interface{}{
				"method":      method,
				"path":        path,
				"status":      resp.StatusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  reqID,
			})
			return resp, reqID, nil
		}

		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		lastErr = &RequestError{
			Kind:       KindHTTP,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       string(data),
			RequestID:  reqID,
		}
		if resp.StatusCode < 500 {
			break // don't retry client errors
		}
	}

	return nil, reqID, c.fail(lastErr)
}

// fail logs the error and hands it back.
func (c *Client) fail(err *RequestError) error {
	details := map[string]interface{}{
		"method":     err.Method,
		"path":       err.Path,
		"kind":       string(err.Kind),
		"request_id": err.RequestID,
		"error":      err.Error(),
	}
	if err.StatusCode != 0 {
		details["status"] = err.StatusCode
	}
	if errors.Is(err.Err, context.Canceled) {
		c.log.Debug(module, "request canceled", details)
	} else {
		c.log.Error(module, "request failed", details)
	}
	return err
}

func statusText(resp *http.Response) string {
	code := fmt.Sprintf("%d ", resp.StatusCode)
	if s := strings.TrimPrefix(resp.Status, code); s != "" && s != resp.Status {
		return s
	}
	return http.StatusText(resp.StatusCode)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}
