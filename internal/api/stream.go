package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gyeh/chartcoder/internal/export"
)

// Artifact is a streamed export. The caller must Close it.
type Artifact struct {
	io.ReadCloser
	ContentType string
	TotalBytes  int64 // Content-Length, or -1
}

// Export fetches the CSV or Excel artifact for a session. onProgress, if
// non-nil, is called with (downloaded, total) while the body is read.
func (c *Client) Export(ctx context.Context, sessionID string, format export.Format, onProgress func(downloaded, total int64)) (*Artifact, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("api: unknown export format %q", format)
	}
	path := "/api/export/" + format.Endpoint() + "/" + pathEscape(sessionID)

	resp, _, err := c.send(ctx, http.MethodGet, path, nil, func() io.Reader { return nil }, "")
	if err != nil {
		return nil, err
	}

	var body io.ReadCloser = resp.Body
	if onProgress != nil {
		body = &readCloser{
			Reader: &progressReader{
				reader: resp.Body,
				total:  resp.ContentLength,
				callback: func(n int64) {
					onProgress(n, resp.ContentLength)
				},
			},
			Closer: resp.Body,
		}
	}

	return &Artifact{
		ReadCloser:  body,
		ContentType: resp.Header.Get("Content-Type"),
		TotalBytes:  resp.ContentLength,
	}, nil
}

func decodeBody(resp *http.Response, method, path string, res interface{}) *RequestError {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Kind: KindTransport, Method: method, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, res); err != nil {
		return &RequestError{
			Kind:       KindDecode,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       truncate(string(data), 512),
			Err:        err,
		}
	}
	return nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type progressReader struct {
	reader   io.Reader
	sent     int64
	total    int64
	callback func(n int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.sent += int64(n)
		pr.callback(pr.sent)
	}
	return n, err
}
