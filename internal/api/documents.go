package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gyeh/chartcoder/internal/codes"
)

// DocumentTypeMedicalRecord is the fixed tag sent with raw text.
const DocumentTypeMedicalRecord = "medical_record"

// IngestResponse is returned by both ingestion paths. Filename is empty for
// raw text.
type IngestResponse struct {
	SessionID   string             `json:"session_id"`
	Filename    string             `json:"filename,omitempty"`
	TextLength  int                `json:"text_length"`
	Processed   bool               `json:"processed"`
	PatientData *codes.PatientData `json:"patient_data"`
}

type processTextRequest struct {
	Text         string `json:"text"`
	DocumentType string `json:"document_type"`
	SessionID    string `json:"session_id,omitempty"`
}

// UploadDocument streams r as the "file" part of a multipart form. When
// sessionID is empty the server creates a new session. The Content-Type
// header is the multipart writer's own value so the boundary always matches
// the body; the JSON content type is never set on this path. onProgress,
// if non-nil, is called with the number of file bytes sent so far.
func (c *Client) UploadDocument(ctx context.Context, filename string, r io.Reader, sessionID string, onProgress func(sent int64)) (*IngestResponse, error) {
	const path = "/api/document/upload"

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, filename, r, sessionID, onProgress))
	}()

	resp, _, err := c.send(ctx, http.MethodPost, path, nil, func() io.Reader { return pr }, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	defer resp.Body.Close()

	var res IngestResponse
	if err := decodeBody(resp, http.MethodPost, path, &res); err != nil {
		return nil, c.fail(err)
	}
	return &res, nil
}

func writeUploadForm(mw *multipart.Writer, filename string, r io.Reader, sessionID string, onProgress func(int64)) error {
	if sessionID != "" {
		if err := mw.WriteField("session_id", sessionID); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return err
	}
	src := r
	if onProgress != nil {
		src = &progressReader{reader: r, callback: onProgress}
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copying %s: %w", filename, err)
	}
	return mw.Close()
}

// ProcessText submits raw text instead of a file. sessionID may be empty.
func (c *Client) ProcessText(ctx context.Context, text, sessionID string) (*IngestResponse, error) {
	var res IngestResponse
	err := c.do(ctx, http.MethodPost, "/api/document/process-text", nil,
		&processTextRequest{
			Text:         text,
			DocumentType: DocumentTypeMedicalRecord,
			SessionID:    sessionID,
		}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
