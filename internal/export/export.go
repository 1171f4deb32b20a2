// Package export names and writes coded-chart artifacts.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Format is an export artifact type.
type Format string

const (
	CSV   Format = "csv"
	Excel Format = "excel"
)

// ParseFormat accepts csv, excel, xlsx and xls.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "excel", "xlsx", "xls":
		return Excel, nil
	}
	return "", fmt.Errorf("unknown export format %q (want csv or excel)", s)
}

func (f Format) Valid() bool {
	return f == CSV || f == Excel
}

// Endpoint is the path segment under /api/export/.
func (f Format) Endpoint() string {
	return string(f)
}

// Ext is the file extension without the dot.
func (f Format) Ext() string {
	if f == Excel {
		return "xlsx"
	}
	return "csv"
}

// ContentType is the MIME type served for the format.
func (f Format) ContentType() string {
	if f == Excel {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Filename returns medical_codes_{sessionID}_{timestamp}.{ext}, where the
// timestamp is t in UTC to the second with colons replaced by hyphens.
func Filename(sessionID string, f Format, t time.Time) string {
	ts := strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05"), ":", "-")
	return fmt.Sprintf("medical_codes_%s_%s.%s", sessionID, ts, f.Ext())
}

// Save copies src into dir/name through a temp file in the same directory,
// so a failed or canceled export never leaves a partial artifact behind.
// Returns the final path and the number of bytes written.
func Save(ctx context.Context, src io.Reader, dir, name string) (string, int64, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating export dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}

	n, err := io.Copy(tmpFile, &ctxReader{ctx: ctx, r: src})
	if closeErr := tmpFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", 0, fmt.Errorf("writing export: %w", err)
	}

	dest := filepath.Join(dir, name)
	if err := os.Rename(tmpFile.Name(), dest); err != nil {
		os.Remove(tmpFile.Name())
		return "", 0, fmt.Errorf("renaming export: %w", err)
	}
	return dest, n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Archiver copies a saved artifact to long-term storage and returns where
// it went.
type Archiver interface {
	Archive(ctx context.Context, path, name string) (string, error)
}
