package worker

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
)

var httpClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	},
	Timeout: 10 * time.Minute,
}

// chartExts are the document types the backend accepts.
var chartExts = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".doc":  true,
	".docx": true,
	".rtf":  true,
}

// Document is one chart to code: a local path or an http(s) URL, optionally
// gzip-compressed.
type Document struct {
	Source string `json:"source"`
	Name   string `json:"name"` // upload filename, without any .gz suffix
}

// IsRemote reports whether the document is fetched over HTTP.
func (d Document) IsRemote() bool {
	return strings.HasPrefix(d.Source, "http://") || strings.HasPrefix(d.Source, "https://")
}

// Compressed reports whether the source is gzip-compressed.
func (d Document) Compressed() bool {
	return strings.EqualFold(filepath.Ext(FileNameFromURL(d.Source)), ".gz")
}

// NewDocument builds a Document for a path or URL.
func NewDocument(source string) Document {
	name := FileNameFromURL(source)
	if strings.EqualFold(filepath.Ext(name), ".gz") {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return Document{Source: source, Name: name}
}

// ReadDocuments expands the inputs into documents. Directories are walked
// for supported chart files (plain or .gz); files and URLs are taken as
// given. The result is sorted by source within each directory.
func ReadDocuments(inputs ...string) ([]Document, error) {
	var docs []Document
	for _, in := range inputs {
		if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
			docs = append(docs, NewDocument(in))
			continue
		}

		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", in, err)
		}
		if !info.IsDir() {
			docs = append(docs, NewDocument(in))
			continue
		}

		var found []Document
		err = filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != in && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			doc := NewDocument(path)
			if chartExts[strings.ToLower(filepath.Ext(doc.Name))] {
				found = append(found, doc)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", in, err)
		}
		sort.Slice(found, func(i, j int) bool { return found[i].Source < found[j].Source })
		docs = append(docs, found...)
	}
	return docs, nil
}

// Open returns the decompressed document content and its size when known
// (-1 otherwise). onProgress is called with raw bytes read from the source.
func (d Document) Open(ctx context.Context, useStdGzip bool, onProgress func(read, total int64)) (io.ReadCloser, int64, error) {
	var (
		raw   io.ReadCloser
		total int64 = -1
	)
	if d.IsRemote() {
		resp, err := DownloadHTTP(ctx, d.Source)
		if err != nil {
			return nil, 0, err
		}
		raw, total = resp.Body, resp.ContentLength
	} else {
		f, err := os.Open(d.Source)
		if err != nil {
			return nil, 0, err
		}
		if info, err := f.Stat(); err == nil {
			total = info.Size()
		}
		raw = f
	}

	var reader io.Reader = raw
	if onProgress != nil {
		reader = &progressReader{reader: raw, total: total, callback: onProgress}
	}
	if !d.Compressed() {
		return &readCloser{Reader: reader, closers: []io.Closer{raw}}, total, nil
	}

	gz, err := NewGzipReader(reader, useStdGzip)
	if err != nil {
		raw.Close()
		return nil, 0, fmt.Errorf("creating gzip reader for %s: %w", d.Name, err)
	}
	return &readCloser{Reader: gz, closers: []io.Closer{gz, raw}}, -1, nil
}

// DownloadHTTP performs an HTTP GET with retries and returns the response.
// Caller is responsible for closing resp.Body.
func DownloadHTTP(ctx context.Context, url string) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, reqErr := http.NewRequestWithContext(ctx, "GET", url, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("creating request: %w", reqErr)
		}

		resp, err = httpClient.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		err = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, err // don't retry client errors
		}
	}

	return nil, fmt.Errorf("download failed after retries: %w", err)
}

// NewGzipReader creates a gzip decompression reader. When useStdGzip is true,
// it uses the standard library's single-threaded compress/gzip. Otherwise it
// uses pgzip.
func NewGzipReader(r io.Reader, useStdGzip bool) (io.ReadCloser, error) {
	if useStdGzip {
		return gzip.NewReader(r)
	}
	return pgzip.NewReader(r)
}

// FileNameFromURL extracts a human-readable filename from a URL or path.
func FileNameFromURL(url string) string {
	path := url
	if i := strings.IndexByte(url, '?'); i >= 0 {
		path = url[:i]
	}
	return filepath.Base(path)
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var first error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type progressReader struct {
	reader     io.Reader
	downloaded int64
	total      int64
	callback   func(downloaded, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		pr.callback(pr.downloaded, pr.total)
	}
	return n, err
}
