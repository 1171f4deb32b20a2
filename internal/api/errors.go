package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a RequestError.
type ErrorKind string

const (
	// KindTransport means no HTTP response was received.
	KindTransport ErrorKind = "transport"
	// KindHTTP means the server answered with a non-2xx status.
	KindHTTP ErrorKind = "http"
	// KindDecode means a 2xx body was not the JSON we expected.
	KindDecode ErrorKind = "decode"
)

// RequestError is the single error type returned by Client. StatusCode is 0
// for transport errors.
type RequestError struct {
	Kind       ErrorKind
	Method     string
	Path       string
	StatusCode int
	Status     string // status text, e.g. "Unauthorized"
	Body       string
	RequestID  string
	Err        error
}

func (e *RequestError) Error() string {
	switch e.Kind {
	case KindHTTP:
		msg := fmt.Sprintf("api: %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Status)
		if body := strings.TrimSpace(e.Body); body != "" {
			msg += ": " + body
		}
		return msg
	case KindDecode:
		return fmt.Sprintf("api: %s %s: decoding %d response: %v", e.Method, e.Path, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("api: %s %s: %v", e.Method, e.Path, e.Err)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Message extracts the human-readable message from a JSON error body
// ("detail", "message" or "error"), falling back to the raw body.
func (e *RequestError) Message() string {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &body); err == nil {
		switch d := body.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if s := strings.TrimSpace(e.Body); s != "" {
		return s
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Status
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// IsUnauthorized reports a 401 or 403 response.
func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsNotFound reports a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsTransport reports that no response was received.
func IsTransport(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Kind == KindTransport
}
