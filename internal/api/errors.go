package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorDetail is one entry of the remote "errors" array.
type ErrorDetail struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Title   string `json:"title,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Type    string `json:"type,omitempty"`
}

func (d ErrorDetail) text() string {
	switch {
	case d.Message != "":
		return d.Message
	case d.Detail != "":
		return d.Detail
	default:
		return d.Title
	}
}

// Error is a non-success response from the remote API. Callers extract it
// with errors.As.
type Error struct {
	StatusCode int           `json:"-"`
	Title      string        `json:"title,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Errors     []ErrorDetail `json:"errors,omitempty"`
	Body       string        `json:"-"`
}

// DecodeError builds an Error from a response. Non-JSON bodies are kept raw.
func DecodeError(status int, body []byte) *Error {
	e := &Error{}
	if err := json.Unmarshal(body, e); err != nil {
		e = &Error{}
	}
	e.StatusCode = status
	e.Body = strings.TrimSpace(string(body))
	return e
}

// Last returns the final entry of the errors array, which carries the most
// specific reason on token exchange failures.
func (e *Error) Last() (ErrorDetail, bool) {
	if len(e.Errors) == 0 {
		return ErrorDetail{}, false
	}
	return e.Errors[len(e.Errors)-1], true
}

func (e *Error) Error() string {
	if d, ok := e.Last(); ok {
		if d.Code != 0 {
			return fmt.Sprintf("api: status %d: error %d: %s", e.StatusCode, d.Code, d.text())
		}
		return fmt.Sprintf("api: status %d: %s", e.StatusCode, d.text())
	}
	if e.Detail != "" || e.Title != "" {
		return fmt.Sprintf("api: status %d: %s", e.StatusCode, strings.TrimSpace(e.Title+" "+e.Detail))
	}
	if e.Body != "" {
		return fmt.Sprintf("api: status %d: %s", e.StatusCode, truncate(e.Body, 256))
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
