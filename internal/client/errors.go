package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is returned when the server does not know the task.
	ErrNotFound = errors.New("task not found")

	// ErrNoBody is returned when a stream response carries no body.
	ErrNoBody = errors.New("response has no body")
)

// TransportError reports a failed request: the network failed, the server
// answered with a non-2xx status or the response was unusable.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type errorResponse struct {
	Error string `json:"error"`
}

func decodeHTTPError(op string, status int, body []byte) error {
	var err error
	var resp errorResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr == nil && resp.Error != "" {
		err = errors.New(resp.Error)
	} else if msg := strings.TrimSpace(string(body)); msg != "" {
		err = errors.New(msg)
	} else {
		err = errors.New(http.StatusText(status))
	}

	if status == http.StatusNotFound {
		err = fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &TransportError{Op: op, StatusCode: status, Err: err}
}
