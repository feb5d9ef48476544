package twitchapi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConflict is returned by CreateSubscription when the subscription already exists.
var ErrConflict = errors.New("subscription already exists")

// HTTPStatusError is returned for non-2xx Helix responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("twitch api %s: status %d: %s", e.URL, e.StatusCode, strings.TrimSpace(e.Body))
}

// HTTPStatusCode exposes the status for callers that classify errors by interface.
func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
