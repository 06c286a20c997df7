package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/marquee-signage/marquee/internal/models"
)

// StatusError is returned for any non 2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("error: %s, status: %d", e.Message, e.Code)
	}
	return fmt.Sprintf("error: %s, status: %d", http.StatusText(e.Code), e.Code)
}

func newStatusError(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{Code: resp.StatusCode}
	var base models.BaseError
	if err := jsonUnmarshal(body, &base); err == nil {
		se.Message = base.String()
	}
	return se
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsTimeout reports whether err is a request that ran out of time, as
// opposed to one that was answered or refused.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
