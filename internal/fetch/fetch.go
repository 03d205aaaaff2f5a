// Package fetch retrieves rendered review-listing HTML.
//
// The default implementation delegates rendering to an external headless
// browser service. A static probe tier and a local chromedp renderer are
// available for callers that want to avoid rendering-service round trips.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when the rendering service credentials are
// missing. This is fatal configuration, never retried.
var ErrNotConfigured = errors.New("rendering service is not configured")

// Fetcher retrieves the settled HTML for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Error classifies a fetch failure as transient or permanent.
type Error struct {
	Transient bool
	Status    int
	Message   string
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("fetch failed (%s, status %d): %s", kind, e.Status, e.Message)
	}
	return fmt.Sprintf("fetch failed (%s): %s", kind, e.Message)
}

// IsTransient reports whether err is a fetch error worth retrying.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Transient
}

// transientStatus mirrors the upstream service's overload signals.
func transientStatus(status int) bool {
	switch status {
	case 429, 500, 503:
		return true
	default:
		return false
	}
}
