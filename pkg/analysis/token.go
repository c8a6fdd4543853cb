package analysis

import "sync/atomic"

// CancelToken is a cooperative cancellation flag checked at chunk boundaries.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns an uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel flips the token. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called. A nil token is never cancelled.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
