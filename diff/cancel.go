package diff

import "sync/atomic"

// CancelToken lets a caller abort an in-progress diff from another
// goroutine without the diff engine owning any timer or signal state
// itself: the daemon's timer wheel flips the token when the configured
// wall-clock cap expires, and Engine.Diff checks it once per candidate
// window.
type CancelToken struct {
	flag int32
}

// NewCancelToken returns a token in the not-cancelled state.
func NewCancelToken() *CancelToken { return &CancelToken{} }

// Cancel marks the token cancelled. Safe to call from any goroutine,
// any number of times.
func (c *CancelToken) Cancel() { atomic.StoreInt32(&c.flag, 1) }

// Cancelled reports whether Cancel has been called.
func (c *CancelToken) Cancelled() bool {
	if c == nil {
		return false
	}
	return atomic.LoadInt32(&c.flag) != 0
}
