// Package callback implements the explicit-registration substitute for the
// weak callbacks of the original implementation (see SPEC_FULL.md §3, §9).
// Where the source language let a subrequest hold a weak reference to the
// user's callback and silently drop the subrequest once nothing else
// referenced it, Go has no portable way to observe "is anything else still
// holding this function value" — so callers instead get back a Token at
// Add time. Calling Release on the token is the signal to elide the
// subrequest. The batch keeps its own reference to the token, so a caller
// merely dropping its reference does not release it.
package callback

import "sync/atomic"

// Func is the shape every batch callback must have: the subrequest's
// original URL, the decoded subresponse, and its body.
type Func func(url string, status int, headers map[string][]string, body []byte)

// Token guards a Func with an explicit alive/dead flag. The zero value is
// not usable; construct one with New.
type Token struct {
	fn      Func
	release int32 // atomic: 0 = alive, 1 = released
}

// New wraps fn in a live Token.
func New(fn Func) *Token {
	return &Token{fn: fn}
}

// Alive reports whether the token has not been released. A released token
// is permanently dead; invoking it fails with ErrGone.
func (t *Token) Alive() bool {
	return t != nil && atomic.LoadInt32(&t.release) == 0
}

// Release marks the token dead. A subrequest whose token has been released
// before the batch completes is elided from the outbound wire message and
// its callback is never invoked. Release is safe to call more than once
// and safe to call concurrently with Invoke.
func (t *Token) Release() {
	if t != nil {
		atomic.StoreInt32(&t.release, 1)
	}
}

// Invoke calls the wrapped Func if the token is alive, returning ErrGone
// otherwise.
func (t *Token) Invoke(url string, status int, headers map[string][]string, body []byte) error {
	if !t.Alive() {
		return ErrGone
	}
	t.fn(url, status, headers, body)
	return nil
}

// gone is the sentinel error kind for an invocation against a released
// token. It is never surfaced to a BatchClient caller: BatchRequest treats
// it as a signal to silently skip the subrequest, per SPEC_FULL.md §7.
type gone struct{}

func (gone) Error() string { return "callback token has been released" }

// ErrGone is returned by Invoke when the token is no longer alive.
var ErrGone error = gone{}
