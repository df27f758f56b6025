package callback

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestToken_InvokeAndRelease(t *testing.T) {
	c := qt.New(t)

	var gotURL string
	var gotStatus int
	tok := New(func(url string, status int, headers map[string][]string, body []byte) {
		gotURL = url
		gotStatus = status
	})

	c.Assert(tok.Alive(), qt.IsTrue)
	c.Assert(tok.Invoke("http://example.com/moose", 200, nil, nil), qt.IsNil)
	c.Assert(gotURL, qt.Equals, "http://example.com/moose")
	c.Assert(gotStatus, qt.Equals, 200)

	tok.Release()
	c.Assert(tok.Alive(), qt.IsFalse)
	c.Assert(tok.Invoke("http://example.com/moose", 200, nil, nil), qt.Equals, ErrGone)
}
