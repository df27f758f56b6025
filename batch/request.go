package batch

import (
	"context"
	"net/http"

	"github.com/saymedia/batchhttp/agent"
	"github.com/saymedia/batchhttp/callback"
	"github.com/saymedia/batchhttp/multipart"
)

// BatchRequest is the ordered collection of subrequests accumulated between
// an Open and a Complete call. It is not safe for concurrent use; per
// SPEC_FULL.md §5, a BatchClient and the BatchRequest it holds are
// single-owner, single-threaded over their lifecycle.
type BatchRequest struct {
	subrequests []*Subrequest
}

// Add appends a new subrequest and returns the token its callback will be
// invoked through. Calling its Release method before Complete is what
// elides the subrequest from the outbound batch; the BatchRequest holds
// the token itself, so dropping the caller's reference has no effect.
func (b *BatchRequest) Add(spec SubrequestSpec, fn callback.Func) *callback.Token {
	tok := callback.New(fn)
	b.subrequests = append(b.subrequests, &Subrequest{spec: spec, token: tok})
	return tok
}

// Len returns the number of subrequests whose callback is currently alive.
// Subrequests whose callback has been released don't count, matching the
// "length semantics" testable property in SPEC_FULL.md §8.
func (b *BatchRequest) Len() int {
	n := 0
	for _, s := range b.subrequests {
		if s.Alive() {
			n++
		}
	}
	return n
}

// construct renders every alive subrequest into wire parts, in insertion
// order, assigning dense 1-based Multipart-Request-IDs only to the parts
// actually emitted. It returns a nil header/body (and nil emitted slice)
// if no subrequest survived to be rendered — the caller should treat that
// as "nothing to send", not an error.
func (b *BatchRequest) construct(ctx context.Context, ag agent.Agent) (http.Header, []byte, []*Subrequest, error) {
	var parts []multipart.Part
	var emitted []*Subrequest

	id := 1
	for _, sub := range b.subrequests {
		part, err := sub.render(ctx, ag, id)
		if err == callback.ErrGone {
			continue
		}
		if err != nil {
			return nil, nil, nil, err
		}
		parts = append(parts, *part)
		emitted = append(emitted, sub)
		id++
	}

	if len(emitted) == 0 {
		return nil, nil, nil, nil
	}

	msg := multipart.NewMessage(parts)
	headers, body, err := msg.Encode()
	if err != nil {
		return nil, nil, nil, err
	}
	// Prefer gzip encoding on the batch response envelope.
	headers.Set("Accept-Encoding", "gzip;q=1.0, identity; q=0.5, *;q=0")

	return headers, body, emitted, nil
}
