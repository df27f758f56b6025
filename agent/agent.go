// Package agent defines the contract batch.Subrequest relies on for the
// "HTTP agent" collaborator that SPEC_FULL.md §1 treats as external: cache
// and authorization aware preflight (a dry run that never touches the
// network) and post-processing of a subresponse against that same cache
// and authorization state. It also provides a small reference
// implementation, Default, for callers that don't already have a richer
// caching HTTP client wired up.
package agent

import (
	"context"
	"net/http"
)

// Authorization is given a chance to add credentials to an outbound
// request's headers. It reports whether it applied anything, so callers
// can tell "no authorizations configured" apart from "an authorization
// ran but had nothing to add" if they need to (the reference Agent
// doesn't distinguish the two).
type Authorization func(url string, headers http.Header) bool

// Agent is the contract consumed by package batch when rendering a
// subrequest and decoding its subresponse. The authoritative description
// of each method is SPEC_FULL.md §4.7.
type Agent interface {
	// Prepare computes the headers and body that would have been sent had
	// this request gone out unbatched: cache-revalidation headers,
	// authorization, and so on. It must not perform network I/O.
	Prepare(ctx context.Context, method, url string, headers http.Header, body []byte) (http.Header, []byte, error)

	// PostProcess hands a subresponse through the agent's cache and
	// authorization state: resolving 304 against the cache, undoing
	// content-encoding, and refreshing the cache's stored validators.
	PostProcess(ctx context.Context, method, url string, resp *http.Response, body []byte) (*http.Response, []byte, error)

	// Do performs req directly, for callers that want to use the Agent as
	// a general-purpose HTTP client outside of a batch. BatchClient never
	// calls this.
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}
