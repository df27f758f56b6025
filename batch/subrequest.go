// Package batch implements the client-side batch lifecycle: the
// SubrequestSpec/Subrequest/BatchRequest/BatchClient types of SPEC_FULL.md
// §3–§4.5.
package batch

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/saymedia/batchhttp/agent"
	"github.com/saymedia/batchhttp/callback"
	"github.com/saymedia/batchhttp/innerhttp"
	"github.com/saymedia/batchhttp/multipart"
)

// SubrequestSpec describes one logical HTTP call to fold into a batch. It
// is immutable once handed to BatchClient.Add.
//
// Method is currently always rendered as GET regardless of its value here
// (SPEC_FULL.md §9's Open Question decision #2): the field exists so a
// future revision can generalize without changing the call signature.
type SubrequestSpec struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Subrequest binds a SubrequestSpec to the callback token that should
// receive its eventual subresponse.
type Subrequest struct {
	spec  SubrequestSpec
	token *callback.Token
}

// Alive reports whether this subrequest's callback token has not been
// released.
func (s *Subrequest) Alive() bool {
	return s.token.Alive()
}

// render turns this subrequest into a wire Part tagged with id, after
// asking ag to preflight the headers and body that would have been sent
// unbatched. It returns callback.ErrGone if the token has already been
// released; callers must treat that as "silently omit this subrequest",
// never as a batch failure.
func (s *Subrequest) render(ctx context.Context, ag agent.Agent, id int) (*multipart.Part, error) {
	if !s.token.Alive() {
		return nil, callback.ErrGone
	}

	headers, body, err := ag.Prepare(ctx, "GET", s.spec.URL, s.spec.Headers, s.spec.Body)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(s.spec.URL)
	if err != nil {
		return nil, err
	}

	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Host", u.Host)
	// Compression is unlikely to survive multipart framing.
	headers.Set("Accept-Encoding", "identity")

	req := &innerhttp.Request{
		Method: "GET",
		// Use the whole URL in the request line, per HTTP/1.1 proxy
		// conventions (RFC 2616 §5.1.2).
		RequestURI: s.spec.URL,
		Version:    "HTTP/1.1",
		Body:       body,
	}
	for _, name := range sortedHeaderNames(headers) {
		for _, value := range headers[name] {
			req.Headers.Add(name, value)
		}
	}

	return &multipart.Part{
		ContentType: multipart.ContentTypeRequest,
		RequestID:   strconv.Itoa(id),
		Payload:     req.Bytes(),
	}, nil
}

// decode parses part as a subresponse, hands it through ag's
// post-processing, and dispatches it to this subrequest's callback token.
// It returns callback.ErrGone if the token has already been released.
func (s *Subrequest) decode(ctx context.Context, ag agent.Agent, part multipart.Part) error {
	if !s.token.Alive() {
		return callback.ErrGone
	}

	parsed, err := innerhttp.ParseResponse(part.Payload)
	if err != nil {
		return err
	}

	httpResp := &http.Response{
		StatusCode: parsed.StatusCode,
		Header:     http.Header{},
	}
	for _, h := range parsed.Headers {
		httpResp.Header.Add(h.Name, h.Value)
	}

	body := parsed.Body
	if body == nil {
		return &CannotDecodeBodyError{Reason: "missing payload"}
	}

	finalResp, finalBody, err := ag.PostProcess(ctx, "GET", s.spec.URL, httpResp, body)
	if err != nil {
		return err
	}
	if finalBody == nil {
		return &CannotDecodeBodyError{Reason: "agent post-processing produced no body"}
	}

	return s.token.Invoke(s.spec.URL, finalResp.StatusCode, finalResp.Header, finalBody)
}

func sortedHeaderNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
