package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/saymedia/batchhttp/innerhttp"
)

// session is the ephemeral per-batch-POST state SPEC_FULL.md §3 calls out:
// the parsed inner requests, one output slot per request, and a completion
// gate (a sync.WaitGroup) that fires once every upstream request has
// finished, successfully or not. It is owned entirely by one call to
// Proxy.serveBatch and discarded once that response is written.
type session struct {
	proxy    *Proxy
	requests []*innerhttp.Request

	// responses[i] corresponds to requests[i], preserving the batch's
	// input order regardless of which upstream call finished first.
	responses []*innerhttp.Response
}

func newSession(p *Proxy, requests []*innerhttp.Request) *session {
	return &session{
		proxy:     p,
		requests:  requests,
		responses: make([]*innerhttp.Response, len(requests)),
	}
}

// run issues every request concurrently against the proxy's upstream and
// blocks until all of them have completed. An individual upstream failure
// never aborts the others; it's recorded as a synthetic response in that
// slot.
func (s *session) run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(len(s.requests))
	for i, req := range s.requests {
		go func(i int, req *innerhttp.Request) {
			defer wg.Done()
			s.responses[i] = s.proxy.forward(ctx, req)
		}(i, req)
	}
	wg.Wait()
}

// forward issues one inner request to the proxy's upstream, returning a
// buffered inner response. Dial, write, or read failures never return an
// error to the caller: they produce a synthetic Bad Gateway response whose
// body is the error message, per SPEC_FULL.md §4.8.
func (p *Proxy) forward(ctx context.Context, req *innerhttp.Request) *innerhttp.Response {
	ctx, cancel := withDeadline(ctx, p.clk(), p.timeout())
	defer cancel()

	target, err := p.upstreamURL(req)
	if err != nil {
		p.failure()
		return badGateway(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		p.failure()
		return badGateway(err)
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}
	if host, ok := req.Host(); ok {
		httpReq.Host = host
	}
	httpReq.Header.Set("Connection", "close")

	resp, err := p.upstreamClient().Do(httpReq)
	if err != nil {
		p.failure()
		return badGateway(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.failure()
		return badGateway(err)
	}

	p.forwarded()

	out := &innerhttp.Response{
		Version:    fmt.Sprintf("HTTP/%d.%d", resp.ProtoMajor, resp.ProtoMinor),
		StatusCode: resp.StatusCode,
		Body:       body,
	}
	for name, values := range resp.Header {
		for _, v := range values {
			out.Headers.Add(name, v)
		}
	}
	return out
}

// upstreamURL rewrites an inner request's (absolute-form) request-URI onto
// the proxy's configured upstream, keeping the original path and query.
func (p *Proxy) upstreamURL(req *innerhttp.Request) (string, error) {
	u, err := url.Parse(req.RequestURI)
	if err != nil {
		return "", fmt.Errorf("parsing inner request-uri %q: %w", req.RequestURI, err)
	}
	u.Scheme = "http"
	u.Host = p.Upstream
	return u.String(), nil
}

func badGateway(err error) *innerhttp.Response {
	resp := &innerhttp.Response{Version: "HTTP/1.1", StatusCode: http.StatusBadGateway, Reason: "Bad Gateway"}
	if err != nil {
		resp.Body = []byte(err.Error())
	}
	return resp
}

// responseParts renders the session's responses into wire parts, numbering
// them 1..N in the batch's input order.
func (s *session) responseParts() []responsePart {
	parts := make([]responsePart, len(s.responses))
	for i, resp := range s.responses {
		parts[i] = responsePart{id: strconv.Itoa(i + 1), resp: resp}
	}
	return parts
}

type responsePart struct {
	id   string
	resp *innerhttp.Response
}
