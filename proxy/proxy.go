// Package proxy implements the fan-out side of the batch protocol: an
// http.Handler that accepts a batch request, demultiplexes it into
// individual inner requests, issues them concurrently against a single
// upstream, and reassembles the responses into one batch response in the
// original order.
package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/saymedia/batchhttp/innerhttp"
	"github.com/saymedia/batchhttp/multipart"
)

const defaultTimeout = 30 * time.Second

// Proxy is an http.Handler (C6) that serves one path as a batch processor
// and reverse-proxies everything else straight through to Upstream, so a
// batch-aware client and a plain HTTP client can share one listen address.
type Proxy struct {
	// Upstream is the host:port every inner request (batched or not) is
	// forwarded to.
	Upstream string
	// BatchPath is the request path that is treated as a batch submission.
	// Defaults to "/batch-processor".
	BatchPath string
	// Timeout bounds each individual inner request. Defaults to 30s.
	Timeout time.Duration
	// Clock is the source of time used for Timeout; tests substitute a
	// clock.Mock to make slow-upstream scenarios deterministic.
	Clock clock.Clock
	// Logger receives structured request/diagnostic logging.
	Logger zerolog.Logger
	// Metrics are the proxy's Prometheus counters. Nil disables them.
	Metrics *Metrics

	client *http.Client
	rp     *httputil.ReverseProxy
}

// New builds a Proxy forwarding to upstream, ready to serve.
func New(upstream string) *Proxy {
	return &Proxy{
		Upstream:  upstream,
		BatchPath: "/batch-processor",
		Timeout:   defaultTimeout,
		Clock:     clock.New(),
		Logger:    log.Logger,
	}
}

func (p *Proxy) batchPath() string {
	if p.BatchPath == "" {
		return "/batch-processor"
	}
	return p.BatchPath
}

func (p *Proxy) timeout() time.Duration {
	if p.Timeout <= 0 {
		return defaultTimeout
	}
	return p.Timeout
}

func (p *Proxy) clk() clock.Clock {
	if p.Clock == nil {
		return clock.New()
	}
	return p.Clock
}

func (p *Proxy) upstreamClient() *http.Client {
	if p.client == nil {
		p.client = &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	}
	return p.client
}

func (p *Proxy) reverseProxy() *httputil.ReverseProxy {
	if p.rp == nil {
		p.rp = &httputil.ReverseProxy{
			Transport: &http.Transport{DisableKeepAlives: true},
			Director: func(r *http.Request) {
				r.URL.Scheme = "http"
				r.URL.Host = p.Upstream
				r.Header.Set("X-Forwarded-Host", r.Host)
			},
		}
	}
	return p.rp
}

func (p *Proxy) failure() {
	if p.Metrics != nil {
		p.Metrics.UpstreamFailures.Inc()
	}
}

func (p *Proxy) forwarded() {
	if p.Metrics != nil {
		p.Metrics.SubrequestsForwarded.Inc()
	}
}

// ServeHTTP routes POSTs to the configured batch path through serveBatch,
// answers any other method on that path with 405 Method Not Allowed, and
// passes requests for every other path straight through to Upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == p.batchPath() {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "batch submissions must be POSTed", http.StatusMethodNotAllowed)
			return
		}
		p.serveBatch(w, r)
		return
	}
	p.reverseProxy().ServeHTTP(w, r)
}

// serveBatch demultiplexes a batch POST into its inner requests, fans them
// out concurrently against Upstream, and writes back a 207 Multi-Status
// multipart/parallel response preserving the original order (SPEC_FULL.md
// §4.6, scenario 8).
func (p *Proxy) serveBatch(w http.ResponseWriter, r *http.Request) {
	if p.Metrics != nil {
		p.Metrics.BatchesTotal.Inc()
	}
	start := p.clk().Now()
	defer func() {
		if p.Metrics != nil {
			p.Metrics.AssemblyDuration.Observe(p.clk().Now().Sub(start).Seconds())
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read batch body", http.StatusBadRequest)
		return
	}

	parts, err := multipart.Decode(r.Header.Get("Content-Type"), body)
	if err != nil {
		p.Logger.Debug().Err(err).Msg("rejecting malformed batch submission")
		http.Error(w, "malformed batch submission: "+err.Error(), http.StatusBadRequest)
		return
	}

	requests := make([]*innerhttp.Request, 0, len(parts))
	for _, part := range parts {
		if part.ContentType != multipart.ContentTypeRequest {
			http.Error(w, "batch submission contained a part that was not an HTTP request", http.StatusBadRequest)
			return
		}
		req, err := innerhttp.ParseRequest(part.Payload)
		if err != nil {
			http.Error(w, "could not parse inner request: "+err.Error(), http.StatusBadRequest)
			return
		}
		prepareInner(req, r)
		requests = append(requests, req)
	}

	sess := newSession(p, requests)
	sess.run(r.Context())

	p.writeBatchResponse(w, sess)
}

// prepareInner strips hop-by-hop framing the inner request shouldn't carry
// upstream and records where the batch itself arrived from.
func prepareInner(req *innerhttp.Request, outer *http.Request) {
	req.Headers.Del("connection")
	req.Headers.Del("proxy-connection")
	req.Headers.Set("x-forwarded-host", outer.Host)
}

func (p *Proxy) writeBatchResponse(w http.ResponseWriter, sess *session) {
	var msgParts []multipart.Part
	for _, rp := range sess.responseParts() {
		msgParts = append(msgParts, multipart.Part{
			ContentType: multipart.ContentTypeResponse,
			RequestID:   rp.id,
			Payload:     rp.resp.Bytes(),
		})
	}

	msg := multipart.NewMessage(msgParts)
	headers, body, err := msg.Encode()
	if err != nil {
		http.Error(w, "could not encode batch response", http.StatusInternalServerError)
		return
	}

	for name, values := range headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusMultiStatus)
	w.Write(body)
}

// withDeadline is a small helper kept distinct from context.WithTimeout so
// tests can inject a mock clock's own timer instead of the real one.
func withDeadline(ctx context.Context, c clock.Clock, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := c.(*clock.Mock); !ok {
		return context.WithTimeout(ctx, d)
	}
	ctx, cancel := context.WithCancel(ctx)
	timer := c.Timer(d)
	stop := make(chan struct{})
	go func() {
		select {
		case <-timer.C:
			cancel()
		case <-stop:
			timer.Stop()
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
