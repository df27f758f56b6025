package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/saymedia/batchhttp/agent"
	"github.com/saymedia/batchhttp/callback"
	"github.com/saymedia/batchhttp/multipart"
)

// batchProcessorPath is the resource the batch is always POSTed to,
// regardless of any path present on the configured endpoint.
const batchProcessorPath = "/batch-processor"

// BatchClient holds at most one in-flight BatchRequest against a
// configured batch processor endpoint. It implements the state machine in
// SPEC_FULL.md §4.5:
//
//	Idle --Open--> Open --Add*--> Open --Complete--> Idle
//	                    \--Clear----------------> Idle
type BatchClient struct {
	Endpoint   string
	Agent      agent.Agent
	HTTPClient *http.Client
	Logger     zerolog.Logger

	current  *BatchRequest
	openedAt []byte // diagnostic stack trace from the Open call, for AlreadyOpenError
}

// NewClient returns a BatchClient targeting endpoint, dispatching
// preflight/post-processing through ag (an agent.NewDefault() if the
// caller has no richer caching HTTP agent of its own).
func NewClient(endpoint string, ag agent.Agent) *BatchClient {
	return &BatchClient{
		Endpoint:   endpoint,
		Agent:      ag,
		HTTPClient: &http.Client{},
		Logger:     log.Logger,
	}
}

// Open begins a new batch request. It fails with *AlreadyOpenError if one
// is already open.
func (c *BatchClient) Open() error {
	if c.current != nil {
		c.Logger.Debug().Bytes("opened_at", c.openedAt).Msg("batch already open")
		return &AlreadyOpenError{OpenedAt: string(c.openedAt)}
	}
	c.current = &BatchRequest{}
	c.openedAt = debug.Stack()
	return nil
}

// Add adds a subrequest to the currently open batch, returning its token.
// Releasing the token before Complete elides the subrequest and its
// callback never fires. It fails with *NotOpenError if no batch is open.
func (c *BatchClient) Add(spec SubrequestSpec, fn callback.Func) (*callback.Token, error) {
	if c.current == nil {
		return nil, &NotOpenError{Op: "add a subrequest to"}
	}
	return c.current.Add(spec, fn), nil
}

// Len reports the number of subrequests in the open batch whose callback
// is still alive. It returns 0 if no batch is open.
func (c *BatchClient) Len() int {
	if c.current == nil {
		return 0
	}
	return c.current.Len()
}

// Clear discards the open batch request without performing it. It is a
// no-op if no batch is open.
func (c *BatchClient) Clear() {
	c.current = nil
	c.openedAt = nil
}

// Complete closes the open batch, submits it, and dispatches each
// subresponse to its subrequest's callback. On return (normal or not) the
// client returns to Idle: the open batch is always discarded.
//
// Subresponses are dispatched in the order they appear in the batch
// response, which need not be the order subrequests were added. If a
// callback panics, Complete does not recover: the panic propagates to the
// caller after already-dispatched callbacks have run, matching the
// original implementation's "a user exception aborts the remaining
// dispatches" behavior.
func (c *BatchClient) Complete(ctx context.Context) (err error) {
	if c.current == nil {
		return &NotOpenError{Op: "complete"}
	}
	b := c.current
	defer func() { c.current = nil; c.openedAt = nil }()
	if c.Endpoint == "" {
		return &NoEndpointError{}
	}

	headers, body, emitted, err := b.construct(ctx, c.Agent)
	if err != nil {
		return err
	}
	if len(emitted) == 0 {
		c.Logger.Warn().Msg("no requests were made for the batch")
		return nil
	}
	c.Logger.Debug().Int("count", len(emitted)).Msg("making batch request")

	batchURL, err := c.batchURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, batchURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("batch request to %s: %w", batchURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading batch response: %w", err)
	}

	if resp.StatusCode != http.StatusMultiStatus {
		c.Logger.Debug().Int("status", resp.StatusCode).Bytes("body", respBody).Msg("received non-batch response")
		return &NonBatchResponseError{Status: resp.StatusCode, Reason: strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")}
	}

	parts, err := multipart.Decode(resp.Header.Get("Content-Type"), respBody)
	if err != nil {
		return err
	}

	for _, part := range parts {
		if part.ContentType != multipart.ContentTypeResponse {
			return &BadPartError{Reason: "batch response included a part that was not an HTTP response message"}
		}
		if part.RequestID == "" {
			return &BadPartError{Reason: "batch response included a part with no Multipart-Request-ID header"}
		}
		id, convErr := strconv.Atoi(part.RequestID)
		if convErr != nil {
			return &BadPartError{Reason: "batch response included a part with an invalid Multipart-Request-ID header"}
		}
		if id < 1 || id > len(emitted) {
			return &BadPartError{Reason: fmt.Sprintf("Multipart-Request-ID %d has no corresponding subrequest", id)}
		}

		sub := emitted[id-1]
		if decErr := sub.decode(ctx, c.Agent, part); decErr != nil && !errors.Is(decErr, callback.ErrGone) {
			return decErr
		}
	}

	return nil
}

// Scope is the Go substitute for the original implementation's "with"
// context manager (SPEC_FULL.md §9): it opens a batch, runs fn, and
// completes the batch if fn returns nil, or clears it (discarding the
// batch without performing it) if fn returns an error or panics.
func (c *BatchClient) Scope(ctx context.Context, fn func(*BatchClient) error) (err error) {
	if err := c.Open(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			c.Clear()
			panic(r)
		}
	}()

	if err := fn(c); err != nil {
		c.Clear()
		return err
	}
	return c.Complete(ctx)
}

func (c *BatchClient) batchURL() (string, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing batch endpoint %q: %w", c.Endpoint, err)
	}
	u.Path = batchProcessorPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
