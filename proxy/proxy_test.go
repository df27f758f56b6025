package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	qt "github.com/frankban/quicktest"

	"github.com/saymedia/batchhttp/innerhttp"
	"github.com/saymedia/batchhttp/multipart"
)

// postBatch builds a multipart/parallel batch submission from method/url
// pairs and POSTs it to the given proxy handler, returning the decoded
// response parts keyed by their Multipart-Request-ID order.
func postBatch(c *qt.C, h http.Handler, batchPath string, reqs ...[2]string) []multipart.Part {
	var parts []multipart.Part
	for i, r := range reqs {
		method, rawurl := r[0], r[1]
		u, err := url.Parse(rawurl)
		c.Assert(err, qt.IsNil)
		inner := &innerhttp.Request{Method: method, RequestURI: rawurl, Version: "HTTP/1.1"}
		inner.Headers.Add("Host", u.Host)
		parts = append(parts, multipart.Part{
			ContentType: multipart.ContentTypeRequest,
			RequestID:   fmt.Sprintf("%d", i+1),
			Payload:     inner.Bytes(),
		})
	}
	msg := multipart.NewMessage(parts)
	headers, body, err := msg.Encode()
	c.Assert(err, qt.IsNil)

	req := httptest.NewRequest(http.MethodPost, batchPath, bytesReader(body))
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusMultiStatus)

	respBody, err := io.ReadAll(rec.Result().Body)
	c.Assert(err, qt.IsNil)
	outParts, err := multipart.Decode(rec.Header().Get("Content-Type"), respBody)
	c.Assert(err, qt.IsNil)
	return outParts
}

func bytesReader(b []byte) io.Reader {
	return &onceReader{b: b}
}

type onceReader struct {
	b []byte
}

func (r *onceReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func TestServeBatch_OrderPreservedRegardlessOfCompletionOrder(t *testing.T) {
	c := qt.New(t)

	var slowReleased sync.WaitGroup
	slowReleased.Add(1)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slow":
			slowReleased.Wait()
			w.Write([]byte("slow"))
		case "/fast":
			w.Write([]byte("fast"))
		}
	}))
	defer upstream.Close()

	p := New(upstream.Listener.Addr().String())
	p.Timeout = 5 * time.Second

	done := make(chan []multipart.Part, 1)
	go func() {
		parts := postBatch(c, p, "/batch-processor",
			[2]string{"GET", "http://" + upstream.Listener.Addr().String() + "/slow"},
			[2]string{"GET", "http://" + upstream.Listener.Addr().String() + "/fast"},
		)
		done <- parts
	}()

	time.Sleep(50 * time.Millisecond)
	slowReleased.Done()

	var parts []multipart.Part
	select {
	case parts = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not complete")
	}

	c.Assert(parts, qt.HasLen, 2)
	c.Assert(parts[0].RequestID, qt.Equals, "1")
	c.Assert(parts[1].RequestID, qt.Equals, "2")

	resp1, err := innerhttp.ParseResponse(parts[0].Payload)
	c.Assert(err, qt.IsNil)
	c.Assert(string(resp1.Body), qt.Equals, "slow")

	resp2, err := innerhttp.ParseResponse(parts[1].Payload)
	c.Assert(err, qt.IsNil)
	c.Assert(string(resp2.Body), qt.Equals, "fast")
}

func TestServeBatch_UpstreamFailureIsLocalToOneSubresponse(t *testing.T) {
	c := qt.New(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			panic("simulated upstream crash")
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	// net/http recovers a panicking handler by closing the connection,
	// which is exactly the dial/read failure forward() must tolerate.
	p := New(upstream.Listener.Addr().String())
	parts := postBatch(c, p, "/batch-processor",
		[2]string{"GET", "http://" + upstream.Listener.Addr().String() + "/boom"},
		[2]string{"GET", "http://" + upstream.Listener.Addr().String() + "/ok"},
	)

	c.Assert(parts, qt.HasLen, 2)
	resp1, err := innerhttp.ParseResponse(parts[0].Payload)
	c.Assert(err, qt.IsNil)
	c.Assert(resp1.StatusCode, qt.Equals, http.StatusBadGateway)

	resp2, err := innerhttp.ParseResponse(parts[1].Payload)
	c.Assert(err, qt.IsNil)
	c.Assert(resp2.StatusCode, qt.Equals, http.StatusOK)
	c.Assert(string(resp2.Body), qt.Equals, "ok")
}

func TestServeBatch_RejectsNonPost(t *testing.T) {
	c := qt.New(t)

	p := New("127.0.0.1:0")
	req := httptest.NewRequest(http.MethodGet, "/batch-processor", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusMethodNotAllowed)
}

func TestServeBatch_RejectsMalformedSubmission(t *testing.T) {
	c := qt.New(t)

	p := New("127.0.0.1:0")
	req := httptest.NewRequest(http.MethodPost, "/batch-processor", bytesReader([]byte("not a multipart body")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestWithDeadline_MockClockExpires(t *testing.T) {
	c := qt.New(t)

	mock := clock.NewMock()
	ctx, cancel := withDeadline(context.Background(), mock, time.Second)
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context should not be done yet")
	default:
	}

	mock.Add(2 * time.Second)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled after the mock clock advanced past the deadline")
	}
}
