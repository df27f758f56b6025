package batch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/saymedia/batchhttp/agent"
	"github.com/saymedia/batchhttp/innerhttp"
	"github.com/saymedia/batchhttp/multipart"
)

// respondBatch builds a 207 multipart response from id/status/body triples,
// in the order given, mimicking what a fan-out proxy would send back.
func respondBatch(w http.ResponseWriter, entries ...[3]string) {
	var parts []multipart.Part
	for _, e := range entries {
		id, status, body := e[0], e[1], e[2]
		resp := &innerhttp.Response{Version: "HTTP/1.1", StatusCode: atoi(status), Reason: "OK", Body: []byte(body)}
		parts = append(parts, multipart.Part{
			ContentType: multipart.ContentTypeResponse,
			RequestID:   id,
			Payload:     resp.Bytes(),
		})
	}
	msg := multipart.NewMessage(parts)
	headers, body, err := msg.Encode()
	if err != nil {
		panic(err)
	}
	for k, vv := range headers {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(http.StatusMultiStatus)
	w.Write(body)
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

func TestComplete_LeastCase(t *testing.T) {
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Assert(r.URL.Path, qt.Equals, "/batch-processor")
		respondBatch(w, [3]string{"1", "200", `{"name":"Potatoshop"}`})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, agent.NewDefault())
	c.Assert(client.Open(), qt.IsNil)

	var gotStatus int
	var gotBody string
	_, err := client.Add(SubrequestSpec{URL: "http://example.com/moose"}, func(url string, status int, headers map[string][]string, body []byte) {
		gotStatus = status
		gotBody = string(body)
	})
	c.Assert(err, qt.IsNil)

	c.Assert(client.Complete(context.Background()), qt.IsNil)
	c.Assert(gotStatus, qt.Equals, 200)
	c.Assert(gotBody, qt.Equals, `{"name":"Potatoshop"}`)
}

func TestComplete_MultiOutOfOrder(t *testing.T) {
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondBatch(w, [3]string{"2", "200", "drang"}, [3]string{"1", "200", "sturm"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, agent.NewDefault())
	c.Assert(client.Open(), qt.IsNil)

	var mooseBody, fredBody string
	_, err := client.Add(SubrequestSpec{URL: "http://example.com/moose"}, func(url string, status int, headers map[string][]string, body []byte) {
		mooseBody = string(body)
	})
	c.Assert(err, qt.IsNil)
	_, err = client.Add(SubrequestSpec{URL: "http://example.com/fred"}, func(url string, status int, headers map[string][]string, body []byte) {
		fredBody = string(body)
	})
	c.Assert(err, qt.IsNil)

	c.Assert(client.Complete(context.Background()), qt.IsNil)
	c.Assert(mooseBody, qt.Equals, "sturm")
	c.Assert(fredBody, qt.Equals, "drang")
}

func TestComplete_Subresponse404(t *testing.T) {
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondBatch(w,
			[3]string{"1", "404", `{"oops":null}`},
			[3]string{"2", "200", `ok`},
		)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, agent.NewDefault())
	c.Assert(client.Open(), qt.IsNil)

	var status1, status2 int
	_, err := client.Add(SubrequestSpec{URL: "http://example.com/one"}, func(url string, status int, headers map[string][]string, body []byte) {
		status1 = status
	})
	c.Assert(err, qt.IsNil)
	_, err = client.Add(SubrequestSpec{URL: "http://example.com/two"}, func(url string, status int, headers map[string][]string, body []byte) {
		status2 = status
	})
	c.Assert(err, qt.IsNil)

	c.Assert(client.Complete(context.Background()), qt.IsNil)
	c.Assert(status1, qt.Equals, 404)
	c.Assert(status2, qt.Equals, 200)
}

func TestComplete_Cached304(t *testing.T) {
	c := qt.New(t)

	cache := agent.NewMemoryCache()
	err := cache.Set(context.Background(), "http://example.com/moose", &agent.Record{
		StatusCode: 200,
		Headers:    http.Header{"Etag": {`"7"`}},
		Body:       []byte(`{"name":"Potatoshop"}`),
	})
	c.Assert(err, qt.IsNil)

	var gotIfNoneMatch string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		parts, decErr := multipart.Decode(r.Header.Get("Content-Type"), body)
		c.Assert(decErr, qt.IsNil)
		c.Assert(parts, qt.HasLen, 1)
		inner, parseErr := innerhttp.ParseRequest(parts[0].Payload)
		c.Assert(parseErr, qt.IsNil)
		v, _ := inner.Headers.Get("if-none-match")
		gotIfNoneMatch = v

		respondBatch(w, [3]string{"1", "304", ""})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &agent.Default{Cache: cache})
	c.Assert(client.Open(), qt.IsNil)

	var gotStatus int
	var gotBody string
	_, err = client.Add(SubrequestSpec{URL: "http://example.com/moose"}, func(url string, status int, headers map[string][]string, body []byte) {
		gotStatus = status
		gotBody = string(body)
	})
	c.Assert(err, qt.IsNil)

	c.Assert(client.Complete(context.Background()), qt.IsNil)
	c.Assert(gotIfNoneMatch, qt.Equals, `"7"`)
	c.Assert(gotStatus, qt.Equals, 200)
	c.Assert(gotBody, qt.Equals, `{"name":"Potatoshop"}`)
}

func TestComplete_DroppedCallback(t *testing.T) {
	c := qt.New(t)

	var sawParts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		parts, decErr := multipart.Decode(r.Header.Get("Content-Type"), body)
		c.Assert(decErr, qt.IsNil)
		sawParts = len(parts)
		respondBatch(w, [3]string{"1", "200", "ok"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, agent.NewDefault())
	c.Assert(client.Open(), qt.IsNil)

	_, err := client.Add(SubrequestSpec{URL: "http://example.com/one"}, func(url string, status int, headers map[string][]string, body []byte) {})
	c.Assert(err, qt.IsNil)
	tok2, err := client.Add(SubrequestSpec{URL: "http://example.com/two"}, func(url string, status int, headers map[string][]string, body []byte) {
		t.Fatal("callback 2 should have been elided")
	})
	c.Assert(err, qt.IsNil)
	tok3, err := client.Add(SubrequestSpec{URL: "http://example.com/three"}, func(url string, status int, headers map[string][]string, body []byte) {
		t.Fatal("callback 3 should have been elided")
	})
	c.Assert(err, qt.IsNil)

	tok2.Release()
	tok3.Release()

	c.Assert(client.Len(), qt.Equals, 1)
	c.Assert(client.Complete(context.Background()), qt.IsNil)
	c.Assert(sawParts, qt.Equals, 1)
}

func TestComplete_NonBatchResponse(t *testing.T) {
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, agent.NewDefault())
	c.Assert(client.Open(), qt.IsNil)

	called := false
	_, err := client.Add(SubrequestSpec{URL: "http://example.com/one"}, func(url string, status int, headers map[string][]string, body []byte) {
		called = true
	})
	c.Assert(err, qt.IsNil)

	err = client.Complete(context.Background())
	c.Assert(err, qt.ErrorAs, new(*NonBatchResponseError))
	c.Assert(called, qt.IsFalse)
}

func TestLifecycleErrors(t *testing.T) {
	c := qt.New(t)

	client := NewClient("http://example.com", agent.NewDefault())

	_, err := client.Add(SubrequestSpec{URL: "http://example.com/one"}, func(string, int, map[string][]string, []byte) {})
	c.Assert(err, qt.ErrorAs, new(*NotOpenError))

	err = client.Complete(context.Background())
	c.Assert(err, qt.ErrorAs, new(*NotOpenError))

	c.Assert(client.Open(), qt.IsNil)
	err = client.Open()
	c.Assert(err, qt.ErrorAs, new(*AlreadyOpenError))
	client.Clear()

	noEndpoint := NewClient("", agent.NewDefault())
	c.Assert(noEndpoint.Open(), qt.IsNil)
	err = noEndpoint.Complete(context.Background())
	c.Assert(err, qt.ErrorAs, new(*NoEndpointError))
}
