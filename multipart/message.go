// Package multipart implements the wire framing used to carry a batch of
// HTTP requests or responses as a single MIME multipart/parallel body: one
// application/http-request or application/http-response part per
// subrequest, each tagged with a Multipart-Request-ID header.
package multipart

import (
	"bytes"
	"io"
	"mime"
	stdmultipart "mime/multipart"
	"mime/quotedprintable"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/rs/xid"
)

const (
	// ContentTypeRequest is the content-type tag used for a part carrying
	// an inner HTTP request. Per the interop note, only the application/
	// form is ever emitted or accepted; the legacy message/http-request
	// tag used by older peers is not supported.
	ContentTypeRequest = "application/http-request"
	// ContentTypeResponse is the content-type tag for a part carrying an
	// inner HTTP response.
	ContentTypeResponse = "application/http-response"

	headerRequestID        = "Multipart-Request-ID"
	headerTransferEncoding = "Content-Transfer-Encoding"
	headerContentType      = "Content-Type"

	// TransferEncoding is the Content-Transfer-Encoding applied to every
	// part this package emits.
	TransferEncoding = "quoted-printable"
)

// Part is a single leaf part of a batch multipart message: an inner HTTP
// request or response, still as opaque bytes. Parsing those bytes into a
// request or status line, headers, and body is the inner HTTP parser's job
// (package innerhttp), not this package's.
type Part struct {
	ContentType string
	RequestID   string
	Payload     []byte
}

// Message is an ordered list of Parts sharing one multipart/parallel
// envelope.
type Message struct {
	Boundary string
	Preamble string
	Parts    []Part
}

// NewMessage builds a Message from parts, assigning it a fresh boundary.
// Boundary collision with part payloads isn't checked for (per the spec,
// it's acceptable to rely on a sufficiently random token), but xid's
// 20-character base32 alphabet makes an accidental collision with any
// realistic HTTP payload astronomically unlikely.
func NewMessage(parts []Part) *Message {
	return &Message{
		Boundary: "batch-" + xid.New().String(),
		Preamble: "This is a multi-part message in MIME format.\n",
		Parts:    parts,
	}
}

// Encode renders the message as outbound HTTP headers and body.
func (m *Message) Encode() (http.Header, []byte, error) {
	var buf bytes.Buffer
	w := stdmultipart.NewWriter(&buf)
	if err := w.SetBoundary(m.Boundary); err != nil {
		return nil, nil, err
	}

	for _, part := range m.Parts {
		header := textproto.MIMEHeader{}
		header.Set(headerContentType, part.ContentType)
		header.Set(headerRequestID, part.RequestID)
		header.Set(headerTransferEncoding, TransferEncoding)

		pw, err := w.CreatePart(header)
		if err != nil {
			return nil, nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write(part.Payload); err != nil {
			return nil, nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, nil, err
	}

	headers := http.Header{}
	headers.Set(headerContentType, "multipart/parallel; boundary=\""+m.Boundary+"\"")
	headers.Set("Mime-Version", "1.0")
	return headers, buf.Bytes(), nil
}

// Decode parses a multipart/parallel (or any other multipart/*) body given
// its Content-Type header value, recursively descending into any nested
// multipart parts and returning the leaf application/* parts it finds, in
// document order.
func Decode(contentType string, body []byte) ([]Part, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, &NotMultipartError{ContentType: contentType}
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, &NotMultipartError{ContentType: contentType}
	}
	return walk(bytes.NewReader(body), boundary)
}

// walk descends through one level of a multipart body, recursing into any
// part that is itself multipart/* and collecting the application/* leaves.
func walk(r io.Reader, boundary string) ([]Part, error) {
	mr := stdmultipart.NewReader(r, boundary)
	var parts []Part
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		ct := p.Header.Get(headerContentType)
		mediaType, params, err := mime.ParseMediaType(ct)
		if err != nil {
			mediaType = ct
		}

		raw, err := io.ReadAll(p)
		if err != nil {
			return nil, err
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nested, err := walk(bytes.NewReader(raw), params["boundary"])
			if err != nil {
				return nil, err
			}
			parts = append(parts, nested...)
			continue
		}

		if !strings.HasPrefix(mediaType, "application/") {
			continue
		}

		payload, err := decodeTransfer(raw, p.Header.Get(headerTransferEncoding))
		if err != nil {
			return nil, err
		}

		parts = append(parts, Part{
			ContentType: mediaType,
			RequestID:   p.Header.Get(headerRequestID),
			Payload:     payload,
		})
	}
	return parts, nil
}

// decodeTransfer reverses Content-Transfer-Encoding. quoted-printable and
// base64 are supported; anything else (including an absent header) is
// treated as identity.
func decodeTransfer(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
	case "base64":
		return bdecode(raw)
	default:
		return raw, nil
	}
}
