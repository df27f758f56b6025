// Package innerhttp parses and prints the HTTP/1.1 request and status lines,
// headers, and bodies carried inside a multipart batch part. It knows
// nothing about MIME framing; that's package multipart's job.
package innerhttp

import (
	"bytes"
	"strings"
)

// Request is a parsed inner HTTP request: the request-line, its headers
// (names lowercased), and its body.
type Request struct {
	Method     string
	RequestURI string
	Version    string
	Headers    Headers
	Body       []byte
}

// Host returns the value of the Host header, if present.
func (r *Request) Host() (string, bool) {
	return r.Headers.Get("host")
}

// ParseRequest parses raw as an inner HTTP request. The request-line must
// split into exactly three whitespace-separated tokens. A single empty
// line immediately following a POST request-line is tolerated and
// discarded, matching a quirk of some legacy clients.
func ParseRequest(raw []byte) (*Request, error) {
	lines := bytes.Split(raw, []byte("\r\n"))
	if len(lines) == 0 {
		return nil, &BadRequestError{Reason: "empty message"}
	}

	fields := strings.Fields(string(lines[0]))
	if len(fields) != 3 {
		return nil, &BadRequestError{Reason: "request-line must have method, request-uri, and version"}
	}
	req := &Request{Method: fields[0], RequestURI: fields[1], Version: fields[2]}
	lines = lines[1:]

	if req.Method == "POST" && len(lines) > 0 && len(bytes.TrimSpace(lines[0])) == 0 {
		lines = lines[1:]
	}

	headerLines, bodyLines := splitHeaderBlock(lines)
	for _, raw := range foldContinuations(headerLines) {
		name, value, ok := splitHeaderLine(raw)
		if !ok {
			return nil, &BadRequestError{Reason: "header line missing colon: " + raw}
		}
		req.Headers.Add(name, strings.TrimSpace(value))
	}
	req.Body = bytes.Join(bodyLines, []byte("\r\n"))

	return req, nil
}

// Bytes renders the request back to wire form: CRLF line endings, headers
// in order, one blank line, then the body.
func (r *Request) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.Method)
	buf.WriteByte(' ')
	buf.WriteString(r.RequestURI)
	buf.WriteByte(' ')
	buf.WriteString(r.Version)
	buf.WriteString("\r\n")
	for _, h := range r.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

// splitHeaderBlock separates lines into the header block (up to and
// excluding the first blank line) and the body lines (everything after
// that blank line). If no blank line is found, all of lines are treated as
// headers and the body is empty.
func splitHeaderBlock(lines [][]byte) (header, body [][]byte) {
	for i, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			return lines[:i], lines[i+1:]
		}
	}
	return lines, nil
}

// foldContinuations merges header lines beginning with a space or tab into
// the preceding header line, per RFC 2616 header folding.
func foldContinuations(lines [][]byte) []string {
	var out []string
	for _, line := range lines {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += " " + strings.TrimSpace(string(line))
			continue
		}
		out = append(out, string(line))
	}
	return out
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(line[:idx])), line[idx+1:], true
}
