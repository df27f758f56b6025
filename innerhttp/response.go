package innerhttp

import (
	"bytes"
	"strconv"
	"strings"
)

// Response is a parsed inner HTTP response: the status-line, its headers
// (names lowercased), and its body. A degenerate status-line with no
// reason phrase is accepted; Reason will be empty in that case.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Headers    Headers
	Body       []byte
}

// ParseResponse parses raw as an inner HTTP response.
func ParseResponse(raw []byte) (*Response, error) {
	lines := bytes.Split(raw, []byte("\r\n"))
	if len(lines) == 0 {
		return nil, &BadResponseError{Reason: "empty message"}
	}

	fields := strings.SplitN(strings.TrimSpace(string(lines[0])), " ", 3)
	if len(fields) < 2 {
		return nil, &BadResponseError{Reason: "status-line must have version and status code"}
	}
	code, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, &BadResponseError{Reason: "non-numeric status code: " + fields[1]}
	}
	resp := &Response{Version: fields[0], StatusCode: code}
	if len(fields) == 3 {
		resp.Reason = fields[2]
	}
	lines = lines[1:]

	headerLines, bodyLines := splitHeaderBlock(lines)
	for _, raw := range foldContinuations(headerLines) {
		name, value, ok := splitHeaderLine(raw)
		if !ok {
			return nil, &BadResponseError{Reason: "header line missing colon: " + raw}
		}
		resp.Headers.Add(name, strings.TrimLeft(value, " \t"))
	}
	resp.Body = bytes.Join(bodyLines, []byte("\r\n"))

	return resp, nil
}

// Bytes renders the response back to wire form.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.Version)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(r.StatusCode))
	if r.Reason != "" {
		buf.WriteByte(' ')
		buf.WriteString(r.Reason)
	}
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
