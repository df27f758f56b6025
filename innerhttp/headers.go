package innerhttp

import "strings"

// Header is a single name/value pair. Names are always lowercased on parse;
// order and duplicates are preserved as they appeared on the wire.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered list of Header pairs.
type Headers []Header

// Get returns the value of the first header matching name
// (case-insensitive), and whether one was found.
func (h Headers) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, hdr := range h {
		if hdr.Name == name {
			return hdr.Value, true
		}
	}
	return "", false
}

// Add appends a header, lowercasing its name.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: strings.ToLower(name), Value: value})
}

// Set replaces every existing occurrence of name with a single header
// carrying value, preserving the position of the first occurrence (or
// appending if name wasn't already present).
func (h *Headers) Set(name, value string) {
	name = strings.ToLower(name)
	out := make(Headers, 0, len(*h)+1)
	set := false
	for _, hdr := range *h {
		if hdr.Name == name {
			if !set {
				out = append(out, Header{Name: name, Value: value})
				set = true
			}
			continue
		}
		out = append(out, hdr)
	}
	if !set {
		out = append(out, Header{Name: name, Value: value})
	}
	*h = out
}

// Del removes every header matching name.
func (h *Headers) Del(name string) {
	name = strings.ToLower(name)
	out := make(Headers, 0, len(*h))
	for _, hdr := range *h {
		if hdr.Name != name {
			out = append(out, hdr)
		}
	}
	*h = out
}
