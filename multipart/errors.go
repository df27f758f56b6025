package multipart

import "fmt"

// NotMultipartError is returned when a message claims a Content-Type that
// isn't multipart/*, or carries no boundary parameter.
type NotMultipartError struct {
	ContentType string
}

func (e *NotMultipartError) Error() string {
	return fmt.Sprintf("not a multipart message: %q", e.ContentType)
}

// BadPartError describes a part inside a multipart message that doesn't
// match what the caller expected of it (wrong content-type, missing or
// non-numeric Multipart-Request-ID). Decode does not return it; package
// batch reports these cases with its own BadPartError.
type BadPartError struct {
	Reason string
}

func (e *BadPartError) Error() string {
	return "bad multipart part: " + e.Reason
}
