package batch

import "fmt"

// AlreadyOpenError is returned by Open when a batch is already open on this
// client.
type AlreadyOpenError struct {
	OpenedAt string // diagnostic stack trace captured at the original Open call
}

func (e *AlreadyOpenError) Error() string {
	return "there's already an open batch request"
}

// NotOpenError is returned by Add or Complete when no batch is open.
type NotOpenError struct {
	Op string
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("there's no open batch request to %s", e.Op)
}

// NoEndpointError is returned by Complete when the client has no batch
// processor endpoint configured.
type NoEndpointError struct{}

func (e *NoEndpointError) Error() string {
	return "there's no batch processor endpoint to which to send a batch request"
}

// NonBatchResponseError is returned when the batch processor responds with
// a status other than 207 Multi-Status.
type NonBatchResponseError struct {
	Status int
	Reason string
}

func (e *NonBatchResponseError) Error() string {
	return fmt.Sprintf("received non-batch response: %d %s", e.Status, e.Reason)
}

// BadPartError is returned when the batch response's multipart framing is
// well-formed but a part inside it isn't what complete() expects.
type BadPartError struct {
	Reason string
}

func (e *BadPartError) Error() string {
	return "batch response included a bad part: " + e.Reason
}

// CannotDecodeBodyError is returned when a subresponse's body could not be
// recovered from its MIME payload or from the agent's post-processing.
type CannotDecodeBodyError struct {
	Reason string
}

func (e *CannotDecodeBodyError) Error() string {
	return "could not decode subresponse body: " + e.Reason
}
