package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// Kind classifies a failed relay invocation.
type Kind string

const (
	// KindTimeout: the overall wall-clock bound for the invocation expired.
	KindTimeout Kind = "timeout"
	// KindConnectionError: the upstream could not be reached or dropped
	// the connection mid-stream (DNS, refused, reset).
	KindConnectionError Kind = "connection_error"
	// KindInternalError: any other unexpected failure.
	KindInternalError Kind = "internal_error"
)

// Event is the synthetic terminal record produced in place of (or after) the
// forwarded byte stream when an invocation fails. At most one Event is ever
// emitted per invocation, and it is always the last item in the stream.
type Event struct {
	Kind    Kind
	Message string
}

// SSE renders the event in event-stream framing:
//
//	event: error\ndata: {"message": "<text>"}\n\n
//
// The message is JSON-escaped; the two trailing newlines terminate the event.
// Existing consumers match this exact shape, so the spacing inside the data
// line is part of the contract.
func (e Event) SSE() []byte {
	msg, err := json.Marshal(e.Message)
	if err != nil {
		msg = []byte(`"internal error"`)
	}
	return []byte(fmt.Sprintf("event: error\ndata: {\"message\": %s}\n\n", msg))
}

// HTTPStatus maps the failure kind onto the status class used by the
// non-streaming lookup path.
func (e Event) HTTPStatus() int {
	switch e.Kind {
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindConnectionError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Classify maps an upstream failure onto the relay's error taxonomy. The
// mapping is deterministic: the same failing condition always yields the
// same kind.
func Classify(err error) Event {
	if errors.Is(err, context.DeadlineExceeded) {
		return Event{Kind: KindTimeout, Message: "Request timeout"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Event{Kind: KindTimeout, Message: "Request timeout"}
	}

	// A canceled context means the downstream consumer went away; classed as
	// a connection failure since the data path was severed.
	if errors.Is(err, context.Canceled) {
		return Event{Kind: KindConnectionError, Message: "Connection error: " + err.Error()}
	}

	// Mid-stream drops surface as truncated reads or reset sockets.
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return Event{Kind: KindConnectionError, Message: "Connection error: " + err.Error()}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Event{Kind: KindConnectionError, Message: "Connection error: " + err.Error()}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Event{Kind: KindConnectionError, Message: "Connection error: " + err.Error()}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Event{Kind: KindConnectionError, Message: "Connection error: " + err.Error()}
	}

	return Event{Kind: KindInternalError, Message: err.Error()}
}
