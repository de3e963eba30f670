// Package origin implements the forwarding bridge's collaborators (§4.4,
// §6): the origin dispatcher that locates an upstream worker, and the
// worker that actually dials an origin server, forwards a request, and
// streams back reply/chunk/trailer events.
package origin

import (
	"github.com/arcrelay/uaproxy/pkg/timing"
	"github.com/arcrelay/uaproxy/pkg/wire"
)

// EventKind identifies which event a Worker delivered.
type EventKind int

const (
	// EventReply is the single reply event every submission eventually
	// delivers exactly once (§6).
	EventReply EventKind = iota
	// EventChunk carries one chunk payload; only sent when Reply.Chunked.
	EventChunk
	// EventTrailer terminates a chunked delivery; only sent when Reply.Chunked.
	EventTrailer
	// EventError reports the worker terminating abnormally mid-request
	// (§3 Lifecycle: "unexpected termination is synthesized into a 500").
	EventError
)

// Event is one message a Worker delivers to the handler that submitted a
// request to it, per the ordering §6 fixes: exactly one EventReply; then,
// if that reply is chunked, zero or more EventChunk followed by exactly
// one EventTrailer; or, at any point, one EventError in place of the rest.
type Event struct {
	Kind    EventKind
	Reply   wire.Reply
	Chunk   []byte
	Trailer wire.HeaderList
	Err     error

	// Metrics is populated on EventReply for logging (§9's timing
	// collaborator, carried over from the teacher's per-request Timer).
	Metrics timing.Metrics
}

// Worker is the handle a successful Submit returns. The handler blocks on
// Events() and does not read its own socket while waiting; it treats the
// channel closing without a terminal EventReply/EventError as an
// origin-terminated crash (§4.4's lifetime link).
type Worker interface {
	// Events returns the channel the worker delivers Events on. The
	// channel is closed after the terminal event (EventTrailer,
	// non-chunked EventReply, or EventError) is sent.
	Events() <-chan Event
	// Cancel breaks the lifetime link from the handler's side — it does
	// not guarantee the worker stops promptly, only that the handler will
	// stop listening (§5 Cancellation).
	Cancel()
}

// Origin is a single upstream target a Dispatcher has selected. The handler
// submits one request per GetClosestOrigin call; the interface does not
// enforce a single submission, and StaticDispatcher returns the same Origin
// on every call.
type Origin interface {
	Submit(req wire.Request, body []byte) (Worker, error)
}

// Dispatcher is the registry the handler is constructed with (§4.4, §9:
// "abstract as a trait/interface passed into the handler at construction,
// not as ambient state"). GetClosestOrigin names the single synchronous
// operation §6 specifies.
type Dispatcher interface {
	GetClosestOrigin() (Origin, error)
}
