package handler

import (
	"strconv"

	uaerrors "github.com/arcrelay/uaproxy/pkg/errors"
	"github.com/arcrelay/uaproxy/pkg/origin"
	"github.com/arcrelay/uaproxy/pkg/wire"
)

// forward is the forwarding bridge (§4.4): it looks up an origin worker,
// hands off the parsed request, adopts a lifetime link to the worker (via
// the deferred Cancel and the for-range over its event channel, which ends
// the link the moment the channel closes), and streams whatever the
// worker emits back to the UA.
func (h *Handler) forward(req *wire.Request, body []byte) (bool, error) {
	o, err := h.dispatcher.GetClosestOrigin()
	if err != nil {
		return false, uaerrors.NewOriginError("get-closest-origin", "", err)
	}

	w, err := o.Submit(*req, body)
	if err != nil {
		return false, uaerrors.NewOriginError("submit", "", err)
	}
	defer w.Cancel()

	ev, ok := <-w.Events()
	if !ok {
		// Worker terminated before delivering even its reply event — an
		// origin-terminated crash (§3 Lifecycle, §4.1 "any state on
		// origin-terminated") synthesized into 500.
		return h.respondLocal(req, wire.ErrorReply(500))
	}
	if ev.Kind == origin.EventError {
		h.log.WithError(ev.Err).Warn("origin worker failed")
		return h.respondLocal(req, wire.ErrorReply(500))
	}

	reply := ev.Reply
	h.log.WithField("metrics", ev.Metrics.String()).WithField("status", reply.StatusCode).Debug("origin replied")

	if !reply.Chunked {
		return h.writeComplete(req, reply)
	}
	return h.writeChunked(req, w, reply)
}

// writeComplete serializes a non-chunked reply in full.
func (h *Handler) writeComplete(req *wire.Request, reply wire.Reply) (bool, error) {
	if reply.Body != nil {
		if _, ok := reply.Headers.Get("Content-Length"); !ok {
			reply.Headers.Add("Content-Length", strconv.Itoa(len(reply.Body)))
		}
	}
	s := wire.NewSerializer(h.conn, req.Version)
	if err := s.WriteReply(reply); err != nil {
		return false, err
	}
	return keepAlive(req, reply), nil
}

// writeChunked emits the status line and headers once, then relays each
// EventChunk and the terminating EventTrailer as they arrive (§4.1's
// "chunk" state), preserving the worker's delivery order.
func (h *Handler) writeChunked(req *wire.Request, w origin.Worker, reply wire.Reply) (bool, error) {
	s := wire.NewSerializer(h.conn, req.Version)
	if err := s.WriteChunkHead(reply); err != nil {
		return false, err
	}

	for ev := range w.Events() {
		switch ev.Kind {
		case origin.EventChunk:
			if err := s.WriteChunk(ev.Chunk); err != nil {
				return false, err
			}
		case origin.EventTrailer:
			if err := s.WriteTrailer(ev.Trailer); err != nil {
				return false, err
			}
			return keepAlive(req, reply), nil
		case origin.EventError:
			// The status line and headers are already on the wire; there
			// is no way to turn this into a clean 500. Close instead of
			// leaving a truncated chunk stream open.
			return false, ev.Err
		}
	}
	return false, uaerrors.NewOriginError("origin-terminated-mid-chunk", "", nil)
}
