package origin

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arcrelay/uaproxy/pkg/constants"
	"github.com/arcrelay/uaproxy/pkg/errors"
	"github.com/arcrelay/uaproxy/pkg/timing"
	"github.com/arcrelay/uaproxy/pkg/wire"
)

// worker forwards one request to one upstream address and streams its
// reply back over Events, per §4.4/§6. It is grounded on the teacher's
// client.Client.Do/readResponse pipeline, adapted from a buffered-whole-
// response return value into an event stream the handler selects on.
type worker struct {
	events chan Event
	addr   string
	p      *pool
	conn   net.Conn
	finish sync.Once
}

func newWorker(addr string, p *pool) *worker {
	return &worker{events: make(chan Event, 4), addr: addr, p: p}
}

func (w *worker) Events() <-chan Event { return w.events }

// Cancel breaks the lifetime link. If run has already disposed of the
// connection (released it to the pool or discarded it after an error),
// this is a no-op — finish's sync.Once ensures the connection is released
// or closed exactly once regardless of which side gets there first
// (§5 Cancellation: "the linked origin worker ... is responsible for its
// own cancellation").
func (w *worker) Cancel() {
	w.finish.Do(func() {
		if w.conn != nil {
			w.p.discard(w.conn)
		}
	})
}

// releaseConn returns the connection to the pool for reuse, unless Cancel
// has already raced it to disposing of the connection.
func (w *worker) releaseConn() {
	w.finish.Do(func() {
		w.p.release(w.addr, w.conn)
	})
}

// discardConn closes the connection outright, unless Cancel has already
// raced it to disposing of the connection.
func (w *worker) discardConn() {
	w.finish.Do(func() {
		w.p.discard(w.conn)
	})
}

// run performs the full submit-forward-stream-reply cycle. It is always
// invoked on its own goroutine by Origin.Submit.
func (w *worker) run(req wire.Request, body []byte) {
	defer close(w.events)

	timer := timing.NewTimer()
	timer.StartDial()
	conn := w.p.get(w.addr)
	if conn == nil {
		c, err := w.p.dial(w.addr)
		if err != nil {
			timer.EndDial()
			w.events <- Event{Kind: EventError, Err: errors.NewOriginError("dial", w.addr, err)}
			return
		}
		conn = c
	}
	timer.EndDial()
	w.conn = conn

	if err := conn.SetDeadline(time.Now().Add(constants.DefaultReadTimeout)); err != nil {
		w.discardConn()
		w.events <- Event{Kind: EventError, Err: errors.NewOriginError("set-deadline", w.addr, err)}
		return
	}

	if _, err := conn.Write(encodeRequest(req, body)); err != nil {
		w.discardConn()
		w.events <- Event{Kind: EventError, Err: errors.NewOriginError("write-request", w.addr, err)}
		return
	}

	reader := bufio.NewReader(conn)
	timer.StartTTFB()
	statusLine, err := readLine(reader)
	if err != nil {
		w.discardConn()
		w.events <- Event{Kind: EventError, Err: errors.NewOriginError("read-status-line", w.addr, err)}
		return
	}

	code, reason, ok := parseStatusLine(statusLine)
	if !ok {
		w.discardConn()
		w.events <- Event{Kind: EventError, Err: errors.NewOriginError("parse-status-line", w.addr, nil)}
		return
	}

	headers, err := readHeaders(reader)
	if err != nil {
		w.discardConn()
		w.events <- Event{Kind: EventError, Err: errors.NewOriginError("read-headers", w.addr, err)}
		return
	}
	timer.EndTTFB()

	reply := wire.Reply{StatusCode: code, StatusString: reason, Headers: headers}
	reply.Chunked = reply.IsChunked()

	if !reply.Chunked {
		body, err := readNonChunkedBody(reader, headers, req.Method, code)
		if err != nil {
			w.discardConn()
			w.events <- Event{Kind: EventError, Err: errors.NewOriginError("read-body", w.addr, err)}
			return
		}
		reply.Body = body
		w.events <- Event{Kind: EventReply, Reply: reply, Metrics: timer.Metrics()}
		w.releaseConn()
		return
	}

	w.events <- Event{Kind: EventReply, Reply: reply, Metrics: timer.Metrics()}
	if err := w.streamChunks(reader); err != nil {
		w.discardConn()
		w.events <- Event{Kind: EventError, Err: errors.NewOriginError("read-chunk", w.addr, err)}
		return
	}
	w.releaseConn()
}

// streamChunks reads a chunked body frame by frame, emitting one EventChunk
// per chunk and a terminating EventTrailer, per §6's chunked delivery order.
func (w *worker) streamChunks(r *bufio.Reader) error {
	for {
		sizeLine, err := readLine(r)
		if err != nil {
			return err
		}
		sizeField := strings.TrimSpace(strings.SplitN(sizeLine, ";", 2)[0])
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil {
			return err
		}
		if size == 0 {
			break
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(r, crlf); err != nil {
			return err
		}
		w.events <- Event{Kind: EventChunk, Chunk: payload}
	}

	var trailer wire.HeaderList
	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		trailer.Add(strings.TrimSpace(line[:colon]), strings.TrimSpace(line[colon+1:]))
	}
	w.events <- Event{Kind: EventTrailer, Trailer: trailer}
	return nil
}

// readNonChunkedBody reads a Content-Length-framed, connection-close-
// framed, or absent body, adapted from the teacher's readFixedBody /
// readUntilClose pair. Responses that RFC 9110 §6.4.1 forbids a body on
// (1xx, 204, 304, and HEAD) are treated as bodyless without consulting
// Content-Length, matching the teacher's peek-based leniency only to the
// extent of skipping the read rather than tolerating an RFC-violating
// server that sends one anyway — this engine is a proxy core, not a raw
// capture tool.
func readNonChunkedBody(r *bufio.Reader, headers wire.HeaderList, method string, statusCode int) ([]byte, error) {
	if method == "HEAD" || (statusCode >= 100 && statusCode < 200) || statusCode == 204 || statusCode == 304 {
		return nil, nil
	}

	if cl, ok := headers.Get("Content-Length"); ok {
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || length < 0 || length > constants.MaxContentLength {
			return nil, fmt.Errorf("invalid content-length %q", cl)
		}
		body, err := io.ReadAll(io.LimitReader(r, length))
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		return body, nil
	}

	body, err := io.ReadAll(r)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return body, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], nil
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func parseStatusLine(line string) (code int, reason string, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, "", false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", false
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return n, reason, true
}

func readHeaders(r *bufio.Reader) (wire.HeaderList, error) {
	var headers wire.HeaderList
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return headers, nil
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		headers.Add(strings.TrimSpace(line[:colon]), strings.TrimSpace(line[colon+1:]))
	}
}

// encodeRequest serializes req and body into the wire bytes sent to the
// upstream, reusing wire.Serializer's header-line conventions in reverse
// (request side rather than reply side).
func encodeRequest(req wire.Request, body []byte) []byte {
	var b strings.Builder
	target := req.Path
	if target == "" {
		target = "/"
	}
	fmt.Fprintf(&b, "%s %s %s\r\n", req.Method, target, req.Version)
	for _, h := range req.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	out := []byte(b.String())
	if len(body) > 0 {
		out = append(out, body...)
	}
	return out
}
