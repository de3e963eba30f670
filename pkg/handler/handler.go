// Package handler implements the UA-facing connection state machine (§4.1):
// one Handler per accepted socket, driving request → head → body → chunk
// on tokenizer events and forwarding-bridge reply events.
package handler

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arcrelay/uaproxy/pkg/buffer"
	"github.com/arcrelay/uaproxy/pkg/constants"
	uaerrors "github.com/arcrelay/uaproxy/pkg/errors"
	"github.com/arcrelay/uaproxy/pkg/origin"
	"github.com/arcrelay/uaproxy/pkg/target"
	"github.com/arcrelay/uaproxy/pkg/wire"
)

// Options configures a Handler at construction (§6: "Handler construction
// input: (connected_socket, server_banner_string)", extended with the
// dispatcher dependency §9 insists be passed in rather than reached for as
// ambient state, plus the header-size cap and a logger).
type Options struct {
	Banner         string
	MaxHeaderBytes int
	Dispatcher     origin.Dispatcher
	Logger         *logrus.Entry
}

// Handler owns one accepted UA socket for its lifetime (§3 Lifecycle).
type Handler struct {
	conn           net.Conn
	banner         string
	maxHeaderBytes int
	dispatcher     origin.Dispatcher
	log            *logrus.Entry
}

// New constructs a Handler for conn. Zero-valued Options fields fall back
// to constants.DefaultBanner and constants.MaxHeaderBytes.
func New(conn net.Conn, opts Options) *Handler {
	banner := opts.Banner
	if banner == "" {
		banner = constants.DefaultBanner
	}
	maxHeaderBytes := opts.MaxHeaderBytes
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = constants.MaxHeaderBytes
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		conn:           conn,
		banner:         banner,
		maxHeaderBytes: maxHeaderBytes,
		dispatcher:     opts.Dispatcher,
		log:            log.WithField("remote", conn.RemoteAddr()),
	}
}

// Serve runs the request/head/body/chunk loop until the socket closes or a
// non-keepalive response completes (§3 Lifecycle), closing conn on every
// exit path (§5 Resources: "the socket is closed on any terminal exit
// path"). It never returns a non-nil error for an ordinary connection
// close — that is the expected terminal case, not a failure the caller
// need act on.
func (h *Handler) Serve() error {
	defer h.conn.Close()

	reader := bufio.NewReader(h.conn)
	tok := wire.NewTokenizer(reader, h.maxHeaderBytes)

	for {
		tok.Reset()
		keepAlive, err := h.serveOne(tok)
		if err != nil {
			if err != io.EOF {
				h.log.WithError(err).Debug("connection terminated")
			}
			return nil
		}
		if !keepAlive {
			return nil
		}
	}
}

// serveOne parses and answers exactly one request, including any body or
// chunked reply streaming it requires, and reports whether the connection
// should continue to a further pipelined request.
func (h *Handler) serveOne(tok *wire.Tokenizer) (bool, error) {
	reqTok, err := tok.NextRequestLine()
	if err != nil {
		return false, err
	}

	req := &wire.Request{Method: reqTok.Method, Version: reqTok.Version, Port: constants.DefaultPort}

	var statusLatched int
	resolved, rerr := target.Resolve(reqTok.Target)
	if rerr != nil {
		statusLatched = 400
	} else {
		applyResolved(req, resolved)
	}

	expectedLength := -1

	for {
		htok, herr := tok.NextHeaderOrEnd()
		if herr != nil {
			if uaerrors.GetErrorType(herr) == uaerrors.ErrorTypeValidation {
				// Header block exceeded its cap (§5, §8 invariant 7): latch
				// 400 and stop absorbing — framing is still trustworthy up
				// to this point, so one response can still be written.
				statusLatched = 400
				break
			}
			return false, herr
		}
		if htok.Kind == wire.TokenEndOfHeaders {
			break
		}

		name, value := htok.HeaderName, htok.HeaderValue
		switch {
		case strings.EqualFold(name, "Content-Length") && value != "0":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n >= 0 {
				expectedLength = n
			}
			req.Headers.Add(name, value)

		case strings.EqualFold(name, "Host") && !req.HostSet():
			host, port, perr := target.ParseHostHeader(value)
			if perr != nil {
				statusLatched = 400
			} else {
				req.Host, req.Port = host, port
			}
			req.Headers.Add(name, value)

		default:
			req.Headers.Add(name, value)
		}
	}

	switch {
	case statusLatched != 0:
		return h.respondLocal(req, wire.ErrorReply(statusLatched))

	case req.Method == "OPTIONS" && expectedLength < 0:
		return h.doOptions(req)

	case req.Method == "CONNECT":
		return h.respondLocal(req, wire.ErrorReply(501))

	case expectedLength < 0:
		return h.forward(req, nil)

	default:
		body, berr := h.readBody(tok, expectedLength)
		if berr != nil {
			return false, berr
		}
		return h.forward(req, body)
	}
}

// applyResolved fills req from the request-line target resolution, per the
// per-form transitions §4.1 lists.
func applyResolved(req *wire.Request, r target.Resolved) {
	req.Form = r.Form
	switch r.Form {
	case wire.FormAbsoluteURI:
		req.Scheme, req.Host, req.Port, req.Path = r.Scheme, r.Host, r.Port, r.Path
	case wire.FormAbsPath:
		req.Path = r.Path
	case wire.FormAsterisk:
		req.Path = "*"
	case wire.FormAuthority:
		req.Host, req.Port = r.Host, r.Port
	}
}

// readBody drives the body state (§4.1): repeated raw-mode reads until
// exactly expectedLength bytes have been accumulated. A short read that
// isn't the final one decrements the remaining count and continues; end of
// stream (or a zero-byte read) before the count reaches zero means the peer
// closed mid-body, a framing error (§7) this engine cannot answer. Fragments
// accumulate into a buffer.Buffer so a body larger than the in-memory
// threshold spills to disk instead of growing this connection's heap
// footprint without bound (§5 Resources).
func (h *Handler) readBody(tok *wire.Tokenizer, expectedLength int) ([]byte, error) {
	if expectedLength == 0 {
		return nil, nil
	}

	acc := buffer.New(constants.DefaultBodyMemLimit)
	defer acc.Close()

	remaining := expectedLength
	for remaining > 0 {
		btok, err := tok.NextBody(remaining)
		if err == io.EOF {
			return nil, uaerrors.NewFramingError("read-body", io.ErrUnexpectedEOF)
		}
		if err != nil {
			return nil, err
		}
		n := len(btok.Body)
		if n == 0 {
			return nil, uaerrors.NewFramingError("read-body", io.ErrUnexpectedEOF)
		}
		if _, err := acc.Write(btok.Body); err != nil {
			return nil, err
		}
		remaining -= n
	}

	if !acc.IsSpilled() {
		return acc.Bytes(), nil
	}
	r, err := acc.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// respondLocal serializes a status-only reply this handler synthesized
// itself (not forwarded from an origin) and decides keep-alive from the
// request alone, since no origin reply headers exist to consult.
func (h *Handler) respondLocal(req *wire.Request, reply wire.Reply) (bool, error) {
	if len(reply.Body) > 0 {
		reply.Headers.Add("Content-Length", strconv.Itoa(len(reply.Body)))
	}
	s := wire.NewSerializer(h.conn, req.Version)
	if err := s.WriteReply(reply); err != nil {
		return false, err
	}
	return keepAlive(req, wire.Reply{}), nil
}

// keepAlive applies §6's version default, overridden by an explicit
// Connection: close on either side of the exchange.
func keepAlive(req *wire.Request, reply wire.Reply) bool {
	if !req.Version.KeepAliveByDefault() {
		return false
	}
	if v, ok := req.Headers.Get("Connection"); ok && strings.EqualFold(strings.TrimSpace(v), "close") {
		return false
	}
	if v, ok := reply.Headers.Get("Connection"); ok && strings.EqualFold(strings.TrimSpace(v), "close") {
		return false
	}
	return true
}
