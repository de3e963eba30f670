package handler

import (
	"strconv"
	"strings"

	"github.com/arcrelay/uaproxy/pkg/constants"
	"github.com/arcrelay/uaproxy/pkg/wire"
)

// doOptions implements §4.1.1's OPTIONS fast path: an asterisk-form target
// always answers locally; otherwise Max-Forwards governs whether this
// handler answers locally or forwards upstream.
func (h *Handler) doOptions(req *wire.Request) (bool, error) {
	if req.Path == "*" {
		return h.respondLocal(req, h.optionsReply())
	}

	mf, ok := req.Headers.Get("Max-Forwards")
	if !ok {
		return h.forward(req, nil)
	}

	n, err := strconv.Atoi(strings.TrimSpace(mf))
	switch {
	case err == nil && n == 0:
		return h.respondLocal(req, h.optionsReply())
	case err == nil && n > 0:
		req.Headers.SetInPlace("Max-Forwards", strconv.Itoa(n-1))
		return h.forward(req, nil)
	default:
		// Negative or non-integer: treated as absent (§4.1.1).
		return h.forward(req, nil)
	}
}

// optionsReply builds the 204 this engine answers a server-wide or
// Max-Forwards: 0 OPTIONS with.
func (h *Handler) optionsReply() wire.Reply {
	return wire.Reply{
		StatusCode:   204,
		StatusString: wire.ReasonPhrase(204),
		Headers: wire.HeaderList{
			{Name: "Server", Value: h.banner},
			{Name: "Allow", Value: strings.Join(constants.AllowedMethods, ", ")},
		},
	}
}
