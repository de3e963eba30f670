// Package wire defines the HTTP/1.x data model (§3) and the incremental
// reader/writer pair — the tokenizer and the reply serializer — that move
// bytes between that model and a raw socket.
package wire

import (
	"fmt"
	"strings"
)

// Version is an HTTP/1.x protocol version.
type Version struct {
	Major, Minor int
}

// HTTP10 and HTTP11 are the two versions this engine names. The tokenizer
// parses any "HTTP/M.m" request line; only HTTP11 is persistent by default.
var (
	HTTP10 = Version{1, 0}
	HTTP11 = Version{1, 1}
)

// String renders the version the way it appears on the wire.
func (v Version) String() string {
	return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor)
}

// KeepAliveByDefault reports whether this version treats a connection as
// persistent absent an explicit Connection header (§6: "HTTP/1.1 defaults
// to persistent; HTTP/1.0 closes after each response").
func (v Version) KeepAliveByDefault() bool {
	return v == HTTP11
}

// Header is one (field-name, raw-value) pair. Field names are case
// preserved on the wire; callers compare by normalized token via
// HeaderList.Get.
type Header struct {
	Name  string
	Value string
}

// HeaderList is an ordered sequence of headers, insertion order equal to
// arrival order. Duplicates are permitted; this is a plain slice rather
// than the teacher's reversed-linked-list artifact — see DESIGN.md's note
// on spec.md §9's own recommendation to drop the double reversal.
type HeaderList []Header

// Get returns the first value for name (case-insensitive), and whether it
// was present.
func (h HeaderList) Get(name string) (string, bool) {
	for _, hd := range h {
		if strings.EqualFold(hd.Name, name) {
			return hd.Value, true
		}
	}
	return "", false
}

// Add appends a header, preserving arrival order.
func (h *HeaderList) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// SetInPlace replaces the value of the first header matching name,
// preserving its wire position — used for the Max-Forwards decrement in
// §4.1.1, which must not reorder headers relative to the original request.
// Returns false if name was not present.
func (h HeaderList) SetInPlace(name, value string) bool {
	for i := range h {
		if strings.EqualFold(h[i].Name, name) {
			h[i].Value = value
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (h HeaderList) Clone() HeaderList {
	out := make(HeaderList, len(h))
	copy(out, h)
	return out
}

// TargetForm identifies which request-line target grammar (§3, §4.1) produced a Request.
type TargetForm int

const (
	// FormAbsPath is the ordinary origin-form target, e.g. "/index.html".
	FormAbsPath TargetForm = iota
	// FormAbsoluteURI is a full URI target, e.g. "http://h:8080/x".
	FormAbsoluteURI
	// FormAsterisk is the "*" target, valid only for OPTIONS.
	FormAsterisk
	// FormAuthority is the "host:port" form CONNECT uses.
	FormAuthority
)

// Request is the parsed request-line plus headers, per §3's data model.
// Port defaults to 80 when absorbed from a target or Host header with no
// explicit port.
type Request struct {
	Method  string
	Form    TargetForm
	Scheme  string
	Host    string
	Port    int
	Path    string
	Version Version
	Headers HeaderList
}

// HostSet reports whether Host has been resolved, the invariant §3
// requires before end-of-headers (absent a latched 400).
func (r *Request) HostSet() bool {
	return r.Host != ""
}

// Reply is a complete or to-be-streamed HTTP response (§3).
// Chunked (or a Transfer-Encoding: chunked header, see IsChunked) marks a
// reply whose body is streamed as chunks; otherwise Body holds the complete
// body, and a nil Body means the reply has no body at all.
type Reply struct {
	StatusCode   int
	StatusString string
	Headers      HeaderList
	Body         []byte
	Chunked      bool
}

// IsChunked reports whether this reply declares chunked transfer via its
// headers, independent of the Chunked convenience field, so a Reply built
// directly from origin headers still routes correctly.
func (r *Reply) IsChunked() bool {
	if r.Chunked {
		return true
	}
	if te, ok := r.Headers.Get("Transfer-Encoding"); ok {
		return strings.Contains(strings.ToLower(te), "chunked")
	}
	return false
}
