package wire

import (
	"bufio"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/arcrelay/uaproxy/pkg/errors"
)

// ReadMode names the two read modes of the "socket activation control"
// component of §4.2: HTTP-line mode (one request-line or header line per
// read) or raw mode (up to a fixed packet size of body bytes per read).
// The Tokenizer does not take or store a ReadMode; the mode is chosen by
// which method is called (NextRequestLine/NextHeaderOrEnd for line mode,
// NextBody(n) for raw mode), and each such call is itself one "arm, wait,
// yield one token" cycle.
type ReadMode struct {
	raw  bool
	size int
}

// HTTPToken is the line-oriented read mode used for the request-line and headers.
func HTTPToken() ReadMode { return ReadMode{} }

// RawBody is the raw read mode for consuming up to n remaining body bytes.
func RawBody(n int) ReadMode { return ReadMode{raw: true, size: n} }

// TokenKind identifies which event a Tokenizer Next* call produced.
type TokenKind int

const (
	TokenRequestLine TokenKind = iota
	TokenHeader
	TokenEndOfHeaders
	TokenBody
)

// Token is one parsed unit from the UA socket.
type Token struct {
	Kind TokenKind

	// Populated when Kind == TokenRequestLine.
	Method  string
	Target  string
	Version Version

	// Populated when Kind == TokenHeader.
	HeaderName  string
	HeaderValue string

	// Populated when Kind == TokenBody.
	Body []byte
}

// Tokenizer incrementally parses HTTP/1.x request lines, headers, and body
// bytes off a byte stream without buffering the whole message (§4.2).
type Tokenizer struct {
	r              *bufio.Reader
	maxHeaderBytes int
	headerBytes    int
}

// NewTokenizer wraps r. maxHeaderBytes caps the total bytes the request
// line plus headers may occupy before NextHeaderOrEnd reports a validation
// error (§5 Resources, §8 invariant 7); zero disables the cap.
func NewTokenizer(r *bufio.Reader, maxHeaderBytes int) *Tokenizer {
	return &Tokenizer{r: r, maxHeaderBytes: maxHeaderBytes}
}

// Reset prepares the tokenizer to parse a new pipelined request, clearing
// the per-request header byte count.
func (t *Tokenizer) Reset() {
	t.headerBytes = 0
}

// readLine reads one CRLF- or LF-terminated line with the terminator stripped.
func (t *Tokenizer) readLine() (string, error) {
	line, err := t.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	t.headerBytes += len(line)
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], nil
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// NextRequestLine blocks for and parses exactly one request line: "METHOD
// target HTTP/M.m". Valid only in the request state (§4.1).
func (t *Tokenizer) NextRequestLine() (Token, error) {
	line, err := t.readLine()
	if err != nil {
		return Token{}, err
	}
	// Pipelined connections may see a blank line between messages (common
	// client leniency); skip at most one before parsing the real line.
	if line == "" {
		line, err = t.readLine()
		if err != nil {
			return Token{}, err
		}
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return Token{}, errors.NewFramingError("parse-request-line", nil)
	}

	version, ok := parseVersion(parts[2])
	if !ok {
		return Token{}, errors.NewFramingError("parse-request-line", nil)
	}

	return Token{
		Kind:    TokenRequestLine,
		Method:  parts[0],
		Target:  parts[1],
		Version: version,
	}, nil
}

func parseVersion(s string) (Version, bool) {
	if !strings.HasPrefix(s, "HTTP/") {
		return Version{}, false
	}
	rest := s[len("HTTP/"):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return Version{}, false
	}
	major, minor := 0, 0
	for _, c := range rest[:dot] {
		if c < '0' || c > '9' {
			return Version{}, false
		}
		major = major*10 + int(c-'0')
	}
	for _, c := range rest[dot+1:] {
		if c < '0' || c > '9' {
			return Version{}, false
		}
		minor = minor*10 + int(c-'0')
	}
	return Version{Major: major, Minor: minor}, true
}

// NextHeaderOrEnd reads either one header line or the end-of-headers
// sentinel (a bare CRLF). Valid only in the head state.
func (t *Tokenizer) NextHeaderOrEnd() (Token, error) {
	if t.maxHeaderBytes > 0 && t.headerBytes > t.maxHeaderBytes {
		return Token{}, errors.NewValidationError("headers", "header block exceeds maximum size")
	}

	line, err := t.readLine()
	if err != nil {
		return Token{}, err
	}

	if t.maxHeaderBytes > 0 && t.headerBytes > t.maxHeaderBytes {
		return Token{}, errors.NewValidationError("headers", "header block exceeds maximum size")
	}

	if line == "" {
		return Token{Kind: TokenEndOfHeaders}, nil
	}

	// RFC 7230 §3.2.4 line folding is not implemented (§1 Non-goals): a
	// continuation line is treated as malformed rather than merged.
	if line[0] == ' ' || line[0] == '\t' {
		return Token{}, errors.NewFramingError("parse-header", nil)
	}

	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return Token{}, errors.NewFramingError("parse-header", nil)
	}

	name := strings.TrimSpace(line[:colon])
	value := strings.TrimSpace(line[colon+1:])

	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return Token{}, errors.NewFramingError("parse-header", nil)
	}

	return Token{Kind: TokenHeader, HeaderName: name, HeaderValue: value}, nil
}

// NextBody performs one raw-mode read of up to n bytes. It returns fewer
// than n only if the peer closed (or a single TCP segment delivered less),
// per §4.2's raw body mode contract.
func (t *Tokenizer) NextBody(n int) (Token, error) {
	if n <= 0 {
		return Token{Kind: TokenBody, Body: nil}, nil
	}
	buf := make([]byte, n)
	read, err := t.r.Read(buf)
	if read > 0 {
		return Token{Kind: TokenBody, Body: buf[:read]}, nil
	}
	if err != nil {
		return Token{}, err
	}
	return Token{Kind: TokenBody, Body: nil}, nil
}
