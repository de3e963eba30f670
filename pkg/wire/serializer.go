package wire

import (
	"fmt"
	"io"
	"strconv"
)

// statusText mirrors the handful of reason phrases this engine's locally
// synthesized responses need; it intentionally does not attempt to be a
// complete IANA status registry.
var statusText = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	400: "Bad Request",
	404: "Not Found",
	411: "Length Required",
	500: "Internal Server Error",
	501: "Not Implemented",
}

// ReasonPhrase resolves the default reason phrase for a status code,
// falling back to "Unknown Status" for codes this engine never synthesizes
// itself but may relay verbatim from an origin-supplied StatusString.
func ReasonPhrase(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "Unknown Status"
}

// Serializer writes replies to a UA socket (§4.3).
type Serializer struct {
	w       io.Writer
	version Version
}

// NewSerializer returns a Serializer writing to w using version for the
// status line.
func NewSerializer(w io.Writer, version Version) *Serializer {
	return &Serializer{w: w, version: version}
}

// WriteStatusLine writes "HTTP/M.m code reason\r\n".
func (s *Serializer) WriteStatusLine(code int, reason string) error {
	if reason == "" {
		reason = ReasonPhrase(code)
	}
	_, err := fmt.Fprintf(s.w, "%s %d %s\r\n", s.version, code, reason)
	return err
}

// WriteHeaders writes each header as "Name: Value\r\n" in the given order.
func (s *Serializer) WriteHeaders(headers HeaderList) error {
	for _, h := range headers {
		if _, err := fmt.Fprintf(s.w, "%s: %s\r\n", h.Name, h.Value); err != nil {
			return err
		}
	}
	return nil
}

// WriteHeadersEnd writes the blank line terminating the header block.
func (s *Serializer) WriteHeadersEnd() error {
	_, err := io.WriteString(s.w, "\r\n")
	return err
}

// WriteReply writes a complete, non-chunked reply: status line, headers,
// the header-block terminator, then the body verbatim.
func (s *Serializer) WriteReply(reply Reply) error {
	if err := s.WriteStatusLine(reply.StatusCode, reply.StatusString); err != nil {
		return err
	}
	if err := s.WriteHeaders(reply.Headers); err != nil {
		return err
	}
	if err := s.WriteHeadersEnd(); err != nil {
		return err
	}
	if len(reply.Body) > 0 {
		if _, err := s.w.Write(reply.Body); err != nil {
			return err
		}
	}
	return nil
}

// WriteChunkHead writes the status line, headers, and header-block
// terminator for a chunked reply. The handler calls it exactly once, as
// soon as the chunked reply event arrives and before any chunk is relayed,
// so the head is already on the wire if the origin fails before its first
// chunk.
func (s *Serializer) WriteChunkHead(reply Reply) error {
	if err := s.WriteStatusLine(reply.StatusCode, reply.StatusString); err != nil {
		return err
	}
	if err := s.WriteHeaders(reply.Headers); err != nil {
		return err
	}
	return s.WriteHeadersEnd()
}

// WriteChunk writes one chunk frame: lowercase hex length, CRLF, payload,
// CRLF. No chunk extensions are emitted.
func (s *Serializer) WriteChunk(payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "%s\r\n", strconv.FormatInt(int64(len(payload)), 16)); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := s.w.Write(payload); err != nil {
			return err
		}
	}
	_, err := io.WriteString(s.w, "\r\n")
	return err
}

// WriteTrailer writes the terminating zero-length chunk, any trailer
// headers, and the final CRLF.
func (s *Serializer) WriteTrailer(trailer HeaderList) error {
	if _, err := io.WriteString(s.w, "0\r\n"); err != nil {
		return err
	}
	if err := s.WriteHeaders(trailer); err != nil {
		return err
	}
	_, err := io.WriteString(s.w, "\r\n")
	return err
}

// ErrorReply constructs a status-only response with no headers and an
// empty body, the shape §4.3 specifies for synthesized error responses.
func ErrorReply(code int) Reply {
	return Reply{StatusCode: code, StatusString: ReasonPhrase(code)}
}
