package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestSerializerWriteReply(t *testing.T) {
	var buf bytes.Buffer
	s := NewSerializer(&buf, HTTP11)

	reply := Reply{
		StatusCode: 200,
		Headers:    HeaderList{{Name: "Content-Length", Value: "5"}},
		Body:       []byte("hello"),
	}
	if err := s.WriteReply(reply); err != nil {
		t.Fatalf("WriteReply: %v", err)
	}

	want := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestSerializerDefaultReason(t *testing.T) {
	var buf bytes.Buffer
	s := NewSerializer(&buf, HTTP11)
	if err := s.WriteStatusLine(404, ""); err != nil {
		t.Fatalf("WriteStatusLine: %v", err)
	}
	if buf.String() != "HTTP/1.1 404 Not Found\r\n" {
		t.Fatalf("unexpected status line: %q", buf.String())
	}
}

func TestSerializerChunkedReply(t *testing.T) {
	var buf bytes.Buffer
	s := NewSerializer(&buf, HTTP11)

	reply := Reply{
		StatusCode: 200,
		Headers:    HeaderList{{Name: "Transfer-Encoding", Value: "chunked"}},
		Chunked:    true,
	}
	if err := s.WriteChunkHead(reply); err != nil {
		t.Fatalf("WriteChunkHead: %v", err)
	}
	if err := s.WriteChunk([]byte("ab")); err != nil {
		t.Fatalf("WriteChunk 1: %v", err)
	}
	if err := s.WriteChunk([]byte("cd")); err != nil {
		t.Fatalf("WriteChunk 2: %v", err)
	}
	if err := s.WriteTrailer(nil); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	want := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nab\r\n2\r\ncd\r\n0\r\n\r\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestSerializerChunkHexLowercase(t *testing.T) {
	var buf bytes.Buffer
	s := NewSerializer(&buf, HTTP11)
	payload := make([]byte, 255)
	if err := s.WriteChunk(payload); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	line := strings.SplitN(buf.String(), "\r\n", 2)[0]
	if line != "ff" {
		t.Fatalf("expected lowercase hex chunk size 'ff', got %q", line)
	}
}

func TestErrorReply(t *testing.T) {
	r := ErrorReply(400)
	if r.StatusCode != 400 || r.StatusString != "Bad Request" || len(r.Headers) != 0 || r.Body != nil {
		t.Fatalf("unexpected error reply: %+v", r)
	}
}
