package handler_test

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/arcrelay/uaproxy/pkg/handler"
	"github.com/arcrelay/uaproxy/pkg/origin"
	"github.com/arcrelay/uaproxy/pkg/testorigin"
)

func newTestHandler(t *testing.T, originAddr string) (client net.Conn, done chan error) {
	t.Helper()
	client, server := net.Pipe()

	var dispatcher origin.Dispatcher
	if originAddr != "" {
		d := origin.NewStaticDispatcher(originAddr, 4, time.Second, time.Second)
		t.Cleanup(d.Close)
		dispatcher = d
	}

	h := handler.New(server, handler.Options{Banner: "uaproxy-test", Dispatcher: dispatcher})
	done = make(chan error, 1)
	go func() { done <- h.Serve() }()
	return client, done
}

func TestOptionsAsteriskForm(t *testing.T) {
	client, _ := newTestHandler(t, "")
	defer client.Close()

	io.WriteString(client, "OPTIONS * HTTP/1.1\r\nHost: h\r\n\r\n")

	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 204") {
		t.Fatalf("unexpected status line: %q", status)
	}

	headers := readHeaders(t, r)
	if headers["server"] != "uaproxy-test" {
		t.Fatalf("missing/incorrect Server header: %v", headers)
	}
	if headers["allow"] != "OPTIONS, GET, HEAD, POST, PUT, DELETE, TRACE" {
		t.Fatalf("unexpected Allow header: %v", headers)
	}
}

func TestConnectRejected(t *testing.T) {
	client, _ := newTestHandler(t, "")
	defer client.Close()

	io.WriteString(client, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")

	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 501") {
		t.Fatalf("unexpected status line: %q", status)
	}
}

func TestBadHostLatches400(t *testing.T) {
	client, _ := newTestHandler(t, "")
	defer client.Close()

	io.WriteString(client, "GET / HTTP/1.1\r\nHost: h:notaport\r\n\r\n")

	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 400") {
		t.Fatalf("unexpected status line: %q", status)
	}
}

func TestForwardedGetKeepAlive(t *testing.T) {
	srv, err := testorigin.Start()
	if err != nil {
		t.Fatalf("testorigin.Start: %v", err)
	}
	defer srv.Close()

	client, _ := newTestHandler(t, srv.Addr())
	defer client.Close()

	io.WriteString(client, "GET / HTTP/1.1\r\nHost: h:8080\r\n\r\n")
	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected status line: %q", status)
	}
	readHeaders(t, r)

	// Connection should remain open for a second pipelined request.
	io.WriteString(client, "GET / HTTP/1.1\r\nHost: h:8080\r\n\r\n")
	status, err = r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading second status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected second status line: %q", status)
	}
}

func TestForwardedOptionsWithMaxForwards(t *testing.T) {
	srv, err := testorigin.Start()
	if err != nil {
		t.Fatalf("testorigin.Start: %v", err)
	}
	defer srv.Close()

	client, _ := newTestHandler(t, srv.Addr())
	defer client.Close()

	io.WriteString(client, "OPTIONS /x HTTP/1.1\r\nHost: h\r\nMax-Forwards: 3\r\n\r\n")
	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected status line: %q", status)
	}
}

func TestForwardedPutWithBody(t *testing.T) {
	srv, err := testorigin.Start()
	if err != nil {
		t.Fatalf("testorigin.Start: %v", err)
	}
	defer srv.Close()

	client, _ := newTestHandler(t, srv.Addr())
	defer client.Close()

	io.WriteString(client, "PUT /r HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello")
	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 201") {
		t.Fatalf("unexpected status line: %q", status)
	}
	headers := readHeaders(t, r)
	if _, ok := headers["etag"]; !ok {
		t.Fatalf("expected an Etag header, got %v", headers)
	}
}

func TestForwardedChunkedReply(t *testing.T) {
	srv, err := testorigin.Start()
	if err != nil {
		t.Fatalf("testorigin.Start: %v", err)
	}
	defer srv.Close()

	client, _ := newTestHandler(t, srv.Addr())
	defer client.Close()

	io.WriteString(client, "GET /chunked HTTP/1.1\r\nHost: h\r\n\r\n")

	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected status line: %q", status)
	}
	headers := readHeaders(t, r)
	if !strings.Contains(strings.ToLower(headers["transfer-encoding"]), "chunked") {
		t.Fatalf("expected a chunked reply, got headers %v", headers)
	}

	buf := make([]byte, 256)
	n, err := io.ReadFull(r, buf[:len("2\r\nab\r\n2\r\ncd\r\n0\r\n\r\n")])
	if err != nil {
		t.Fatalf("reading chunk stream: %v", err)
	}
	got := string(buf[:n])
	want := "2\r\nab\r\n2\r\ncd\r\n0\r\n\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func readHeaders(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	headers := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(line[:colon]))] = strings.TrimSpace(line[colon+1:])
	}
}
