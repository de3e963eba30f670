// Package testorigin implements a minimal real HTTP/1.x origin server for
// tests to forward to. It speaks just enough wire protocol by hand (no
// net/http) to reproduce the literal scenarios spec.md §8 names and the
// status codes §6 attributes to "the test origin module": 404 for a PUT
// under a nonexistent parent, 411 for a POST without Content-Length, 201
// Created with an Etag for a successful PUT, and a two-chunk chunked reply
// with an empty trailer.
package testorigin

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Server is a single-listener, one-goroutine-per-connection test origin.
type Server struct {
	ln net.Listener
}

// Start binds a loopback listener and begins serving. Callers defer Close.
func Start() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the "host:port" string a Dispatcher can dial.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		requestLine, err := readLine(r)
		if err != nil {
			return
		}
		parts := strings.SplitN(requestLine, " ", 3)
		if len(parts) != 3 {
			return
		}
		method, path := parts[0], parts[1]

		headers := map[string]string{}
		for {
			line, err := readLine(r)
			if err != nil {
				return
			}
			if line == "" {
				break
			}
			colon := strings.IndexByte(line, ':')
			if colon < 0 {
				continue
			}
			headers[strings.ToLower(strings.TrimSpace(line[:colon]))] = strings.TrimSpace(line[colon+1:])
		}

		var body []byte
		if cl, ok := headers["content-length"]; ok {
			n, err := strconv.Atoi(strings.TrimSpace(cl))
			if err != nil || n < 0 {
				writeStatusOnly(conn, 400, "Bad Request")
				return
			}
			body = make([]byte, n)
			if n > 0 {
				if _, err := readFull(r, body); err != nil {
					return
				}
			}
		}

		if !s.respond(conn, method, path, headers, body) {
			return
		}
	}
}

// respond dispatches the four reproduced behaviors by path convention:
// "/chunked" streams two chunks and an empty trailer; a PUT under
// "/missing/..." answers 404; a POST with no Content-Length answers 411;
// any other PUT answers 201 Created with an Etag.
func (s *Server) respond(conn net.Conn, method, path string, headers map[string]string, body []byte) bool {
	switch {
	case path == "/chunked":
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n")
		fmt.Fprintf(conn, "2\r\nab\r\n")
		fmt.Fprintf(conn, "2\r\ncd\r\n")
		fmt.Fprintf(conn, "0\r\n\r\n")
		return true

	case method == "PUT" && strings.HasPrefix(path, "/missing/"):
		writeStatusOnly(conn, 404, "Not Found")
		return true

	case method == "POST":
		if _, ok := headers["content-length"]; !ok {
			writeStatusOnly(conn, 411, "Length Required")
			return true
		}
		writeStatusOnly(conn, 200, "OK")
		return true

	case method == "PUT":
		fmt.Fprintf(conn, "HTTP/1.1 201 Created\r\nEtag: \"%x\"\r\nContent-Length: 0\r\n\r\n", len(body))
		return true

	default:
		writeStatusOnly(conn, 200, "OK")
		return true
	}
}

func writeStatusOnly(conn net.Conn, code int, reason string) {
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", code, reason)
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

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
