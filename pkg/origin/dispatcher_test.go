package origin_test

import (
	"testing"
	"time"

	"github.com/arcrelay/uaproxy/pkg/origin"
	"github.com/arcrelay/uaproxy/pkg/testorigin"
	"github.com/arcrelay/uaproxy/pkg/wire"
)

func TestStaticDispatcherNonChunkedReply(t *testing.T) {
	srv, err := testorigin.Start()
	if err != nil {
		t.Fatalf("testorigin.Start: %v", err)
	}
	defer srv.Close()

	d := origin.NewStaticDispatcher(srv.Addr(), 4, time.Second, time.Second)
	defer d.Close()

	o, err := d.GetClosestOrigin()
	if err != nil {
		t.Fatalf("GetClosestOrigin: %v", err)
	}

	req := wire.Request{
		Method:  "PUT",
		Path:    "/r",
		Version: wire.HTTP11,
		Headers: wire.HeaderList{{Name: "Content-Length", Value: "5"}},
	}
	w, err := o.Submit(req, []byte("hello"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ev, ok := <-w.Events()
	if !ok {
		t.Fatal("worker closed its channel without an event")
	}
	if ev.Kind != origin.EventReply {
		t.Fatalf("expected EventReply, got %v (err=%v)", ev.Kind, ev.Err)
	}
	if ev.Reply.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", ev.Reply.StatusCode)
	}
	if _, ok := ev.Reply.Headers.Get("Etag"); !ok {
		t.Fatal("expected an Etag header")
	}
}

func TestStaticDispatcherChunkedReply(t *testing.T) {
	srv, err := testorigin.Start()
	if err != nil {
		t.Fatalf("testorigin.Start: %v", err)
	}
	defer srv.Close()

	d := origin.NewStaticDispatcher(srv.Addr(), 4, time.Second, time.Second)
	defer d.Close()

	o, err := d.GetClosestOrigin()
	if err != nil {
		t.Fatalf("GetClosestOrigin: %v", err)
	}

	req := wire.Request{Method: "GET", Path: "/chunked", Version: wire.HTTP11}
	w, err := o.Submit(req, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ev := <-w.Events()
	if ev.Kind != origin.EventReply || !ev.Reply.Chunked {
		t.Fatalf("expected a chunked EventReply, got %+v", ev)
	}

	var chunks [][]byte
	var sawTrailer bool
	for ev := range w.Events() {
		switch ev.Kind {
		case origin.EventChunk:
			chunks = append(chunks, ev.Chunk)
		case origin.EventTrailer:
			sawTrailer = true
		case origin.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if !sawTrailer {
		t.Fatal("expected a trailer event")
	}
	if len(chunks) != 2 || string(chunks[0]) != "ab" || string(chunks[1]) != "cd" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestStaticDispatcher404(t *testing.T) {
	srv, err := testorigin.Start()
	if err != nil {
		t.Fatalf("testorigin.Start: %v", err)
	}
	defer srv.Close()

	d := origin.NewStaticDispatcher(srv.Addr(), 4, time.Second, time.Second)
	defer d.Close()
	o, _ := d.GetClosestOrigin()

	req := wire.Request{Method: "PUT", Path: "/missing/x", Version: wire.HTTP11}
	w, err := o.Submit(req, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := <-w.Events()
	if ev.Kind != origin.EventReply || ev.Reply.StatusCode != 404 {
		t.Fatalf("expected 404, got %+v", ev)
	}
}

func TestStaticDispatcher411(t *testing.T) {
	srv, err := testorigin.Start()
	if err != nil {
		t.Fatalf("testorigin.Start: %v", err)
	}
	defer srv.Close()

	d := origin.NewStaticDispatcher(srv.Addr(), 4, time.Second, time.Second)
	defer d.Close()
	o, _ := d.GetClosestOrigin()

	req := wire.Request{Method: "POST", Path: "/r", Version: wire.HTTP11}
	w, err := o.Submit(req, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := <-w.Events()
	if ev.Kind != origin.EventReply || ev.Reply.StatusCode != 411 {
		t.Fatalf("expected 411, got %+v", ev)
	}
}
