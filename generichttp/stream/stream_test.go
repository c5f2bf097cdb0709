package stream_test

import (
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/magnetlab/golab/generichttp/stream"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + url[4:]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect WebSocket: %v", err)
	}
	return conn
}

func TestHandlerStreamsSamples(t *testing.T) {
	var n int64
	sample := func() (interface{}, error) {
		return map[string]int64{"n": atomic.AddInt64(&n, 1)}, nil
	}
	srv := httptest.NewServer(stream.Handler(sample, 5*time.Millisecond))
	defer srv.Close()
	conn := dial(t, srv.URL)
	defer conn.Close()

	var prev int64
	for i := 0; i < 3; i++ {
		var msg map[string]int64
		conn.SetReadDeadline(time.Now().Add(time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("failed to read sample: %v", err)
		}
		if msg["n"] <= prev {
			t.Errorf("samples out of order: %d after %d", msg["n"], prev)
		}
		prev = msg["n"]
	}
}

func TestHandlerReportsErrors(t *testing.T) {
	sample := func() (interface{}, error) {
		return nil, errors.New("supply unreachable")
	}
	srv := httptest.NewServer(stream.Handler(sample, 5*time.Millisecond))
	defer srv.Close()
	conn := dial(t, srv.URL)
	defer conn.Close()

	var msg map[string]string
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg["error"] != "supply unreachable" {
		t.Errorf("expected error message, got %v", msg)
	}
}
