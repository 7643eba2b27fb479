package events

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"soradesk/internal/infra"
)

func testLogger() *infra.Logger {
	discard := zerolog.New(io.Discard)
	l := infra.Logger(discard)
	return &l
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	logger := testLogger()
	hub := NewHub(logger)
	go hub.Run()

	handler := NewHandler(hub, nil, logger)
	srv := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("clients never registered: %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast("notice", map[string]string{"level": "info", "message": "hello"})

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read on client %d: %v", i, err)
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Type != "notice" {
			t.Fatalf("envelope type = %q", env.Type)
		}
	}
}

func TestHandlerRejectsUnknownOrigin(t *testing.T) {
	logger := testLogger()
	hub := NewHub(logger)
	go hub.Run()

	handler := NewHandler(hub, []string{"http://localhost:5173"}, logger)
	srv := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := map[string][]string{"Origin": {"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatal("dial with disallowed origin succeeded")
	}

	header = map[string][]string{"Origin": {"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	conn.Close()
}
