package apihttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bitfinder/internal/domain"
)

// --- helpers ---

// startTestHub runs a hub for fake clients, which have no connection.
func startTestHub(t *testing.T) *wsHub {
	t.Helper()
	hub := newWSHub(quietLogger())
	go hub.run()
	t.Cleanup(hub.Close)
	return hub
}

func fakeClient(hub *wsHub, buffer int) *wsClient {
	return &wsClient{hub: hub, send: make(chan []byte, buffer)}
}

func waitForClients(t *testing.T, hub *wsHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", want, hub.clientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c *wsClient) wsMessage {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			t.Fatal("client channel closed")
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return wsMessage{}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v (raw: %s)", err, data)
	}
	return msg
}

// --- hub ---

func TestWSHub_RegisterUnregister(t *testing.T) {
	hub := startTestHub(t)

	clients := []*wsClient{fakeClient(hub, 4), fakeClient(hub, 4), fakeClient(hub, 4)}
	for _, c := range clients {
		hub.register <- c
	}
	waitForClients(t, hub, 3)

	hub.unregister <- clients[0]
	waitForClients(t, hub, 2)

	// Unknown clients are ignored.
	hub.unregister <- fakeClient(hub, 1)
	hub.unregister <- clients[1]
	hub.unregister <- clients[2]
	waitForClients(t, hub, 0)

	if _, ok := <-clients[0].send; ok {
		t.Fatal("expected send channel closed after unregister")
	}
}

func TestWSHub_BroadcastToClients(t *testing.T) {
	hub := startTestHub(t)
	c1, c2 := fakeClient(hub, 4), fakeClient(hub, 4)
	hub.register <- c1
	hub.register <- c2
	waitForClients(t, hub, 2)

	hub.Broadcast("paused", domain.SessionEvent{Type: domain.EventPaused, InfoHash: testHash})

	for _, c := range []*wsClient{c1, c2} {
		msg := receive(t, c)
		if msg.Type != "paused" {
			t.Fatalf("type = %q, want paused", msg.Type)
		}
		data, _ := msg.Data.(map[string]interface{})
		if data["infoHash"] != testHash {
			t.Fatalf("unexpected data %v", msg.Data)
		}
	}
	hub.unregister <- c1
	hub.unregister <- c2
	waitForClients(t, hub, 0)
}

func TestWSHub_BroadcastDropsSlowClient(t *testing.T) {
	hub := startTestHub(t)
	slow := fakeClient(hub, 1)
	hub.register <- slow
	waitForClients(t, hub, 1)

	slow.send <- []byte("fill")
	hub.Broadcast("added", nil)

	waitForClients(t, hub, 0)
}

func TestWSHub_BroadcastWithoutClientsIsNoop(t *testing.T) {
	hub := newWSHub(quietLogger())
	hub.Broadcast("added", map[string]string{"a": "b"})
	if len(hub.outbox) != 0 {
		t.Fatalf("expected nothing queued, got %d", len(hub.outbox))
	}
}

func TestWSHub_BroadcastMarshalFailure(t *testing.T) {
	hub := startTestHub(t)
	c := fakeClient(hub, 4)
	hub.register <- c
	waitForClients(t, hub, 1)

	hub.Broadcast("bad", make(chan int))
	hub.Broadcast("good", "ok")

	if msg := receive(t, c); msg.Type != "good" {
		t.Fatalf("expected only the encodable message, got %q", msg.Type)
	}
	hub.unregister <- c
	waitForClients(t, hub, 0)
}

func TestWSHub_SendToSingleClient(t *testing.T) {
	hub := startTestHub(t)
	target, other := fakeClient(hub, 4), fakeClient(hub, 4)
	hub.register <- target
	hub.register <- other
	waitForClients(t, hub, 2)

	hub.sendTo(target, "torrents", []domain.TorrentSession{})

	if msg := receive(t, target); msg.Type != "torrents" {
		t.Fatalf("type = %q", msg.Type)
	}
	select {
	case raw := <-other.send:
		t.Fatalf("unexpected message for other client: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
	hub.unregister <- target
	hub.unregister <- other
	waitForClients(t, hub, 0)
}

func TestWSHub_CloseReleasesRemainingClients(t *testing.T) {
	hub := newWSHub(quietLogger())
	go hub.run()
	c := fakeClient(hub, 1)
	hub.register <- c
	waitForClients(t, hub, 1)

	hub.Close()

	if _, open := <-c.send; open {
		t.Fatal("send channel still open after Close")
	}
	if hub.clientCount() != 0 {
		t.Fatalf("clients = %d", hub.clientCount())
	}
}

func TestWSHub_CloseIsIdempotent(t *testing.T) {
	hub := newWSHub(quietLogger())
	go hub.run()
	hub.Close()
	hub.Close()
}

// --- /ws handler ---

func TestHandleWS_SendsSnapshotThenEvents(t *testing.T) {
	sessions := &fakeSessions{torrents: []domain.TorrentSession{{InfoHash: testHash, Name: "Movie"}}}
	s := newTestServer(t, sessions)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	first := readWSMessage(t, conn)
	if first.Type != "torrents" {
		t.Fatalf("first message type = %q, want torrents", first.Type)
	}
	list, _ := first.Data.([]interface{})
	if len(list) != 1 {
		t.Fatalf("expected one torrent in snapshot, got %v", first.Data)
	}

	sessions.emit(domain.SessionEvent{Type: domain.EventCompleted, InfoHash: testHash})
	msg := readWSMessage(t, conn)
	if msg.Type != string(domain.EventCompleted) {
		t.Fatalf("type = %q, want completed", msg.Type)
	}
}

func TestHandleWS_MultipleClients(t *testing.T) {
	sessions := &fakeSessions{}
	s := newTestServer(t, sessions)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conns := []*websocket.Conn{dialWS(t, srv), dialWS(t, srv)}
	for _, c := range conns {
		defer c.Close()
		if msg := readWSMessage(t, c); msg.Type != "torrents" {
			t.Fatalf("expected snapshot, got %q", msg.Type)
		}
	}
	waitForClients(t, s.wsHub, 2)

	sessions.emit(domain.SessionEvent{Type: domain.EventRemoved, InfoHash: testHash})
	for _, c := range conns {
		if msg := readWSMessage(t, c); msg.Type != "removed" {
			t.Fatalf("type = %q, want removed", msg.Type)
		}
	}
}

func TestHandleWS_ServerCloseDisconnects(t *testing.T) {
	s := NewServer(&fakeSessions{}, WithLogger(quietLogger()))
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	readWSMessage(t, conn)

	s.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected error after server close")
	}
}

func TestHandleWS_ClientDisconnectUnregisters(t *testing.T) {
	s := newTestServer(t, &fakeSessions{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	readWSMessage(t, conn)
	waitForClients(t, s.wsHub, 1)

	conn.Close()
	waitForClients(t, s.wsHub, 0)
}

func TestHandleWS_NonUpgradeRequest(t *testing.T) {
	s := newTestServer(t, &fakeSessions{})
	rec := do(t, s, http.MethodGet, "/ws", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
