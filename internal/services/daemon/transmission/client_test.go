package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"bitfinder/internal/domain"
	"bitfinder/internal/providers/common"
)

type rpcCall struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
}

// fakeDaemon emulates the session-id handshake and records every call.
type fakeDaemon struct {
	sessionID string
	calls     []rpcCall
	conflicts atomic.Int32
	reply     func(call rpcCall) (string, any)
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Header.Get(sessionHeader) != d.sessionID {
		d.conflicts.Add(1)
		w.Header().Set(sessionHeader, d.sessionID)
		w.WriteHeader(http.StatusConflict)
		return
	}
	var call rpcCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	d.calls = append(d.calls, call)

	result, args := "success", any(map[string]any{})
	if d.reply != nil {
		result, args = d.reply(call)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "arguments": args})
}

func newTestClient(t *testing.T, d *fakeDaemon) *Client {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL, Username: "admin", Password: "secret", Client: srv.Client()})
}

func TestNotConfigured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		user     string
		password string
	}{
		{name: "no credentials"},
		{name: "no password", user: "admin"},
		{name: "no user", password: "secret"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New(Config{URL: srv.URL, Username: tc.user, Password: tc.password})
			if c.Configured() {
				t.Fatal("client should not be configured")
			}
			ctx := context.Background()
			if _, err := c.Add(ctx, "magnet:?xt=urn:btih:abc"); !errors.Is(err, domain.ErrNotConfigured) {
				t.Errorf("Add: expected ErrNotConfigured, got %v", err)
			}
			if _, err := c.List(ctx); !errors.Is(err, domain.ErrNotConfigured) {
				t.Errorf("List: expected ErrNotConfigured, got %v", err)
			}
			if err := c.Pause(ctx, 1); !errors.Is(err, domain.ErrNotConfigured) {
				t.Errorf("Pause: expected ErrNotConfigured, got %v", err)
			}
			if err := c.Resume(ctx, 1); !errors.Is(err, domain.ErrNotConfigured) {
				t.Errorf("Resume: expected ErrNotConfigured, got %v", err)
			}
			if err := c.Remove(ctx, 1, true); !errors.Is(err, domain.ErrNotConfigured) {
				t.Errorf("Remove: expected ErrNotConfigured, got %v", err)
			}
		})
	}
	if hits.Load() != 0 {
		t.Fatalf("unconfigured client must not contact the daemon, got %d requests", hits.Load())
	}
}

func TestSessionIDHandshake(t *testing.T) {
	d := &fakeDaemon{sessionID: "sid-1"}
	c := newTestClient(t, d)

	if err := c.Pause(context.Background(), 3); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := c.Resume(context.Background(), 3); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := d.conflicts.Load(); got != 1 {
		t.Fatalf("expected a single 409 handshake, got %d", got)
	}

	d.sessionID = "sid-2"
	if err := c.Pause(context.Background(), 3); err != nil {
		t.Fatalf("pause after rotation: %v", err)
	}
	if got := d.conflicts.Load(); got != 2 {
		t.Fatalf("expected re-handshake after session rotation, got %d", got)
	}
}

func TestAdd(t *testing.T) {
	d := &fakeDaemon{sessionID: "sid", reply: func(call rpcCall) (string, any) {
		return "success", map[string]any{
			"torrent-added": map[string]any{"id": 7, "name": "Foo", "hashString": "ABCDEF"},
		}
	}}
	c := newTestClient(t, d)

	got, err := c.Add(context.Background(), "magnet:?xt=urn:btih:abcdef")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got.ID != 7 || got.Name != "Foo" || got.HashString != "abcdef" {
		t.Fatalf("unexpected torrent %+v", got)
	}
	if len(d.calls) != 1 || d.calls[0].Method != "torrent-add" || d.calls[0].Arguments["filename"] != "magnet:?xt=urn:btih:abcdef" {
		t.Fatalf("unexpected calls %+v", d.calls)
	}
}

func TestAddDuplicate(t *testing.T) {
	d := &fakeDaemon{sessionID: "sid", reply: func(call rpcCall) (string, any) {
		return "success", map[string]any{
			"torrent-duplicate": map[string]any{"id": 2, "name": "Dup", "hashString": "aa"},
		}
	}}
	c := newTestClient(t, d)

	got, err := c.Add(context.Background(), "magnet:?xt=urn:btih:aa")
	if err != nil || got.ID != 2 {
		t.Fatalf("expected duplicate torrent, got %+v err=%v", got, err)
	}
}

func TestAddRejectsEmptyMagnet(t *testing.T) {
	c := newTestClient(t, &fakeDaemon{sessionID: "sid"})
	if _, err := c.Add(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidMagnet) {
		t.Fatalf("expected ErrInvalidMagnet, got %v", err)
	}
}

func TestList(t *testing.T) {
	d := &fakeDaemon{sessionID: "sid", reply: func(call rpcCall) (string, any) {
		return "success", map[string]any{"torrents": []map[string]any{
			{"id": 1, "name": "A", "status": 4, "percentDone": 0.5, "rateDownload": 1000, "peersConnected": 3},
			{"id": 2, "name": "B", "status": 6, "percentDone": 1.0},
			{"id": 3, "name": "C", "status": 0, "errorString": "disk full"},
		}}
	}}
	c := newTestClient(t, d)

	torrents, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(torrents) != 3 {
		t.Fatalf("expected 3 torrents, got %d", len(torrents))
	}
	if torrents[0].Status != domain.RemoteDownloading || torrents[0].Progress != 0.5 || torrents[0].DownloadSpeed != 1000 || torrents[0].PeersConnected != 3 {
		t.Errorf("unexpected first torrent %+v", torrents[0])
	}
	if torrents[1].Status != domain.RemoteSeeding {
		t.Errorf("expected seeding, got %s", torrents[1].Status)
	}
	if torrents[2].Status != domain.RemoteStopped || torrents[2].Error != "disk full" {
		t.Errorf("unexpected third torrent %+v", torrents[2])
	}
	fields, _ := d.calls[0].Arguments["fields"].([]any)
	if len(fields) != len(torrentFields) {
		t.Errorf("expected %d fields requested, got %v", len(torrentFields), fields)
	}
}

func TestRemoveSendsDeleteFlag(t *testing.T) {
	d := &fakeDaemon{sessionID: "sid"}
	c := newTestClient(t, d)

	if err := c.Remove(context.Background(), 9, true); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := c.Remove(context.Background(), 9, false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(d.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(d.calls))
	}
	if d.calls[0].Method != "torrent-remove" || d.calls[0].Arguments["delete-local-data"] != true {
		t.Errorf("unexpected first remove %+v", d.calls[0])
	}
	if d.calls[1].Arguments["delete-local-data"] != false {
		t.Errorf("unexpected second remove %+v", d.calls[1])
	}
	ids, _ := d.calls[0].Arguments["ids"].([]any)
	if len(ids) != 1 || ids[0] != float64(9) {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestRPCFailureResult(t *testing.T) {
	d := &fakeDaemon{sessionID: "sid", reply: func(call rpcCall) (string, any) {
		return "invalid or corrupt torrent file", nil
	}}
	c := newTestClient(t, d)

	if err := c.Resume(context.Background(), 1); !errors.Is(err, ErrRPC) {
		t.Fatalf("expected ErrRPC, got %v", err)
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := New(Config{URL: srv.URL, Username: "u", Password: "p", Client: srv.Client()})

	err := c.Pause(context.Background(), 1)
	var statusErr *common.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
}

func TestStatusName(t *testing.T) {
	tests := map[int]domain.RemoteStatus{
		0:  domain.RemoteStopped,
		1:  domain.RemoteChecking,
		2:  domain.RemoteChecking,
		3:  domain.RemoteQueued,
		4:  domain.RemoteDownloading,
		5:  domain.RemoteQueued,
		6:  domain.RemoteSeeding,
		42: domain.RemoteStopped,
	}
	for code, want := range tests {
		if got := statusName(code); got != want {
			t.Errorf("statusName(%d) = %s, want %s", code, got, want)
		}
	}
}
