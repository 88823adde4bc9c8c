package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil)
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub(nil, nil)

	// Broadcast with no connections should not panic.
	hub.BroadcastEvent(context.Background(), lspDomain.EventStatus, lspDomain.StatusEvent{
		SessionID: "s1",
		From:      lspDomain.PhaseStarting,
		To:        lspDomain.PhaseActive,
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub(nil, nil)

	// A channel cannot be marshaled to JSON: logged, not panicking.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub(nil, nil)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}

func TestHubSnapshotAndBroadcast(t *testing.T) {
	status := func() lspDomain.ServerInfo {
		return lspDomain.ServerInfo{SessionID: "s1", Command: "openfoam-ls", Phase: lspDomain.PhaseActive}
	}
	hub := NewHub(nil, StatusSnapshot(status))
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	defer hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.CloseNow()

	snap := readMessage(ctx, t, client)
	if snap.Type != EventSnapshot {
		t.Fatalf("first message type = %q", snap.Type)
	}
	var info lspDomain.ServerInfo
	if err := json.Unmarshal(snap.Payload, &info); err != nil || info.Phase != lspDomain.PhaseActive {
		t.Fatalf("snapshot payload = %s (%v)", snap.Payload, err)
	}

	for hub.ConnectionCount() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	hub.BroadcastEvent(ctx, lspDomain.EventDiagnostics, lspDomain.DiagnosticsEvent{
		SessionID: "s1",
		URI:       "file:///case/system/controlDict",
	})

	msg := readMessage(ctx, t, client)
	if msg.Type != lspDomain.EventDiagnostics {
		t.Fatalf("broadcast type = %q", msg.Type)
	}

	hub.Close()
	if _, _, err := client.Read(ctx); err == nil {
		t.Fatal("expected read error after hub close")
	}
}

func readMessage(ctx context.Context, t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}
