package ws

import (
	"context"
	"encoding/json"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// EventSnapshot is sent to each client on connect with the current ServerInfo.
const EventSnapshot = "lsp.snapshot"

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	msg, err := NewMessage(eventType, payload)
	if err != nil {
		h.logger.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, msg)
}

// NewMessage wraps payload in a typed envelope.
func NewMessage(eventType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: eventType, Payload: data}, nil
}

// StatusSnapshot returns a SnapshotFunc that reports status() to new clients.
func StatusSnapshot(status func() lspDomain.ServerInfo) SnapshotFunc {
	return func() (Message, bool) {
		msg, err := NewMessage(EventSnapshot, status())
		return msg, err == nil
	}
}
