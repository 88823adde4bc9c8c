// Package broadcast defines the port for publishing host events to observers.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected observers.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected observers.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Fanout delivers every event to each of its broadcasters in order.
type Fanout []Broadcaster

// BroadcastEvent implements Broadcaster.
func (f Fanout) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range f {
		if b != nil {
			b.BroadcastEvent(ctx, eventType, payload)
		}
	}
}
