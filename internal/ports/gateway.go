package ports

import (
	"context"
	"encoding/json"
)

// Gateway is the client's only route to the backend process: request/response
// calls plus named push-event subscriptions.
//
// Both methods are suspension points. Other operations may interleave and
// mutate caller state between issuing a call and its resolution.
type Gateway interface {
	// Call invokes command with args and decodes the result into result.
	// result may be nil when the command returns nothing.
	Call(ctx context.Context, command string, args, result any) error

	// Subscribe registers handler for event. It returns once the backend has
	// acknowledged the subscription. Events are delivered in emission order
	// on a single goroutine per subscription. The returned Unsubscribe is
	// idempotent; after it returns no new deliveries start.
	Subscribe(ctx context.Context, event string, handler EventHandler) (Unsubscribe, error)
}

// EventHandler receives the raw JSON payload of one push event.
type EventHandler func(payload json.RawMessage)

// Unsubscribe tears down a subscription.
type Unsubscribe func()

// EventSink publishes push events to every current subscriber of an event.
// Fire-and-forget: delivery failures are the sink's concern.
type EventSink interface {
	Emit(event string, payload any)
}
