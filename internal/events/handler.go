// internal/events/handler.go
package events

import "context"

// Handler consumes engine events. Handlers run on the bus goroutines and must
// not block on the supervisor that published the event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription detaches a handler from the bus. The journal and the Redis
// sink keep theirs for the life of the process.
type Subscription interface {
	Unsubscribe()
}

type busSubscription struct {
	bus       *Bus
	eventType EventType
	id        string
}

func (s *busSubscription) Unsubscribe() {
	s.bus.unsubscribe(s.id, s.eventType)
}
