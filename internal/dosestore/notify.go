package dosestore

import (
	"log/slog"
	"sync"
)

// NotificationKind distinguishes notifications.
type NotificationKind int

const (
	// ReadinessChanged is sent on every readiness transition.
	ReadinessChanged NotificationKind = iota + 1
	// ValuesChanged is sent after a commit that may change query results.
	ValuesChanged
)

func (k NotificationKind) String() string {
	switch k {
	case ReadinessChanged:
		return "readinessChanged"
	case ValuesChanged:
		return "valuesChanged"
	default:
		return "unknown"
	}
}

// Notification is delivered to subscribers. State is set for
// ReadinessChanged.
type Notification struct {
	Kind  NotificationKind
	State ReadyState
}

// observers is the subscriber list owned by one DoseStore.
type observers struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Notification
	closed bool
	logger *slog.Logger
}

func newObservers(logger *slog.Logger) *observers {
	return &observers{subs: make(map[int]chan Notification), logger: logger}
}

func (o *observers) subscribe(buffer int) (<-chan Notification, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan Notification, buffer)
	if o.closed {
		close(ch)
		return ch, func() {}
	}

	id := o.next
	o.next++
	o.subs[id] = ch

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(sub)
		}
	}
}

// publish delivers n without blocking. A subscriber with a full buffer
// misses the notification.
func (o *observers) publish(n Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id, ch := range o.subs {
		select {
		case ch <- n:
		default:
			o.logger.Warn("notification dropped", "subscriber", id, "kind", n.Kind.String())
		}
	}
}

func (o *observers) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
}

// Subscribe registers for notifications. The channel is closed by cancel
// or when the store shuts down. Delivery never blocks the store: size the
// buffer for the expected burst.
func (s *DoseStore) Subscribe(buffer int) (<-chan Notification, func()) {
	return s.observers.subscribe(buffer)
}

func (s *DoseStore) notifyValuesChanged() {
	s.observers.publish(Notification{Kind: ValuesChanged})
}
