package webhook

import (
	"context"
	"encoding/json"
)

// Topics the agent posts to the endorser.
const (
	TopicPing               = "ping"
	TopicConnections        = "connections"
	TopicEndorseTransaction = "endorse_transaction"
)

// Event selects the handler and stepper for a notification.
type Event struct {
	Topic string
	State string
}

func (e Event) String() string {
	if e.State == "" {
		return e.Topic
	}
	return e.Topic + "/" + e.State
}

// HandlerFunc persists a notification and returns what it stored.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// StepperFunc runs the follow-up actions of a notification. result is whatever the
// handler returned, or nil if the handler failed or none is registered.
type StepperFunc func(ctx context.Context, payload json.RawMessage, result any) error

// Registry maps events to handlers and steppers.
type Registry struct {
	handlers map[Event]HandlerFunc
	steppers map[Event]StepperFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Event]HandlerFunc),
		steppers: make(map[Event]StepperFunc),
	}
}

// Handle registers the handler of ev, replacing any previous one.
func (r *Registry) Handle(ev Event, h HandlerFunc) {
	r.handlers[ev] = h
}

// Step registers the stepper of ev, replacing any previous one.
func (r *Registry) Step(ev Event, s StepperFunc) {
	r.steppers[ev] = s
}

// Handler returns the handler of ev.
func (r *Registry) Handler(ev Event) (HandlerFunc, bool) {
	h, ok := r.handlers[ev]
	return h, ok
}

// Stepper returns the stepper of ev.
func (r *Registry) Stepper(ev Event) (StepperFunc, bool) {
	s, ok := r.steppers[ev]
	return s, ok
}

// Count returns the number of registered handlers and steppers.
func (r *Registry) Count() int {
	return len(r.handlers) + len(r.steppers)
}
