// Package webhook turns agent notifications into record updates and automatic
// follow-up actions.
//
// Each notification is journaled, then handed to the handler registered for its
// topic and state, then to the stepper. Failures are logged and never reach the
// sender: the agent redelivers on errors, and a failed automatic step leaves the
// transaction pending for an administrator.
package webhook

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Journal records notifications before they are dispatched.
type Journal interface {
	Append(topic, state string, payload []byte) (uint64, error)
}

// Dispatcher routes notifications through a registry.
type Dispatcher struct {
	registry *Registry
	journal  Journal
}

// NewDispatcher creates a dispatcher. journal may be nil.
func NewDispatcher(registry *Registry, journal Journal) *Dispatcher {
	return &Dispatcher{registry: registry, journal: journal}
}

// StateOf returns payload.state, or "" when absent.
func StateOf(payload json.RawMessage) string {
	var p struct {
		State string `json:"state"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &p) != nil {
		return ""
	}
	return p.State
}

// Dispatch handles one notification. It never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, payload json.RawMessage) {
	ev := Event{Topic: topic, State: StateOf(payload)}
	logger := log.WithFields(log.Fields{"topic": ev.Topic, "state": ev.State})
	logger.Debug("webhook received")

	if d.journal != nil {
		if _, err := d.journal.Append(ev.Topic, ev.State, payload); err != nil {
			logger.Errorf("failed to journal notification: %v", err)
		}
	}

	handler, hasHandler := d.registry.Handler(ev)
	stepper, hasStepper := d.registry.Stepper(ev)
	if !hasHandler && !hasStepper {
		logger.Warn("unsupported webhook notification, ignored")
		return
	}

	var result any
	if hasHandler {
		var err error
		if result, err = d.runHandler(ctx, handler, payload); err != nil {
			logger.Errorf("webhook handler failed: %v", err)
			result = nil
		}
	} else {
		logger.Debug("no handler, skipped")
	}

	if !hasStepper {
		logger.Debug("no stepper, skipped")
		return
	}
	if err := d.runStepper(ctx, stepper, payload, result); err != nil {
		logger.Errorf("webhook stepper failed: %v", err)
	}
}

func (d *Dispatcher) runHandler(ctx context.Context, h HandlerFunc, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}

func (d *Dispatcher) runStepper(ctx context.Context, s StepperFunc, payload json.RawMessage, result any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("stepper panic: %v", r)
		}
	}()
	return s(ctx, payload, result)
}
