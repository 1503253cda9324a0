package apprun

import (
	"context"
	"time"
)

// Event is a typed emission point (spec.md §3 "Event"). PayloadSchema, if
// set, validates every emitted payload before dispatch to hooks.
type Event struct {
	Base
	PayloadSchema Schema
	Parallel      bool
	// FailFast makes a hook error abort the rest of the emission (later
	// batches and the wildcard pass) and return it from EmitEvent
	// (meta.failFast, spec.md §4.5). In a sequential batch the error is
	// not sent to the error sink and the batch's later hooks do not run;
	// in a parallel batch every hook of the batch still runs and every
	// error is also sent to the error sink.
	FailFast bool
}

// EventOption configures an Event at registration time.
type EventOption func(*Event)

func WithPayloadSchema(s Schema) EventOption { return func(e *Event) { e.PayloadSchema = s } }
func WithParallelHooks() EventOption         { return func(e *Event) { e.Parallel = true } }
func WithFailFastHooks() EventOption         { return func(e *Event) { e.FailFast = true } }

// NewEvent registers a new event node.
func NewEvent(id string, opts ...EventOption) *Event {
	e := &Event{Base: newBase(KindEvent, id, nil, nil)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emission is the record handed to every hook for one emit call
// (spec.md §3 "Event" / Emission value).
type Emission struct {
	ID        string
	Data      any
	Timestamp time.Time
	Source    string
	Tags      []*AttachedTag
	Meta      map[string]any

	stopped bool
}

// StopPropagation ends dispatch after the current batch finishes
// (spec.md §4.5).
func (em *Emission) StopPropagation() { em.stopped = true }

// IsPropagationStopped reports whether StopPropagation was called.
func (em *Emission) IsPropagationStopped() bool { return em.stopped }

// eventCallable is the Callable an event dependency resolves to
// (spec.md §4.2 "Event dep").
type eventCallable struct {
	eventID string
	rt      *Handle
}

func (c *eventCallable) Invoke(ctx context.Context, input any) (any, error) {
	return nil, c.rt.EmitEvent(ctx, c.eventID, input, "")
}
