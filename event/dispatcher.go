//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package event

import (
	"fmt"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-streamguard-go/log"
)

// Sink receives every emitted Event. Handle must not block indefinitely;
// the dispatcher calls sinks synchronously and in registration order.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Handle implements Sink.
func (f SinkFunc) Handle(e Event) { f(e) }

// Dispatcher is the single in-process owner of the schema catalog and
// sink list for one session. It stamps ts/stream_id/context, validates
// against the schema in Strict mode, and fans out to sinks. Register
// replaces the sink slice copy-on-write under the mutex; Emit holds the
// same mutex only long enough to stamp the timestamp and take the current
// slice, and calls the sinks after releasing it.
type Dispatcher struct {
	StreamID string
	Context  any
	Strict   bool
	schemas  map[Type]Schema
	log      log.Logger

	mu    sync.Mutex
	sinks []Sink
	lastTs time.Time
}

// NewDispatcher creates a Dispatcher for one session's lifetime.
func NewDispatcher(streamID string, ctx any, strict bool, l log.Logger) *Dispatcher {
	if l == nil {
		l = log.Default
	}
	return &Dispatcher{
		StreamID: streamID,
		Context:  ctx,
		Strict:   strict,
		schemas:  DefaultSchemas(),
		log:      l,
	}
}

// Register adds a sink. Safe for concurrent use with Emit.
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := make([]Sink, len(d.sinks)+1)
	copy(next, d.sinks)
	next[len(d.sinks)] = s
	d.sinks = next
}

// Emit stamps and validates an event of typ with payload, then fans it
// out to every registered sink. Timestamps are guaranteed non-decreasing
// within a session by bumping forward when the
// wall clock has not advanced since the previous emission.
func (d *Dispatcher) Emit(typ Type, payload map[string]any) Event {
	e := newEvent(typ, payload)
	e.StreamID = d.StreamID
	e.Context = d.Context

	d.mu.Lock()
	now := time.Now()
	if !now.After(d.lastTs) {
		now = d.lastTs.Add(time.Nanosecond)
	}
	d.lastTs = now
	sinks := d.sinks
	d.mu.Unlock()

	e.Timestamp = now

	if d.Strict {
		if err := d.validate(typ, payload); err != nil {
			d.log.Errorf("event: schema validation failed for %s: %v", typ, err)
		}
	}

	for _, s := range sinks {
		s.Handle(e)
	}
	return e
}

func (d *Dispatcher) validate(typ Type, payload map[string]any) error {
	schema, ok := d.schemas[typ]
	if !ok {
		return fmt.Errorf("unknown event type %q", typ)
	}
	for field, spec := range schema {
		if !spec.Required {
			continue
		}
		if _, ok := payload[field]; !ok {
			return fmt.Errorf("event %q missing required field %q", typ, field)
		}
	}
	return nil
}
