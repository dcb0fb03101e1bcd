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

package session

import (
	"sync"

	"trpc.group/trpc-go/trpc-streamguard-go/streamevent"
)

// TelemetryView is the read-only export of a run's counters, suitable
// for a caller to inspect without reaching into the driver's internals.
type TelemetryView struct {
	Attempts       int
	Retries        int
	Fallbacks      int
	GuardrailRuns  int
	DriftRuns      int
	Checkpoints    int
}

// Result is returned immediately by Run. Events is a lazy, ordered,
// pull-based sequence: the driver only advances the underlying stream
// when the consumer receives the next event, giving natural
// back-pressure. The channel is closed after exactly one terminal event
// (complete or error).
type Result struct {
	sess *Session
	ch   chan streamevent.Event

	abortOnce sync.Once
	abortFn   func()

	mu        sync.Mutex
	errs      []error
	telemetry TelemetryView
}

func newResult(sess *Session, abortFn func()) *Result {
	return &Result{
		sess:    sess,
		ch:      make(chan streamevent.Event),
		abortFn: abortFn,
	}
}

// Events returns the lazy runtime-event sequence.
func (r *Result) Events() <-chan streamevent.Event { return r.ch }

// Snapshot returns the session's current, immutable state.
func (r *Result) Snapshot() Snapshot { return r.sess.Snapshot() }

// Errors returns the errors accumulated during the run, oldest first:
// each failed attempt's error, followed by the terminal error if the run
// failed.
func (r *Result) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *Result) addError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Telemetry returns the run's TelemetryView. The driver does not update
// these counters, so every field stays zero; counters for a monitored run
// are reported through the telemetry package's instruments instead.
func (r *Result) Telemetry() TelemetryView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.telemetry
}

// Abort requests cancellation. It is idempotent: calling it more than
// once, or concurrently, has no additional effect.
func (r *Result) Abort() {
	r.abortOnce.Do(r.abortFn)
}
