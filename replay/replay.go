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

// Package replay reconstructs a completed or partial stream from its
// recorded event log. Replay is a pure function over stored data: no
// network calls, no timeouts, no retries, and no live guardrail or drift
// evaluation — the outcomes already happened and are re-emitted in
// order.
package replay

import (
	"context"
	"time"

	"trpc.group/trpc-go/trpc-streamguard-go/eventstore"
)

// State is the reconstructed accumulated state of a replayed stream.
type State struct {
	StreamID         string
	Content          string
	TokenCount        int
	Completed         bool
	ModelRetryCount   int
	NetworkRetryCount int
	FallbackIndex     int
	Violations        []any
	DriftDetected     bool
	LastError         string
}

// Callbacks are optional hooks invoked as a replay plays each recorded
// event back. All fields are optional; a nil callback is skipped.
type Callbacks struct {
	OnToken      func(value string, index int)
	OnCheckpoint func(at int, content string)
	OnGuardrail  func(result any)
	OnDrift      func(result any)
	OnRetry      func(attempt int, reason string)
	OnFallback   func(to int)
	OnComplete   func(state State)
	OnError      func(message string, recoverable bool)
}

// Options configures a Replayer.
type Options struct {
	// Speed scales the wall-clock gap between recorded events during
	// replay. 0 (the default) replays instantly, back to back.
	Speed float64
	// FromSeq and ToSeq slice the replay to [FromSeq, ToSeq], inclusive.
	// A zero ToSeq means "through the end of the log".
	FromSeq int
	ToSeq   int
	Callbacks
}

// Replayer replays a single recorded stream.
type Replayer struct {
	store eventstore.Store
	opts  Options
}

// New creates a Replayer reading from store.
func New(store eventstore.Store, opts Options) *Replayer {
	return &Replayer{store: store, opts: opts}
}

// Replay loads streamID's envelopes and replays them in sequence order,
// invoking configured callbacks and returning the final reconstructed
// State. Context cancellation is only observed between events (honored
// at the wall-clock sleep points introduced by Options.Speed); it never
// interrupts a single event's callback.
func (r *Replayer) Replay(ctx context.Context, streamID string) (State, error) {
	envs, err := r.store.GetEvents(ctx, streamID)
	if err != nil {
		return State{}, err
	}
	state := State{StreamID: streamID}
	var prevAt time.Time
	for _, env := range envs {
		if env.Seq < r.opts.FromSeq {
			continue
		}
		if r.opts.ToSeq > 0 && env.Seq > r.opts.ToSeq {
			break
		}
		if r.opts.Speed > 0 && !prevAt.IsZero() {
			gap := time.Duration(float64(env.RecordedAt.Sub(prevAt)) * r.opts.Speed)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return state, ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		prevAt = env.RecordedAt
		applyEvent(&state, env.Event, r.opts.Callbacks)
	}
	return state, nil
}

func applyEvent(state *State, e eventstore.RecordedEvent, cb Callbacks) {
	switch e.Kind {
	case eventstore.KindToken:
		state.Content += e.Value
		state.TokenCount++
		if cb.OnToken != nil {
			cb.OnToken(e.Value, e.Index)
		}
	case eventstore.KindCheckpoint:
		if cb.OnCheckpoint != nil {
			cb.OnCheckpoint(e.At, e.Content)
		}
	case eventstore.KindGuardrail:
		if e.GuardrailResult != nil {
			state.Violations = append(state.Violations, e.GuardrailResult)
		}
		if cb.OnGuardrail != nil {
			cb.OnGuardrail(e.GuardrailResult)
		}
	case eventstore.KindDrift:
		state.DriftDetected = true
		if cb.OnDrift != nil {
			cb.OnDrift(e.DriftResult)
		}
	case eventstore.KindRetry:
		if e.CountsTowardLimit {
			state.ModelRetryCount++
		} else {
			state.NetworkRetryCount++
		}
		if cb.OnRetry != nil {
			cb.OnRetry(e.Attempt, e.Reason)
		}
	case eventstore.KindFallback:
		state.FallbackIndex = e.To
		if cb.OnFallback != nil {
			cb.OnFallback(e.To)
		}
	case eventstore.KindContinuation:
		state.Content = e.Content
	case eventstore.KindComplete:
		state.Completed = true
		state.TokenCount = e.TokenCount
		if cb.OnComplete != nil {
			cb.OnComplete(*state)
		}
	case eventstore.KindError:
		state.LastError = e.Error
		if cb.OnError != nil {
			cb.OnError(e.Error, e.Recoverable)
		}
	}
}

// FieldDiff describes a single mismatched field between two replays.
type FieldDiff struct {
	Field string
	A     any
	B     any
}

// CompareResult is the outcome of comparing two replayed states.
type CompareResult struct {
	Identical bool
	Diffs     []FieldDiff
}

// CompareReplays diffs the comparable fields of two replayed states:
// content, token count, completion, model retry count, fallback index,
// violation count, and whether drift was detected. It is meant for
// checking that two recordings of "the same" stream (e.g. before/after a
// storage migration) produced equivalent outcomes.
func CompareReplays(a, b State) CompareResult {
	var diffs []FieldDiff
	cmp := func(field string, av, bv any) {
		if av != bv {
			diffs = append(diffs, FieldDiff{Field: field, A: av, B: bv})
		}
	}
	cmp("content", a.Content, b.Content)
	cmp("token_count", a.TokenCount, b.TokenCount)
	cmp("completed", a.Completed, b.Completed)
	cmp("model_retry_count", a.ModelRetryCount, b.ModelRetryCount)
	cmp("fallback_index", a.FallbackIndex, b.FallbackIndex)
	cmp("violations.length", len(a.Violations), len(b.Violations))
	cmp("drift_detected", a.DriftDetected, b.DriftDetected)
	return CompareResult{Identical: len(diffs) == 0, Diffs: diffs}
}
