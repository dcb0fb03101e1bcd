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

package guardrail

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-streamguard-go/log"
)

// fastPathThreshold is the content-size cutoff below which the
// engine runs streaming-safe rules synchronously on the delta.
const fastPathThreshold = 5 * 1024 // ~5kB

// Engine runs an ordered list of rules, short-circuiting on the first
// fatal violation, and offers a fast path (synchronous, delta-only) and a
// slow path (deferred to a worker-pool goroutine) for larger content.
//
// An Engine is owned by one session for its lifetime; the
// worker pool backing deferred evaluation is shared only in the sense
// that ants.Pool itself is safe for concurrent Submit calls.
type Engine struct {
	rules []Rule
	log   log.Logger
	pool  *ants.Pool
	// ownsPool is true when NewEngine created pool itself.
	ownsPool bool

	mu      sync.Mutex
	pending chan Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger injects a logger; defaults to log.Default.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPool injects a shared ants.Pool for deferred slow-path evaluation
// instead of letting the engine create (and later release) its own.
func WithPool(p *ants.Pool) Option {
	return func(e *Engine) { e.pool = p }
}

// NewEngine creates an Engine over rules, evaluated in the given order.
func NewEngine(rules []Rule, opts ...Option) (*Engine, error) {
	e := &Engine{
		rules:   rules,
		log:     log.Default,
		pending: make(chan Result, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pool == nil {
		pool, err := ants.NewPool(4, ants.WithNonblocking(false))
		if err != nil {
			return nil, err
		}
		e.pool = pool
		e.ownsPool = true
	}
	return e, nil
}

// Close releases the engine's own worker pool, if it created one. It is a
// no-op if the pool was supplied via WithPool.
func (e *Engine) Close() {
	if e.pool != nil && e.ownsPool {
		e.pool.Release()
	}
}

// Evaluate runs the rule chain over gctx. When content is short enough for
// the fast path, it runs synchronously and returns (result, false). When
// content exceeds the threshold, the full check is submitted to the
// worker pool and Evaluate immediately returns a zero Result with
// pending=true; the caller should treat that as "no violation this tick"
// and poll PollDeferred on a later tick.
func (e *Engine) Evaluate(ctx context.Context, gctx Context) (result Result, pending bool) {
	if len(gctx.Content) < fastPathThreshold {
		return e.runSync(ctx, gctx, true), false
	}
	e.scheduleDeferred(ctx, gctx)
	return Result{}, true
}

// EvaluateFinal always runs synchronously (completed content is checked
// once, not on the hot streaming path) and includes rules that are not
// streaming-safe.
func (e *Engine) EvaluateFinal(ctx context.Context, gctx Context) Result {
	return e.runSync(ctx, gctx, false)
}

// PollDeferred returns the most recently completed deferred evaluation, if
// any has completed since the last poll.
func (e *Engine) PollDeferred() (Result, bool) {
	select {
	case r := <-e.pending:
		return r, true
	default:
		return Result{}, false
	}
}

func (e *Engine) runSync(ctx context.Context, gctx Context, streamingOnly bool) Result {
	var all []Violation
	for _, r := range e.rules {
		if streamingOnly && !r.Streaming() {
			continue
		}
		vs, err := r.Check(ctx, gctx)
		if err != nil {
			e.log.Errorf("guardrail: rule %q failed: %v", r.Name(), err)
			continue
		}
		all = append(all, vs...)
		for _, v := range vs {
			if v.Severity == SeverityFatal {
				return aggregate(all)
			}
		}
	}
	return aggregate(all)
}

func (e *Engine) scheduleDeferred(ctx context.Context, gctx Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.pool.Submit(func() {
		result := e.runSync(ctx, gctx, false)
		select {
		case e.pending <- result:
		default:
			// Drop the stale pending slot in favor of the fresher result:
			// a backed-up consumer only cares about the latest check.
			select {
			case <-e.pending:
			default:
			}
			e.pending <- result
		}
	})
	if err != nil {
		e.log.Errorf("guardrail: failed to schedule deferred evaluation: %v", err)
	}
}
