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
	"context"
	"time"

	"trpc.group/trpc-go/trpc-streamguard-go/adapter"
	"trpc.group/trpc-go/trpc-streamguard-go/checkpoint"
	"trpc.group/trpc-go/trpc-streamguard-go/event"
	"trpc.group/trpc-go/trpc-streamguard-go/eventstore"
	"trpc.group/trpc-go/trpc-streamguard-go/guardrail"
	"trpc.group/trpc-go/trpc-streamguard-go/log"
	"trpc.group/trpc-go/trpc-streamguard-go/retry"
	"trpc.group/trpc-go/trpc-streamguard-go/streamevent"
)

// StreamFactory obtains one raw backend stream. raw is whatever the
// configured Adapter (or the adapter registry, or a native handle) knows
// how to normalize.
type StreamFactory func(ctx context.Context) (raw any, err error)

// Timeouts holds the per-attempt initial-token and inter-token windows.
type Timeouts struct {
	InitialToken time.Duration
	InterToken   time.Duration
}

// CheckIntervals controls how often (in tokens) the driver runs
// streaming guardrails, drift detection, and checkpointing.
type CheckIntervals struct {
	Guardrails int
	Drift      int
	Checkpoint int
}

// Interceptor wraps one run with before/after/error hooks, run in
// registration order. A Before failure converts to a fatal INTERNAL
// error without invoking the stream factory.
type Interceptor struct {
	Before func(ctx context.Context, opts *Options) (*Options, error)
	After  func(ctx context.Context, result *Result) (*Result, error)
	Error  func(ctx context.Context, err error, opts *Options)
}

// Options is the exhaustive configuration record for one Run invocation.
// Every recognized option from the external interface has a field here;
// there is no open-ended option bag.
type Options struct {
	StreamFactory           StreamFactory
	FallbackStreamFactories []StreamFactory

	Guardrails []guardrail.Rule
	Retry      retry.Config

	Timeout Timeouts
	// Signal, if non-nil, is OR'd with the driver's internal abort
	// signal: closing it aborts the run exactly like calling Abort().
	Signal <-chan struct{}

	Monitoring       bool
	DetectDrift      bool
	DetectZeroTokens bool
	CheckIntervals   CheckIntervals

	// OnEvent, if set, is called synchronously for every caller-visible
	// runtime event, in addition to it being sent on Result.Events().
	OnEvent   func(streamevent.Event)
	Callbacks event.Callbacks

	ContinueFromLastKnownGoodToken bool
	BuildContinuationPrompt        func(checkpointContent string) any
	DeduplicateContinuation        bool
	DeduplicationOptions           checkpoint.Options

	Adapter         adapter.Adapter
	AdapterRegistry *adapter.Registry

	Interceptors []Interceptor
	Meta         any

	// Record enables event-sourced recording of this run to Store.
	Record   bool
	Store    eventstore.Store
	StreamID string // defaults to a generated uuid when empty.

	// Strict enables observability-event schema validation (development
	// mode).
	Strict bool
	Logger log.Logger

	// ShouldRetry and CalculateDelay, when set, override the retry
	// manager's decision/delay for this run. A nil return defers to the
	// retry manager's own verdict.
	ShouldRetry    func(err error, attempt int) *bool
	CalculateDelay func(err error, attempt int) *time.Duration
}

// Option configures an Options record.
type Option func(*Options)

// WithStreamFactory sets the primary stream factory. Required.
func WithStreamFactory(f StreamFactory) Option {
	return func(o *Options) { o.StreamFactory = f }
}

// WithFallbackStreamFactories appends fallback factories, tried in order
// after the primary (then each other) exhausts its retry budget.
func WithFallbackStreamFactories(fs ...StreamFactory) Option {
	return func(o *Options) { o.FallbackStreamFactories = append(o.FallbackStreamFactories, fs...) }
}

// WithGuardrails sets the ordered guardrail rule chain.
func WithGuardrails(rules ...guardrail.Rule) Option {
	return func(o *Options) { o.Guardrails = rules }
}

// WithRetry sets the retry policy configuration.
func WithRetry(cfg retry.Config) Option {
	return func(o *Options) { o.Retry = cfg }
}

// WithTimeouts sets the initial-token and inter-token timeouts.
func WithTimeouts(initial, inter time.Duration) Option {
	return func(o *Options) { o.Timeout = Timeouts{InitialToken: initial, InterToken: inter} }
}

// WithSignal sets an external abort signal, OR'd with Result.Abort.
func WithSignal(sig <-chan struct{}) Option {
	return func(o *Options) { o.Signal = sig }
}

// WithMonitoring enables the monitor/telemetry export view.
func WithMonitoring(enabled bool) Option {
	return func(o *Options) { o.Monitoring = enabled }
}

// WithDriftDetection enables the drift probe.
func WithDriftDetection(enabled bool) Option {
	return func(o *Options) { o.DetectDrift = enabled }
}

// WithZeroTokenDetection enables raising ZERO_OUTPUT when a stream
// completes with no meaningful content.
func WithZeroTokenDetection(enabled bool) Option {
	return func(o *Options) { o.DetectZeroTokens = enabled }
}

// WithCheckIntervals overrides the guardrail/drift/checkpoint cadence.
func WithCheckIntervals(ci CheckIntervals) Option {
	return func(o *Options) { o.CheckIntervals = ci }
}

// WithOnEvent registers a direct runtime-event callback.
func WithOnEvent(f func(streamevent.Event)) Option {
	return func(o *Options) { o.OnEvent = f }
}

// WithCallbacks sets the legacy per-lifecycle callback bundle.
func WithCallbacks(cb event.Callbacks) Option {
	return func(o *Options) { o.Callbacks = cb }
}

// WithContinuation enables checkpoint-resumed fallback/retry and
// configures overlap deduplication.
func WithContinuation(buildPrompt func(string) any, dedup bool, dedupOpts checkpoint.Options) Option {
	return func(o *Options) {
		o.ContinueFromLastKnownGoodToken = true
		o.BuildContinuationPrompt = buildPrompt
		o.DeduplicateContinuation = dedup
		o.DeduplicationOptions = dedupOpts
	}
}

// WithAdapter sets an explicit adapter, short-circuiting the rest of the
// resolution precedence.
func WithAdapter(a adapter.Adapter) Option {
	return func(o *Options) { o.Adapter = a }
}

// WithAdapterRegistry sets the registry consulted during step 3 of
// adapter resolution.
func WithAdapterRegistry(r *adapter.Registry) Option {
	return func(o *Options) { o.AdapterRegistry = r }
}

// WithInterceptors appends before/after/error interceptors, run in
// registration order.
func WithInterceptors(ics ...Interceptor) Option {
	return func(o *Options) { o.Interceptors = append(o.Interceptors, ics...) }
}

// WithMeta attaches caller-supplied, immutable context surfaced on every
// emitted observability event.
func WithMeta(meta any) Option {
	return func(o *Options) { o.Meta = meta }
}

// WithRecording enables event-sourced recording of this run to store
// under streamID (a random id is generated if streamID is empty).
func WithRecording(store eventstore.Store, streamID string) Option {
	return func(o *Options) {
		o.Record = true
		o.Store = store
		o.StreamID = streamID
	}
}

// WithStrict enables observability-event schema validation.
func WithStrict(strict bool) Option {
	return func(o *Options) { o.Strict = strict }
}

// WithLogger overrides the default logger.
func WithLogger(l log.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithShouldRetryHook overrides the retry manager's should-retry verdict
// for this run.
func WithShouldRetryHook(f func(err error, attempt int) *bool) Option {
	return func(o *Options) { o.ShouldRetry = f }
}

// WithCalculateDelayHook overrides the retry manager's computed delay
// for this run.
func WithCalculateDelayHook(f func(err error, attempt int) *time.Duration) Option {
	return func(o *Options) { o.CalculateDelay = f }
}

func defaultOptions() Options {
	return Options{
		Timeout: Timeouts{InitialToken: 5 * time.Second, InterToken: 10 * time.Second},
		CheckIntervals: CheckIntervals{
			Guardrails: 5,
			Drift:      10,
			Checkpoint: 10,
		},
		DeduplicationOptions: checkpoint.DefaultOptions(),
		Logger:               log.Default,
	}
}

func buildOptions(opts ...Option) Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.CheckIntervals.Guardrails <= 0 {
		o.CheckIntervals.Guardrails = 5
	}
	if o.CheckIntervals.Drift <= 0 {
		o.CheckIntervals.Drift = 10
	}
	if o.CheckIntervals.Checkpoint <= 0 {
		o.CheckIntervals.Checkpoint = 10
	}
	if o.Logger == nil {
		o.Logger = log.Default
	}
	return o
}
