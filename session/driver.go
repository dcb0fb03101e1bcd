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
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-streamguard-go/adapter"
	"trpc.group/trpc-go/trpc-streamguard-go/checkpoint"
	"trpc.group/trpc-go/trpc-streamguard-go/drift"
	"trpc.group/trpc-go/trpc-streamguard-go/event"
	"trpc.group/trpc-go/trpc-streamguard-go/eventstore"
	"trpc.group/trpc-go/trpc-streamguard-go/guardrail"
	"trpc.group/trpc-go/trpc-streamguard-go/log"
	"trpc.group/trpc-go/trpc-streamguard-go/model"
	"trpc.group/trpc-go/trpc-streamguard-go/retry"
	"trpc.group/trpc-go/trpc-streamguard-go/streamerror"
	"trpc.group/trpc-go/trpc-streamguard-go/streamevent"
	"trpc.group/trpc-go/trpc-streamguard-go/telemetry"
	"trpc.group/trpc-go/trpc-streamguard-go/toolcall"
)

// Driver orchestrates one Run invocation: attempts, retries, fallbacks,
// timeouts, abort, resume, and completion. It exclusively owns its
// Session and token buffer for the run's lifetime; the guardrail engine,
// drift detector, retry manager, and dispatcher are borrowed
// collaborators it owns for that same lifetime.
type Driver struct {
	opts   Options
	sess   *Session
	disp   *event.Dispatcher
	engine *guardrail.Engine
	driftD *drift.Detector
	retry  *retry.Manager
	log    log.Logger
	inst   *telemetry.Instruments

	result *Result

	ctx    context.Context
	cancel context.CancelFunc

	aborted atomic.Bool
}

// Run starts one session against opts and returns immediately with a
// Result exposing a lazy event sequence, a live state snapshot, and an
// abort operation. The actual work happens on an internal goroutine.
func Run(ctx context.Context, opts ...Option) (*Result, error) {
	o := buildOptions(opts...)
	if o.StreamFactory == nil {
		return nil, fmt.Errorf("session: StreamFactory is required")
	}
	streamID := o.StreamID
	if streamID == "" {
		streamID = uuid.New().String()
	}
	if o.Record && o.Store == nil {
		return nil, fmt.Errorf("session: %s: recording enabled without a Store", streamerror.CodeFeatureNotEnabled)
	}

	sess := newSession(streamID)
	disp := event.NewDispatcher(streamID, o.Meta, o.Strict, o.Logger)
	disp.Register(event.NewCallbackSink(o.Callbacks))

	var engine *guardrail.Engine
	if len(o.Guardrails) > 0 {
		var err error
		engine, err = guardrail.NewEngine(o.Guardrails, guardrail.WithLogger(o.Logger))
		if err != nil {
			return nil, fmt.Errorf("session: building guardrail engine: %w", err)
		}
	}
	var driftD *drift.Detector
	if o.DetectDrift {
		driftD = &drift.Detector{}
	}
	var inst *telemetry.Instruments
	if o.Monitoring {
		var err error
		inst, err = telemetry.NewInstruments()
		if err != nil {
			return nil, fmt.Errorf("session: building telemetry instruments: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d := &Driver{
		opts:   o,
		sess:   sess,
		disp:   disp,
		engine: engine,
		driftD: driftD,
		retry:  retry.NewManager(o.Retry, nil),
		log:    o.Logger,
		inst:   inst,
		ctx:    runCtx,
		cancel: cancel,
	}
	d.result = newResult(sess, d.requestAbort)

	if o.Signal != nil {
		go func() {
			select {
			case <-o.Signal:
				d.result.Abort()
			case <-runCtx.Done():
			}
		}()
	}

	go d.runLoop()
	return d.result, nil
}

// requestAbort is Result.Abort's underlying implementation: idempotent
// (guarded by Result's sync.Once), it emits ABORT_REQUESTED immediately
// and cancels the run context, which is observed at the next suspension
// point.
func (d *Driver) requestAbort() {
	d.aborted.Store(true)
	d.disp.Emit(event.TypeAbortRequested, nil)
	d.cancel()
}

func (d *Driver) runLoop() {
	defer func() {
		if d.aborted.Load() {
			d.disp.Emit(event.TypeAbortCompleted, nil)
		}
	}()
	defer close(d.result.ch)
	defer d.cancel()

	if err := d.runInterceptorsBefore(); err != nil {
		d.fail(streamerror.New(streamerror.CodeInvalidStream, err.Error(), retry.CategoryInternal))
		return
	}

	d.sess.setState(StateInit)
	d.disp.Emit(event.TypeSessionStart, nil)
	if d.inst != nil {
		d.inst.Sessions.Add(d.ctx, 1, metric.WithAttributes(attribute.String("phase", "start")))
	}
	if d.opts.Record {
		d.recordAppend(eventstore.RecordedEvent{Kind: eventstore.KindStart, SerializedOptions: d.serializedOptionsSummary()})
	}

	factories := append([]StreamFactory{d.opts.StreamFactory}, d.opts.FallbackStreamFactories...)

	var finalErr *streamerror.Error
	for d.sess.getFallbackIndex() < len(factories) {
		if d.ctx.Err() != nil {
			finalErr = d.abortError()
			break
		}

		idx := d.sess.getFallbackIndex()
		hasFallback := idx+1 < len(factories)
		outcome := d.runFactory(factories[idx], hasFallback)

		switch outcome.kind {
		case outcomeComplete:
			d.succeed()
			return
		case outcomeAbort:
			finalErr = outcome.err
		case outcomeFallback:
			next := idx + 1
			d.sess.setFallbackIndex(next)
			d.disp.Emit(event.TypeFallbackStart, map[string]any{"to": next})
			if d.inst != nil {
				d.inst.Fallbacks.Add(d.ctx, 1)
			}
			if d.opts.Record {
				d.recordAppend(eventstore.RecordedEvent{Kind: eventstore.KindFallback, To: next})
			}
			continue
		case outcomeSurface:
			finalErr = outcome.err
		}
		break
	}
	if finalErr == nil {
		finalErr = d.buildStreamError(streamerror.CodeAllStreamsExhausted, "all stream factories exhausted", retry.CategoryProvider)
	}
	d.fail(finalErr)
}

type outcomeKind int

const (
	outcomeComplete outcomeKind = iota
	outcomeFallback
	outcomeSurface
	outcomeAbort
)

type attemptOutcome struct {
	kind outcomeKind
	err  *streamerror.Error
}

type attemptError struct {
	err    *streamerror.Error
	reason retry.Reason
}

// runFactory loops attempts against one stream factory until success, an
// unretryable failure, or abort. On an unretryable failure it decides
// between advancing to the next factory (if one exists) and surfacing
// the error.
func (d *Driver) runFactory(factory StreamFactory, hasFallback bool) attemptOutcome {
	attempt := 0
	for {
		attempt++
		d.disp.Emit(event.TypeAttemptStart, map[string]any{"attempt": attempt, "fallback_index": d.sess.getFallbackIndex()})
		d.sess.resetPerAttempt()

		completed, aerr := d.runAttempt(factory, attempt)
		if completed {
			return attemptOutcome{kind: outcomeComplete}
		}
		if d.ctx.Err() != nil {
			return attemptOutcome{kind: outcomeAbort, err: d.abortError()}
		}

		d.result.addError(aerr.err)

		decision := d.retry.Decide(aerr.err, aerr.reason, attempt)
		if d.opts.ShouldRetry != nil {
			if b := d.opts.ShouldRetry(aerr.err, attempt); b != nil {
				decision.ShouldRetry = *b
			}
		}

		if decision.ShouldRetry {
			d.disp.Emit(event.TypeRetryAttempt, map[string]any{
				"attempt": attempt, "reason": string(aerr.reason), "category": string(decision.Category),
			})
			if d.inst != nil {
				d.inst.Retries.Add(d.ctx, 1, metric.WithAttributes(attribute.String("category", string(decision.Category))))
			}
			if d.opts.Record {
				d.recordAppend(eventstore.RecordedEvent{
					Kind: eventstore.KindRetry, Attempt: attempt, Reason: string(aerr.reason),
					CountsTowardLimit: decision.CountsTowardLimit,
				})
			}
			if decision.CountsTowardLimit {
				d.sess.incModelRetry()
			} else {
				d.sess.incNetworkRetry()
			}
			d.sess.setState(StateRetrying)

			delay := decision.Delay
			if d.opts.CalculateDelay != nil {
				if dd := d.opts.CalculateDelay(aerr.err, attempt); dd != nil {
					delay = *dd
				}
			}
			if err := retry.Wait(d.ctx, delay); err != nil {
				return attemptOutcome{kind: outcomeAbort, err: d.abortError()}
			}
			continue
		}

		if hasFallback {
			return attemptOutcome{kind: outcomeFallback}
		}
		return attemptOutcome{kind: outcomeSurface, err: aerr.err}
	}
}

// runAttempt runs one traversal of factory from acquisition to terminal
// token or error.
func (d *Driver) runAttempt(factory StreamFactory, attempt int) (bool, *attemptError) {
	if d.inst != nil {
		_, span := telemetry.Tracer.Start(d.ctx, "session.attempt", trace.WithAttributes(attribute.Int("attempt", attempt)))
		defer span.End()
	}

	cp := d.sess.getCheckpoint()
	resuming := d.opts.ContinueFromLastKnownGoodToken && !cp.Empty()
	if !resuming {
		d.sess.resetContent()
	}
	var overlapBuf *checkpoint.OverlapBuffer
	if resuming {
		if !d.validateAndSeedResume(cp) {
			cp = checkpoint.Checkpoint{}
			d.sess.resetContent()
		} else if d.opts.DeduplicateContinuation {
			overlapBuf = checkpoint.NewOverlapBuffer(cp.Content, d.opts.DeduplicationOptions)
		}
	}

	raw, err := factory(d.ctx)
	if err != nil {
		return false, d.asAttemptError(streamerror.CodeInvalidStream, err.Error(), retry.CategoryInternal)
	}
	stream, err := adapter.Resolve(d.ctx, raw, d.opts.Adapter, d.opts.AdapterRegistry)
	if err != nil {
		return false, d.asAttemptError(streamerror.CodeAdapterNotFound, err.Error(), retry.CategoryInternal)
	}

	d.sess.setState(StateWaitingFirstToken)

	chunkCh := make(chan model.Chunk)
	errCh := make(chan error, 1)
	go d.pump(stream, chunkCh, errCh)

	firstTokenSeen := false
	var deltaGuardrail, deltaDrift strings.Builder
	tokensSinceGuardrail, tokensSinceDrift, tokensSinceCheckpoint := 0, 0, 0

streamLoop:
	for {
		var timeout time.Duration
		if firstTokenSeen {
			timeout = d.timeoutOr(d.opts.Timeout.InterToken, 10*time.Second)
		} else {
			timeout = d.timeoutOr(d.opts.Timeout.InitialToken, 5*time.Second)
		}
		timer := time.NewTimer(timeout)

		select {
		case <-d.ctx.Done():
			timer.Stop()
			return false, d.partialFailure(streamerror.CodeStreamAborted, "stream aborted", retry.CategoryProvider)

		case <-timer.C:
			if firstTokenSeen {
				d.disp.Emit(event.TypeTimeoutTriggered, map[string]any{"kind": "inter_token"})
				return false, d.partialFailure(streamerror.CodeInterTokenTimeout, "inter-token timeout", retry.CategoryTransient)
			}
			d.disp.Emit(event.TypeTimeoutTriggered, map[string]any{"kind": "initial_token"})
			return false, d.partialFailure(streamerror.CodeInitialTokenTimeout, "initial token timeout", retry.CategoryTransient)

		case err := <-errCh:
			timer.Stop()
			return false, d.partialFailure(streamerror.CodeNetworkError, err.Error(), retry.CategoryNetwork)

		case chunk, ok := <-chunkCh:
			timer.Stop()
			if !ok {
				break streamLoop
			}
			if !firstTokenSeen {
				firstTokenSeen = true
				d.sess.setState(StateStreaming)
			}

			switch chunk.Kind {
			case model.ChunkToken:
				d.consumeToken(chunk.Token, &overlapBuf, &deltaGuardrail, &deltaDrift)
				tokensSinceGuardrail++
				tokensSinceDrift++
				tokensSinceCheckpoint++
			case model.ChunkMessage:
				if chunk.Message != nil {
					d.handleMessage(*chunk.Message)
				}
			case model.ChunkData:
				d.emitData(chunk.Data)
			case model.ChunkProgress:
				d.emitProgress(chunk.Fraction)
			case model.ChunkError:
				return false, d.partialFailure(streamerror.CodeNetworkError, chunk.Err.Error(), retry.CategoryNetwork)
			case model.ChunkComplete:
				break streamLoop
			}

			if d.engine != nil && tokensSinceGuardrail >= d.opts.CheckIntervals.Guardrails {
				tokensSinceGuardrail = 0
				d.runStreamingGuardrails(deltaGuardrail.String())
				deltaGuardrail.Reset()
			}
			if d.driftD != nil && tokensSinceDrift >= d.opts.CheckIntervals.Drift {
				tokensSinceDrift = 0
				d.runDrift(deltaDrift.String())
				deltaDrift.Reset()
			}
			if tokensSinceCheckpoint >= d.opts.CheckIntervals.Checkpoint {
				tokensSinceCheckpoint = 0
				d.saveCheckpoint()
			}
		}
	}

	if overlapBuf != nil && !overlapBuf.Resolved() {
		if remainder := overlapBuf.Flush(); remainder != "" {
			d.sess.appendToken(remainder)
			d.emitToken(remainder)
		}
	}

	return d.finalizeAttempt()
}

// pump reads raw chunks off stream and republishes them on chunkCh,
// closing it at end-of-stream or pushing the failure to errCh. It exits
// promptly once d.ctx is cancelled even if the consumer has stopped
// reading.
func (d *Driver) pump(stream adapter.Stream, chunkCh chan<- model.Chunk, errCh chan<- error) {
	for {
		chunk, ok, err := stream.Next(d.ctx)
		if err != nil {
			errCh <- err
			return
		}
		if !ok {
			close(chunkCh)
			return
		}
		select {
		case chunkCh <- chunk:
		case <-d.ctx.Done():
			return
		}
	}
}

// consumeToken routes one token chunk either into the resume overlap
// buffer or directly into the session buffer, per the deduplication
// state machine.
func (d *Driver) consumeToken(tok string, overlapBuf **checkpoint.OverlapBuffer, deltaGuardrail, deltaDrift *strings.Builder) {
	if *overlapBuf != nil && !(*overlapBuf).Resolved() {
		emit, resolved := (*overlapBuf).Append(tok)
		if emit != "" {
			d.sess.appendToken(emit)
			d.emitToken(emit)
			deltaGuardrail.WriteString(emit)
			deltaDrift.WriteString(emit)
		}
		if resolved {
			*overlapBuf = nil
		}
		return
	}
	d.sess.appendToken(tok)
	d.emitToken(tok)
	deltaGuardrail.WriteString(tok)
	deltaDrift.WriteString(tok)
}

// validateAndSeedResume validates cp through the guardrail engine (and,
// for completeness, the drift detector), clearing and reporting failure
// if a fatal violation is found. On success it emits RESUME_START, seeds
// the token buffer with the checkpoint content as a single synthetic
// token event, and calls the advisory continuation-prompt hook.
func (d *Driver) validateAndSeedResume(cp checkpoint.Checkpoint) bool {
	gctx := guardrail.Context{Content: cp.Content, Checkpoint: cp.Content, TokenCount: cp.TokenCount, Completed: false}
	if d.engine != nil {
		result := d.engine.EvaluateFinal(d.ctx, gctx)
		d.applyGuardrailResult(result)
		if result.ShouldHalt {
			d.sess.clearCheckpoint()
			return false
		}
	}
	if d.driftD != nil {
		d.driftD.Detect(cp.Content, "")
	}

	d.sess.setResumed(cp.Content)
	d.disp.Emit(event.TypeResumeStart, map[string]any{"checkpoint_len": len(cp.Content)})
	if d.opts.Record {
		d.recordAppend(eventstore.RecordedEvent{Kind: eventstore.KindContinuation, At: cp.TokenCount, Content: cp.Content})
	}
	d.sess.setContent(cp.Content)
	d.emitToken(cp.Content)
	if d.opts.BuildContinuationPrompt != nil {
		d.opts.BuildContinuationPrompt(cp.Content)
	}
	return true
}

// finalizeAttempt implements end-of-stream handling: zero-output
// detection, final guardrails, and final drift, each of which may signal
// a retryable failure instead of success.
func (d *Driver) finalizeAttempt() (bool, *attemptError) {
	d.sess.setState(StateFinalizing)
	content := d.sess.content()
	snap := d.sess.Snapshot()

	if d.opts.DetectZeroTokens && strings.TrimSpace(content) == "" {
		return false, d.partialFailure(streamerror.CodeZeroOutput, "stream produced no meaningful output", retry.CategoryModel)
	}

	if d.engine != nil {
		gctx := guardrail.Context{Content: content, Checkpoint: snap.Checkpoint.Content, TokenCount: snap.TokenCount, Completed: true}
		result := d.engine.EvaluateFinal(d.ctx, gctx)
		d.applyGuardrailResult(result)
		if result.ShouldHalt {
			d.sess.clearCheckpoint()
			return false, &attemptError{
				err:    d.buildStreamError(streamerror.CodeFatalGuardrailViolation, "fatal guardrail violation", retry.CategoryFatal),
				reason: retry.ReasonGuardrailViolation,
			}
		}
		if result.ShouldRetry {
			d.sess.setCheckpoint(checkpoint.Checkpoint{Content: content, TokenCount: snap.TokenCount})
			return false, &attemptError{
				err:    d.buildStreamError(streamerror.CodeGuardrailViolation, "guardrail violation", retry.CategoryModel),
				reason: retry.ReasonGuardrailViolation,
			}
		}
	}

	if d.driftD != nil {
		res := d.driftD.Detect(content, "")
		d.emitDriftResult(res)
		if res.Detected {
			return false, &attemptError{
				err:    d.buildStreamError(streamerror.CodeDriftDetected, "drift detected in final content", retry.CategoryModel),
				reason: retry.ReasonDrift,
			}
		}
	}

	return true, nil
}

// partialFailure implements the error-path partial-content handling:
// re-run final guardrails on whatever was accumulated so the violation
// record is accurate, update the checkpoint to the validated partial
// content unless a fatal violation is present (in which case clear it),
// then build the rich error the caller and retry manager consult.
func (d *Driver) partialFailure(code streamerror.Code, message string, category retry.Category) *attemptError {
	content := d.sess.content()
	fatal := false
	if d.engine != nil {
		gctx := guardrail.Context{
			Content: content, Checkpoint: d.sess.getCheckpoint().Content,
			TokenCount: d.sess.Snapshot().TokenCount, Completed: false,
		}
		result := d.engine.EvaluateFinal(d.ctx, gctx)
		d.applyGuardrailResult(result)
		fatal = result.ShouldHalt
	}
	if fatal {
		d.sess.clearCheckpoint()
	} else if content != "" {
		d.sess.setCheckpoint(checkpoint.Checkpoint{Content: content, TokenCount: d.sess.Snapshot().TokenCount})
	}
	if d.opts.Record {
		d.recordAppend(eventstore.RecordedEvent{Kind: eventstore.KindError, Error: message, Recoverable: !fatal})
	}
	return d.asAttemptError(code, message, category)
}

func (d *Driver) asAttemptError(code streamerror.Code, message string, category retry.Category) *attemptError {
	return &attemptError{err: d.buildStreamError(code, message, category), reason: reasonForCode(code)}
}

func reasonForCode(c streamerror.Code) retry.Reason {
	switch c {
	case streamerror.CodeInitialTokenTimeout, streamerror.CodeInterTokenTimeout:
		return retry.ReasonTimeout
	case streamerror.CodeNetworkError:
		return retry.ReasonNetworkError
	case streamerror.CodeZeroOutput:
		return retry.ReasonZeroOutput
	case streamerror.CodeGuardrailViolation, streamerror.CodeFatalGuardrailViolation:
		return retry.ReasonGuardrailViolation
	case streamerror.CodeDriftDetected:
		return retry.ReasonDrift
	default:
		return ""
	}
}

func (d *Driver) buildStreamError(code streamerror.Code, message string, category retry.Category) *streamerror.Error {
	snap := d.sess.Snapshot()
	serr := streamerror.New(code, message, category)
	serr.Checkpoint = snap.Checkpoint.Content
	serr.TokenCount = snap.TokenCount
	serr.ContentLength = len(snap.Content)
	serr.ModelRetryCount = snap.ModelRetries
	serr.NetworkRetryCount = snap.NetworkRetries
	serr.FallbackIndex = snap.FallbackIndex
	serr.Context = d.opts.Meta
	return serr
}

func (d *Driver) abortError() *streamerror.Error {
	return d.buildStreamError(streamerror.CodeStreamAborted, "stream aborted", retry.CategoryProvider)
}

func (d *Driver) applyGuardrailResult(result guardrail.Result) {
	d.sess.addViolations(result.Violations)
	for _, v := range result.Violations {
		d.disp.Emit(event.TypeGuardrailEvaluated, map[string]any{
			"violations": len(result.Violations), "rule": v.Rule, "message": v.Message, "severity": string(v.Severity),
		})
	}
	if d.inst != nil && len(result.Violations) > 0 {
		d.inst.Violations.Add(d.ctx, int64(len(result.Violations)))
	}
	if d.opts.Record && len(result.Violations) > 0 {
		d.recordAppend(eventstore.RecordedEvent{Kind: eventstore.KindGuardrail, GuardrailResult: result})
	}
}

func (d *Driver) runStreamingGuardrails(delta string) {
	snap := d.sess.Snapshot()
	gctx := guardrail.Context{Content: snap.Content, Checkpoint: snap.Checkpoint.Content, Delta: delta, TokenCount: snap.TokenCount}
	result, pending := d.engine.Evaluate(d.ctx, gctx)
	if pending {
		if deferred, ok := d.engine.PollDeferred(); ok {
			d.applyGuardrailResult(deferred)
		}
		return
	}
	d.applyGuardrailResult(result)
}

func (d *Driver) runDrift(delta string) {
	snap := d.sess.Snapshot()
	res := d.driftD.Detect(snap.Content, delta)
	d.emitDriftResult(res)
}

func (d *Driver) emitDriftResult(res drift.Result) {
	if res.Detected {
		d.sess.setDrift(true)
	}
	types := make([]string, len(res.Types))
	for i, t := range res.Types {
		types[i] = string(t)
	}
	d.disp.Emit(event.TypeDriftEvaluated, map[string]any{"detected": res.Detected, "types": types, "confidence": res.Confidence})
	if d.inst != nil && res.Detected {
		d.inst.DriftHits.Add(d.ctx, 1)
	}
	if d.opts.Record && res.Detected {
		d.recordAppend(eventstore.RecordedEvent{Kind: eventstore.KindDrift, DriftResult: res})
	}
}

func (d *Driver) saveCheckpoint() {
	snap := d.sess.Snapshot()
	d.sess.setCheckpoint(checkpoint.Checkpoint{Content: snap.Content, TokenCount: snap.TokenCount})
	d.disp.Emit(event.TypeCheckpointSaved, map[string]any{"at": snap.TokenCount})
	if d.opts.Record {
		d.recordAppend(eventstore.RecordedEvent{Kind: eventstore.KindCheckpoint, At: snap.TokenCount, Content: snap.Content})
	}
}

func (d *Driver) handleMessage(msg model.Message) {
	d.emit(streamevent.Message(msg))
	if tc, ok := toolcall.Detect([]byte(msg.Content)); ok {
		d.disp.Emit(event.TypeToolRequested, map[string]any{"id": tc.ID, "name": tc.Name, "arguments": tc.Arguments})
		return
	}
	if res, ok := toolcall.DetectResult([]byte(msg.Content)); ok {
		typ := event.TypeToolResult
		if res.IsError {
			typ = event.TypeToolError
		}
		d.disp.Emit(typ, map[string]any{"id": res.ID})
		d.disp.Emit(event.TypeToolCompleted, map[string]any{"id": res.ID})
	}
}

func (d *Driver) emitToken(v string)              { d.emit(streamevent.Token(v)) }
func (d *Driver) emitData(raw json.RawMessage)    { d.emit(streamevent.Data(raw)) }
func (d *Driver) emitProgress(fraction float64)   { d.emit(streamevent.Progress(fraction)) }

// emit sends one runtime event downstream, honoring back-pressure: the
// driver only advances the underlying stream once the consumer receives
// the previous event. A cancelled context lets emit return instead of
// blocking forever against an abandoned consumer.
func (d *Driver) emit(ev streamevent.Event) {
	if d.opts.OnEvent != nil {
		d.opts.OnEvent(ev)
	}
	select {
	case d.result.ch <- ev:
	case <-d.ctx.Done():
	}
}

// emitFinal sends the session's one terminal event. Unlike emit, it does
// not race against ctx cancellation: the driver itself cancels ctx on
// abort, and the terminal event must still reach a consumer that is
// still draining Events().
func (d *Driver) emitFinal(ev streamevent.Event) {
	if d.opts.OnEvent != nil {
		d.opts.OnEvent(ev)
	}
	d.result.ch <- ev
}

func (d *Driver) succeed() {
	d.sess.setState(StateComplete)
	snap := d.sess.Snapshot()
	d.emitFinal(streamevent.Complete())
	d.disp.Emit(event.TypeComplete, map[string]any{"token_count": snap.TokenCount, "content": snap.Content})
	if d.inst != nil {
		d.inst.Sessions.Add(d.ctx, 1, metric.WithAttributes(attribute.String("phase", "success")))
	}
	if d.opts.Record {
		d.recordAppend(eventstore.RecordedEvent{Kind: eventstore.KindComplete, TokenCount: snap.TokenCount})
	}
	d.runInterceptorsAfter()
}

func (d *Driver) fail(serr *streamerror.Error) {
	d.sess.setState(StateError)
	d.emitFinal(streamevent.Error(serr, string(serr.Category)))
	d.disp.Emit(event.TypeError, map[string]any{"code": string(serr.Code), "error": error(serr), "category": string(serr.Category)})
	if d.inst != nil {
		d.inst.Sessions.Add(d.ctx, 1, metric.WithAttributes(attribute.String("phase", "failure")))
	}
	if d.opts.Record {
		d.recordAppend(eventstore.RecordedEvent{Kind: eventstore.KindError, Error: serr.Message, Recoverable: len(serr.Checkpoint) > 0})
	}
	d.result.addError(serr)
	d.runInterceptorsError(serr)
}

func (d *Driver) recordAppend(re eventstore.RecordedEvent) {
	if d.opts.Store == nil {
		return
	}
	if err := d.opts.Store.Append(d.ctx, d.sess.id, re); err != nil {
		d.log.Errorf("session: append to event store failed: %v", err)
	}
}

func (d *Driver) serializedOptionsSummary() string {
	data, err := json.Marshal(map[string]any{
		"timeout_initial_token":               d.opts.Timeout.InitialToken.String(),
		"timeout_inter_token":                 d.opts.Timeout.InterToken.String(),
		"check_intervals":                     d.opts.CheckIntervals,
		"detect_drift":                        d.opts.DetectDrift,
		"detect_zero_tokens":                  d.opts.DetectZeroTokens,
		"continue_from_last_known_good_token": d.opts.ContinueFromLastKnownGoodToken,
	})
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (d *Driver) timeoutOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func (d *Driver) runInterceptorsBefore() error {
	for _, ic := range d.opts.Interceptors {
		if ic.Before == nil {
			continue
		}
		newOpts, err := ic.Before(d.ctx, &d.opts)
		if err != nil {
			return err
		}
		if newOpts != nil {
			d.opts = *newOpts
		}
	}
	return nil
}

func (d *Driver) runInterceptorsAfter() {
	for _, ic := range d.opts.Interceptors {
		if ic.After == nil {
			continue
		}
		if _, err := ic.After(d.ctx, d.result); err != nil {
			d.log.Errorf("session: after-interceptor failed: %v", err)
		}
	}
}

func (d *Driver) runInterceptorsError(err error) {
	for _, ic := range d.opts.Interceptors {
		if ic.Error == nil {
			continue
		}
		ic.Error(d.ctx, err, &d.opts)
	}
}
