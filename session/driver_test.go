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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-streamguard-go/guardrail"
	"trpc.group/trpc-go/trpc-streamguard-go/model"
	"trpc.group/trpc-go/trpc-streamguard-go/retry"
)

// chunkStream replays a fixed sequence of chunks, then a terminal error (if
// set) or end-of-stream.
type chunkStream struct {
	chunks []model.Chunk
	err    error
	i      int
}

func (s *chunkStream) Next(ctx context.Context) (model.Chunk, bool, error) {
	if s.i < len(s.chunks) {
		c := s.chunks[s.i]
		s.i++
		return c, true, nil
	}
	if s.err != nil {
		return model.Chunk{}, false, s.err
	}
	return model.Chunk{}, false, nil
}

func tokenChunks(tokens ...string) []model.Chunk {
	out := make([]model.Chunk, len(tokens))
	for i, t := range tokens {
		out[i] = model.Chunk{Kind: model.ChunkToken, Token: t}
	}
	return out
}

func drain(t *testing.T, r *Result, timeout time.Duration) []string {
	t.Helper()
	var kinds []string
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				return kinds
			}
			kinds = append(kinds, string(ev.Kind))
			if ev.Kind == "complete" || ev.Kind == "error" {
				return kinds
			}
		case <-deadline:
			t.Fatal("timed out draining events")
			return nil
		}
	}
}

func TestRun_HappyPath(t *testing.T) {
	factory := func(ctx context.Context) (any, error) {
		return &chunkStream{chunks: tokenChunks("hello", " ", "world")}, nil
	}
	result, err := Run(context.Background(), WithStreamFactory(factory))
	require.NoError(t, err)

	kinds := drain(t, result, time.Second)
	assert.Equal(t, []string{"token", "token", "token", "complete"}, kinds)

	snap := result.Snapshot()
	assert.Equal(t, StateComplete, snap.State)
	assert.Equal(t, "hello world", snap.Content)
	assert.Equal(t, 3, snap.TokenCount)
}

func TestRun_GuardrailRetryThenSucceed(t *testing.T) {
	attempt := 0
	factory := func(ctx context.Context) (any, error) {
		attempt++
		if attempt == 1 {
			return &chunkStream{chunks: tokenChunks("bad word")}, nil
		}
		return &chunkStream{chunks: tokenChunks("clean output")}, nil
	}

	blockRule := guardrail.Func{
		RuleName:      "no-bad-word",
		RuleSeverity:  guardrail.SeverityError,
		RuleRecoverable: true,
		RuleStreaming: false,
		CheckFunc: func(ctx context.Context, gctx guardrail.Context) ([]guardrail.Violation, error) {
			if gctx.Completed && gctx.Content == "bad word" {
				return []guardrail.Violation{{Rule: "no-bad-word", Severity: guardrail.SeverityError, Recoverable: true}}, nil
			}
			return nil, nil
		},
	}

	result, err := Run(context.Background(),
		WithStreamFactory(factory),
		WithGuardrails(blockRule),
		WithRetry(retry.Config{Attempts: 2, BaseDelay: time.Millisecond, Strategy: retry.BackoffFixed}),
	)
	require.NoError(t, err)

	kinds := drain(t, result, 2*time.Second)
	assert.Contains(t, kinds, "complete")

	snap := result.Snapshot()
	assert.Equal(t, StateComplete, snap.State)
	assert.Equal(t, "clean output", snap.Content)
	assert.Equal(t, 2, attempt)
}

func TestRun_FallbackOnUnretryableFailure(t *testing.T) {
	primary := func(ctx context.Context) (any, error) {
		return nil, errors.New("invalid stream: misconfigured adapter")
	}
	fallback := func(ctx context.Context) (any, error) {
		return &chunkStream{chunks: tokenChunks("fallback content")}, nil
	}

	result, err := Run(context.Background(),
		WithStreamFactory(primary),
		WithFallbackStreamFactories(fallback),
		WithRetry(retry.Config{Attempts: 0}),
	)
	require.NoError(t, err)

	kinds := drain(t, result, 2*time.Second)
	assert.Contains(t, kinds, "complete")

	snap := result.Snapshot()
	assert.Equal(t, StateComplete, snap.State)
	assert.Equal(t, "fallback content", snap.Content)
	assert.Equal(t, 1, snap.FallbackIndex)
}

func TestRun_AllStreamsExhausted(t *testing.T) {
	factory := func(ctx context.Context) (any, error) {
		return nil, errors.New("invalid stream: always fails")
	}

	result, err := Run(context.Background(),
		WithStreamFactory(factory),
		WithRetry(retry.Config{Attempts: 0}),
	)
	require.NoError(t, err)

	kinds := drain(t, result, 2*time.Second)
	require.NotEmpty(t, kinds)
	assert.Equal(t, "error", kinds[len(kinds)-1])
	assert.NotEmpty(t, result.Errors())
}

// blockingStream never returns until ctx is cancelled, simulating a
// backend that never sends a first token.
type blockingStream struct{}

func (blockingStream) Next(ctx context.Context) (model.Chunk, bool, error) {
	<-ctx.Done()
	return model.Chunk{}, false, ctx.Err()
}

func TestRun_InitialTokenTimeout(t *testing.T) {
	factory := func(ctx context.Context) (any, error) {
		return blockingStream{}, nil
	}

	// Timeouts are TRANSIENT and do not count toward Attempts, so only
	// MaxRetries=0 stops them from being retried.
	noRetries := 0
	result, err := Run(context.Background(),
		WithStreamFactory(factory),
		WithTimeouts(20*time.Millisecond, time.Second),
		WithRetry(retry.Config{Attempts: 0, MaxRetries: &noRetries}),
	)
	require.NoError(t, err)

	kinds := drain(t, result, 2*time.Second)
	assert.Equal(t, "error", kinds[len(kinds)-1])
}

func TestRun_RequiresStreamFactory(t *testing.T) {
	_, err := Run(context.Background())
	assert.Error(t, err)
}

func TestResult_AbortIsIdempotent(t *testing.T) {
	started := make(chan struct{})
	factory := func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	result, err := Run(context.Background(), WithStreamFactory(factory))
	require.NoError(t, err)

	<-started
	result.Abort()
	result.Abort() // must not panic or block.

	drain(t, result, 2*time.Second)
	snap := result.Snapshot()
	assert.Equal(t, StateError, snap.State)
}
