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

// Package adapter normalizes heterogeneous raw backend streams into a
// single pull-based Chunk iterator the session driver can consume,
// following a four-step precedence order:
// explicit adapter, native handle, registry detection, generic iterable.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-streamguard-go/model"
)

// ErrNoAdapter is returned when no adapter in the precedence chain can
// classify a raw stream. The driver wraps this into a fatal INTERNAL
// error when none of the four steps produce a Stream.
var ErrNoAdapter = errors.New("adapter: no adapter could classify the raw stream")

// Stream is the normalized, pull-based chunk sequence the driver reads
// from. Next blocks until a chunk is available, the stream is exhausted
// (ok == false), or ctx is done.
type Stream interface {
	Next(ctx context.Context) (chunk model.Chunk, ok bool, err error)
}

// StreamFunc adapts a function to a Stream.
type StreamFunc func(ctx context.Context) (model.Chunk, bool, error)

// Next implements Stream.
func (f StreamFunc) Next(ctx context.Context) (model.Chunk, bool, error) { return f(ctx) }

// Adapter turns a raw backend value into a normalized Stream.
type Adapter interface {
	// Name identifies the adapter for logging and explicit selection.
	Name() string
	// Detect reports whether this adapter can handle raw. Used only
	// during registry-detection precedence (step 3).
	Detect(raw any) bool
	// Adapt normalizes raw into a Stream. Called once Detect (or an
	// explicit/native match) has selected this adapter.
	Adapt(ctx context.Context, raw any) (Stream, error)
}

// TextStream is a native handle a raw stream can implement directly to
// skip registry detection: a stream of plain token strings.
type TextStream interface {
	Next(ctx context.Context) (token string, ok bool, err error)
}

// FullStream is a native handle a raw stream can implement directly: a
// stream of already-normalized chunks.
type FullStream interface {
	Next(ctx context.Context) (model.Chunk, bool, error)
}

// ChunkIterator is the generic-iterable fallback (step 4): any raw value
// that can hand back a receive-only channel of chunks. The channel must be
// closed by the producer when the stream ends; a chunk of Kind
// model.ChunkError ends the stream with that error.
type ChunkIterator interface {
	Chunks() <-chan model.Chunk
}

// Registry holds named adapters consulted in registration order during
// step 3 (registry detection). It is safe for concurrent use and is
// constructor-injectable rather than a package-level global, so multiple
// registries can coexist in the same process.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends an adapter to the detection chain.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
}

// Detect returns the first registered adapter whose Detect reports true.
func (r *Registry) Detect(raw any) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		if a.Detect(raw) {
			return a
		}
	}
	return nil
}

// Resolve classifies raw into a normalized Stream following the
// specification's precedence order:
//
//  1. explicit: use adapter if non-nil.
//  2. native handle: raw implements FullStream or TextStream.
//  3. registry: the first adapter in reg whose Detect matches.
//  4. generic iterable: raw implements ChunkIterator, or is a bare
//     <-chan model.Chunk.
//
// Resolve returns ErrNoAdapter, wrapped with the attempted raw type, if
// none of the four steps produce a Stream.
func Resolve(ctx context.Context, raw any, explicit Adapter, reg *Registry) (Stream, error) {
	if explicit != nil {
		return explicit.Adapt(ctx, raw)
	}
	if fs, ok := raw.(FullStream); ok {
		return StreamFunc(fs.Next), nil
	}
	if ts, ok := raw.(TextStream); ok {
		return textStreamAdapter{ts}, nil
	}
	if reg != nil {
		if a := reg.Detect(raw); a != nil {
			return a.Adapt(ctx, raw)
		}
	}
	if it, ok := raw.(ChunkIterator); ok {
		return channelStream{it.Chunks()}, nil
	}
	if ch, ok := raw.(<-chan model.Chunk); ok {
		return channelStream{ch}, nil
	}
	if ch, ok := raw.(chan model.Chunk); ok {
		return channelStream{ch}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNoAdapter, raw)
}

// textStreamAdapter wraps a TextStream into a Stream of token chunks.
type textStreamAdapter struct {
	ts TextStream
}

func (t textStreamAdapter) Next(ctx context.Context) (model.Chunk, bool, error) {
	tok, ok, err := t.ts.Next(ctx)
	if err != nil || !ok {
		return model.Chunk{}, ok, err
	}
	return model.Chunk{Kind: model.ChunkToken, Token: tok}, true, nil
}

// channelStream adapts a receive-only chunk channel into a Stream.
type channelStream struct {
	ch <-chan model.Chunk
}

func (c channelStream) Next(ctx context.Context) (model.Chunk, bool, error) {
	select {
	case <-ctx.Done():
		return model.Chunk{}, false, ctx.Err()
	case chunk, ok := <-c.ch:
		if !ok {
			return model.Chunk{}, false, nil
		}
		if chunk.Kind == model.ChunkError {
			return model.Chunk{}, false, chunk.Err
		}
		return chunk, true, nil
	}
}
