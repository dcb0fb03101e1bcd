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

// Package memstore is the in-memory eventstore.Store adapter, an
// in-process map of append-only envelope slices guarded by one mutex.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-streamguard-go/eventstore"
)

// Store is an in-memory, process-local event store. Lifecycle: a stream
// is created on first Append and destroyed on Delete.
type Store struct {
	mu        sync.Mutex
	streams   map[string][]eventstore.Envelope
	snapshots map[string]eventstore.Snapshot
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		streams:   make(map[string][]eventstore.Envelope),
		snapshots: make(map[string]eventstore.Snapshot),
	}
}

var _ eventstore.SnapshotStore = (*Store)(nil)

// Append implements eventstore.Store. The store-wide mutex is sufficient
// to serialize appends per stream; per-stream locking would only
// help cross-stream throughput, which this adapter does not need to
// optimize for.
func (s *Store) Append(_ context.Context, streamID string, event eventstore.RecordedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := len(s.streams[streamID])
	s.streams[streamID] = append(s.streams[streamID], eventstore.Envelope{
		StreamID: streamID, Seq: seq, Event: event, RecordedAt: time.Now(),
	})
	return nil
}

// GetEvents implements eventstore.Store.
func (s *Store) GetEvents(_ context.Context, streamID string) ([]eventstore.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eventstore.Envelope, len(s.streams[streamID]))
	copy(out, s.streams[streamID])
	return out, nil
}

// Exists implements eventstore.Store.
func (s *Store) Exists(_ context.Context, streamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.streams[streamID]
	return ok, nil
}

// GetLastEvent implements eventstore.Store.
func (s *Store) GetLastEvent(_ context.Context, streamID string) (*eventstore.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envs := s.streams[streamID]
	if len(envs) == 0 {
		return nil, nil
	}
	e := envs[len(envs)-1]
	return &e, nil
}

// GetEventsAfter implements eventstore.Store.
func (s *Store) GetEventsAfter(_ context.Context, streamID string, seq int) ([]eventstore.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envs := s.streams[streamID]
	var out []eventstore.Envelope
	for _, e := range envs {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Delete implements eventstore.Store.
func (s *Store) Delete(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[streamID]; !ok {
		return fmt.Errorf("memstore: unknown stream %q", streamID)
	}
	delete(s.streams, streamID)
	delete(s.snapshots, streamID)
	return nil
}

// ListStreams implements eventstore.Store.
func (s *Store) ListStreams(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.streams))
	for id := range s.streams {
		out = append(out, id)
	}
	return out, nil
}

// SaveSnapshot implements eventstore.SnapshotStore.
func (s *Store) SaveSnapshot(_ context.Context, streamID string, snap eventstore.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[streamID] = snap
	return nil
}

// GetSnapshot implements eventstore.SnapshotStore.
func (s *Store) GetSnapshot(_ context.Context, streamID string) (*eventstore.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[streamID]
	if !ok {
		return nil, false, nil
	}
	return &snap, true, nil
}

// GetSnapshotBefore implements eventstore.SnapshotStore. Since this
// adapter keeps only the latest snapshot per stream, it returns that
// snapshot when its Seq <= seq, matching the single-slot contract the
// in-memory adapter documents.
func (s *Store) GetSnapshotBefore(_ context.Context, streamID string, seq int) (*eventstore.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[streamID]
	if !ok || snap.Seq > seq {
		return nil, false, nil
	}
	return &snap, true, nil
}
