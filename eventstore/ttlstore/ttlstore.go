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

// Package ttlstore decorates any eventstore.Store (or SnapshotStore) with
// a read-time expiry window: entries older than TTL are filtered out of
// read results as if they had been deleted, without requiring every
// adapter to implement expiry itself.
package ttlstore

import (
	"context"
	"time"

	"trpc.group/trpc-go/trpc-streamguard-go/eventstore"
)

// Store wraps an eventstore.Store and hides envelopes/snapshots older
// than TTL from reads. It does not physically delete expired data; a
// caller wanting reclamation should pair this with periodic Delete calls
// driven by ListStreams.
type Store struct {
	inner eventstore.Store
	ttl   time.Duration
	now   func() time.Time
}

var _ eventstore.Store = (*Store)(nil)

// New wraps inner with a read-time expiry window of ttl.
func New(inner eventstore.Store, ttl time.Duration) *Store {
	return &Store{inner: inner, ttl: ttl, now: time.Now}
}

func (s *Store) expired(t time.Time) bool {
	return s.ttl > 0 && s.now().Sub(t) > s.ttl
}

// Append delegates unchanged; expiry only affects reads.
func (s *Store) Append(ctx context.Context, streamID string, event eventstore.RecordedEvent) error {
	return s.inner.Append(ctx, streamID, event)
}

// GetEvents filters out envelopes older than the configured TTL.
func (s *Store) GetEvents(ctx context.Context, streamID string) ([]eventstore.Envelope, error) {
	envs, err := s.inner.GetEvents(ctx, streamID)
	if err != nil {
		return nil, err
	}
	return s.filter(envs), nil
}

func (s *Store) filter(envs []eventstore.Envelope) []eventstore.Envelope {
	out := make([]eventstore.Envelope, 0, len(envs))
	for _, e := range envs {
		if !s.expired(e.RecordedAt) {
			out = append(out, e)
		}
	}
	return out
}

// Exists reports whether the stream has at least one non-expired event.
func (s *Store) Exists(ctx context.Context, streamID string) (bool, error) {
	envs, err := s.GetEvents(ctx, streamID)
	if err != nil {
		return false, err
	}
	return len(envs) > 0, nil
}

// GetLastEvent returns the most recent non-expired envelope.
func (s *Store) GetLastEvent(ctx context.Context, streamID string) (*eventstore.Envelope, error) {
	envs, err := s.GetEvents(ctx, streamID)
	if err != nil || len(envs) == 0 {
		return nil, err
	}
	e := envs[len(envs)-1]
	return &e, nil
}

// GetEventsAfter filters the inner adapter's results, then applies the
// same TTL cutoff.
func (s *Store) GetEventsAfter(ctx context.Context, streamID string, seq int) ([]eventstore.Envelope, error) {
	envs, err := s.inner.GetEventsAfter(ctx, streamID, seq)
	if err != nil {
		return nil, err
	}
	return s.filter(envs), nil
}

// Delete delegates to the inner store.
func (s *Store) Delete(ctx context.Context, streamID string) error {
	return s.inner.Delete(ctx, streamID)
}

// ListStreams delegates to the inner store; a stream whose events have
// all expired is still listed until someone deletes it.
func (s *Store) ListStreams(ctx context.Context) ([]string, error) {
	return s.inner.ListStreams(ctx)
}

// snapshotInner is satisfied by eventstore.SnapshotStore.
type snapshotInner interface {
	eventstore.Store
	SaveSnapshot(ctx context.Context, streamID string, snap eventstore.Snapshot) error
	GetSnapshot(ctx context.Context, streamID string) (*eventstore.Snapshot, bool, error)
	GetSnapshotBefore(ctx context.Context, streamID string, seq int) (*eventstore.Snapshot, bool, error)
}

// SnapshotStore is the TTL decorator for adapters that also support
// snapshots. Construct it with NewSnapshot when inner implements
// eventstore.SnapshotStore.
type SnapshotStore struct {
	Store
	inner snapshotInner
}

var _ eventstore.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshot wraps a SnapshotStore-capable inner adapter.
func NewSnapshot(inner snapshotInner, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{Store: Store{inner: inner, ttl: ttl, now: time.Now}, inner: inner}
}

// SaveSnapshot delegates to the inner store.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, streamID string, snap eventstore.Snapshot) error {
	return s.inner.SaveSnapshot(ctx, streamID, snap)
}

// GetSnapshot returns the inner snapshot unless it has expired.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, streamID string) (*eventstore.Snapshot, bool, error) {
	snap, ok, err := s.inner.GetSnapshot(ctx, streamID)
	if err != nil || !ok || s.expired(snap.CreatedAt) {
		return nil, false, err
	}
	return snap, true, nil
}

// GetSnapshotBefore returns the inner snapshot unless it has expired.
func (s *SnapshotStore) GetSnapshotBefore(ctx context.Context, streamID string, seq int) (*eventstore.Snapshot, bool, error) {
	snap, ok, err := s.inner.GetSnapshotBefore(ctx, streamID, seq)
	if err != nil || !ok || s.expired(snap.CreatedAt) {
		return nil, false, err
	}
	return snap, true, nil
}
