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

// Package filestore is the file-backed eventstore.Store adapter: one
// pretty-printed JSON array of envelopes per stream, plus a sibling
// ".snapshot.json". Stream ids are validated against
// ^[A-Za-z0-9_-]+$ before any path is constructed.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-streamguard-go/eventstore"
)

var streamIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidStreamID is returned when a stream id contains characters
// outside [A-Za-z0-9_-], before the filesystem is touched.
var ErrInvalidStreamID = errors.New("filestore: invalid stream id")

// Store persists each stream as its own JSON file under Dir.
type Store struct {
	Dir string
	mu  sync.Mutex
}

var _ eventstore.SnapshotStore = (*Store)(nil)

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) validate(streamID string) error {
	if !streamIDRe.MatchString(streamID) {
		return fmt.Errorf("%w: %q", ErrInvalidStreamID, streamID)
	}
	return nil
}

func (s *Store) eventsPath(streamID string) string {
	return filepath.Join(s.Dir, streamID+".json")
}

func (s *Store) snapshotPath(streamID string) string {
	return filepath.Join(s.Dir, streamID+".snapshot.json")
}

func (s *Store) readEnvelopes(streamID string) ([]eventstore.Envelope, error) {
	data, err := os.ReadFile(s.eventsPath(streamID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var envs []eventstore.Envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

func (s *Store) writeEnvelopes(streamID string, envs []eventstore.Envelope) error {
	data, err := json.MarshalIndent(envs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.eventsPath(streamID), data, 0o644)
}

// Append implements eventstore.Store.
func (s *Store) Append(_ context.Context, streamID string, event eventstore.RecordedEvent) error {
	if err := s.validate(streamID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	envs, err := s.readEnvelopes(streamID)
	if err != nil {
		return err
	}
	envs = append(envs, eventstore.Envelope{StreamID: streamID, Seq: len(envs), Event: event, RecordedAt: time.Now()})
	return s.writeEnvelopes(streamID, envs)
}

// GetEvents implements eventstore.Store.
func (s *Store) GetEvents(_ context.Context, streamID string) ([]eventstore.Envelope, error) {
	if err := s.validate(streamID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readEnvelopes(streamID)
}

// Exists implements eventstore.Store.
func (s *Store) Exists(_ context.Context, streamID string) (bool, error) {
	if err := s.validate(streamID); err != nil {
		return false, err
	}
	_, err := os.Stat(s.eventsPath(streamID))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// GetLastEvent implements eventstore.Store.
func (s *Store) GetLastEvent(ctx context.Context, streamID string) (*eventstore.Envelope, error) {
	envs, err := s.GetEvents(ctx, streamID)
	if err != nil || len(envs) == 0 {
		return nil, err
	}
	e := envs[len(envs)-1]
	return &e, nil
}

// GetEventsAfter implements eventstore.Store.
func (s *Store) GetEventsAfter(ctx context.Context, streamID string, seq int) ([]eventstore.Envelope, error) {
	envs, err := s.GetEvents(ctx, streamID)
	if err != nil {
		return nil, err
	}
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
	if err := s.validate(streamID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.eventsPath(streamID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Remove(s.snapshotPath(streamID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ListStreams implements eventstore.Store.
func (s *Store) ListStreams(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" && !regexp.MustCompile(`\.snapshot\.json$`).MatchString(name) {
			out = append(out, name[:len(name)-len(".json")])
		}
	}
	return out, nil
}

// SaveSnapshot implements eventstore.SnapshotStore.
func (s *Store) SaveSnapshot(_ context.Context, streamID string, snap eventstore.Snapshot) error {
	if err := s.validate(streamID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.snapshotPath(streamID), data, 0o644)
}

// GetSnapshot implements eventstore.SnapshotStore.
func (s *Store) GetSnapshot(_ context.Context, streamID string) (*eventstore.Snapshot, bool, error) {
	if err := s.validate(streamID); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.snapshotPath(streamID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap eventstore.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

// GetSnapshotBefore implements eventstore.SnapshotStore.
func (s *Store) GetSnapshotBefore(ctx context.Context, streamID string, seq int) (*eventstore.Snapshot, bool, error) {
	snap, ok, err := s.GetSnapshot(ctx, streamID)
	if err != nil || !ok || snap.Seq > seq {
		return nil, false, err
	}
	return snap, true, nil
}
