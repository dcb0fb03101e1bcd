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

// Package compositestore fans writes out to N backing stores in parallel
// and reads from a single chosen primary. A partial write
// failure leaves the store set inconsistent by design — the primary
// remains the read source of truth — and is surfaced as a
// PartialWriteError rather than silently swallowed.
package compositestore

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"trpc.group/trpc-go/trpc-streamguard-go/eventstore"
)

// PartialWriteError reports which backing stores (by index) failed a
// fan-out write in which the primary succeeded. It is returned as the
// Append error; the primary holds the event either way.
type PartialWriteError struct {
	FailedIndexes []int
	Errs          []error
}

func (e *PartialWriteError) Error() string {
	parts := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		parts[i] = fmt.Sprintf("store[%d]: %v", e.FailedIndexes[i], err)
	}
	return "compositestore: partial write failure: " + strings.Join(parts, "; ")
}

// Store writes to every backing store in parallel and reads from Primary.
type Store struct {
	Stores  []eventstore.Store
	Primary int // index into Stores used for all reads.
}

var _ eventstore.Store = (*Store)(nil)

// New creates a composite store over stores, reading from stores[primary].
func New(stores []eventstore.Store, primary int) *Store {
	return &Store{Stores: stores, Primary: primary}
}

// Append fans out to every backing store concurrently using errgroup. If
// the primary failed, it returns only the primary's error, wrapped; the
// other stores' failures are not reported in that case. If the primary
// succeeded and other stores failed, it returns a PartialWriteError
// listing them.
func (s *Store) Append(ctx context.Context, streamID string, event eventstore.RecordedEvent) error {
	g, ctx := errgroup.WithContext(ctx)
	errs := make([]error, len(s.Stores))
	for i, st := range s.Stores {
		i, st := i, st
		g.Go(func() error {
			errs[i] = st.Append(ctx, streamID, event)
			return nil // collect, don't short-circuit the group
		})
	}
	_ = g.Wait()

	var failedIdx []int
	var failedErrs []error
	for i, err := range errs {
		if err != nil {
			failedIdx = append(failedIdx, i)
			failedErrs = append(failedErrs, err)
		}
	}
	if errs[s.Primary] != nil {
		return fmt.Errorf("compositestore: primary append failed: %w", errs[s.Primary])
	}
	if len(failedIdx) > 0 {
		return &PartialWriteError{FailedIndexes: failedIdx, Errs: failedErrs}
	}
	return nil
}

// GetEvents reads from the primary.
func (s *Store) GetEvents(ctx context.Context, streamID string) ([]eventstore.Envelope, error) {
	return s.Stores[s.Primary].GetEvents(ctx, streamID)
}

// Exists reads from the primary.
func (s *Store) Exists(ctx context.Context, streamID string) (bool, error) {
	return s.Stores[s.Primary].Exists(ctx, streamID)
}

// GetLastEvent reads from the primary.
func (s *Store) GetLastEvent(ctx context.Context, streamID string) (*eventstore.Envelope, error) {
	return s.Stores[s.Primary].GetLastEvent(ctx, streamID)
}

// GetEventsAfter reads from the primary.
func (s *Store) GetEventsAfter(ctx context.Context, streamID string, seq int) ([]eventstore.Envelope, error) {
	return s.Stores[s.Primary].GetEventsAfter(ctx, streamID, seq)
}

// Delete fans out to every backing store and returns only the primary's
// error; failures in the other stores are not reported.
func (s *Store) Delete(ctx context.Context, streamID string) error {
	g, ctx := errgroup.WithContext(ctx)
	errs := make([]error, len(s.Stores))
	for i, st := range s.Stores {
		i, st := i, st
		g.Go(func() error {
			errs[i] = st.Delete(ctx, streamID)
			return nil
		})
	}
	_ = g.Wait()
	if errs[s.Primary] != nil {
		return fmt.Errorf("compositestore: primary delete failed: %w", errs[s.Primary])
	}
	return nil
}

// ListStreams reads from the primary.
func (s *Store) ListStreams(ctx context.Context) ([]string, error) {
	return s.Stores[s.Primary].ListStreams(ctx)
}
