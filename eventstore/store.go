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

// Package eventstore defines the recorded (log) event format and the
// Store contract, plus adapters for in-memory, file,
// composite, TTL, and Redis-backed storage.
package eventstore

import (
	"context"
	"time"
)

// RecordedKind is the closed set of recorded-event cases from the data
// model.
type RecordedKind string

// RecordedKind values.
const (
	KindStart        RecordedKind = "START"
	KindToken        RecordedKind = "TOKEN"
	KindCheckpoint   RecordedKind = "CHECKPOINT"
	KindGuardrail    RecordedKind = "GUARDRAIL"
	KindDrift        RecordedKind = "DRIFT"
	KindRetry        RecordedKind = "RETRY"
	KindFallback     RecordedKind = "FALLBACK"
	KindContinuation RecordedKind = "CONTINUATION"
	KindComplete     RecordedKind = "COMPLETE"
	KindError        RecordedKind = "ERROR"
)

// RecordedEvent is one entry in the durable event log. Exactly one field
// group is populated, selected by Kind.
type RecordedEvent struct {
	Kind RecordedKind `json:"kind"`

	// KindStart
	SerializedOptions string `json:"serialized_options,omitempty"`

	// KindToken
	Value string `json:"value,omitempty"`
	Index int    `json:"index,omitempty"`

	// KindCheckpoint / KindContinuation
	At      int    `json:"at,omitempty"`
	Content string `json:"content,omitempty"`

	// KindGuardrail
	GuardrailResult any `json:"guardrail_result,omitempty"`

	// KindDrift
	DriftResult any `json:"drift_result,omitempty"`

	// KindRetry
	Attempt          int    `json:"attempt,omitempty"`
	Reason           string `json:"reason,omitempty"`
	CountsTowardLimit bool  `json:"counts_toward_limit,omitempty"`

	// KindFallback
	To int `json:"to,omitempty"`

	// KindComplete
	TokenCount int `json:"token_count,omitempty"`

	// KindError
	Error       string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// Envelope wraps a RecordedEvent with its stream id and dense, 0-based,
// per-stream sequence number.
type Envelope struct {
	StreamID  string        `json:"stream_id"`
	Seq       int           `json:"seq"`
	Event     RecordedEvent `json:"event"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Snapshot is an optional point-in-time accumulated-state capture a store
// may keep alongside a stream's envelope log.
type Snapshot struct {
	Seq       int       `json:"seq"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable append-only event log contract. Stores
// must serialize appends per stream to preserve ordering and assign
// sequence numbers densely starting at 0 on first append.
type Store interface {
	Append(ctx context.Context, streamID string, event RecordedEvent) error
	GetEvents(ctx context.Context, streamID string) ([]Envelope, error)
	Exists(ctx context.Context, streamID string) (bool, error)
	GetLastEvent(ctx context.Context, streamID string) (*Envelope, error)
	GetEventsAfter(ctx context.Context, streamID string, seq int) ([]Envelope, error)
	Delete(ctx context.Context, streamID string) error
	ListStreams(ctx context.Context) ([]string, error)
}

// SnapshotStore is the optional snapshot extension.
type SnapshotStore interface {
	Store
	SaveSnapshot(ctx context.Context, streamID string, snap Snapshot) error
	GetSnapshot(ctx context.Context, streamID string) (*Snapshot, bool, error)
	GetSnapshotBefore(ctx context.Context, streamID string, seq int) (*Snapshot, bool, error)
}
