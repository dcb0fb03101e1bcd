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

// Package event implements the observability event catalog and the
// in-process dispatcher that fans typed lifecycle events out to sinks,
// including a legacy callback wrapper. It is the superset referenced by
// every recorded (log) event case plus the internal state-machine
// transitions.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed catalog of observability event types.
type Type string

// Type values.
const (
	TypeSessionStart       Type = "SESSION_START"
	TypeAttemptStart       Type = "ATTEMPT_START"
	TypeRetryAttempt       Type = "RETRY_ATTEMPT"
	TypeFallbackStart      Type = "FALLBACK_START"
	TypeResumeStart        Type = "RESUME_START"
	TypeAbortRequested     Type = "ABORT_REQUESTED"
	TypeAbortCompleted     Type = "ABORT_COMPLETED"
	TypeTimeoutTriggered   Type = "TIMEOUT_TRIGGERED"
	TypeCheckpointSaved    Type = "CHECKPOINT_SAVED"
	TypeGuardrailEvaluated Type = "GUARDRAIL_EVALUATED"
	TypeDriftEvaluated     Type = "DRIFT_EVALUATED"
	TypeToolRequested      Type = "TOOL_REQUESTED"
	TypeToolResult         Type = "TOOL_RESULT"
	TypeToolError          Type = "TOOL_ERROR"
	TypeToolCompleted      Type = "TOOL_COMPLETED"
	TypeComplete           Type = "COMPLETE"
	TypeError              Type = "ERROR"
)

// FieldSpec describes one required/optional field of an event's payload
// for schema validation in development.
type FieldSpec struct {
	Type     string // a short name: "string", "int", "float64", "bool", "error", "any"
	Required bool
}

// Schema maps field name to its spec for one event Type.
type Schema map[string]FieldSpec

// DefaultSchemas is the stable field schema for every catalog Type,
// validated by the Dispatcher when running in strict (development) mode.
func DefaultSchemas() map[Type]Schema {
	return map[Type]Schema{
		TypeSessionStart:       {},
		TypeAttemptStart:       {"attempt": {"int", true}, "fallback_index": {"int", true}},
		TypeRetryAttempt:       {"attempt": {"int", true}, "reason": {"string", true}, "category": {"string", true}},
		TypeFallbackStart:      {"to": {"int", true}},
		TypeResumeStart:        {"checkpoint_len": {"int", true}},
		TypeAbortRequested:     {},
		TypeAbortCompleted:     {},
		TypeTimeoutTriggered:   {"kind": {"string", true}},
		TypeCheckpointSaved:    {"at": {"int", true}},
		TypeGuardrailEvaluated: {"violations": {"int", true}},
		TypeDriftEvaluated:     {"detected": {"bool", true}},
		TypeToolRequested:      {"id": {"string", true}, "name": {"string", true}},
		TypeToolResult:         {"id": {"string", true}},
		TypeToolError:          {"id": {"string", true}},
		TypeToolCompleted:      {"id": {"string", true}},
		TypeComplete:           {"token_count": {"int", true}},
		TypeError:              {"code": {"string", true}},
	}
}

// Event is one observability-event emission.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	StreamID  string
	Context   any
	Payload   map[string]any
}

// newEvent stamps an Event with a fresh ID; the dispatcher still owns
// Timestamp/StreamID/Context assignment to guarantee the lifecycle
// invariants.
func newEvent(typ Type, payload map[string]any) Event {
	return Event{ID: uuid.New().String(), Type: typ, Payload: payload}
}
