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

// Package streamevent defines the caller-visible, lazily-produced event
// sequence a session yields: the "Event (runtime)" tagged variant from the
// data model, distinct from the recorded log event and the internal
// observability event.
package streamevent

import (
	"encoding/json"
	"time"

	"trpc.group/trpc-go/trpc-streamguard-go/model"
)

// Kind is the closed set of runtime event cases.
type Kind string

// Kind values, one per data-model case.
const (
	KindToken    Kind = "token"
	KindMessage  Kind = "message"
	KindData     Kind = "data"
	KindProgress Kind = "progress"
	KindError    Kind = "error"
	KindComplete Kind = "complete"
)

// Event is one item of the lazy, ordered sequence a session exposes to
// consumers. Exactly one field group is meaningful, selected by Kind.
type Event struct {
	Kind      Kind
	Timestamp time.Time

	// KindToken
	Token string

	// KindMessage
	Message model.Message

	// KindData
	Data json.RawMessage

	// KindProgress
	Fraction float64

	// KindError
	Cause    error
	Category string // mirrors retry.Category's String(), kept as a plain
	// string so streamevent does not import retry.
}

// Token creates a token event.
func Token(value string) Event {
	return Event{Kind: KindToken, Timestamp: time.Now(), Token: value}
}

// Message creates a message event.
func Message(msg model.Message) Event {
	return Event{Kind: KindMessage, Timestamp: time.Now(), Message: msg}
}

// Data creates a data event.
func Data(payload json.RawMessage) Event {
	return Event{Kind: KindData, Timestamp: time.Now(), Data: payload}
}

// Progress creates a progress event.
func Progress(fraction float64) Event {
	return Event{Kind: KindProgress, Timestamp: time.Now(), Fraction: fraction}
}

// Error creates an error event.
func Error(cause error, category string) Event {
	return Event{Kind: KindError, Timestamp: time.Now(), Cause: cause, Category: category}
}

// Complete creates the terminal complete event.
func Complete() Event {
	return Event{Kind: KindComplete, Timestamp: time.Now()}
}
