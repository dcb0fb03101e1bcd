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

// Package streamerror defines the rich, JSON-serializable error type the
// session driver surfaces on the external interface, plus the closed set
// of error codes it can carry.
package streamerror

import (
	"encoding/json"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-streamguard-go/retry"
)

// Code is the closed set of error codes the driver surfaces.
type Code string

// Code values.
const (
	CodeStreamAborted           Code = "STREAM_ABORTED"
	CodeInitialTokenTimeout     Code = "INITIAL_TOKEN_TIMEOUT"
	CodeInterTokenTimeout       Code = "INTER_TOKEN_TIMEOUT"
	CodeZeroOutput              Code = "ZERO_OUTPUT"
	CodeGuardrailViolation      Code = "GUARDRAIL_VIOLATION"
	CodeFatalGuardrailViolation Code = "FATAL_GUARDRAIL_VIOLATION"
	CodeInvalidStream           Code = "INVALID_STREAM"
	CodeAllStreamsExhausted     Code = "ALL_STREAMS_EXHAUSTED"
	CodeNetworkError            Code = "NETWORK_ERROR"
	CodeDriftDetected           Code = "DRIFT_DETECTED"
	CodeAdapterNotFound         Code = "ADAPTER_NOT_FOUND"
	CodeFeatureNotEnabled       Code = "FEATURE_NOT_ENABLED"
)

// Error is the rich error type returned on the external interface. It
// carries enough session context to decide whether a caller can safely
// resume.
type Error struct {
	Code              Code
	Message           string
	Category          retry.Category
	Timestamp         time.Time
	Checkpoint        string
	TokenCount        int
	ContentLength     int
	ModelRetryCount   int
	NetworkRetryCount int
	FallbackIndex     int
	Metadata          map[string]any
	Context           any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// jsonError mirrors Error's wire shape, adding the derived has_checkpoint
// field and omitting the non-serializable Context.
type jsonError struct {
	Code              Code           `json:"code"`
	Message           string         `json:"message"`
	Category          string         `json:"category"`
	Timestamp         time.Time      `json:"timestamp"`
	HasCheckpoint     bool           `json:"has_checkpoint"`
	Checkpoint        string         `json:"checkpoint,omitempty"`
	TokenCount        int            `json:"token_count,omitempty"`
	ContentLength     int            `json:"content_length,omitempty"`
	ModelRetryCount   int            `json:"model_retry_count,omitempty"`
	NetworkRetryCount int            `json:"network_retry_count,omitempty"`
	FallbackIndex     int            `json:"fallback_index,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler, deriving has_checkpoint from
// len(Checkpoint) > 0.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonError{
		Code:              e.Code,
		Message:           e.Message,
		Category:          string(e.Category),
		Timestamp:         e.Timestamp,
		HasCheckpoint:     len(e.Checkpoint) > 0,
		Checkpoint:        e.Checkpoint,
		TokenCount:        e.TokenCount,
		ContentLength:     e.ContentLength,
		ModelRetryCount:   e.ModelRetryCount,
		NetworkRetryCount: e.NetworkRetryCount,
		FallbackIndex:     e.FallbackIndex,
		Metadata:          e.Metadata,
	})
}

// UnmarshalJSON implements json.Unmarshaler, recovering the message, code
// and metadata round-trip fields (category/checkpoint data is recovered
// alongside them since they share the same wire shape). Context is not
// serialized and stays nil.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j jsonError
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*e = Error{
		Code:              j.Code,
		Message:           j.Message,
		Category:          retry.Category(j.Category),
		Timestamp:         j.Timestamp,
		Checkpoint:        j.Checkpoint,
		TokenCount:        j.TokenCount,
		ContentLength:     j.ContentLength,
		ModelRetryCount:   j.ModelRetryCount,
		NetworkRetryCount: j.NetworkRetryCount,
		FallbackIndex:     j.FallbackIndex,
		Metadata:          j.Metadata,
	}
	return nil
}

// New builds an Error with Timestamp set to now.
func New(code Code, message string, category retry.Category) *Error {
	return &Error{Code: code, Message: message, Category: category, Timestamp: time.Now()}
}
