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

// Package retry implements the error categorizer and retry policy: it maps
// errors to one of seven categories, decides whether a retry counts against
// the bounded attempt budget, and computes backoff delays.
package retry

import "strings"

// Category is the closed set of error categories from the data model.
type Category string

// Category values.
const (
	CategoryNetwork   Category = "NETWORK"
	CategoryTransient Category = "TRANSIENT"
	CategoryModel     Category = "MODEL"
	CategoryContent   Category = "CONTENT"
	CategoryInternal  Category = "INTERNAL"
	CategoryProvider  Category = "PROVIDER"
	CategoryFatal     Category = "FATAL"
)

// String returns the category name.
func (c Category) String() string { return string(c) }

// CountsTowardLimit reports whether a retry in this category counts
// against the bounded model-retry budget (attempts_limit). NETWORK and
// TRANSIENT never count; MODEL and CONTENT always count; PROVIDER is
// retryable but does not count either; INTERNAL/FATAL are not retried at
// all so the question is moot for them but is defined as false for
// completeness.
func (c Category) CountsTowardLimit() bool {
	switch c {
	case CategoryModel, CategoryContent:
		return true
	default:
		return false
	}
}

// Retryable reports whether errors of this category are ever retryable,
// independent of budget. FATAL and INTERNAL are never retryable.
func (c Category) Retryable() bool {
	switch c {
	case CategoryInternal, CategoryFatal:
		return false
	default:
		return true
	}
}

// Reason is the closed enum of retry triggers from the data model.
type Reason string

// Reason values.
const (
	ReasonZeroOutput        Reason = "zero_output"
	ReasonGuardrailViolation Reason = "guardrail_violation"
	ReasonDrift              Reason = "drift"
	ReasonIncomplete         Reason = "incomplete"
	ReasonNetworkError       Reason = "network_error"
	ReasonTimeout            Reason = "timeout"
	ReasonRateLimit          Reason = "rate_limit"
	ReasonServerError        Reason = "server_error"
	ReasonPatternViolation   Reason = "pattern_violation"
)

// networkSignatures are substrings matched against an error's message (or,
// for errors implementing Coder, its code) to classify it as NETWORK
// without a caller-supplied hint.
var networkSignatures = []string{
	"connection reset",
	"connection dropped",
	"econnreset",
	"no such host",
	"dns",
	"fetch failed",
	"sse aborted",
	"unexpected eof",
	"no bytes received",
	"partial chunk",
	"background throttl",
	"runtime terminat",
}

var transientSignatures = []string{
	"timeout",
	"timed out",
	"rate limit",
	"429",
	"too many requests",
	"500",
	"502",
	"503",
	"504",
	"server error",
}

// Coder is implemented by errors that carry a stable machine-readable
// code (e.g. a wrapped network error). Categorize consults it before
// falling back to substring matching.
type Coder interface {
	Code() string
}

// Categorize maps (err, hint) to a Category. hint, when non-empty, is an
// explicit Reason supplied by the caller (e.g. the driver knows it is
// reporting a guardrail violation) and takes precedence over inference.
// Categorize is total: every non-nil error maps to exactly one category.
func Categorize(err error, hint Reason) Category {
	if err == nil {
		return CategoryInternal
	}
	if c, ok := categoryForReason(hint); ok {
		return c
	}
	msg := strings.ToLower(err.Error())
	if code := coderCode(err); code != "" {
		msg = strings.ToLower(code) + " " + msg
	}
	for _, sig := range networkSignatures {
		if strings.Contains(msg, sig) {
			return CategoryNetwork
		}
	}
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return CategoryTransient
		}
	}
	if strings.Contains(msg, "abort") || strings.Contains(msg, "exhausted") {
		return CategoryProvider
	}
	if strings.Contains(msg, "ssl") || strings.Contains(msg, "certificate") {
		return CategoryFatal
	}
	if strings.Contains(msg, "adapter") || strings.Contains(msg, "invalid stream") ||
		strings.Contains(msg, "misconfig") {
		return CategoryInternal
	}
	// Default: fall back to PROVIDER for unrecognized errors that
	// reached this far without a hint. PROVIDER is retryable and does not
	// count toward the attempts budget, so only Config.MaxRetries bounds
	// how often such an error is retried.
	return CategoryProvider
}

func categoryForReason(r Reason) (Category, bool) {
	switch r {
	case ReasonZeroOutput, ReasonGuardrailViolation, ReasonDrift, ReasonIncomplete, ReasonPatternViolation:
		return CategoryModel, true
	case ReasonNetworkError:
		return CategoryNetwork, true
	case ReasonTimeout, ReasonRateLimit, ReasonServerError:
		return CategoryTransient, true
	default:
		return "", false
	}
}

func coderCode(err error) string {
	if c, ok := err.(Coder); ok {
		return c.Code()
	}
	return ""
}
