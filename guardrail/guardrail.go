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

// Package guardrail implements the ordered-rule engine that evaluates
// streaming and final content, aggregating violations and deciding
// whether the session should halt or retry.
package guardrail

import (
	"context"
)

// Severity is the closed set of violation severities.
type Severity string

// Severity values.
const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Violation is one rule finding.
type Violation struct {
	Rule        string
	Message     string
	Severity    Severity
	Recoverable bool
	Position    *int
	Suggestion  *string
}

// Context is the content a rule evaluates over.
type Context struct {
	Content    string
	Checkpoint string
	Delta      string
	TokenCount int
	Completed  bool
}

// Rule is a named, stateless guardrail. Implementations must not retain
// mutable state between Check calls; the engine may run the same Rule
// concurrently across different sessions.
type Rule interface {
	Name() string
	Description() string
	Severity() Severity
	Recoverable() bool
	// Streaming reports whether Check is safe to call with only a short
	// delta (the fast path). Rules that need full content must return
	// false and are only run on the slow path or at completion.
	Streaming() bool
	Check(ctx context.Context, gctx Context) ([]Violation, error)
}

// Func adapts a plain function into a Rule for simple, stateless checks.
type Func struct {
	RuleName        string
	RuleDescription string
	RuleSeverity    Severity
	RuleRecoverable bool
	RuleStreaming   bool
	CheckFunc       func(ctx context.Context, gctx Context) ([]Violation, error)
}

// Name implements Rule.
func (f Func) Name() string { return f.RuleName }

// Description implements Rule.
func (f Func) Description() string { return f.RuleDescription }

// Severity implements Rule.
func (f Func) Severity() Severity { return f.RuleSeverity }

// Recoverable implements Rule.
func (f Func) Recoverable() bool { return f.RuleRecoverable }

// Streaming implements Rule.
func (f Func) Streaming() bool { return f.RuleStreaming }

// Check implements Rule.
func (f Func) Check(ctx context.Context, gctx Context) ([]Violation, error) {
	return f.CheckFunc(ctx, gctx)
}

// Result is the aggregate outcome of running the rule chain.
type Result struct {
	Violations  []Violation
	ShouldHalt  bool
	ShouldRetry bool
}

// aggregate folds raw violations into a Result, applying the design note
// that severity=fatal is always non-recoverable regardless of a rule's
// self-reported Recoverable flag.
func aggregate(violations []Violation) Result {
	res := Result{Violations: violations}
	hasRecoverable := false
	for i := range res.Violations {
		if res.Violations[i].Severity == SeverityFatal {
			res.Violations[i].Recoverable = false
			res.ShouldHalt = true
		} else if res.Violations[i].Recoverable {
			hasRecoverable = true
		}
	}
	res.ShouldRetry = hasRecoverable && !res.ShouldHalt
	return res
}
