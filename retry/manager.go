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

package retry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Config is the retry configuration record from the data model.
type Config struct {
	Attempts   int           // model-retry budget ("attempts_limit"); 0 forbids model retries.
	MaxRetries *int          // absolute cap across all categories; nil disables it.
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Strategy   Backoff
	RetryOn    map[Reason]struct{}

	// ErrorTypeDelays overrides the computed delay for NETWORK-category
	// errors. Keys are matched against the Reason hint passed to Decide
	// (e.g. {"network_error": 3*time.Second}); the error itself is not
	// inspected, so keys naming finer error types such as "dns" or "ssl"
	// are never matched.
	ErrorTypeDelays map[string]time.Duration

	// MaxErrorHistory bounds the ring buffer of recorded errors. 0 means
	// a small sane default (32) is used.
	MaxErrorHistory int
}

// allowsReason reports whether cfg.RetryOn permits reason. An empty
// RetryOn set permits every reason (the zero-value Config retries on
// everything the categorizer finds retryable); a non-empty set acts as
// an explicit allow-list.
func (c Config) allowsReason(r Reason) bool {
	if len(c.RetryOn) == 0 {
		return true
	}
	_, ok := c.RetryOn[r]
	return ok
}

// HistoryEntry is one recorded decision, kept for diagnostics and replay
// cross-checks.
type HistoryEntry struct {
	At       time.Time
	Err      error
	Reason   Reason
	Category Category
	Decision Decision
}

// Decision is the retry manager's verdict for one failure.
type Decision struct {
	ShouldRetry bool
	Category    Category
	Delay       time.Duration
	CountsTowardLimit bool
	Reason      string // human-readable explanation, surfaced on refusal
}

// Manager enforces the model-retry budget and the absolute retry cap,
// classifies errors, computes delays, and keeps a bounded error history.
// A Manager is owned by one session for its lifetime.
type Manager struct {
	cfg Config

	mu              sync.Mutex
	modelRetries    int
	networkRetries  int
	transientRetries int
	totalRetries    int
	history         []HistoryEntry
	delayStates     map[Category]*delayState
	rng             *rand.Rand
}

// NewManager creates a Manager for cfg. rng is exposed only for
// deterministic tests; production callers should pass nil.
func NewManager(cfg Config, rng *rand.Rand) *Manager {
	if cfg.MaxErrorHistory <= 0 {
		cfg.MaxErrorHistory = 32
	}
	return &Manager{
		cfg:         cfg,
		delayStates: make(map[Category]*delayState),
		rng:         rng,
	}
}

// ModelRetries returns the count of retries that counted toward the
// attempts budget.
func (m *Manager) ModelRetries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelRetries
}

// NetworkRetries returns the count of NETWORK-category retries.
func (m *Manager) NetworkRetries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networkRetries
}

// TotalRetries returns the count of all retries regardless of category.
func (m *Manager) TotalRetries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalRetries
}

// History returns a copy of the bounded error history.
func (m *Manager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Decide classifies err (with optional hint) and decides whether to
// retry, enforcing:
//   - the absolute cap (cfg.MaxRetries), checked first and across all
//     categories;
//   - FATAL/INTERNAL categories are never retryable;
//   - MODEL/CONTENT retries are refused once cfg.Attempts is exhausted;
//   - cfg.RetryOn, when non-empty, restricts which reasons retry at all.
//
// attempt is the 1-indexed attempt number about to be retried into, used
// for backoff computation.
func (m *Manager) Decide(err error, hint Reason, attempt int) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	category := Categorize(err, hint)

	if m.cfg.MaxRetries != nil && m.totalRetries >= *m.cfg.MaxRetries {
		d := Decision{
			ShouldRetry: false,
			Category:    category,
			Reason:      fmt.Sprintf("Absolute maximum retries (%d) reached", *m.cfg.MaxRetries),
		}
		m.record(err, hint, category, d)
		return d
	}

	if !category.Retryable() {
		d := Decision{ShouldRetry: false, Category: category, Reason: fmt.Sprintf("category %s is not retryable", category)}
		m.record(err, hint, category, d)
		return d
	}

	if hint != "" && !m.cfg.allowsReason(hint) {
		d := Decision{ShouldRetry: false, Category: category, Reason: fmt.Sprintf("reason %q is not in retry_on", hint)}
		m.record(err, hint, category, d)
		return d
	}

	countsTowardLimit := category.CountsTowardLimit()
	if countsTowardLimit && m.modelRetries >= m.cfg.Attempts {
		d := Decision{ShouldRetry: false, Category: category, Reason: fmt.Sprintf("attempts limit (%d) reached", m.cfg.Attempts)}
		m.record(err, hint, category, d)
		return d
	}

	delay := m.delayFor(category, hint, attempt)
	d := Decision{ShouldRetry: true, Category: category, Delay: delay, CountsTowardLimit: countsTowardLimit}
	m.record(err, hint, category, d)

	m.totalRetries++
	if countsTowardLimit {
		m.modelRetries++
	} else if category == CategoryNetwork {
		m.networkRetries++
	} else {
		m.transientRetries++
	}
	return d
}

func (m *Manager) delayFor(category Category, hint Reason, attempt int) time.Duration {
	if category == CategoryNetwork {
		if d, ok := m.cfg.ErrorTypeDelays[string(hint)]; ok {
			return d
		}
	}
	st, ok := m.delayStates[category]
	if !ok {
		st = &delayState{}
		m.delayStates[category] = st
	}
	return computeDelay(m.cfg.Strategy, attempt, m.cfg.BaseDelay, m.cfg.MaxDelay, st, m.rng)
}

func (m *Manager) record(err error, hint Reason, category Category, d Decision) {
	entry := HistoryEntry{At: time.Now(), Err: err, Reason: hint, Category: category, Decision: d}
	m.history = append(m.history, entry)
	if len(m.history) > m.cfg.MaxErrorHistory {
		m.history = m.history[len(m.history)-m.cfg.MaxErrorHistory:]
	}
}

// Wait sleeps for d, respecting ctx cancellation. Exposed so the session
// driver can override with user-supplied calculate_delay hooks before
// calling it.
func Wait(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}
