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

// Package checkpoint implements deterministic content checkpointing and
// overlap deduplication used to resume a session after partial failure
// without duplicating the already-emitted suffix.
package checkpoint

import (
	"regexp"
	"strings"
)

// Checkpoint is the last known-good content snapshot suitable for
// continuation. The zero value is the empty checkpoint.
type Checkpoint struct {
	Content    string
	TokenCount int
}

// Empty reports whether the checkpoint holds no content.
func (c Checkpoint) Empty() bool { return c.Content == "" }

// Options configures overlap detection, mirroring
// deduplication_options from the run configuration.
type Options struct {
	MinOverlap          int
	MaxOverlap          int
	CaseSensitive       bool
	NormalizeWhitespace bool
}

// DefaultOptions returns the runtime's implicit defaults.
func DefaultOptions() Options {
	return Options{MinOverlap: 1, MaxOverlap: 2000, CaseSensitive: true, NormalizeWhitespace: false}
}

var wsRunRe = regexp.MustCompile(`\s+`)

func normalize(s string, opts Options) string {
	if !opts.CaseSensitive {
		s = strings.ToLower(s)
	}
	if opts.NormalizeWhitespace {
		s = wsRunRe.ReplaceAllString(s, " ")
	}
	return s
}

// DetectOverlap finds the longest L such that the last L characters of
// checkpoint equal the first L characters of continuation, searching from
// longest to shortest for early termination, and bounded by
// [opts.MinOverlap, min(opts.MaxOverlap, len(continuation))].
//
// When normalization (case-insensitive and/or whitespace-collapsing
// comparison) is enabled, matching happens on normalized copies but the
// returned length is mapped back onto the ORIGINAL continuation's byte
// offsets. If the normalized and original strings
// cannot be aligned one-to-one (e.g. whitespace runs of different
// lengths collapse differently), DetectOverlap maps back using a simple
// prefix-walk that tracks how many original bytes were consumed to
// produce each normalized byte; see mapNormalizedLenToOriginal. Exotic
// inputs (zero-width characters interacting with normalization) are an
// explicitly undefined case: DetectOverlap does not attempt to
// disambiguate them and may return a conservative (possibly zero)
// overlap in that situation.
func DetectOverlap(checkpointContent, continuation string, opts Options) (length int, found bool) {
	maxPossible := opts.MaxOverlap
	if maxPossible <= 0 || maxPossible > len(continuation) {
		maxPossible = len(continuation)
	}
	if len(checkpointContent) < maxPossible {
		maxPossible = len(checkpointContent)
	}
	minOverlap := opts.MinOverlap
	if minOverlap <= 0 {
		minOverlap = 1
	}
	if maxPossible < minOverlap {
		return 0, false
	}

	normCheckpoint := normalize(checkpointContent, opts)
	normContinuation := normalize(continuation, opts)

	// Recompute bounds against the normalized strings' lengths; when
	// whitespace collapsing changes length, clamp conservatively.
	normMax := maxPossible
	if len(normContinuation) < normMax {
		normMax = len(normContinuation)
	}
	if len(normCheckpoint) < normMax {
		normMax = len(normCheckpoint)
	}

	for l := normMax; l >= minOverlap; l-- {
		suffix := normCheckpoint[len(normCheckpoint)-l:]
		prefix := normContinuation[:l]
		if suffix == prefix {
			if !opts.CaseSensitive || opts.NormalizeWhitespace {
				return mapNormalizedLenToOriginal(continuation, l, opts), true
			}
			return l, true
		}
	}
	return 0, false
}

// mapNormalizedLenToOriginal walks `original` byte by byte, normalizing
// incrementally, until it has produced normLen bytes of normalized
// output, and returns how many original bytes that took. This keeps the
// returned overlap length a valid byte boundary into the caller's actual
// (non-normalized) continuation string.
func mapNormalizedLenToOriginal(original string, normLen int, opts Options) int {
	if normLen <= 0 {
		return 0
	}
	var produced int
	inWS := false
	for i := 0; i < len(original); i++ {
		b := original[i]
		isSpace := b == ' ' || b == '\t' || b == '\n' || b == '\r'
		if opts.NormalizeWhitespace && isSpace {
			if !inWS {
				produced++
				inWS = true
			}
		} else {
			inWS = false
			produced++
		}
		if produced >= normLen {
			return i + 1
		}
	}
	return len(original)
}

// Deduplicate returns the suffix of continuation that remains after
// stripping the detected overlap against checkpointContent.
func Deduplicate(checkpointContent, continuation string, opts Options) string {
	l, found := DetectOverlap(checkpointContent, continuation, opts)
	if !found {
		return continuation
	}
	return continuation[l:]
}
