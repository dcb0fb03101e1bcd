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

package checkpoint

// OverlapBuffer implements the resume-time deduplication state machine
// used while resuming a session: while resumed and not yet resolved, incoming tokens
// accumulate without being emitted; after each append the overlap
// algorithm runs; the buffer finalizes (emitting only the non-overlapping
// suffix) once an overlap is found with emittable content left over, or
// once the buffer exceeds MaxOverlap bytes.
type OverlapBuffer struct {
	checkpoint string
	opts       Options
	buf        []byte
	resolved   bool
}

// NewOverlapBuffer creates a buffer that will deduplicate against
// checkpointContent using opts.
func NewOverlapBuffer(checkpointContent string, opts Options) *OverlapBuffer {
	return &OverlapBuffer{checkpoint: checkpointContent, opts: opts}
}

// Resolved reports whether the buffer has finished deduplicating; once
// true, Append returns each token unchanged and callers should stop
// routing tokens through the buffer.
func (b *OverlapBuffer) Resolved() bool { return b.resolved }

// Append accumulates token into the overlap buffer and returns the
// portion that may now be safely emitted downstream (possibly empty) and
// whether the buffer has resolved as a result of this append.
func (b *OverlapBuffer) Append(token string) (emit string, resolved bool) {
	if b.resolved {
		return token, true
	}
	b.buf = append(b.buf, token...)
	content := string(b.buf)

	l, found := DetectOverlap(b.checkpoint, content, b.opts)
	if found {
		suffix := content[l:]
		if suffix != "" {
			b.resolved = true
			return suffix, true
		}
		// Overlap covers the whole buffer so far; keep buffering.
	}

	maxOverlap := b.opts.MaxOverlap
	if maxOverlap <= 0 {
		maxOverlap = 2000
	}
	if len(b.buf) > maxOverlap {
		b.resolved = true
		// No overlap found within the budget: flush everything
		// accumulated, treating this as "no overlap".
		return content, true
	}
	return "", false
}

// Flush is called when the stream ends while the buffer is still
// unresolved: it returns whatever remains minus any detected overlap.
func (b *OverlapBuffer) Flush() string {
	if b.resolved {
		return ""
	}
	b.resolved = true
	content := string(b.buf)
	l, found := DetectOverlap(b.checkpoint, content, b.opts)
	if !found {
		return content
	}
	return content[l:]
}
