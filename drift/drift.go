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

// Package drift implements the stateless drift probe: given accumulated
// content (and optionally the latest delta), it reports whether the model
// appears to be losing the task.
package drift

import (
	"regexp"
	"strings"
)

// Type is an open set of drift symptoms; new types may be added without
// breaking callers that switch on known ones and ignore the rest.
type Type string

// Known drift types.
const (
	TypeRepetition     Type = "repetition"
	TypeMetaCommentary Type = "meta_commentary"
	TypeTopicDrift     Type = "topic_drift"
	TypeFormatLoss     Type = "format_loss"
)

// Result is the probe's verdict.
type Result struct {
	Detected   bool
	Types      []Type
	Confidence float64
}

// Detector is a stateless drift probe. It holds no per-session state;
// the same Detector value may be shared across sessions safely.
type Detector struct {
	// RepetitionWindow is how many trailing characters of content are
	// scanned for repeated runs. Defaults to 400 when zero.
	RepetitionWindow int
}

var metaCommentaryRe = regexp.MustCompile(`(?i)\b(as an ai language model|as a large language model|i am just an ai)\b`)
var codeFenceRe = regexp.MustCompile("```")

// Detect runs all probes over content (the full accumulated text so far)
// and delta (the latest increment, may be empty).
func (d Detector) Detect(content, delta string) Result {
	var types []Type
	var confidence float64

	if d.detectRepetition(content) {
		types = append(types, TypeRepetition)
		confidence = maxF(confidence, 0.6)
	}
	if metaCommentaryRe.MatchString(delta) || metaCommentaryRe.MatchString(content) {
		types = append(types, TypeMetaCommentary)
		confidence = maxF(confidence, 0.5)
	}
	if d.detectTopicDrift(content) {
		types = append(types, TypeTopicDrift)
		confidence = maxF(confidence, 0.4)
	}
	if d.detectFormatLoss(content) {
		types = append(types, TypeFormatLoss)
		confidence = maxF(confidence, 0.5)
	}

	return Result{Detected: len(types) > 0, Types: types, Confidence: confidence}
}

// detectRepetition looks for an immediately repeated word-run in the
// trailing window of content, a cheap proxy for the model looping.
func (d Detector) detectRepetition(content string) bool {
	window := d.RepetitionWindow
	if window <= 0 {
		window = 400
	}
	tail := content
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	words := strings.Fields(tail)
	if len(words) < 8 {
		return false
	}
	// Look for any run of 4+ consecutive words repeated back to back.
	for run := 4; 2*run <= len(words); run++ {
		for i := 0; i+2*run <= len(words); i++ {
			a := strings.Join(words[i:i+run], " ")
			b := strings.Join(words[i+run:i+2*run], " ")
			if a == b {
				return true
			}
		}
	}
	return false
}

// detectTopicDrift compares vocabulary overlap between the first and
// second half of content; very low overlap on a long response suggests
// the model wandered off-task. This is a heuristic, not a semantic
// comparison (embeddings/semantic modeling is out of scope per Non-goals).
func (d Detector) detectTopicDrift(content string) bool {
	words := strings.Fields(strings.ToLower(content))
	if len(words) < 120 {
		return false
	}
	mid := len(words) / 2
	firstSet := toSet(words[:mid])
	secondSet := toSet(words[mid:])
	overlap := 0
	for w := range secondSet {
		if _, ok := firstSet[w]; ok {
			overlap++
		}
	}
	ratio := float64(overlap) / float64(len(secondSet))
	return ratio < 0.05
}

// detectFormatLoss flags an odd number of code-fence markers, meaning the
// model started a fenced block it never closed.
func (d Detector) detectFormatLoss(content string) bool {
	return len(codeFenceRe.FindAllString(content, -1))%2 == 1
}

func toSet(words []string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) > 3 { // skip short stopword-ish tokens
			s[w] = struct{}{}
		}
	}
	return s
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
