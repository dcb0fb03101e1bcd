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

package guardrail

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// NewZeroOutputRule flags final content that is empty or whitespace-only.
// It only fires when gctx.Completed is true since intermediate deltas are
// expected to be short or empty.
func NewZeroOutputRule() Rule {
	return Func{
		RuleName:        "zero_output",
		RuleDescription: "flags completed responses with no meaningful content",
		RuleSeverity:    SeverityError,
		RuleRecoverable: true,
		RuleStreaming:   false,
		CheckFunc: func(_ context.Context, gctx Context) ([]Violation, error) {
			if !gctx.Completed {
				return nil, nil
			}
			if strings.TrimSpace(gctx.Content) == "" {
				return []Violation{{
					Rule: "zero_output", Message: "completed response has no content",
					Severity: SeverityError, Recoverable: true,
				}}, nil
			}
			return nil, nil
		},
	}
}

// NewPatternRule builds a streaming-safe rule that flags any match of re
// within the delta (or, at completion, the full content) as a violation
// of the given severity.
func NewPatternRule(name, description string, re *regexp.Regexp, severity Severity, recoverable bool) Rule {
	return Func{
		RuleName:        name,
		RuleDescription: description,
		RuleSeverity:    severity,
		RuleRecoverable: recoverable,
		RuleStreaming:   true,
		CheckFunc: func(_ context.Context, gctx Context) ([]Violation, error) {
			haystack := gctx.Delta
			if gctx.Completed {
				haystack = gctx.Content
			}
			loc := re.FindStringIndex(haystack)
			if loc == nil {
				return nil, nil
			}
			pos := loc[0]
			return []Violation{{
				Rule: name, Message: "matched pattern: " + re.String(),
				Severity: severity, Recoverable: recoverable, Position: &pos,
			}}, nil
		},
	}
}

// Built-in pattern-matching rules, ready to register.
var (
	metaCommentaryRe  = regexp.MustCompile(`(?i)\b(as an ai language model|i cannot actually|note: this is a simulated)\b`)
	hedgingRe         = regexp.MustCompile(`(?i)^(well,? |i think |perhaps |it's worth noting that ){2,}`)
	refusalRe         = regexp.MustCompile(`(?i)\b(i can't help with that|i'm unable to assist|i won't provide)\b`)
	instructionLeakRe = regexp.MustCompile(`(?i)\b(system prompt:|you are an ai assistant instructed to)\b`)
	placeholderRe     = regexp.MustCompile(`(?i)\[(TODO|PLACEHOLDER|insert .*? here)\]`)
)

// NewMetaCommentaryRule flags the model narrating its own nature.
func NewMetaCommentaryRule() Rule {
	return NewPatternRule("meta_commentary", "flags meta-commentary about being an AI", metaCommentaryRe, SeverityWarning, true)
}

// NewExcessiveHedgingRule flags stacked hedging openers.
func NewExcessiveHedgingRule() Rule {
	return NewPatternRule("excessive_hedging", "flags repeated hedging openers", hedgingRe, SeverityWarning, true)
}

// NewRefusalRule flags outright refusals.
func NewRefusalRule() Rule {
	return NewPatternRule("refusal", "flags refusal phrasing", refusalRe, SeverityError, true)
}

// NewInstructionLeakageRule flags leaked system-prompt framing.
func NewInstructionLeakageRule() Rule {
	return NewPatternRule("instruction_leakage", "flags leaked instruction framing", instructionLeakRe, SeverityError, true)
}

// NewPlaceholderMarkerRule flags unresolved placeholder markers.
func NewPlaceholderMarkerRule() Rule {
	return NewPatternRule("placeholder_marker", "flags unresolved placeholder markers", placeholderRe, SeverityWarning, true)
}

// NewFormatCollapseRule flags completed content that is not valid JSON
// when expectJSON is true; Markdown structure is not checked.
// Non-streaming, since well-formedness only makes sense over full content.
func NewFormatCollapseRule(expectJSON bool) Rule {
	return Func{
		RuleName:        "format_collapse",
		RuleDescription: "flags structurally invalid JSON once the response is complete",
		RuleSeverity:    SeverityError,
		RuleRecoverable: true,
		RuleStreaming:   false,
		CheckFunc: func(_ context.Context, gctx Context) ([]Violation, error) {
			if !expectJSON || !gctx.Completed {
				return nil, nil
			}
			var v any
			if err := json.Unmarshal([]byte(gctx.Content), &v); err != nil {
				return []Violation{{
					Rule: "format_collapse", Message: "content is not valid JSON: " + err.Error(),
					Severity: SeverityError, Recoverable: true,
				}}, nil
			}
			return nil, nil
		},
	}
}

// NewSentenceRepetitionRule flags a sentence that repeats verbatim
// immediately after itself, a common drift symptom.
func NewSentenceRepetitionRule() Rule {
	return Func{
		RuleName:        "sentence_repetition",
		RuleDescription: "flags an immediately repeated sentence",
		RuleSeverity:    SeverityWarning,
		RuleRecoverable: true,
		RuleStreaming:   false,
		CheckFunc: func(_ context.Context, gctx Context) ([]Violation, error) {
			sentences := splitSentences(gctx.Content)
			for i := 1; i < len(sentences); i++ {
				a := strings.TrimSpace(sentences[i-1])
				b := strings.TrimSpace(sentences[i])
				if a != "" && a == b {
					return []Violation{{
						Rule: "sentence_repetition", Message: "sentence repeated verbatim: " + a,
						Severity: SeverityWarning, Recoverable: true,
					}}, nil
				}
			}
			return nil, nil
		},
	}
}

// NewFirstLastDuplicateRule flags content whose first and last sentence
// are identical, a common symptom of a model looping back to its opener.
func NewFirstLastDuplicateRule() Rule {
	return Func{
		RuleName:        "first_last_duplicate",
		RuleDescription: "flags content whose first and last sentence are identical",
		RuleSeverity:    SeverityWarning,
		RuleRecoverable: true,
		RuleStreaming:   false,
		CheckFunc: func(_ context.Context, gctx Context) ([]Violation, error) {
			if !gctx.Completed {
				return nil, nil
			}
			sentences := splitSentences(gctx.Content)
			if len(sentences) < 2 {
				return nil, nil
			}
			first := strings.TrimSpace(sentences[0])
			last := strings.TrimSpace(sentences[len(sentences)-1])
			if first != "" && first == last {
				return []Violation{{
					Rule: "first_last_duplicate", Message: "first and last sentence are identical",
					Severity: SeverityWarning, Recoverable: true,
				}}, nil
			}
			return nil, nil
		},
	}
}

var sentenceSplitRe = regexp.MustCompile(`(?:[.!?]+\s+|\n+)`)

func splitSentences(content string) []string {
	return sentenceSplitRe.Split(content, -1)
}
