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

package event

// Callbacks bundles the twelve legacy, user-supplied callbacks from the
// run configuration. Every field is optional.
type Callbacks struct {
	OnStart    func()
	OnComplete func(content string, tokenCount int)
	OnError    func(err error, category string)
	OnRetry    func(attempt int, reason string)
	OnFallback func(to int)
	OnCheckpoint func(at int)
	OnResume   func(checkpointLen int)
	OnAbort    func()
	OnTimeout  func(kind string)
	OnViolation func(rule, message, severity string)
	OnDrift    func(types []string, confidence float64)
	OnToolCall func(name, id string, args map[string]any)
}

// callbackSink adapts Callbacks into a Sink, demultiplexing the typed
// catalog into the matching legacy callback.
type callbackSink struct {
	cb Callbacks
}

// NewCallbackSink wraps cb as a dispatcher Sink.
func NewCallbackSink(cb Callbacks) Sink {
	return callbackSink{cb: cb}
}

func (c callbackSink) Handle(e Event) {
	switch e.Type {
	case TypeSessionStart:
		if c.cb.OnStart != nil {
			c.cb.OnStart()
		}
	case TypeComplete:
		if c.cb.OnComplete != nil {
			content, _ := e.Payload["content"].(string)
			tokens, _ := e.Payload["token_count"].(int)
			c.cb.OnComplete(content, tokens)
		}
	case TypeError:
		if c.cb.OnError != nil {
			err, _ := e.Payload["error"].(error)
			category, _ := e.Payload["category"].(string)
			c.cb.OnError(err, category)
		}
	case TypeRetryAttempt:
		if c.cb.OnRetry != nil {
			attempt, _ := e.Payload["attempt"].(int)
			reason, _ := e.Payload["reason"].(string)
			c.cb.OnRetry(attempt, reason)
		}
	case TypeFallbackStart:
		if c.cb.OnFallback != nil {
			to, _ := e.Payload["to"].(int)
			c.cb.OnFallback(to)
		}
	case TypeCheckpointSaved:
		if c.cb.OnCheckpoint != nil {
			at, _ := e.Payload["at"].(int)
			c.cb.OnCheckpoint(at)
		}
	case TypeResumeStart:
		if c.cb.OnResume != nil {
			n, _ := e.Payload["checkpoint_len"].(int)
			c.cb.OnResume(n)
		}
	case TypeAbortRequested:
		if c.cb.OnAbort != nil {
			c.cb.OnAbort()
		}
	case TypeTimeoutTriggered:
		if c.cb.OnTimeout != nil {
			kind, _ := e.Payload["kind"].(string)
			c.cb.OnTimeout(kind)
		}
	case TypeGuardrailEvaluated:
		if c.cb.OnViolation != nil {
			rule, _ := e.Payload["rule"].(string)
			msg, _ := e.Payload["message"].(string)
			sev, _ := e.Payload["severity"].(string)
			if rule != "" {
				c.cb.OnViolation(rule, msg, sev)
			}
		}
	case TypeDriftEvaluated:
		if c.cb.OnDrift != nil {
			detected, _ := e.Payload["detected"].(bool)
			if detected {
				types, _ := e.Payload["types"].([]string)
				conf, _ := e.Payload["confidence"].(float64)
				c.cb.OnDrift(types, conf)
			}
		}
	case TypeToolRequested:
		if c.cb.OnToolCall != nil {
			name, _ := e.Payload["name"].(string)
			id, _ := e.Payload["id"].(string)
			args, _ := e.Payload["arguments"].(map[string]any)
			c.cb.OnToolCall(name, id, args)
		}
	}
}
