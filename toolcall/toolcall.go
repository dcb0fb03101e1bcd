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

// Package toolcall detects the five tool-call shapes a message-type
// chunk may carry and parses their arguments leniently.
package toolcall

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"trpc.group/trpc-go/trpc-streamguard-go/model"
)

// Detect inspects raw JSON (the content of a message-type chunk) for one
// of the five recognized tool-call shapes and returns the parsed call.
// It returns ok=false if raw does not match any recognized shape.
func Detect(raw []byte) (call model.ToolCall, ok bool) {
	if !gjson.ValidBytes(raw) {
		return model.ToolCall{}, false
	}
	root := gjson.ParseBytes(raw)
	typ := root.Get("type").String()

	switch typ {
	case "tool_call":
		if tc := root.Get("tool_call"); tc.Exists() {
			// (d) nested {type:"tool_call", tool_call:{...}}
			return fromObject(tc), true
		}
		// (a) flat {type:"tool_call", id, name, arguments}
		return fromObject(root), true

	case "tool_calls":
		// (b) flat {type:"tool_calls", tool_calls:[{id,name,arguments}]}
		arr := root.Get("tool_calls")
		if arr.IsArray() && len(arr.Array()) > 0 {
			return fromObject(arr.Array()[0]), true
		}
		return model.ToolCall{}, false

	case "tool_use":
		// (c) {type:"tool_use", tool_use:{id,name,input}}
		tu := root.Get("tool_use")
		return model.ToolCall{
			ID:        orSynth(tu.Get("id").String()),
			Name:      tu.Get("name").String(),
			Arguments: parseArgs(tu.Get("input")),
		}, true

	case "function_call":
		// (e) legacy {type:"function_call", function_call:{name,arguments}}
		fc := root.Get("function_call")
		return model.ToolCall{
			ID:        fmt.Sprintf("fn_%d", time.Now().UnixNano()),
			Name:      fc.Get("name").String(),
			Arguments: parseArgs(fc.Get("arguments")),
		}, true
	}
	return model.ToolCall{}, false
}

func fromObject(obj gjson.Result) model.ToolCall {
	return model.ToolCall{
		ID:        orSynth(obj.Get("id").String()),
		Name:      obj.Get("name").String(),
		Arguments: parseArgs(obj.Get("arguments")),
	}
}

func orSynth(id string) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("fn_%d", time.Now().UnixNano())
}

// parseArgs leniently parses an arguments/input field that may be a JSON
// object already, or a stringified JSON object. Malformed or absent
// arguments degrade to an empty map.
func parseArgs(field gjson.Result) map[string]any {
	switch {
	case field.IsObject():
		m, ok := field.Value().(map[string]any)
		if !ok {
			return map[string]any{}
		}
		return m
	case field.Type == gjson.String:
		if !gjson.Valid(field.String()) {
			return map[string]any{}
		}
		inner := gjson.Parse(field.String())
		if !inner.IsObject() {
			return map[string]any{}
		}
		m, ok := inner.Value().(map[string]any)
		if !ok {
			return map[string]any{}
		}
		return m
	default:
		return map[string]any{}
	}
}

// Result is the shape of a tool_result / tool_error event keyed by id.
type Result struct {
	ID      string
	IsError bool
	Payload map[string]any
}

// DetectResult inspects raw JSON for a {type:"tool_result", id, ...} or
// {type:"tool_error", id, ...} shape.
func DetectResult(raw []byte) (Result, bool) {
	if !gjson.ValidBytes(raw) {
		return Result{}, false
	}
	root := gjson.ParseBytes(raw)
	typ := root.Get("type").String()
	if typ != "tool_result" && typ != "tool_error" {
		return Result{}, false
	}
	payload := parseArgs(root)
	return Result{
		ID:      root.Get("id").String(),
		IsError: typ == "tool_error",
		Payload: payload,
	}, true
}
