// Package toolparser recovers structured tool calls from free-form model
// text when the streaming reader received no structured tool-call events.
//
// Four sub-parsers run in a fixed priority order and claim byte ranges as
// they match; later parsers skip ranges already claimed so the same text
// is never turned into two calls.
package toolparser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/loomwork/loom/pkg/llms"
)

var chatTemplateTokens = regexp.MustCompile(`<\|[a-zA-Z_]+\|>`)

// claim is a byte range already consumed by an earlier, higher-priority
// match. Later sub-parsers must not re-derive a tool call from it.
type claim struct {
	start, end int
}

func (c claim) contains(pos int) bool {
	return pos >= c.start && pos < c.end
}

func overlapsAny(claims []claim, start, end int) bool {
	for _, c := range claims {
		if start < c.end && end > c.start {
			return true
		}
	}
	return false
}

// Parse applies dotted-tag XML, fenced JSON, fenced Python, and generic XML
// extraction, in that order, and returns the union of everything found.
func Parse(text string) []llms.ToolCall {
	text = chatTemplateTokens.ReplaceAllString(text, "")

	var calls []llms.ToolCall
	var claims []claim

	dotted, dottedClaims := parseDottedTagXML(text)
	calls = append(calls, dotted...)
	claims = append(claims, dottedClaims...)

	fencedJSON, fencedJSONClaims := parseFencedJSON(text, claims)
	calls = append(calls, fencedJSON...)
	claims = append(claims, fencedJSONClaims...)

	fencedPy, fencedPyClaims := parseFencedPython(text, claims)
	calls = append(calls, fencedPy...)
	claims = append(claims, fencedPyClaims...)

	generic, _ := parseGenericXML(text, claims)
	calls = append(calls, generic...)

	return calls
}

// ---- 1. Dotted-tag XML: <server.op>...</server.op> ----

var dottedTagRe = regexp.MustCompile(`(?s)<([A-Za-z_][A-Za-z0-9_-]*\.[A-Za-z_][A-Za-z0-9_.-]*)>(.*?)</([A-Za-z_][A-Za-z0-9_.-]*)>`)
var childElementRe = regexp.MustCompile(`(?s)<([A-Za-z_][A-Za-z0-9_-]*)>(.*?)</([A-Za-z0-9_-]*)>`)

func parseDottedTagXML(text string) ([]llms.ToolCall, []claim) {
	var calls []llms.ToolCall
	var claims []claim

	for _, m := range dottedTagRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		closeName := text[m[6]:m[7]]
		if name != closeName {
			continue
		}
		body := text[m[4]:m[5]]

		args := map[string]interface{}{}
		for _, child := range childElementRe.FindAllStringSubmatch(body, -1) {
			if child[1] != child[3] {
				continue
			}
			args[child[1]] = coerceScalarOrJSON(strings.TrimSpace(child[2]))
		}

		calls = append(calls, llms.ToolCall{
			Name:      name,
			Arguments: args,
		})
		claims = append(claims, claim{start: m[0], end: m[1]})
	}

	return calls, claims
}

// coerceScalarOrJSON interprets a tag's text content as JSON when it parses
// cleanly, else falls back to lexical bool/number/string form.
func coerceScalarOrJSON(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// ---- 2. Fenced JSON: ```json ... ``` ----

var fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

func parseFencedJSON(text string, existing []claim) ([]llms.ToolCall, []claim) {
	var calls []llms.ToolCall
	var claims []claim

	for _, m := range fencedJSONRe.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(existing, m[0], m[1]) {
			continue
		}
		body := text[m[2]:m[3]]
		found := decodeFencedJSONBody(body)
		if len(found) == 0 {
			continue
		}
		calls = append(calls, found...)
		claims = append(claims, claim{start: m[0], end: m[1]})
	}

	return calls, claims
}

func decodeFencedJSONBody(body string) []llms.ToolCall {
	var raw interface{}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil
	}

	switch v := raw.(type) {
	case map[string]interface{}:
		if wrapped, ok := v["tool_request"].(map[string]interface{}); ok {
			v = wrapped
		}
		if list, ok := v["tool_calls"].([]interface{}); ok {
			var calls []llms.ToolCall
			for _, item := range list {
				if obj, ok := item.(map[string]interface{}); ok {
					if tc, ok := toolCallFromObject(obj); ok {
						calls = append(calls, tc)
					}
				}
			}
			return calls
		}
		if tc, ok := toolCallFromObject(v); ok {
			return []llms.ToolCall{tc}
		}
	case []interface{}:
		var calls []llms.ToolCall
		for _, item := range v {
			if obj, ok := item.(map[string]interface{}); ok {
				if tc, ok := toolCallFromObject(obj); ok {
					calls = append(calls, tc)
				}
			}
		}
		return calls
	}

	return nil
}

// toolCallFromObject recognizes name/arguments under several aliases,
// flat or nested under a "function" key.
func toolCallFromObject(obj map[string]interface{}) (llms.ToolCall, bool) {
	target := obj
	if fn, ok := obj["function"].(map[string]interface{}); ok {
		target = fn
	}

	name, _ := firstString(target, "function_name", "name")
	if name == "" {
		return llms.ToolCall{}, false
	}

	var args map[string]interface{}
	for _, key := range []string{"arguments", "parameters", "function_args"} {
		switch v := target[key].(type) {
		case map[string]interface{}:
			args = v
		case string:
			var parsed map[string]interface{}
			if json.Unmarshal([]byte(v), &parsed) == nil {
				args = parsed
			}
		}
		if args != nil {
			break
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	rawArgs, _ := json.Marshal(args)
	return llms.ToolCall{
		Name:      name,
		Arguments: args,
		RawArgs:   string(rawArgs),
	}, true
}

func firstString(obj map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// ---- 3. Fenced Python: ```python ... ``` → execute_python_code ----

var fencedPythonRe = regexp.MustCompile("(?s)```python\\s*(.*?)\\s*```")

func parseFencedPython(text string, existing []claim) ([]llms.ToolCall, []claim) {
	var calls []llms.ToolCall
	var claims []claim

	for _, m := range fencedPythonRe.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(existing, m[0], m[1]) {
			continue
		}
		code := text[m[2]:m[3]]
		args := map[string]interface{}{"code": code}
		rawArgs, _ := json.Marshal(args)
		calls = append(calls, llms.ToolCall{
			Name:      "execute_python_code",
			Arguments: args,
			RawArgs:   string(rawArgs),
		})
		claims = append(claims, claim{start: m[0], end: m[1]})
	}

	return calls, claims
}

// ---- 4. Generic XML: <tool_request>{json}</tool_request> ----

var genericXMLRe = regexp.MustCompile(`(?s)<tool_request>(.*?)</tool_request>`)

func parseGenericXML(text string, existing []claim) ([]llms.ToolCall, []claim) {
	var calls []llms.ToolCall
	var claims []claim

	for _, m := range genericXMLRe.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(existing, m[0], m[1]) {
			continue
		}
		body := strings.TrimSpace(text[m[2]:m[3]])
		found := decodeFencedJSONBody(body)
		if len(found) == 0 {
			continue
		}
		calls = append(calls, found...)
		claims = append(claims, claim{start: m[0], end: m[1]})
	}

	return calls, claims
}
