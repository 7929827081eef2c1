package reagent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	functionBlockRe = regexp.MustCompile(`(?s)<function=([\w.-]+)>(.*?)</function>`)
	parameterRe     = regexp.MustCompile(`(?s)<parameter=([\w.-]+)>(.*?)</parameter>`)
)

// Extract normalizes a model response into action requests. Two encodings
// are tried in order: the structured call list, then inline tagged text as
// a fallback when the structured list is empty. A call is never dropped
// silently; arguments that fail to decode degrade to a raw payload so the
// acting step can surface the malformed-argument failure.
func Extract(resp *ChatResponse) []*ActionRequest {
	if resp == nil {
		return nil
	}

	if actions := extractStructured(resp.ToolCalls); len(actions) > 0 {
		return actions
	}

	return extractInline(resp.Text())
}

func extractStructured(calls []ToolCall) []*ActionRequest {
	if len(calls) == 0 {
		return nil
	}

	actions := make([]*ActionRequest, 0, len(calls))
	for i, call := range calls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", call.Name, i)
		}
		actions = append(actions, &ActionRequest{
			ID:        id,
			Name:      call.Name,
			Arguments: decodeArguments(call.Arguments),
		})
	}

	return actions
}

// decodeArguments accepts the argument payload in whatever shape the backend
// delivered it. A string that is not a valid serialized mapping is wrapped
// as a single raw argument instead of failing the extraction.
func decodeArguments(v any) map[string]any {
	switch args := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return args
	case json.RawMessage:
		return decodeArgumentString(string(args))
	case string:
		return decodeArgumentString(args)
	default:
		return map[string]any{"raw": fmt.Sprintf("%v", v)}
	}
}

func decodeArgumentString(s string) map[string]any {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return map[string]any{"raw": s}
	}
	return args
}

// extractInline scans free text for <function=name>...</function> blocks.
// The encoding carries no call ids, so one is synthesized from the function
// name and its ordinal within the response.
func extractInline(text string) []*ActionRequest {
	if text == "" {
		return nil
	}

	blocks := functionBlockRe.FindAllStringSubmatch(text, -1)
	if len(blocks) == 0 {
		return nil
	}

	actions := make([]*ActionRequest, 0, len(blocks))
	for i, block := range blocks {
		name, body := block[1], block[2]
		args := map[string]any{}

		params := parameterRe.FindAllStringSubmatch(body, -1)
		for _, param := range params {
			args[param[1]] = strings.TrimSpace(param[2])
		}

		// A block with no parameter tags but non-empty body carries its
		// payload as a single value argument.
		if len(params) == 0 {
			if body := strings.TrimSpace(body); body != "" {
				args["value"] = body
			}
		}

		actions = append(actions, &ActionRequest{
			ID:        fmt.Sprintf("%s-%d", name, i),
			Name:      name,
			Arguments: args,
		})
	}

	return actions
}
