package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	scriptToolName   = "run_script"
	maxScriptTimeout = 300000 // ms, spec.md §9
)

// ScriptStep is one step of a run_script invocation: a tool name plus its
// arguments, dispatched through the same callTool path as any other
// tools/call (spec.md §9's "serialize each underlying tool call through
// the same transactor").
type ScriptStep struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ScriptResult reports the outcome of one ScriptStep.
type ScriptResult struct {
	Tool    string `json:"tool"`
	OK      bool   `json:"ok"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type scriptArgs struct {
	Steps     []ScriptStep `json:"steps"`
	TimeoutMS int          `json:"timeout_ms"`
}

// scriptToolDescriptor advertises run_script in tools/list alongside the
// manifest's own tools.
func scriptToolDescriptor() MCPTool {
	return MCPTool{
		Name:        scriptToolName,
		Description: "Run an ordered sequence of existing tool calls through the device's single transactor.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"steps": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"tool":      map[string]interface{}{"type": "string"},
							"arguments": map[string]interface{}{"type": "object"},
						},
						"required": []string{"tool"},
					},
				},
				"timeout_ms": map[string]interface{}{"type": "integer"},
			},
			"required": []string{"steps", "timeout_ms"},
		},
	}
}

// runScript validates and executes a run_script invocation. A non-zero
// return code signals a JSON-RPC error of that code; otherwise result is
// the MCPToolCallResult to return.
func (s *Server) runScript(ctx context.Context, rawParams []byte, logger zerolog.Logger) (MCPToolCallResult, int, string) {
	var call struct {
		Name      string     `json:"name"`
		Arguments scriptArgs `json:"arguments"`
	}
	if err := json.Unmarshal(rawParams, &call); err != nil {
		return MCPToolCallResult{}, ErrCodeInvalidParams, "invalid run_script params: " + err.Error()
	}

	if call.Arguments.TimeoutMS <= 0 || call.Arguments.TimeoutMS > maxScriptTimeout {
		return MCPToolCallResult{}, ErrCodeInvalidParams, fmt.Sprintf("timeout_ms must be in (0, %d]", maxScriptTimeout)
	}
	if len(call.Arguments.Steps) == 0 {
		return MCPToolCallResult{}, ErrCodeInvalidParams, "run_script requires at least one step"
	}

	// timeout_ms replaces the request's own deadline, so a script may run
	// longer than httpapi.DefaultRequestTimeout.
	scriptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(call.Arguments.TimeoutMS)*time.Millisecond)
	defer cancel()

	results := make([]ScriptResult, 0, len(call.Arguments.Steps))
	for _, step := range call.Arguments.Steps {
		content, isErr, code, msg := s.callTool(scriptCtx, step.Tool, step.Arguments, logger)
		r := ScriptResult{Tool: step.Tool}
		switch {
		case code != 0:
			r.OK = false
			r.Error = msg
		case isErr:
			r.OK = false
			if len(content) > 0 {
				r.Error = content[0].Text
			}
		default:
			r.OK = true
			if len(content) > 0 {
				r.Content = content[0].Text
			}
		}
		results = append(results, r)
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		return MCPToolCallResult{}, ErrCodeInternalError, "encoding script results: " + err.Error()
	}

	return MCPToolCallResult{Content: []MCPToolCallContent{{Type: "text", Text: string(encoded)}}}, 0, ""
}
