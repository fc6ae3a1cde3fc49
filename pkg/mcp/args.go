package mcp

import (
	"fmt"

	"github.com/alexspaceteam/hackpack-robots/pkg/manifest"
	"github.com/alexspaceteam/hackpack-robots/pkg/wire"
)

// coerceArguments turns a tools/call JSON arguments object into an ordered
// value vector matching desc.Parameters, validating integer ranges and
// CStr interior-NUL constraints along the way. json.Unmarshal decodes
// numbers as float64, so integer arguments arrive that way; the teacher's
// convertToInt/convertToString (pkg/service/helpers.go) perform the same
// kind of interface{}-to-typed coercion against a differently-shaped wire
// protocol.
func coerceArguments(params []wire.Param, args map[string]interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(params))
	for i, p := range params {
		raw, ok := args[p.Name]
		if !ok {
			return nil, fmt.Errorf("missing required argument %q", p.Name)
		}
		switch p.Type {
		case wire.I16, wire.I32:
			n, err := toInt64(raw)
			if err != nil {
				return nil, fmt.Errorf("argument %q: %v", p.Name, err)
			}
			if p.Type == wire.I16 && (n < -32768 || n > 32767) {
				return nil, fmt.Errorf("argument %q: value %d out of range for i16", p.Name, n)
			}
			if p.Type == wire.I32 && (n < -2147483648 || n > 2147483647) {
				return nil, fmt.Errorf("argument %q: value %d out of range for i32", p.Name, n)
			}
			out[i] = n
		case wire.CStr:
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q: expected string, got %T", p.Name, raw)
			}
			for j := 0; j < len(s); j++ {
				if s[j] == 0x00 {
					return nil, fmt.Errorf("argument %q: contains interior NUL", p.Name)
				}
			}
			out[i] = s
		default:
			return nil, fmt.Errorf("argument %q: unsupported parameter type %q", p.Name, p.Type)
		}
	}
	return out, nil
}

func toInt64(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("value %v is not an integer", v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
}

// renderReturn turns a decoded wire value into the text MCP content spec.md
// §4.G requires: "Command executed successfully" for void, decimal for
// integers, raw text for strings.
func renderReturn(ret *wire.Type, value interface{}) string {
	if ret == nil {
		return "Command executed successfully"
	}
	switch *ret {
	case wire.I16, wire.I32:
		return fmt.Sprintf("%d", value.(int64))
	case wire.CStr:
		return value.(string)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// inputSchema builds the JSON Schema object tools/list advertises for one
// tool's parameter list (spec.md §4.G).
func inputSchema(desc *manifest.ToolDescriptor) map[string]interface{} {
	props := make(map[string]interface{}, len(desc.Parameters))
	required := make([]string, 0, len(desc.Parameters))
	for _, p := range desc.Parameters {
		jsonType := "string"
		if p.Type == wire.I16 || p.Type == wire.I32 {
			jsonType = "integer"
		}
		props[p.Name] = map[string]interface{}{"type": jsonType}
		required = append(required, p.Name)
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
