// Package schemaguard provides a policy plugin validating tool arguments
// and results against a minimal JSONSchema-like subset: type, properties,
// required, and items, with types object, string, number, integer, boolean,
// and array. Register it with a blank import:
//
//	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/schemaguard"
package schemaguard

import (
	"context"
	"fmt"
	"math"

	"github.com/ferro-labs/mcp-gateway/plugin"
)

// Violation codes for argument and result mismatches.
const (
	CodeArgs   = "SCHEMA_GUARD_ARGS"
	CodeResult = "SCHEMA_GUARD_RESULT"
)

func init() {
	plugin.Register("schema-guard", plugin.Factory{New: New, ConfigSchema: configSchema})
}

const configSchema = `{
  "type": "object",
  "properties": {
    "arg_schemas":        {"type": "object", "additionalProperties": {"type": "object"}},
    "result_schemas":     {"type": "object", "additionalProperties": {"type": "object"}},
    "block_on_violation": {"type": "boolean"}
  },
  "additionalProperties": false
}`

// Plugin validates per-tool schemas. A tool with no registered schema
// passes through as a no-op.
type Plugin struct {
	plugin.Base
	argSchemas    map[string]map[string]any
	resultSchemas map[string]map[string]any
	block         bool
}

// New constructs the plugin from its validated config map.
func New(cfg plugin.PluginConfig) (plugin.Plugin, error) {
	p := &Plugin{
		Base:          plugin.NewBase(cfg),
		argSchemas:    make(map[string]map[string]any),
		resultSchemas: make(map[string]map[string]any),
		block:         true,
	}
	if block, ok := cfg.Config["block_on_violation"].(bool); ok {
		p.block = block
	}
	var err error
	if p.argSchemas, err = schemaMap(cfg.Config["arg_schemas"], "arg_schemas"); err != nil {
		return nil, err
	}
	if p.resultSchemas, err = schemaMap(cfg.Config["result_schemas"], "result_schemas"); err != nil {
		return nil, err
	}
	return p, nil
}

func schemaMap(v any, field string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	if v == nil {
		return out, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema-guard: %s must be a map of tool name to schema", field)
	}
	for tool, s := range m {
		schema, ok := s.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema-guard: %s.%s must be a schema object", field, tool)
		}
		out[tool] = schema
	}
	return out, nil
}

func isType(value any, typ string) bool {
	switch typ {
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		return isNumber(value)
	case "integer":
		return isInteger(value)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	}
	return true
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

// isInteger accepts Go integer types and JSON-decoded float64 values with
// no fractional part. Booleans are not integers.
func isInteger(value any) bool {
	switch n := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	}
	return false
}

// validate returns the list of mismatches between data and schema, with
// nested errors prefixed by property name or array index.
func validate(data any, schema map[string]any) []string {
	var errors []string
	sType, _ := schema["type"].(string)
	if sType != "" && !isType(data, sType) {
		return []string{fmt.Sprintf("Type mismatch: expected %s", sType)}
	}
	if sType == "object" {
		required, _ := schema["required"].([]any)
		obj, isObj := data.(map[string]any)
		for _, r := range required {
			key, ok := r.(string)
			if !ok {
				continue
			}
			if !isObj {
				errors = append(errors, fmt.Sprintf("Missing required property: %s", key))
				continue
			}
			if _, present := obj[key]; !present {
				errors = append(errors, fmt.Sprintf("Missing required property: %s", key))
			}
		}
		if props, ok := schema["properties"].(map[string]any); ok && isObj {
			for key, sub := range props {
				subSchema, ok := sub.(map[string]any)
				if !ok {
					continue
				}
				if value, present := obj[key]; present {
					for _, e := range validate(value, subSchema) {
						errors = append(errors, fmt.Sprintf("%s: %s", key, e))
					}
				}
			}
		}
	}
	if sType == "array" {
		if items, ok := schema["items"].(map[string]any); ok {
			if list, ok := data.([]any); ok {
				for i, item := range list {
					for _, e := range validate(item, items) {
						errors = append(errors, fmt.Sprintf("[%d]: %s", i, e))
					}
				}
			}
		}
	}
	return errors
}

// ToolPreInvoke validates arguments against the tool's argument schema.
func (p *Plugin) ToolPreInvoke(_ context.Context, payload *plugin.ToolPreInvokePayload, _ *plugin.Context) (*plugin.ToolPreInvokeResult, error) {
	schema, ok := p.argSchemas[payload.Name]
	if !ok {
		return plugin.Allow[plugin.ToolPreInvokePayload](), nil
	}
	args := payload.Args
	if args == nil {
		args = map[string]any{}
	}
	errors := validate(args, schema)
	if len(errors) > 0 && p.block {
		return plugin.Block[plugin.ToolPreInvokePayload](&plugin.Violation{
			Reason:      "Schema validation failed",
			Description: "Arguments do not conform to schema",
			Code:        CodeArgs,
			Details:     map[string]any{"errors": errors},
		}), nil
	}
	return plugin.AllowWithMetadata[plugin.ToolPreInvokePayload](map[string]any{"schema_errors": errors}), nil
}

// ToolPostInvoke validates the result against the tool's result schema.
func (p *Plugin) ToolPostInvoke(_ context.Context, payload *plugin.ToolPostInvokePayload, _ *plugin.Context) (*plugin.ToolPostInvokeResult, error) {
	schema, ok := p.resultSchemas[payload.Name]
	if !ok {
		return plugin.Allow[plugin.ToolPostInvokePayload](), nil
	}
	errors := validate(payload.Result, schema)
	if len(errors) > 0 && p.block {
		return plugin.Block[plugin.ToolPostInvokePayload](&plugin.Violation{
			Reason:      "Schema validation failed",
			Description: "Result does not conform to schema",
			Code:        CodeResult,
			Details:     map[string]any{"errors": errors},
		}), nil
	}
	return plugin.AllowWithMetadata[plugin.ToolPostInvokePayload](map[string]any{"schema_errors": errors}), nil
}
