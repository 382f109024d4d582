package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// ParamSchema is a minimal JSON-Schema-object subset sufficient to
// validate tool arguments: required fields and known-field allowlisting.
// [ADVANCED]/[INTERNAL] visibility is carried by ToolDescriptor.Advanced,
// not by the schema (spec §6).
type ParamSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]PropSchema  `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

type PropSchema struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Validate decodes raw into a generic map and rejects unknown fields and
// missing required fields, per spec §8: "for every tool action A and
// every malformed argument M, A(M) fails with VALIDATION_FAILED and does
// not touch any backend."
func (s ParamSchema) Validate(raw json.RawMessage) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, toolerr.New(toolerr.KindValidationFailed, "arguments must be a JSON object").
				WithFixHint("send a JSON object for \"arguments\"")
		}
	}

	for key := range args {
		if _, known := s.Properties[key]; !known {
			return nil, toolerr.New(toolerr.KindValidationFailed, fmt.Sprintf("unknown argument %q", key)).
				WithFixHint("remove unrecognized fields from arguments")
		}
	}

	missing := []string{}
	for _, req := range s.Required {
		if _, ok := args[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, toolerr.New(toolerr.KindValidationFailed, fmt.Sprintf("missing required argument(s): %v", missing)).
			WithFixHint("supply all required arguments")
	}
	return args, nil
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intArg(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return def
}

func boolArg(args map[string]interface{}, key string) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func stringsArg(args map[string]interface{}, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapArg(args map[string]interface{}, key string) map[string]interface{} {
	v, ok := args[key]
	if !ok {
		return nil
	}
	m, _ := v.(map[string]interface{})
	return m
}

func entriesArg(args map[string]interface{}, key string) []manifestEntryArg {
	v, ok := args[key]
	if !ok {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]manifestEntryArg, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, manifestEntryArg{
			LogicalPath: stringArg(m, "logical_path"),
			PhysicalURI: stringArg(m, "physical_uri"),
			Size:        int64(intArg(m, "size", 0)),
			Hash:        stringArg(m, "hash"),
		})
	}
	return out
}

type manifestEntryArg struct {
	LogicalPath string
	PhysicalURI string
	Size        int64
	Hash        string
}
