package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// The config file may be YAML (config.yaml) or JSON. YAML input is
// converted to JSON bytes first so one strict json.Decoder with
// DisallowUnknownFields validates both shapes the same way; a typo'd key
// like "watch.intervall" fails loudly regardless of format.

// coerceToJSONBytes returns data as JSON plus the detected format
// ("yaml" or "json", decided by file extension).
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// stringifyKeys rewrites every map key to a string so the YAML document
// survives the round trip through encoding/json.
func stringifyKeys(in any) any {
	switch v := in.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = stringifyKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = stringifyKeys(val)
		}
		return out
	default:
		return in
	}
}
