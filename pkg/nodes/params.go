package nodes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MissingParameterError reports a required parameter that is absent or empty.
type MissingParameterError struct {
	Name string `json:"name"`
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter '%s'", e.Name)
}

// Params are the rendered parameters of one item. Values come from JSON, so
// numbers arrive as float64 and nested objects as map[string]any.
type Params map[string]any

func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		// resource locator: {"mode": "list", "value": "main"}
		return Params(v).String("value")
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Lookup resolves a dotted path such as "additionalFields.catalog".
func (p Params) Lookup(path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		v, ok := p[head]

		return v, ok
	}

	return p.Sub(head).Lookup(rest)
}

func (p Params) RequiredString(key string) (string, error) {
	v := p.String(key)
	if v == "" {
		return "", &MissingParameterError{Name: key}
	}

	return v, nil
}

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}

	return def
}

// Float returns nil when key is absent or not numeric.
func (p Params) Float(key string) *float64 {
	switch v := p[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)

		return &f
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &f
		}
	}

	return nil
}

func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}

	return def
}

// Object returns key as an object. A string value is decoded as JSON.
func (p Params) Object(key string) (map[string]any, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}

		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("parameter '%s' is not a JSON object: %w", key, err)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("parameter '%s' must be an object, got %T", key, v)
	}
}

// Strings accepts a list or a comma separated string.
func (p Params) Strings(key string) []string {
	var out []string

	switch v := p[key].(type) {
	case []any:
		for _, s := range v {
			if str := strings.TrimSpace(fmt.Sprint(s)); str != "" {
				out = append(out, str)
			}
		}
	case []string:
		out = append(out, v...)
	case string:
		for _, s := range strings.Split(v, ",") {
			if str := strings.TrimSpace(s); str != "" {
				out = append(out, str)
			}
		}
	}

	return out
}

// Sub returns a nested parameter collection such as additionalFields.
func (p Params) Sub(key string) Params {
	if m, ok := p[key].(map[string]any); ok {
		return Params(m)
	}

	return Params{}
}
