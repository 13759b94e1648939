// Package template renders Go templates inside node parameters.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
)

// Data builds the template data for one item: .item (also .json), .variables
// (also .vars), .metadata, .env and .execution.id.
func Data(executionCtx *models.ExecutionContext, item models.Item) map[string]any {
	if item == nil {
		item = models.Item{}
	}

	data := map[string]any{
		"item": item,
		"json": item,
		"env":  getEnvVars(),
	}

	if executionCtx != nil {
		data["variables"] = executionCtx.Variables
		data["vars"] = executionCtx.Variables
		data["metadata"] = executionCtx.Metadata
		data["execution"] = map[string]any{"id": executionCtx.ID}
	}

	return data
}

func RenderWithContext(input string, executionCtx *models.ExecutionContext, item models.Item) (any, error) {
	return Render(input, Data(executionCtx, item))
}

// Render executes templateStr and converts the output to JSON values, numbers
// or booleans when it parses as one.
func Render(templateStr string, data any) (any, error) {
	result, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderString executes templateStr and returns the raw output.
func RenderString(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("param").
		Option("missingkey=error").
		Funcs(funcs).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// RenderValue renders every templated string inside v, walking maps and
// slices. Strings keep their type; non-string values are returned as is.
func RenderValue(v any, data any) (any, error) {
	switch val := v.(type) {
	case string:
		if !NeedsTemplating(val) {
			return val, nil
		}

		return RenderString(val, data)
	case map[string]any:
		out := make(map[string]any, len(val))

		for k, item := range val {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}

			out[k] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(val))

		for i, item := range val {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}

func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}

		num := make([]byte, 1)
		if _, err := rand.Read(num); err != nil {
			return 0
		}

		return int(num[0]) % max
	},
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)

		return string(data), err
	},
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
