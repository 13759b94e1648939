package serving

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type bodyCheck struct {
	field   string
	problem string
	ok      func(body map[string]any) bool
}

var bodyChecks = map[Format]bodyCheck{
	FormatChat:             {"messages", "must be an array", isArrayField("messages")},
	FormatCompletions:      {"prompt", "is required", isTruthyField("prompt")},
	FormatEmbeddings:       {"input", "is required", isTruthyField("input")},
	FormatDataframeSplit:   {"dataframe_split.data", "is required", hasDataframeSplitData},
	FormatDataframeRecords: {"dataframe_records", "must be an array", isArrayField("dataframe_records")},
	FormatInputs:           {"inputs", "is required", isTruthyField("inputs")},
	FormatInstances:        {"instances", "must be an array", isArrayField("instances")},
}

// Validate checks the single structural condition of format against body. It
// returns nil or a *RequestValidationError carrying a generated example.
// FormatGeneric always passes.
func Validate(body map[string]any, format Format) error {
	check, ok := bodyChecks[format]
	if !ok || check.ok(body) {
		return nil
	}

	return &RequestValidationError{
		Format:  format,
		Field:   check.field,
		Problem: check.problem,
		Example: BuildExample(nil, format),
		Body:    body,
	}
}

// Validate checks body against the detected format. The example in a returned
// error is built from the resolved schema fragment.
func (i *EndpointSchemaInfo) Validate(body map[string]any) error {
	err := Validate(body, i.Format)

	var verr *RequestValidationError
	if errors.As(err, &verr) {
		verr.Endpoint = i.Endpoint
		verr.Example = BuildExample(i.Schema, i.Format)

		return verr
	}

	return err
}

func isArrayField(key string) func(map[string]any) bool {
	return func(body map[string]any) bool {
		_, ok := body[key].([]any)

		return ok
	}
}

func isTruthyField(key string) func(map[string]any) bool {
	return func(body map[string]any) bool { return truthy(body[key]) }
}

// hasDataframeSplitData reports whether dataframe_split carries a non-null
// data member. Any other value passes, including 0 and "", and the shape of
// the rows is left to the endpoint.
func hasDataframeSplitData(body map[string]any) bool {
	split, ok := body["dataframe_split"].(map[string]any)
	if !ok {
		return false
	}

	data, present := split["data"]

	return present && data != nil
}

// truthy follows JSON-value truthiness: null, false, zero and the empty string
// are false; every array and object is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()

		return err != nil || f != 0
	default:
		return true
	}
}

// describe is used by error messages.
func describe(format Format, field, problem string) string {
	return fmt.Sprintf("%s format: %q %s", format, field, problem)
}
