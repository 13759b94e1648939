// Package serving adapts caller payloads to Databricks model serving endpoints.
// It discovers an endpoint's input contract from its OpenAPI description,
// validates request bodies against it and explains mismatches with examples.
package serving

// Format is the request body shape an endpoint expects.
type Format string

const (
	FormatChat             Format = "chat"
	FormatCompletions      Format = "completions"
	FormatEmbeddings       Format = "embeddings"
	FormatDataframeSplit   Format = "dataframe_split"
	FormatDataframeRecords Format = "dataframe_records"
	FormatInputs           Format = "inputs"
	FormatInstances        Format = "instances"
	FormatGeneric          Format = "generic"
)

// Formats lists every known format, generic last.
func Formats() []Format {
	formats := make([]Format, 0, len(classificationRules)+1)
	for _, r := range classificationRules {
		formats = append(formats, r.format)
	}

	return append(formats, FormatGeneric)
}

// Valid reports whether f is one of the known formats.
func (f Format) Valid() bool {
	if f == FormatGeneric {
		return true
	}

	_, ok := ruleFor(f)

	return ok
}

// RequiredFields returns the top-level keys a body of format f must carry.
func (f Format) RequiredFields() []string {
	r, ok := ruleFor(f)
	if !ok {
		return []string{}
	}

	return []string{r.field}
}

type classificationRule struct {
	format  Format
	field   string
	matches func(props map[string]any) bool
}

// classificationRules is evaluated in order; the first match wins.
var classificationRules = []classificationRule{
	{FormatChat, "messages", hasProperty("messages")},
	{FormatCompletions, "prompt", hasProperty("prompt")},
	{FormatEmbeddings, "input", func(props map[string]any) bool {
		return has(props, "input") && !has(props, "dataframe_records") && !has(props, "dataframe_split")
	}},
	{FormatDataframeSplit, "dataframe_split", hasProperty("dataframe_split")},
	{FormatDataframeRecords, "dataframe_records", hasProperty("dataframe_records")},
	{FormatInputs, "inputs", hasProperty("inputs")},
	{FormatInstances, "instances", hasProperty("instances")},
}

func ruleFor(f Format) (classificationRule, bool) {
	for _, r := range classificationRules {
		if r.format == f {
			return r, true
		}
	}

	return classificationRule{}, false
}

func has(props map[string]any, key string) bool {
	_, ok := props[key]

	return ok
}

func hasProperty(key string) func(map[string]any) bool {
	return func(props map[string]any) bool { return has(props, key) }
}

// Classify detects the format described by a request body schema. When the
// schema offers oneOf alternatives they are scanned in order and the first
// alternative matching any rule decides; otherwise the schema's own properties
// are used. The returned fragment is the object schema that matched, or nil
// for FormatGeneric.
func Classify(schema map[string]any) (Format, map[string]any) {
	if schema == nil {
		return FormatGeneric, nil
	}

	if alternatives, ok := schema["oneOf"].([]any); ok && len(alternatives) > 0 {
		for _, alt := range alternatives {
			altSchema, ok := alt.(map[string]any)
			if !ok {
				continue
			}

			if f, ok := classifyProperties(altSchema); ok {
				return f, altSchema
			}
		}

		return FormatGeneric, nil
	}

	if f, ok := classifyProperties(schema); ok {
		return f, schema
	}

	return FormatGeneric, nil
}

func classifyProperties(schema map[string]any) (Format, bool) {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return "", false
	}

	for _, r := range classificationRules {
		if r.matches(props) {
			return r.format, true
		}
	}

	return "", false
}
