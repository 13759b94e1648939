package serving

import (
	"bytes"
	"encoding/json"
)

// exampleValue is a canned value for a well-known property. byType overrides
// value when the property declares that JSON schema type.
type exampleValue struct {
	key    string
	value  any
	byType map[string]any
}

// exampleProperties lists the keys that participate in generated examples, in
// output order. Properties not listed here are omitted.
var exampleProperties = []exampleValue{
	{key: "messages", value: []any{map[string]any{"role": "user", "content": "Hello, how are you?"}}},
	{key: "prompt", value: "Write a haiku about data lakes."},
	{key: "input", value: []any{"The quick brown fox jumps over the lazy dog."}, byType: map[string]any{
		"string": "The quick brown fox jumps over the lazy dog.",
	}},
	{key: "dataframe_split", value: map[string]any{
		"columns": []any{"feature_1", "feature_2"},
		"data":    []any{[]any{1.0, 2.0}},
	}},
	{key: "dataframe_records", value: []any{map[string]any{"feature_1": 1.0, "feature_2": 2.0}}},
	{key: "inputs", value: map[string]any{"feature_1": []any{1.0}, "feature_2": []any{2.0}}, byType: map[string]any{
		"array":  []any{[]any{1.0, 2.0}},
		"string": "What is Databricks?",
	}},
	{key: "instances", value: []any{map[string]any{"feature_1": 1.0, "feature_2": 2.0}}},
	{key: "temperature", value: 0.7},
	{key: "max_tokens", value: 256},
	{key: "top_p", value: 0.9},
	{key: "top_k", value: 40},
	{key: "n", value: 1},
	{key: "stop", value: []any{"\n\n"}},
	{key: "stream", value: false},
}

// cannedExamples is used when a schema fragment yields no usable properties.
var cannedExamples = map[Format]string{
	FormatChat: `{
  "messages": [
    {
      "role": "user",
      "content": "Hello, how are you?"
    }
  ],
  "max_tokens": 256
}`,
	FormatCompletions: `{
  "prompt": "Write a haiku about data lakes.",
  "max_tokens": 256
}`,
	FormatEmbeddings: `{
  "input": [
    "The quick brown fox jumps over the lazy dog."
  ]
}`,
	FormatDataframeSplit: `{
  "dataframe_split": {
    "columns": [
      "feature_1",
      "feature_2"
    ],
    "data": [
      [
        1,
        2
      ]
    ]
  }
}`,
	FormatDataframeRecords: `{
  "dataframe_records": [
    {
      "feature_1": 1,
      "feature_2": 2
    }
  ]
}`,
	FormatInputs: `{
  "inputs": {
    "feature_1": [
      1
    ],
    "feature_2": [
      2
    ]
  }
}`,
	FormatInstances: `{
  "instances": [
    {
      "feature_1": 1,
      "feature_2": 2
    }
  ]
}`,
	FormatGeneric: `{}`,
}

// BuildExample renders a minimal request body for format. Known properties of
// schema are filled with canned values; when none are usable the fixed example
// for the format is returned. The result is never empty.
func BuildExample(schema map[string]any, format Format) string {
	if example, ok := exampleFromProperties(schema); ok {
		return example
	}

	if example, ok := cannedExamples[format]; ok {
		return example
	}

	return "{}"
}

func exampleFromProperties(schema map[string]any) (string, bool) {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return "", false
	}

	var buf bytes.Buffer

	buf.WriteByte('{')

	written := 0

	for _, ev := range exampleProperties {
		prop, ok := props[ev.key]
		if !ok {
			continue
		}

		encoded, err := json.Marshal(ev.valueFor(prop))
		if err != nil {
			continue
		}

		key, _ := json.Marshal(ev.key)

		if written > 0 {
			buf.WriteByte(',')
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(encoded)

		written++
	}

	buf.WriteByte('}')

	if written == 0 {
		return "", false
	}

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return "", false
	}

	return out.String(), true
}

func (ev exampleValue) valueFor(prop any) any {
	def, _ := prop.(map[string]any)

	if typ, ok := def["type"].(string); ok {
		if v, ok := ev.byType[typ]; ok {
			return v
		}
	}

	return ev.value
}
