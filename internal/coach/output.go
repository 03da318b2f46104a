package coach

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const outputSchemaURL = "coach-output.json"

const outputSchemaJSON = `{
  "type": "object",
  "required": ["primary", "suggestions"],
  "properties": {
    "primary": {"type": "string", "minLength": 1},
    "suggestions": {
      "anyOf": [
        {"type": "array", "items": {"type": "string"}},
        {"type": "string"}
      ]
    },
    "nudges": {},
    "cards": {},
    "stage": {},
    "checklist_done": {}
  }
}`

var outputSchema = mustCompileOutputSchema()

func mustCompileOutputSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(outputSchemaURL, strings.NewReader(outputSchemaJSON)); err != nil {
		panic(fmt.Sprintf("add output schema: %v", err))
	}
	return compiler.MustCompile(outputSchemaURL)
}

// parseStatus tags the outcome of reading one model answer.
type parseStatus int

const (
	parseOK parseStatus = iota
	parseMalformed
	parseMissingFields
)

func (p parseStatus) String() string {
	switch p {
	case parseOK:
		return "ok"
	case parseMalformed:
		return "malformed"
	case parseMissingFields:
		return "missing_fields"
	default:
		return "unknown"
	}
}

type modelCard struct {
	Title string `mapstructure:"title"`
	Body  string `mapstructure:"body"`
}

// modelOutput holds the fields we accept from the backend. Everything but
// Primary and Suggestions is optional.
type modelOutput struct {
	Primary             string      `mapstructure:"primary"`
	Suggestions         []string    `mapstructure:"suggestions"`
	Nudges              []string    `mapstructure:"nudges"`
	Cards               []modelCard `mapstructure:"cards"`
	Objection           string      `mapstructure:"objection"`
	Sentiment           string      `mapstructure:"sentiment"`
	Stage               string      `mapstructure:"stage"`
	ChecklistDone       []string    `mapstructure:"checklist_done"`
	Moment              string      `mapstructure:"moment"`
	MoveType            string      `mapstructure:"move_type"`
	ValuePropsUsed      []string    `mapstructure:"value_props_used"`
	DifferentiatorsUsed []string    `mapstructure:"differentiators_used"`
}

type parsedOutput struct {
	status parseStatus
	out    modelOutput
	err    error
}

// parseModelOutput never panics on untrusted text; every failure is a status.
func parseModelOutput(text string) parsedOutput {
	body, ok := extractJSONObject(text)
	if !ok {
		return parsedOutput{status: parseMalformed, err: fmt.Errorf("no json object in output")}
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return parsedOutput{status: parseMalformed, err: fmt.Errorf("decode output: %w", err)}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return parsedOutput{status: parseMalformed, err: fmt.Errorf("output is not an object")}
	}
	obj = normalizeKeys(obj)
	if err := outputSchema.Validate(obj); err != nil {
		return parsedOutput{status: parseMissingFields, err: err}
	}

	out, err := decodeOutput(obj)
	if err != nil {
		// A badly shaped optional field should not cost the whole answer.
		out, err = decodeOutput(map[string]any{"primary": obj["primary"], "suggestions": obj["suggestions"]})
	}
	if err != nil {
		return parsedOutput{status: parseMalformed, err: fmt.Errorf("decode output fields: %w", err)}
	}
	return parsedOutput{status: parseOK, out: out}
}

func decodeOutput(obj map[string]any) (modelOutput, error) {
	var out modelOutput
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return modelOutput{}, err
	}
	if err := dec.Decode(obj); err != nil {
		return modelOutput{}, err
	}
	return out, nil
}

func extractJSONObject(text string) (string, bool) {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func normalizeKeys(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[normalizeKey(k)] = v
	}
	return out
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.ReplaceAll(k, "-", "_")
	return strings.ReplaceAll(k, " ", "_")
}
