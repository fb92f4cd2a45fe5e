package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"sigs.k8s.io/yaml"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "testbed.schema.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// Schema returns the embedded JSON schema of testbed.yaml.
func Schema() []byte {
	return bytes.Clone(schemaJSON)
}

// suggestions per top-level field, shown with schema failures.
var fieldSuggestions = map[string][]string{
	"level":        {"Use one of: unit, integration, system"},
	"strategy":     {"Use one of: eager, lazy, undefined", "Omit strategy to use the level default"},
	"timeouts":     {`Durations use Go syntax, e.g. "30s" or "1m30s"`},
	"parallel":     {"Use a whole number of at least 1"},
	"resources":    {"Nest overrides as resources.<resource name>.<property>: <value>"},
	"envFile":      {"Give a path relative to the configuration directory"},
	"backend":      {`Run "testbed providers" to list registered backends`},
	"mockProvider": {`Run "testbed providers" to list registered mock providers`},
}

var knownFields = func() []string {
	out := make([]string, 0, len(fieldSuggestions))
	for k := range fieldSuggestions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}()

// validateSchema checks the raw YAML document against the schema and
// returns one ConfigurationError per failed leaf.
func validateSchema(path string, raw []byte) []ConfigurationError {
	schema, err := compileSchema()
	if err != nil {
		return []ConfigurationError{newError(path, ErrorTypeSchema, "", "embedded schema is invalid", err.Error())}
	}

	doc, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return []ConfigurationError{newError(path, ErrorTypeParse, "", "not valid YAML", err.Error())}
	}
	var payload any
	if err := json.Unmarshal(doc, &payload); err != nil {
		return []ConfigurationError{newError(path, ErrorTypeParse, "", "not valid YAML", err.Error())}
	}
	if payload == nil {
		return nil
	}

	err = schema.Validate(payload)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []ConfigurationError{newError(path, ErrorTypeSchema, "", err.Error(), "")}
	}

	var out []ConfigurationError
	for _, leaf := range leaves(ve) {
		ce := newError(path, ErrorTypeSchema, leaf.InstanceLocation, leaf.Message, leaf.KeywordLocation)
		ce.Suggestions = suggest(leaf)
		out = append(out, ce)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func suggest(leaf *jsonschema.ValidationError) []string {
	field := strings.Split(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/")[0]
	if field == "" && strings.Contains(leaf.Message, "additionalProperties") {
		return []string{"Known fields: " + strings.Join(knownFields, ", ")}
	}
	return fieldSuggestions[field]
}

func newError(path, errorType, field, message, details string) ConfigurationError {
	return ConfigurationError{
		FilePath:  path,
		FileName:  fileNameOf(path),
		ErrorType: errorType,
		Field:     field,
		Message:   message,
		Details:   details,
	}
}
