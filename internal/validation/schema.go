package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	schemaBaseURL = "https://fitcoach.local/schemas/"
	maxBodyBytes  = 1 << 20
)

// InvalidInputError is returned for bodies that are not JSON, do not match
// the schema, or cannot be decoded into the target type.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

type Schema struct {
	name   string
	schema *jsonschema.Schema
}

func Compile(name, schemaJSON string) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	url := schemaBaseURL + name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}

	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}

	return &Schema{
		name:   name,
		schema: compiled,
	}, nil
}

// MustCompile is meant for package level schemas.
func MustCompile(name, schemaJSON string) *Schema {
	s, err := Compile(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode validates the JSON body and decodes it into dst. Fields missing
// from the body keep whatever value dst already had, so defaults can be preset.
func (s *Schema) Decode(body io.Reader, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &InvalidInputError{Reason: "malformed json"}
	}

	if err := s.schema.Validate(instance); err != nil {
		return &InvalidInputError{Reason: err.Error()}
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return &InvalidInputError{Reason: err.Error()}
	}

	return nil
}
