package main

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

//go:embed request_schema.json
var requestSchemaJSON []byte

// requestValidator checks query bodies against the request JSON schema before they are
// decoded into a QueryRequest.
type requestValidator struct {
	resolved *jsonschema.Resolved
}

func newRequestValidator() (*requestValidator, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(requestSchemaJSON, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into jsonschema.Schema: %w", err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JSON schema: %w", err)
	}
	return &requestValidator{resolved: resolved}, nil
}

func (v *requestValidator) Validate(body []byte) error {
	var instance any
	if err := json.Unmarshal(body, &instance); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	if err := v.resolved.Validate(instance); err != nil {
		return fmt.Errorf("JSON validation failed: %w", err)
	}
	return nil
}
