package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	apperrors "github.com/louisbranch/ucp-hub/internal/platform/errors"
)

const (
	capabilityNamePattern = `^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`
	versionPattern        = `^\d{4}-\d{2}-\d{2}$`
)

// Validator turns raw discovery bytes into a typed profile.
type Validator interface {
	Validate(raw []byte) (*Profile, error)
}

// SchemaValidator checks profiles against the discovery JSON schema.
type SchemaValidator struct {
	resolved *jsonschema.Resolved
}

// NewSchemaValidator compiles the discovery profile schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	resolved, err := ProfileSchema().Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve profile schema: %w", err)
	}
	return &SchemaValidator{resolved: resolved}, nil
}

// Validate decodes raw and checks it against the schema. Undecodable bytes are
// a discovery failure; a decodable document that violates the schema is a
// conformance violation.
func (v *SchemaValidator) Validate(raw []byte) (*Profile, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDiscoveryFailed, "unexpected error parsing discovery response", err)
	}
	if err := v.resolved.Validate(instance); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConformanceViolation, "server response violated UCP schema", err)
	}
	var profile Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConformanceViolation, "server response violated UCP schema", err)
	}
	return &profile, nil
}

// ProfileSchema returns the JSON schema for a discovery profile.
func ProfileSchema() *jsonschema.Schema {
	str := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "string"} }

	capability := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"name", "version"},
		Properties: map[string]*jsonschema.Schema{
			"name":    {Type: "string", Pattern: capabilityNamePattern},
			"version": {Type: "string", Pattern: versionPattern},
			"spec":    str(),
			"schema":  str(),
			"extends": str(),
		},
	}
	handler := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"id", "name"},
		Properties: map[string]*jsonschema.Schema{
			"id":                 str(),
			"name":               str(),
			"version":            str(),
			"spec":               str(),
			"config_schema":      str(),
			"instrument_schemas": {Type: "array", Items: str()},
			"config":             {Type: "object"},
		},
	}
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"ucp"},
		Properties: map[string]*jsonschema.Schema{
			"ucp": {
				Type:     "object",
				Required: []string{"version", "capabilities"},
				Properties: map[string]*jsonschema.Schema{
					"version":      {Type: "string", Pattern: versionPattern},
					"services":     {Type: "object"},
					"capabilities": {Type: "array", Items: capability},
				},
			},
			"payment": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"handlers": {Type: "array", Items: handler},
				},
			},
		},
	}
}
