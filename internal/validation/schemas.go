package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/temcen/podrex/pkg/models"
)

// Schema names understood by the validator.
const (
	SchemaSessionCreate    = "session-create"
	SchemaSessionNext      = "session-next"
	SchemaSessionEngage    = "session-engage"
	SchemaRankingOverrides = "ranking-overrides"
)

// Engagement kinds are deliberately unconstrained in the create schema:
// unknown kinds are dropped during normalization with an event, they never
// reject the request. The engage schema, by contrast, names an episode the
// user acted on right now, so an unknown kind there is a client bug.
var schemaSources = map[string]string{
	SchemaSessionCreate: `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"user_id": {"type": "string", "maxLength": 128},
			"engagements": {
				"type": "array",
				"maxItems": 500,
				"items": {
					"type": "object",
					"additionalProperties": false,
					"required": ["episode_id", "kind"],
					"properties": {
						"episode_id": {"type": "string", "minLength": 1},
						"kind": {"type": "string", "minLength": 1},
						"timestamp": {"type": "string"}
					}
				}
			},
			"excluded_ids": {
				"type": "array",
				"maxItems": 1000,
				"items": {"type": "string", "minLength": 1}
			},
			"user_vector": {
				"type": "array",
				"maxItems": 4096,
				"items": {"type": "number"}
			},
			"limit": {"type": "integer", "minimum": 1, "maximum": 50}
		}
	}`,
	SchemaSessionNext: `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"count": {"type": "integer", "minimum": 0, "maximum": 50}
		}
	}`,
	SchemaSessionEngage: `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"additionalProperties": false,
		"required": ["episode_id", "kind"],
		"properties": {
			"episode_id": {"type": "string", "minLength": 1},
			"kind": {"type": "string", "enum": ["click", "bookmark", "listen"]},
			"episode_title": {"type": "string", "maxLength": 512},
			"series_name": {"type": "string", "maxLength": 512},
			"user_id": {"type": "string", "maxLength": 128}
		}
	}`,
	SchemaRankingOverrides: `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"algorithm_version": {"type": "string", "minLength": 1},
			"strategy_version": {"type": "string", "minLength": 1},
			"dataset_version": {"type": "string", "minLength": 1},
			"embedding_dimension": {"type": "integer", "minimum": 1},
			"credibility_floor": {"type": "integer", "minimum": 0, "maximum": 4},
			"combined_floor": {"type": "integer", "minimum": 0, "maximum": 8},
			"freshness_window_days": {"type": "integer", "minimum": 1},
			"candidate_pool_size": {"type": "integer", "minimum": 1},
			"user_vector_limit": {"type": "integer", "minimum": 0},
			"engagement_weights": {
				"type": "object",
				"additionalProperties": {"type": "number"}
			},
			"use_weighted_engagements": {"type": "boolean"},
			"category_anchor_weight": {"type": "number", "minimum": 0, "maximum": 1},
			"weight_similarity": {"type": "number", "minimum": 0},
			"weight_quality": {"type": "number", "minimum": 0},
			"weight_recency": {"type": "number", "minimum": 0},
			"cold_start": {
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"weight_quality": {"type": "number", "minimum": 0},
					"weight_recency": {"type": "number", "minimum": 0}
				}
			},
			"recency_lambda": {"type": "number", "minimum": 0},
			"credibility_multiplier": {"type": "number", "minimum": 0},
			"max_quality_score": {"type": "number", "minimum": 0},
			"series_penalty_alpha": {"type": "number", "minimum": 0, "maximum": 1},
			"max_episodes_per_series": {"type": "integer", "minimum": 1},
			"default_similarity_on_missing": {"type": "number", "minimum": 0, "maximum": 1},
			"sim_fallback_logging_enabled": {"type": "boolean"}
		}
	}`,
}

// SchemaValidator checks request bodies against the API's JSON schemas
// before they reach binding. Schema validation catches structural problems
// (wrong types, unknown fields, out-of-range constants) with field-level
// messages; struct tag validation after binding covers the rest.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaValidator compiles the embedded schemas. Compilation failure is a
// programming error, not a runtime condition.
func NewSchemaValidator() (*SchemaValidator, error) {
	schemas := make(map[string]*gojsonschema.Schema, len(schemaSources))
	for name, source := range schemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		schemas[name] = schema
	}
	return &SchemaValidator{schemas: schemas}, nil
}

// ValidateBody checks a raw request body against the named schema. Malformed
// JSON and schema violations both come back as INPUT_INVALID with a message
// that names the offending fields.
func (sv *SchemaValidator) ValidateBody(name string, body []byte) error {
	schema, ok := sv.schemas[name]
	if !ok {
		return models.NewError(models.ErrInternalInvariant, "unknown schema %s", name)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return models.WrapError(models.ErrInputInvalid, err, "request body is not valid JSON")
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return models.NewError(models.ErrInputInvalid, "request validation failed: %s", strings.Join(details, "; "))
}

// Names returns the loaded schema names, for diagnostics.
func (sv *SchemaValidator) Names() []string {
	names := make([]string, 0, len(sv.schemas))
	for name := range sv.schemas {
		names = append(names, name)
	}
	return names
}
