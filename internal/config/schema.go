package config

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// GenerateSchema builds the JSON schema for a config struct so editors can
// validate run files.
func GenerateSchema(config any, title, description string) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if strings.Contains(t.String(), "calendar.Profile") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{"us_equity", "24/7", "24/5"},
				}
			}

			if strings.Contains(t.String(), "types.Timestep") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{"minute", "hour", "day"},
				}
			}

			if strings.Contains(t.String(), "backtest.FeeProfile") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{"zero", "per_share"},
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(config)
	schema.Title = title
	schema.Description = description
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON renders a config schema as indented JSON.
func GenerateSchemaJSON(config any, title, description string) (string, error) {
	schema := GenerateSchema(config, title, description)

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
