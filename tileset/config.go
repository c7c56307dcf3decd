package tileset

import (
	"bytes"
	"fmt"
	"sync"

	goccyjson "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Config is a tile set's persisted configuration.
type Config struct {
	ID             string           `json:"id"`
	ReferenceFrame string           `json:"referenceFrame"`
	LodRange       [2]uint8         `json:"lodRange"`
	Position       *Position        `json:"position,omitempty"`
	Credits        []int            `json:"credits,omitempty"`
	BoundLayers    []string         `json:"boundLayers,omitempty"`
	DriverOptions  goccyjson.RawMessage `json:"driverOptions,omitempty"`
}

const configSchemaText = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "referenceFrame", "lodRange"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"referenceFrame": {"type": "string", "minLength": 1},
		"lodRange": {
			"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 255},
			"minItems": 2, "maxItems": 2
		},
		"position": {
			"type": "object",
			"properties": {
				"type": {"enum": ["objective", "subjective"]},
				"heightMode": {"enum": ["fixed", "floating"]}
			}
		},
		"credits": {"type": "array", "items": {"type": "integer"}},
		"boundLayers": {"type": "array", "items": {"type": "string"}}
	}
}`

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Schema
	configSchemaErr  error
)

func compiledConfigSchema() (*jsonschema.Schema, error) {
	configSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config.json", bytes.NewReader([]byte(configSchemaText))); err != nil {
			configSchemaErr = err
			return
		}
		configSchema, configSchemaErr = compiler.Compile("config.json")
	})
	return configSchema, configSchemaErr
}

// MarshalConfig validates cfg against the config schema and encodes it.
func MarshalConfig(cfg Config) ([]byte, error) {
	data, err := goccyjson.Marshal(cfg)
	if err != nil {
		return nil, newError(Internal, "marshalConfig", err)
	}
	if err := validateConfig(data); err != nil {
		return nil, err
	}
	return data, nil
}

// UnmarshalConfig decodes and validates a config blob.
func UnmarshalConfig(data []byte) (Config, error) {
	if err := validateConfig(data); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := goccyjson.Unmarshal(data, &cfg); err != nil {
		return Config{}, newError(FormatError, "unmarshalConfig", err)
	}
	return cfg, nil
}

func validateConfig(data []byte) error {
	schema, err := compiledConfigSchema()
	if err != nil {
		return newError(Internal, "validateConfig", fmt.Errorf("compiling schema: %w", err))
	}
	var v any
	if err := goccyjson.Unmarshal(data, &v); err != nil {
		return newError(FormatError, "validateConfig", err)
	}
	if err := schema.Validate(v); err != nil {
		return newError(FormatError, "validateConfig", err)
	}
	return nil
}

// FilteredConfig returns cfg with driver-specific options stripped, for
// Delivery's read-only config façade.
func FilteredConfig(cfg Config) Config {
	out := cfg
	out.DriverOptions = nil
	return out
}
