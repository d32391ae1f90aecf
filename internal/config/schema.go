package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
)

// Schema reflects the JSON schema of Config.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{FieldNameTag: "toml"}
	schema := r.Reflect(&Config{})
	schema.ID = "https://github.com/bnema/vidrender/config.schema.json"
	schema.Title = "vidrender configuration"
	schema.Description = "Frame pacing and display back end settings for vidrender"
	return schema
}

// MarshalSchema returns the indented schema document.
func MarshalSchema() ([]byte, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// GenerateSchemaFile writes config.schema.json next to config.toml in dir.
func GenerateSchemaFile(dir string) (string, error) {
	data, err := MarshalSchema()
	if err != nil {
		return "", err
	}
	schemaFile := filepath.Join(dir, "config.schema.json")
	if err := os.WriteFile(schemaFile, data, filePerm); err != nil {
		return "", fmt.Errorf("failed to write schema file: %w", err)
	}
	return schemaFile, nil
}
