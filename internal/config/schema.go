package config

import (
	_ "embed"
	"fmt"
	"sync"

	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Embed the schema file content directly into the compiled binary. The
// path is relative to the location of this Go source file.
//
//go:embed quartz_runtime_schema_v1.0.0.json
var schemaV1Bytes []byte

var (
	schemaV1   *gojsonschema.Schema
	schemaOnce sync.Once
	schemaErr  error
)

// loadSchema compiles the embedded schema thread-safely, exactly once.
func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemaV1Bytes) == 0 {
			schemaErr = qerrors.NewConfigError("embedded schema 'quartz_runtime_schema_v1.0.0.json' is empty or not found", nil)
			return
		}
		loader := gojsonschema.NewBytesLoader(schemaV1Bytes)
		schemaV1, schemaErr = gojsonschema.NewSchema(loader)
		if schemaErr != nil {
			schemaErr = qerrors.NewConfigError("failed to compile embedded schema 'quartz_runtime_schema_v1.0.0.json'", schemaErr)
		}
	})
	return schemaV1, schemaErr
}

// ValidateWithSchema validates the given YAML document bytes against the
// embedded RuntimeConfig v1.0.0 schema, converting YAML to the generic
// Go data structures gojsonschema expects.
func ValidateWithSchema(documentYAML []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	var jsonData interface{}
	if err := yaml.Unmarshal(documentYAML, &jsonData); err != nil {
		return qerrors.NewConfigError("failed to parse runtime config YAML for schema validation", err)
	}

	docLoader := gojsonschema.NewGoLoader(jsonData)

	result, err := schema.Validate(docLoader)
	if err != nil {
		return qerrors.NewConfigError("schema validation process failed", err)
	}

	if !result.Valid() {
		errMsg := "runtime config failed JSON schema validation:"
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "(root)" || field == "" {
				field = desc.Context().String()
			}
			errMsg += fmt.Sprintf("\n  - Field '%s': %s", field, desc.Description())
		}
		return qerrors.NewValidationError(errMsg, nil)
	}

	return nil
}
