package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersionConstraint is the SemVer major version that loaded
// RuntimeConfig documents must satisfy.
const SupportedSchemaVersionConstraint = "v1"

// LoadRuntimeConfig reads the given YAML bytes, validates them against the
// embedded JSON schema, strict-decodes into a RuntimeConfig, checks
// schemaVersion compatibility, and performs logical validation.
func LoadRuntimeConfig(configYAML []byte, filePathHint string) (*RuntimeConfig, error) {
	if len(configYAML) == 0 {
		return nil, qerrors.NewConfigError("runtime config content cannot be empty", nil)
	}

	// Step 1: Validate against the JSON Schema for basic structure and types.
	if err := ValidateWithSchema(configYAML); err != nil {
		return nil, qerrors.NewConfigError(fmt.Sprintf("runtime config '%s' failed schema validation", filePathHint), err)
	}

	// Step 2: Unmarshal into Go struct using strict decoding to catch unknown fields.
	var cfg RuntimeConfig
	if err := yamlUnmarshalStrict(configYAML, &cfg); err != nil {
		return nil, qerrors.NewConfigError(fmt.Sprintf("failed to parse runtime config YAML '%s'", filePathHint), err)
	}
	cfg.FilePath = filePathHint

	// Step 3: Check Schema Version Compatibility.
	if cfg.SchemaVersion == "" {
		return nil, qerrors.NewValidationError(fmt.Sprintf("runtime config '%s' is missing required 'schemaVersion' field", filePathHint), nil)
	}
	cfgSemVer := cfg.SchemaVersion
	if !strings.HasPrefix(cfgSemVer, "v") {
		cfgSemVer = "v" + cfgSemVer
	}
	if !semver.IsValid(cfgSemVer) {
		return nil, qerrors.NewValidationError(fmt.Sprintf("runtime config '%s' has invalid 'schemaVersion' format: '%s'", filePathHint, cfg.SchemaVersion), nil)
	}
	if semver.Major(cfgSemVer) != SupportedSchemaVersionConstraint {
		return nil, qerrors.NewValidationError(
			fmt.Sprintf("runtime config '%s' schemaVersion '%s' is not compatible with runtime requirement '%s'",
				filePathHint, cfg.SchemaVersion, SupportedSchemaVersionConstraint),
			nil,
		)
	}

	// Step 4: Perform detailed logical validation on the Go struct.
	validationErrs := ValidateRuntimeConfig(&cfg)
	if len(validationErrs) > 0 {
		var errorMessages []string
		for _, vErr := range validationErrs {
			errorMessages = append(errorMessages, vErr.Error())
		}
		combinedMessage := fmt.Sprintf("runtime config '%s' has %d validation error(s):\n- %s",
			filePathHint, len(errorMessages), strings.Join(errorMessages, "\n- "))
		return nil, qerrors.NewValidationError(combinedMessage, validationErrs[0])
	}

	return &cfg, nil
}

// LoadRuntimeConfigFromFile is a convenience wrapper reading a RuntimeConfig
// document from disk.
func LoadRuntimeConfigFromFile(filePath string) (*RuntimeConfig, error) {
	if filePath == "" {
		return nil, qerrors.NewConfigError("runtime config file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, qerrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	yamlFile, err := os.ReadFile(absPath)
	if err != nil {
		return nil, qerrors.NewConfigError(fmt.Sprintf("failed to read runtime config file '%s'", absPath), err)
	}
	return LoadRuntimeConfig(yamlFile, absPath)
}

// yamlUnmarshalStrict provides stricter YAML unmarshalling by disallowing
// unknown fields, catching typos and unsupported options early.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(strings.NewReader(string(in)))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
