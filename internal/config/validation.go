package config

import (
	"fmt"
	"regexp"
	"strings"

	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
)

// ValidateRuntimeConfig performs logical validation of a parsed
// RuntimeConfig beyond what the JSON schema can express: regex syntax,
// cross-field consistency, and duplicate entries. Returns every error
// found rather than stopping at the first.
func ValidateRuntimeConfig(c *RuntimeConfig) []error {
	var errs []error

	for _, pattern := range c.UnmockPatterns {
		if pattern == "" {
			errs = append(errs, qerrors.NewValidationError("'unmock_patterns' entries cannot be empty", nil))
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, qerrors.NewValidationError(fmt.Sprintf("'unmock_patterns' entry '%s' is not a valid regular expression: %v", pattern, err), err))
		}
	}

	for _, pattern := range c.PathIgnorePatterns {
		if pattern == "" {
			errs = append(errs, qerrors.NewValidationError("'path_ignore_patterns' entries cannot be empty", nil))
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, qerrors.NewValidationError(fmt.Sprintf("'path_ignore_patterns' entry '%s' is not a valid regular expression: %v", pattern, err), err))
		}
	}

	seenExt := make(map[string]bool, len(c.ModuleFileExtensions))
	for _, ext := range c.ModuleFileExtensions {
		if ext == "" || !strings.HasPrefix(ext, ".") {
			errs = append(errs, qerrors.NewValidationError(fmt.Sprintf("'module_file_extensions' entry '%s' must start with '.'", ext), nil))
			continue
		}
		if seenExt[ext] {
			errs = append(errs, qerrors.NewValidationError(fmt.Sprintf("'module_file_extensions' entry '%s' is duplicated", ext), nil))
		}
		seenExt[ext] = true
	}

	seenGlobal := make(map[string]bool, len(c.ExtraGlobals))
	for _, g := range c.ExtraGlobals {
		if g == "" {
			errs = append(errs, qerrors.NewValidationError("'extra_globals' entries cannot be empty", nil))
			continue
		}
		if seenGlobal[g] {
			errs = append(errs, qerrors.NewValidationError(fmt.Sprintf("'extra_globals' entry '%s' is duplicated", g), nil))
		}
		seenGlobal[g] = true
	}

	for _, sf := range c.SetupFiles {
		if sf == "" {
			errs = append(errs, qerrors.NewValidationError("'setup_files' entries cannot be empty", nil))
		}
	}

	for name, key := range c.SecretGlobals {
		if key == "" {
			errs = append(errs, qerrors.NewValidationError(fmt.Sprintf("'secret_globals' entry '%s' cannot map to an empty secret key", name), nil))
		}
		if !seenGlobal[name] {
			errs = append(errs, qerrors.NewValidationError(fmt.Sprintf("'secret_globals' entry '%s' must also be listed in 'extra_globals'", name), nil))
		}
	}

	if !c.Automock && len(c.UnmockPatterns) > 0 {
		errs = append(errs, qerrors.NewValidationError("'unmock_patterns' has no effect unless 'automock' is true", nil))
	}

	return errs
}
