package config

import "strings"

// RuntimeConfig is the top-level structure describing how the module
// runtime should resolve, mock, and load modules for a given run. It is
// the Configuration collaborator the resolver, loader, and automock
// adapter all read from.
type RuntimeConfig struct {
	Name          string `yaml:"name,omitempty" json:"name,omitempty"`
	SchemaVersion string `yaml:"schemaVersion" json:"schemaVersion"`

	// Automock seeds the Resolution Policy Engine's auto-mock toggle: when
	// true, a module with no explicit mock or unmock that no UnmockPatterns
	// entry matches is mocked by default.
	Automock bool `yaml:"automock,omitempty" json:"automock,omitempty"`

	// UnmockPatterns lists regular expressions (matched against ModuleKey)
	// exempted from automatic mocking when Automock is enabled.
	UnmockPatterns []string `yaml:"unmock_patterns,omitempty" json:"unmock_patterns,omitempty"`

	// ModuleFileExtensions lists extensions tried, in order, when a
	// request does not resolve to an exact file on disk.
	ModuleFileExtensions []string `yaml:"module_file_extensions,omitempty" json:"module_file_extensions,omitempty"`

	// ExtraGlobals names additional identifiers the sandbox environment's
	// global object is expected to expose to executed module bodies.
	ExtraGlobals []string `yaml:"extra_globals,omitempty" json:"extra_globals,omitempty"`

	// SetupFiles lists module requests executed once, up front, before
	// any caller-owned module is resolved.
	SetupFiles []string `yaml:"setup_files,omitempty" json:"setup_files,omitempty"`

	// CacheDir is the directory used for the loader's transform cache.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`

	// RootDir anchors relative module requests and pattern matching.
	RootDir string `yaml:"root_dir,omitempty" json:"root_dir,omitempty"`

	// PathIgnorePatterns lists regular expressions excluded from module
	// resolution entirely (e.g. vendored directories).
	PathIgnorePatterns []string `yaml:"path_ignore_patterns,omitempty" json:"path_ignore_patterns,omitempty"`

	// HasteOptions is an opaque passthrough for module-map configuration
	// the resolver does not itself interpret.
	HasteOptions map[string]interface{} `yaml:"haste_options,omitempty" json:"haste_options,omitempty"`

	// RedactedKeywords lists case-insensitive keywords whose associated
	// values are scrubbed from error messages escaping require and module
	// execution, and from the error text recorded on their trace spans.
	RedactedKeywords []string `yaml:"redacted_keywords,omitempty" json:"redacted_keywords,omitempty"`

	// SecretGlobals maps an ExtraGlobals name to the key a secrets.Provider
	// should resolve it against, instead of the sandbox environment's own
	// global object. Every value resolved this way is tracked and redacted
	// out of resolution error messages, so a module requiring a secret
	// extra global never leaks it through a NotFoundError or similar.
	SecretGlobals map[string]string `yaml:"secret_globals,omitempty" json:"secret_globals,omitempty"`

	// FilePath records the source file path for logging/error context.
	// Not parsed from YAML.
	FilePath string `yaml:"-" json:"-"`
}

// defaultModuleFileExtensions is used when a RuntimeConfig does not specify
// its own extension list.
var defaultModuleFileExtensions = []string{".js", ".mjs", ".cjs", ".json", ".node"}

// GetModuleFileExtensions returns the configured extensions, or the
// built-in default set if none were supplied.
func (c *RuntimeConfig) GetModuleFileExtensions() []string {
	if len(c.ModuleFileExtensions) > 0 {
		return c.ModuleFileExtensions
	}
	return defaultModuleFileExtensions
}

// GetCacheDir returns the configured cache directory, or a conventional
// default derived from RootDir when unset.
func (c *RuntimeConfig) GetCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	if c.RootDir != "" {
		return c.RootDir + "/.quartz-cache"
	}
	return ".quartz-cache"
}

// IsAutomockEnabled reports the initial value of the policy engine's
// auto-mock toggle.
func (c *RuntimeConfig) IsAutomockEnabled() bool {
	return c.Automock
}

// RedactedKeywordSet returns RedactedKeywords as a lowercase lookup set,
// the form the executor and require packages consume directly.
func (c *RuntimeConfig) RedactedKeywordSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.RedactedKeywords))
	for _, kw := range c.RedactedKeywords {
		set[strings.ToLower(kw)] = struct{}{}
	}
	return set
}
