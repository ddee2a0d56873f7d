// Package transform defines the public contract for the transformer
// collaborator: given a file path and options, it returns either an
// executable script handle (plus optional source-map metadata) or a
// parsed representation for data-format files. The runtime core never
// implements a transform algorithm itself.
package transform

// EvalResultVariable is the well-known identifier the transformer's
// generated script binds its wrapper callable to, so the Executor can
// pull it back out of the environment's RunScript result convention.
const EvalResultVariable = "__quartz_module_wrapper__"

// Result is what Transform returns for a transformable source file.
type Result struct {
	// Script is the transformed, executable source text.
	Script string

	// SourceMapPath is the path the transformer registered a source map
	// under, if any.
	SourceMapPath string

	// NeedsCoverageMapping reports whether the executor should mark this
	// file for coverage instrumentation bookkeeping.
	NeedsCoverageMapping bool
}

// Transformer is the collaborator interface the Executor and Loader
// consume to turn on-disk source into runnable scripts or parsed data.
type Transformer interface {
	// Transform compiles the source file at path into a Result, given
	// transform options and a cached-source read-through (cachedSource
	// is the previously read file text, or empty to force a fresh read).
	Transform(path string, options map[string]interface{}, cachedSource string) (*Result, error)

	// TransformJSON converts the textual contents of a data-format file
	// (already BOM-stripped) into its final parsed-and-reserialized
	// textual form, suitable for the sandbox's own parser.
	TransformJSON(path string, options map[string]interface{}, text string) (string, error)
}
