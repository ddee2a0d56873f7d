// Package hostfs defines the public contract for the host filesystem
// collaborator: existence checks and blocking reads the Loader and
// Executor depend on to get module source text onto the stream, without
// the runtime core owning any OS-specific I/O itself.
package hostfs

// FS is the collaborator interface consumed by the Loader, Executor,
// and Require Surface (for adjacent __mocks__ probing).
type FS interface {
	// Exists reports whether path names a regular file.
	Exists(path string) bool

	// ReadFile returns path's full contents as text. The byte-order
	// mark, if present, is left intact; callers that need it stripped
	// (the Loader's data-format path, the Executor's source read) strip
	// it themselves so the distinction stays visible at the call site.
	ReadFile(path string) (string, error)
}
