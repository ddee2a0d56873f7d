// Package secrets defines the public contract a host supplies so the
// runtime can resolve a configured extra-global name to a secret value
// without the runtime itself knowing where secrets live.
package secrets

import "context"

// Provider retrieves a secret value by key. Implementations might read
// environment variables, a file, or an external secret store.
type Provider interface {
	// GetSecret returns key's value and true if found, or an empty string
	// and false if not found. An error indicates retrieval itself failed
	// (permissions, backend unavailable), distinct from a clean miss.
	GetSecret(ctx context.Context, key string) (string, bool, error)
}
