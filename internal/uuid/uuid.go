// Package uuid generates the client-side identifiers used across the
// offline core: operation ids, reminder ids, and subscription handles.
// Ids are v4 and stable for the lifetime of the record they name; the
// operation id doubles as the idempotency key sent to the remote API.
package uuid

import "github.com/google/uuid"

// New returns a fresh v4 identifier.
func New() string {
	return uuid.NewString()
}
