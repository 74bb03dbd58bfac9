// Package uuid generates the identifiers attached to constructed backends.
package uuid

import (
	"github.com/google/uuid"
)

// NewString returns a V7 UUID string. Identifiers of backends constructed
// later sort after those constructed earlier.
func NewString() string {
	return uuid.Must(uuid.NewV7()).String()
}
