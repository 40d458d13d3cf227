package lib

import (
	"github.com/google/uuid"
)

// NewID generates a UUID version 4 string (RFC 4122) used to correlate the
// diagnostics of a single spawn.
func NewID() string {
	return uuid.NewString()
}
