package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewULID returns a lexically sortable unique string, used for scratch
// file names that must not collide between concurrent writers.
func NewULID() string {
	return ulid.Make().String()
}
