package models

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TempIDPrefix marks identifiers generated on the client before the server
// has acknowledged a Create.
const TempIDPrefix = "tmp-"

// NewLocalID returns an identifier that is stable for the lifetime of an
// in-memory entity.
func NewLocalID() string {
	return uuid.NewString()
}

// NewTempID returns a client temporary identifier. ULIDs sort by creation
// time, which keeps offline-created records in entry order.
func NewTempID() string {
	return TempIDPrefix + ulid.Make().String()
}
