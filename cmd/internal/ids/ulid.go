// Package ids provides the id primitives (ULID) used across murmur.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, which keeps connection ids readable in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewConnectionID returns a ULID used as a transport connection id.
func NewConnectionID(now time.Time) (string, error) {
	return NewULID(now)
}

// NewRequestID returns a ULID used to correlate one dispatched event in logs.
func NewRequestID(now time.Time) (string, error) {
	return NewULID(now)
}

// IsULID reports whether s parses as a ULID.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
