// Package models provides data model definitions for the ledgerlink sync core.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Direction is the direction of a sync invocation.
type Direction string

const (
	// DirectionPush sends local state to the remote system.
	DirectionPush Direction = "push"
	// DirectionPull reads the remote counterpart back.
	DirectionPull Direction = "pull"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionPush || d == DirectionPull
}

// unixTime converts a stored unix timestamp, treating 0 as unset.
func unixTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}
