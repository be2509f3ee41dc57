package repo

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an update targets a record that doesn't exist.
	// Plain reads of absent records return (nil, nil), never this error.
	ErrNotFound = errors.New("stratum: record not found")
)

// ConfigError reports an invalid or missing configuration value. Fatal at
// construction time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("stratum: invalid config %s: %s", e.Field, e.Reason)
}

// MissingParameterError reports a partition lookup that omits a
// scheme-declared field.
type MissingParameterError struct {
	Field string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("stratum: missing partition key parameter %q", e.Field)
}

// ItemError pairs a per-record failure with the record id during best-effort
// bulk operations. The batch continues past it.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("stratum: item %q: %v", e.ID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }
