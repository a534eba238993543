package tkv

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrConflict is the engine's signal that a transactional attempt could not
// commit due to concurrent interference. It is distinct from hard engine
// failures: the transaction coordinator recovers from it by retrying.
var ErrConflict = errors.New("transaction conflict")

// ErrClosed is returned by operations on a closed DB.
var ErrClosed = errors.New("database closed")

// CodecError wraps a key or value codec failure, carrying the table name
// for diagnosability.
type CodecError struct {
	Table  string
	Decode bool // true for decoding failures, false for encoding
	Key    bool // true for key codec failures, false for value
	Err    error
}

func serializationErr(table string, err error) error {
	return &CodecError{Table: table, Err: err}
}

func deserializationErr(table string, err error) error {
	return &CodecError{Table: table, Decode: true, Err: err}
}

func keyDecodeErr(table string, err error) error {
	return &CodecError{Table: table, Decode: true, Key: true, Err: err}
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func (e *CodecError) Error() string {
	what := "value"
	if e.Key {
		what = "key"
	}
	if e.Decode {
		return fmt.Sprintf("failed to deserialize %s for table %q: %v", what, e.Table, e.Err)
	}
	return fmt.Sprintf("failed to serialize %s for table %q: %v", what, e.Table, e.Err)
}

// OpenError means a database or table failed to open. It is fatal to the
// triggering call, but a later call may retry the open.
type OpenError struct {
	Table string // empty when the database itself failed to open
	Err   error
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

func (e *OpenError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("failed to open database: %v", e.Err)
	}
	return fmt.Sprintf("failed to open table %q: %v", e.Table, e.Err)
}

// SchemaMismatchError means the same table name was opened with two schemas
// that disagree on the key or value type. This is a programming error.
type SchemaMismatchError struct {
	Table          string
	ExistingKey    reflect.Type
	ExistingValue  reflect.Type
	RequestedKey   reflect.Type
	RequestedValue reflect.Type
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("table %q already open with key=%v value=%v, requested key=%v value=%v",
		e.Table, e.ExistingKey, e.ExistingValue, e.RequestedKey, e.RequestedValue)
}

// EngineError wraps a storage engine failure unrelated to conflicts,
// attaching the table and operation for context.
type EngineError struct {
	Table string
	Op    string
	Err   error
}

func engineErrf(table, op string, err error) error {
	return &EngineError{Table: table, Op: op, Err: err}
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Table, e.Err)
}

// RetriesExhaustedError means a transaction kept conflicting past its retry
// budget. Attempts counts every attempt made, including the first one.
// It unwraps to ErrConflict.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("transaction conflict persisted after %d attempts: %v", e.Attempts, e.Err)
}
