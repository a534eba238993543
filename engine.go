package tkv

// engine is the pluggable storage backend (Bolt, Badger, Pebble, memory).
// This layer only consumes it: open tables, move raw bytes, run atomic
// closures. Durability, compaction and conflict detection live behind
// this seam.
type engine interface {
	// OpenTable opens or creates a named table. Must be safe to call from
	// multiple goroutines, though the DB's handle cache already guarantees
	// at most one call per table name.
	OpenTable(name string) (engineTable, error)

	// Transaction runs f atomically across all tables of this engine.
	// A nil return from f commits; any error from f rolls back and is
	// returned as-is. A commit rejected due to concurrent interference is
	// reported as an error matching ErrConflict.
	Transaction(f func(tx engineTx) error) error

	// Close closes the engine. All table handles become invalid.
	Close() error
}

// engineTable is an opened raw table. Single operations are individually
// atomic; ApplyBatch applies all its operations as one atomic unit.
type engineTable interface {
	Name() string

	// Get returns the value for key, or nil if absent.
	Get(key []byte) ([]byte, error)

	// Put stores key/value and returns the previous value, or nil.
	Put(key, value []byte) ([]byte, error)

	// Delete removes key and returns the removed value, or nil.
	Delete(key []byte) ([]byte, error)

	// Scan returns a cursor over the given range, in byte order (reversed
	// when the range says so). The caller must Close the cursor.
	Scan(r RawRange) (engineCursor, error)

	// ApplyBatch applies ops atomically, in order.
	ApplyBatch(ops []RawOp) error
}

// engineCursor walks scan results. Key and Value are valid until the next
// call to Next or Close; callers that retain them must copy.
type engineCursor interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// engineTx is a transactional view of the engine, handed to the closure
// run by Transaction.
type engineTx interface {
	// Table returns a transactional view of an already-open table.
	Table(name string) engineTxTable
}

// engineTxTable is the per-table surface inside a transaction. Reads
// observe the transaction's own pending writes.
type engineTxTable interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) ([]byte, error)
	Delete(key []byte) ([]byte, error)
}

// RawOp is a single raw operation inside a batch: an insert when Remove is
// false, a removal of Key otherwise.
type RawOp struct {
	Key    []byte
	Value  []byte
	Remove bool
}
