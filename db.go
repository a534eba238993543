package tkv

import (
	"fmt"
	"reflect"
	"sync"
)

// Backend selects the storage engine backing a DB.
type Backend int

const (
	// Bolt is the default backend: a single B+tree file, durable, writers
	// fully serialized so transactions never conflict.
	Bolt Backend = iota
	// Badger is an LSM backend with optimistic concurrency; transactions
	// may fail with ErrConflict and should run under RunTransactionWithRetry.
	Badger
	// Pebble is an LSM backend with serialized writers, like Bolt.
	Pebble
	// Memory keeps everything in process memory; nothing survives Close.
	// Transactions use optimistic concurrency like Badger. Intended for tests.
	Memory
)

// Options configure an open database. The zero value is valid and opens a
// Bolt file with durable defaults.
type Options struct {
	// Backend selects the storage engine. Defaults to Bolt.
	Backend Backend

	// Logf, if set, receives diagnostic messages (currently transaction
	// retry notices). Pass log.Printf or a test logger.
	Logf func(format string, args ...any)

	// IsTesting trades durability for speed: syncing is disabled and the
	// engines are tuned for short-lived small databases.
	IsTesting bool

	// MmapSize overrides the initial mmap size of backends that use one.
	MmapSize int
}

// DB is an open database. It is safe for concurrent use. All trees opened
// through it share one storage engine, so multi-tree transactions are atomic.
type DB struct {
	eng  engine
	logf func(format string, args ...any)

	mu     sync.Mutex
	trees  map[string]*treeHandle
	closed bool
}

// Open opens or creates a database at path using opt.Backend. For the
// Memory backend the path is ignored and may be empty.
func Open(path string, opt Options) (*DB, error) {
	var eng engine
	var err error
	switch opt.Backend {
	case Bolt:
		eng, err = openBoltEngine(path, opt)
	case Badger:
		eng, err = openBadgerEngine(path, opt)
	case Pebble:
		eng, err = openPebbleEngine(path, opt)
	case Memory:
		eng = newMemEngine()
	default:
		return nil, fmt.Errorf("tkv: unknown backend %d", opt.Backend)
	}
	if err != nil {
		return nil, &OpenError{Err: err}
	}
	logf := opt.Logf
	if logf == nil {
		logf = func(format string, args ...any) {}
	}
	return &DB{
		eng:   eng,
		logf:  logf,
		trees: make(map[string]*treeHandle),
	}, nil
}

// Close closes the database. Outstanding cursors and trees become invalid.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()
	return db.eng.Close()
}

// treeHandle caches the result of opening one table. Exactly one goroutine
// performs the open; others wait on ready. A failed open is evicted from the
// cache so a later OpenTree call can try again.
type treeHandle struct {
	name    string
	keyType reflect.Type
	valType reflect.Type
	ready   chan struct{}
	tbl     engineTable
	err     error
}

func (db *DB) openTable(name string, keyType, valType reflect.Type) (engineTable, error) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, ErrClosed
	}
	if h := db.trees[name]; h != nil {
		db.mu.Unlock()
		<-h.ready
		if h.err != nil {
			return nil, h.err
		}
		if h.keyType != keyType || h.valType != valType {
			return nil, &SchemaMismatchError{
				Table:          name,
				ExistingKey:    h.keyType,
				ExistingValue:  h.valType,
				RequestedKey:   keyType,
				RequestedValue: valType,
			}
		}
		return h.tbl, nil
	}
	h := &treeHandle{
		name:    name,
		keyType: keyType,
		valType: valType,
		ready:   make(chan struct{}),
	}
	db.trees[name] = h
	db.mu.Unlock()

	tbl, err := db.eng.OpenTable(name)
	if err != nil {
		h.err = &OpenError{Table: name, Err: err}
		db.mu.Lock()
		delete(db.trees, name) // allow retry
		db.mu.Unlock()
		close(h.ready)
		return nil, h.err
	}
	h.tbl = tbl
	close(h.ready)
	return tbl, nil
}

// OpenTree opens the tree described by scm, creating its table on first use.
// Repeated calls with the same schema return equivalent trees backed by one
// table handle; calls that reuse the name with different key or value types
// fail with SchemaMismatchError.
func OpenTree[K, V any](db *DB, scm *Schema[K, V]) (*Tree[K, V], error) {
	tbl, err := db.openTable(scm.name, scm.keyType(), scm.valueType())
	if err != nil {
		return nil, err
	}
	return &Tree[K, V]{db: db, scm: scm, tbl: tbl}, nil
}
