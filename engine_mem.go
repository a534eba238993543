package tkv

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/btree"
)

// memEngine is a transient in-memory engine intended for tests: one btree
// per table, copy-on-write snapshots for scans, and optimistic transactions
// validated first-committer-wins against the read set. A commit fails with
// ErrConflict when any key the transaction read (directly or through a
// previous-value returning write) was overwritten since the transaction
// began, which makes the coordinator's retry path exercisable in-process.
type memEngine struct {
	mu      sync.Mutex
	tables  map[string]*memTable
	version uint64 // bumped on every committed write
	closed  bool
}

func newMemEngine() engine {
	return &memEngine{tables: make(map[string]*memTable)}
}

func (eng *memEngine) OpenTable(name string) (engineTable, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.closed {
		return nil, ErrClosed
	}
	t := eng.tables[name]
	if t == nil {
		t = &memTable{
			eng:  eng,
			name: name,
			tree: btree.New(16),
			vers: make(map[string]uint64),
		}
		eng.tables[name] = t
	}
	return t, nil
}

func (eng *memEngine) Transaction(f func(tx engineTx) error) error {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return ErrClosed
	}
	tx := &memTx{
		eng:    eng,
		start:  eng.version,
		reads:  make(map[string]map[string]struct{}),
		writes: make(map[string]map[string]memWrite),
	}
	eng.mu.Unlock()

	if err := f(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (eng *memEngine) Close() error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.closed = true
	eng.tables = nil
	return nil
}

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(memItem).key) < 0
}

type memTable struct {
	eng  *memEngine
	name string
	tree *btree.BTree
	vers map[string]uint64 // last committed version per key, incl. deletes
}

func (t *memTable) Name() string { return t.name }

// getLocked returns the committed value for key. Caller holds eng.mu.
func (t *memTable) getLocked(key []byte) []byte {
	item := t.tree.Get(memItem{key: key})
	if item == nil {
		return nil
	}
	return item.(memItem).value
}

func (t *memTable) putLocked(key, value []byte) []byte {
	prev := t.getLocked(key)
	t.tree.ReplaceOrInsert(memItem{key: bytes.Clone(key), value: bytes.Clone(value)})
	t.eng.version++
	t.vers[string(key)] = t.eng.version
	return prev
}

func (t *memTable) deleteLocked(key []byte) []byte {
	prev := t.getLocked(key)
	t.tree.Delete(memItem{key: key})
	t.eng.version++
	t.vers[string(key)] = t.eng.version
	return prev
}

func (t *memTable) Get(key []byte) ([]byte, error) {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()
	if t.eng.closed {
		return nil, ErrClosed
	}
	return bytes.Clone(t.getLocked(key)), nil
}

func (t *memTable) Put(key, value []byte) ([]byte, error) {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()
	if t.eng.closed {
		return nil, ErrClosed
	}
	return t.putLocked(key, value), nil
}

func (t *memTable) Delete(key []byte) ([]byte, error) {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()
	if t.eng.closed {
		return nil, ErrClosed
	}
	return t.deleteLocked(key), nil
}

func (t *memTable) Scan(r RawRange) (engineCursor, error) {
	// Snapshot the table into a sorted slice; scans never block writers.
	t.eng.mu.Lock()
	if t.eng.closed {
		t.eng.mu.Unlock()
		return nil, ErrClosed
	}
	items := make([]memItem, 0, t.tree.Len())
	t.tree.Ascend(func(item btree.Item) bool {
		items = append(items, item.(memItem))
		return true
	})
	t.eng.mu.Unlock()

	return &seekScanCursor{rang: r, c: &memSeekCursor{items: items, pos: -1}}, nil
}

func (t *memTable) ApplyBatch(ops []RawOp) error {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()
	if t.eng.closed {
		return ErrClosed
	}
	for _, op := range ops {
		if op.Remove {
			t.deleteLocked(op.Key)
		} else {
			t.putLocked(op.Key, op.Value)
		}
	}
	return nil
}

// memSeekCursor walks a sorted snapshot slice.
type memSeekCursor struct {
	items []memItem
	pos   int
}

func (c *memSeekCursor) at() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil, nil
	}
	it := c.items[c.pos]
	return it.key, it.value
}

func (c *memSeekCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.at()
}

func (c *memSeekCursor) Last() ([]byte, []byte) {
	c.pos = len(c.items) - 1
	return c.at()
}

func (c *memSeekCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos = sort.Search(len(c.items), func(i int) bool {
		return bytes.Compare(c.items[i].key, seek) >= 0
	})
	return c.at()
}

func (c *memSeekCursor) Next() ([]byte, []byte) {
	c.pos++
	return c.at()
}

func (c *memSeekCursor) Prev() ([]byte, []byte) {
	c.pos--
	return c.at()
}

type memWrite struct {
	value  []byte
	remove bool
}

type memTx struct {
	eng    *memEngine
	start  uint64
	reads  map[string]map[string]struct{}
	writes map[string]map[string]memWrite
}

func (tx *memTx) Table(name string) engineTxTable {
	return memTxTable{tx: tx, name: name}
}

func (tx *memTx) markRead(table string, key []byte) {
	m := tx.reads[table]
	if m == nil {
		m = make(map[string]struct{})
		tx.reads[table] = m
	}
	m[string(key)] = struct{}{}
}

func (tx *memTx) markWrite(table string, key []byte, w memWrite) {
	m := tx.writes[table]
	if m == nil {
		m = make(map[string]memWrite)
		tx.writes[table] = m
	}
	m[string(key)] = w
}

func (tx *memTx) commit() error {
	tx.eng.mu.Lock()
	defer tx.eng.mu.Unlock()
	if tx.eng.closed {
		return ErrClosed
	}

	// First committer wins: any key we read must not have been committed
	// over since the transaction began.
	for table, keys := range tx.reads {
		t := tx.eng.tables[table]
		if t == nil {
			continue
		}
		for key := range keys {
			if t.vers[key] > tx.start {
				return ErrConflict
			}
		}
	}

	for table, writes := range tx.writes {
		t := tx.eng.tables[table]
		if t == nil {
			continue
		}
		for key, w := range writes {
			if w.remove {
				t.deleteLocked([]byte(key))
			} else {
				t.putLocked([]byte(key), w.value)
			}
		}
	}
	return nil
}

type memTxTable struct {
	tx   *memTx
	name string
}

func (t memTxTable) Get(key []byte) ([]byte, error) {
	if w, ok := t.tx.writes[t.name][string(key)]; ok {
		if w.remove {
			return nil, nil
		}
		return bytes.Clone(w.value), nil
	}
	t.tx.eng.mu.Lock()
	defer t.tx.eng.mu.Unlock()
	if t.tx.eng.closed {
		return nil, ErrClosed
	}
	t.tx.markRead(t.name, key)
	tbl := t.tx.eng.tables[t.name]
	if tbl == nil {
		return nil, nil
	}
	return bytes.Clone(tbl.getLocked(key)), nil
}

func (t memTxTable) Put(key, value []byte) ([]byte, error) {
	prev, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	t.tx.markWrite(t.name, key, memWrite{value: bytes.Clone(value)})
	return prev, nil
}

func (t memTxTable) Delete(key []byte) ([]byte, error) {
	prev, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	t.tx.markWrite(t.name, key, memWrite{remove: true})
	return prev, nil
}
