package tkv

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/pebble"
)

// pebbleEngine simulates tables via key prefixes, like the Badger engine.
// Pebble has no transaction primitive, so transactions run on an indexed
// batch under a writer mutex: pessimistic, serialized, never conflicting.
type pebbleEngine struct {
	mu sync.Mutex // serializes writers
	db *pebble.DB
	wo *pebble.WriteOptions
}

func openPebbleEngine(path string, opt Options) (engine, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	wo := pebble.Sync
	if opt.IsTesting {
		wo = pebble.NoSync
	}
	return &pebbleEngine{db: db, wo: wo}, nil
}

func (eng *pebbleEngine) OpenTable(name string) (engineTable, error) {
	return &pebbleTable{eng: eng, name: name, prefix: tablePrefix(name)}, nil
}

func (eng *pebbleEngine) Transaction(f func(tx engineTx) error) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	b := eng.db.NewIndexedBatch()
	if err := f(&pebbleTx{b: b}); err != nil {
		_ = b.Close()
		return err
	}
	return b.Commit(eng.wo)
}

func (eng *pebbleEngine) Close() error {
	return eng.db.Close()
}

type pebbleTable struct {
	eng    *pebbleEngine
	name   string
	prefix []byte
}

func (t *pebbleTable) Name() string { return t.name }

func pebbleGet(r pebble.Reader, key []byte) ([]byte, error) {
	v, closer, err := r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	out := bytes.Clone(v)
	_ = closer.Close()
	return out, nil
}

func (t *pebbleTable) Get(key []byte) ([]byte, error) {
	return pebbleGet(t.eng.db, concat(t.prefix, key))
}

func (t *pebbleTable) Put(key, value []byte) ([]byte, error) {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()
	raw := concat(t.prefix, key)
	prev, err := pebbleGet(t.eng.db, raw)
	if err != nil {
		return nil, err
	}
	if err := t.eng.db.Set(raw, value, t.eng.wo); err != nil {
		return nil, err
	}
	return prev, nil
}

func (t *pebbleTable) Delete(key []byte) ([]byte, error) {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()
	raw := concat(t.prefix, key)
	prev, err := pebbleGet(t.eng.db, raw)
	if err != nil {
		return nil, err
	}
	if err := t.eng.db.Delete(raw, t.eng.wo); err != nil {
		return nil, err
	}
	return prev, nil
}

func (t *pebbleTable) Scan(r RawRange) (engineCursor, error) {
	snap := t.eng.db.NewSnapshot()
	it := snap.NewIter(&pebble.IterOptions{
		LowerBound: t.prefix,
		UpperBound: prefixSuccessor(t.prefix),
	})
	return &pebbleCursor{
		seekScanCursor: seekScanCursor{
			rang:  r.prefixed(t.prefix),
			c:     pebbleSeekCursor{it: it},
			strip: len(t.prefix),
			close: func() error {
				err := it.Close()
				if serr := snap.Close(); err == nil {
					err = serr
				}
				return err
			},
		},
		it: it,
	}, nil
}

func (t *pebbleTable) ApplyBatch(ops []RawOp) error {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()
	b := t.eng.db.NewBatch()
	for _, op := range ops {
		raw := concat(t.prefix, op.Key)
		var err error
		if op.Remove {
			err = b.Delete(raw, nil)
		} else {
			err = b.Set(raw, op.Value, nil)
		}
		if err != nil {
			_ = b.Close()
			return err
		}
	}
	return b.Commit(t.eng.wo)
}

type pebbleTx struct {
	b *pebble.Batch
}

func (tx *pebbleTx) Table(name string) engineTxTable {
	return pebbleTxTable{b: tx.b, prefix: tablePrefix(name)}
}

type pebbleTxTable struct {
	b      *pebble.Batch
	prefix []byte
}

func (t pebbleTxTable) Get(key []byte) ([]byte, error) {
	return pebbleGet(t.b, concat(t.prefix, key))
}

func (t pebbleTxTable) Put(key, value []byte) ([]byte, error) {
	raw := concat(t.prefix, key)
	prev, err := pebbleGet(t.b, raw)
	if err != nil {
		return nil, err
	}
	if err := t.b.Set(raw, value, nil); err != nil {
		return nil, err
	}
	return prev, nil
}

func (t pebbleTxTable) Delete(key []byte) ([]byte, error) {
	raw := concat(t.prefix, key)
	prev, err := pebbleGet(t.b, raw)
	if err != nil {
		return nil, err
	}
	if err := t.b.Delete(raw, nil); err != nil {
		return nil, err
	}
	return prev, nil
}

type pebbleCursor struct {
	seekScanCursor
	it *pebble.Iterator
}

func (c *pebbleCursor) Err() error {
	if c.it != nil {
		return c.it.Error()
	}
	return nil
}

type pebbleSeekCursor struct {
	it *pebble.Iterator
}

func (c pebbleSeekCursor) pos(ok bool) ([]byte, []byte) {
	if !ok {
		return nil, nil
	}
	return c.it.Key(), c.it.Value()
}

func (c pebbleSeekCursor) First() ([]byte, []byte)           { return c.pos(c.it.First()) }
func (c pebbleSeekCursor) Last() ([]byte, []byte)            { return c.pos(c.it.Last()) }
func (c pebbleSeekCursor) Seek(seek []byte) ([]byte, []byte) { return c.pos(c.it.SeekGE(seek)) }
func (c pebbleSeekCursor) Next() ([]byte, []byte)            { return c.pos(c.it.Next()) }
func (c pebbleSeekCursor) Prev() ([]byte, []byte)            { return c.pos(c.it.Prev()) }
