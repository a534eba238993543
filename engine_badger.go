package tkv

import (
	"bytes"

	"github.com/dgraph-io/badger"
)

// badgerEngine simulates tables via key prefixes (table name plus a NUL
// separator). Badger detects write conflicts optimistically at commit
// (serializable snapshot isolation); a rejected commit surfaces as
// ErrConflict, which the transaction coordinator retries.
type badgerEngine struct {
	db *badger.DB
}

func openBadgerEngine(path string, opt Options) (engine, error) {
	bopt := badger.DefaultOptions(path)
	bopt = bopt.WithLogger(nil)
	if opt.IsTesting {
		bopt = bopt.WithSyncWrites(false)
	}
	db, err := badger.Open(bopt)
	if err != nil {
		return nil, err
	}
	return &badgerEngine{db: db}, nil
}

func (eng *badgerEngine) OpenTable(name string) (engineTable, error) {
	return &badgerTable{eng: eng, name: name, prefix: tablePrefix(name)}, nil
}

func (eng *badgerEngine) Transaction(f func(tx engineTx) error) error {
	txn := eng.db.NewTransaction(true)
	defer txn.Discard()
	if err := f(&badgerTx{txn: txn}); err != nil {
		return err
	}
	err := txn.Commit()
	if err == badger.ErrConflict {
		return ErrConflict
	}
	return err
}

func (eng *badgerEngine) Close() error {
	return eng.db.Close()
}

func tablePrefix(name string) []byte {
	return append([]byte(name), 0)
}

type badgerTable struct {
	eng    *badgerEngine
	name   string
	prefix []byte
}

func (t *badgerTable) Name() string { return t.name }

func badgerGet(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTable) Get(key []byte) ([]byte, error) {
	txn := t.eng.db.NewTransaction(false)
	defer txn.Discard()
	return badgerGet(txn, concat(t.prefix, key))
}

func (t *badgerTable) Put(key, value []byte) ([]byte, error) {
	txn := t.eng.db.NewTransaction(true)
	defer txn.Discard()
	raw := concat(t.prefix, key)
	prev, err := badgerGet(txn, raw)
	if err != nil {
		return nil, err
	}
	if err := txn.Set(raw, value); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		if err == badger.ErrConflict {
			return nil, ErrConflict
		}
		return nil, err
	}
	return prev, nil
}

func (t *badgerTable) Delete(key []byte) ([]byte, error) {
	txn := t.eng.db.NewTransaction(true)
	defer txn.Discard()
	raw := concat(t.prefix, key)
	prev, err := badgerGet(txn, raw)
	if err != nil {
		return nil, err
	}
	if err := txn.Delete(raw); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		if err == badger.ErrConflict {
			return nil, ErrConflict
		}
		return nil, err
	}
	return prev, nil
}

func (t *badgerTable) Scan(r RawRange) (engineCursor, error) {
	txn := t.eng.db.NewTransaction(false)
	iopt := badger.DefaultIteratorOptions
	iopt.Reverse = r.Reverse
	it := txn.NewIterator(iopt)
	return &badgerCursor{
		txn:   txn,
		it:    it,
		rang:  r.prefixed(t.prefix),
		strip: len(t.prefix),
	}, nil
}

func (t *badgerTable) ApplyBatch(ops []RawOp) error {
	txn := t.eng.db.NewTransaction(true)
	defer txn.Discard()
	for _, op := range ops {
		raw := concat(t.prefix, op.Key)
		var err error
		if op.Remove {
			err = txn.Delete(raw)
		} else {
			err = txn.Set(raw, op.Value)
		}
		if err != nil {
			return err
		}
	}
	err := txn.Commit()
	if err == badger.ErrConflict {
		return ErrConflict
	}
	return err
}

type badgerTx struct {
	txn *badger.Txn
}

func (tx *badgerTx) Table(name string) engineTxTable {
	return badgerTxTable{txn: tx.txn, prefix: tablePrefix(name)}
}

type badgerTxTable struct {
	txn    *badger.Txn
	prefix []byte
}

func (t badgerTxTable) Get(key []byte) ([]byte, error) {
	return badgerGet(t.txn, concat(t.prefix, key))
}

func (t badgerTxTable) Put(key, value []byte) ([]byte, error) {
	raw := concat(t.prefix, key)
	prev, err := badgerGet(t.txn, raw)
	if err != nil {
		return nil, err
	}
	if err := t.txn.Set(raw, value); err != nil {
		return nil, err
	}
	return prev, nil
}

func (t badgerTxTable) Delete(key []byte) ([]byte, error) {
	raw := concat(t.prefix, key)
	prev, err := badgerGet(t.txn, raw)
	if err != nil {
		return nil, err
	}
	if err := t.txn.Delete(raw); err != nil {
		return nil, err
	}
	return prev, nil
}

// badgerCursor drives Badger's unidirectional iterator over a prefixed
// range. Reverse scans use Badger's Reverse option, where Seek positions
// at the largest key not exceeding the target.
type badgerCursor struct {
	txn   *badger.Txn
	it    *badger.Iterator
	rang  RawRange
	strip int
	k, v  []byte
	err   error
	init  bool
	done  bool
}

func (c *badgerCursor) Next() bool {
	if c.done || c.err != nil {
		return false
	}
	it, r := c.it, &c.rang
	if !c.init {
		c.init = true
		if r.Reverse {
			it.Seek(r.Upper)
			if it.Valid() && !r.UpperInc && bytes.Equal(it.Item().Key(), r.Upper) {
				it.Next()
			}
		} else {
			it.Seek(r.Lower)
			if it.Valid() && !r.LowerInc && bytes.Equal(it.Item().Key(), r.Lower) {
				it.Next()
			}
		}
	} else {
		it.Next()
	}
	if !it.Valid() {
		c.stop()
		return false
	}
	item := it.Item()
	key := item.Key()
	if r.Reverse {
		cmp := bytes.Compare(key, r.Lower)
		if cmp < 0 || (cmp == 0 && !r.LowerInc) {
			c.stop()
			return false
		}
	} else {
		cmp := bytes.Compare(key, r.Upper)
		if cmp > 0 || (cmp == 0 && !r.UpperInc) {
			c.stop()
			return false
		}
	}
	c.k = item.KeyCopy(nil)
	c.v, c.err = item.ValueCopy(nil)
	if c.err != nil {
		c.stop()
		return false
	}
	return true
}

func (c *badgerCursor) stop() {
	c.done = true
}

func (c *badgerCursor) Key() []byte   { return c.k[c.strip:] }
func (c *badgerCursor) Value() []byte { return c.v }
func (c *badgerCursor) Err() error    { return c.err }

func (c *badgerCursor) Close() error {
	if c.it != nil {
		c.it.Close()
		c.it = nil
		c.txn.Discard()
	}
	return nil
}
