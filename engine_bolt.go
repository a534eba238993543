package tkv

import (
	"bytes"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// boltEngine stores each table in a root bucket. Bolt allows a single
// writer at a time, so transactions serialize and never conflict.
type boltEngine struct {
	bdb *bbolt.DB
}

func openBoltEngine(path string, opt Options) (engine, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, err
	}
	return &boltEngine{bdb: bdb}, nil
}

func (eng *boltEngine) OpenTable(name string) (engineTable, error) {
	err := eng.bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &boltTable{eng: eng, name: name, buck: []byte(name)}, nil
}

func (eng *boltEngine) Transaction(f func(tx engineTx) error) error {
	btx, err := eng.bdb.Begin(true)
	if err != nil {
		return err
	}
	err = f(&boltTx{btx: btx})
	if err != nil {
		// The only error Rollback returns is ErrTxClosed; that would mean
		// the closure committed behind our back, which it cannot do.
		_ = btx.Rollback()
		return err
	}
	return btx.Commit()
}

func (eng *boltEngine) Close() error {
	return eng.bdb.Close()
}

type boltTable struct {
	eng  *boltEngine
	name string
	buck []byte
}

func (t *boltTable) Name() string { return t.name }

func (t *boltTable) bucket(btx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := btx.Bucket(t.buck)
	if b == nil {
		return nil, fmt.Errorf("bucket %q missing", t.name)
	}
	return b, nil
}

func (t *boltTable) Get(key []byte) ([]byte, error) {
	var out []byte
	err := t.eng.bdb.View(func(btx *bbolt.Tx) error {
		b, err := t.bucket(btx)
		if err != nil {
			return err
		}
		if v := b.Get(key); v != nil {
			out = bytes.Clone(v) // bolt memory is only valid inside the tx
		}
		return nil
	})
	return out, err
}

func (t *boltTable) Put(key, value []byte) ([]byte, error) {
	var prev []byte
	err := t.eng.bdb.Update(func(btx *bbolt.Tx) error {
		b, err := t.bucket(btx)
		if err != nil {
			return err
		}
		if v := b.Get(key); v != nil {
			prev = bytes.Clone(v)
		}
		return b.Put(key, value)
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (t *boltTable) Delete(key []byte) ([]byte, error) {
	var prev []byte
	err := t.eng.bdb.Update(func(btx *bbolt.Tx) error {
		b, err := t.bucket(btx)
		if err != nil {
			return err
		}
		if v := b.Get(key); v != nil {
			prev = bytes.Clone(v)
		}
		return b.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (t *boltTable) Scan(r RawRange) (engineCursor, error) {
	// The read tx stays open for the cursor's lifetime; Close releases it.
	btx, err := t.eng.bdb.Begin(false)
	if err != nil {
		return nil, err
	}
	b, err := t.bucket(btx)
	if err != nil {
		_ = btx.Rollback()
		return nil, err
	}
	return &seekScanCursor{
		rang:  r,
		c:     boltSeekCursor{c: b.Cursor()},
		close: btx.Rollback,
	}, nil
}

func (t *boltTable) ApplyBatch(ops []RawOp) error {
	return t.eng.bdb.Update(func(btx *bbolt.Tx) error {
		b, err := t.bucket(btx)
		if err != nil {
			return err
		}
		for _, op := range ops {
			if op.Remove {
				err = b.Delete(op.Key)
			} else {
				err = b.Put(op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

type boltSeekCursor struct {
	c *bbolt.Cursor
}

func (c boltSeekCursor) First() ([]byte, []byte)           { return c.c.First() }
func (c boltSeekCursor) Last() ([]byte, []byte)            { return c.c.Last() }
func (c boltSeekCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }
func (c boltSeekCursor) Next() ([]byte, []byte)            { return c.c.Next() }
func (c boltSeekCursor) Prev() ([]byte, []byte)            { return c.c.Prev() }

type boltTx struct {
	btx *bbolt.Tx
}

func (tx *boltTx) Table(name string) engineTxTable {
	b := tx.btx.Bucket([]byte(name))
	if b == nil {
		panic(fmt.Sprintf("tkv: table %q not open", name))
	}
	return boltTxTable{b: b}
}

type boltTxTable struct {
	b *bbolt.Bucket
}

func (t boltTxTable) Get(key []byte) ([]byte, error) {
	if v := t.b.Get(key); v != nil {
		return bytes.Clone(v), nil
	}
	return nil, nil
}

func (t boltTxTable) Put(key, value []byte) ([]byte, error) {
	var prev []byte
	if v := t.b.Get(key); v != nil {
		prev = bytes.Clone(v)
	}
	if err := t.b.Put(key, value); err != nil {
		return nil, err
	}
	return prev, nil
}

func (t boltTxTable) Delete(key []byte) ([]byte, error) {
	var prev []byte
	if v := t.b.Get(key); v != nil {
		prev = bytes.Clone(v)
	}
	if err := t.b.Delete(key); err != nil {
		return nil, err
	}
	return prev, nil
}
