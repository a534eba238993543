package tkv

import "bytes"

// Tree is a typed view of one table: keys of type K, values of type V,
// ordered by the key codec's byte encoding. Trees are cheap handles and safe
// for concurrent use; all of them share the DB's engine.
type Tree[K, V any] struct {
	db  *DB
	scm *Schema[K, V]
	tbl engineTable
}

// Name returns the table name from the tree's schema.
func (t *Tree[K, V]) Name() string {
	return t.scm.name
}

func (t *Tree[K, V]) decodeValue(buf []byte) (V, error) {
	v, err := t.scm.val.DecodeValue(buf)
	if err != nil {
		var zero V
		return zero, deserializationErr(t.scm.name, err)
	}
	return v, nil
}

// Get returns the value stored under key, and whether one was present.
func (t *Tree[K, V]) Get(key K) (V, bool, error) {
	var zero V
	raw, err := t.tbl.Get(t.scm.key.EncodeKey(key))
	if err != nil {
		return zero, false, engineErrf(t.scm.name, "get", err)
	}
	if raw == nil {
		return zero, false, nil
	}
	v, err := t.decodeValue(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Has reports whether key is present, without decoding the value.
func (t *Tree[K, V]) Has(key K) (bool, error) {
	raw, err := t.tbl.Get(t.scm.key.EncodeKey(key))
	if err != nil {
		return false, engineErrf(t.scm.name, "get", err)
	}
	return raw != nil, nil
}

// Insert stores value under key and returns the previously stored value,
// if any.
func (t *Tree[K, V]) Insert(key K, value V) (prev V, replaced bool, err error) {
	var zero V
	rawValue, err := t.scm.val.EncodeValue(value)
	if err != nil {
		return zero, false, serializationErr(t.scm.name, err)
	}
	rawPrev, err := t.tbl.Put(t.scm.key.EncodeKey(key), rawValue)
	if err != nil {
		return zero, false, engineErrf(t.scm.name, "put", err)
	}
	if rawPrev == nil {
		return zero, false, nil
	}
	prev, err = t.decodeValue(rawPrev)
	if err != nil {
		return zero, false, err
	}
	return prev, true, nil
}

// Remove deletes key and returns the removed value, if any.
func (t *Tree[K, V]) Remove(key K) (removed V, existed bool, err error) {
	var zero V
	rawPrev, err := t.tbl.Delete(t.scm.key.EncodeKey(key))
	if err != nil {
		return zero, false, engineErrf(t.scm.name, "delete", err)
	}
	if rawPrev == nil {
		return zero, false, nil
	}
	removed, err = t.decodeValue(rawPrev)
	if err != nil {
		return zero, false, err
	}
	return removed, true, nil
}

// CompareAndSwap replaces the value under key with new, but only if the
// current value equals old. A nil old asserts the key is absent; a nil new
// removes the key. Returns whether the swap took place. Equality is decided
// on the encoded bytes, so codecs that are not canonical may report false
// negatives.
func (t *Tree[K, V]) CompareAndSwap(key K, old, new *V) (bool, error) {
	rawKey := t.scm.key.EncodeKey(key)
	var rawOld, rawNew []byte
	var err error
	if old != nil {
		rawOld, err = t.scm.val.EncodeValue(*old)
		if err != nil {
			return false, serializationErr(t.scm.name, err)
		}
	}
	if new != nil {
		rawNew, err = t.scm.val.EncodeValue(*new)
		if err != nil {
			return false, serializationErr(t.scm.name, err)
		}
	}

	var swapped bool
	err = t.db.eng.Transaction(func(tx engineTx) error {
		tt := tx.Table(t.scm.name)
		cur, err := tt.Get(rawKey)
		if err != nil {
			return err
		}
		if old == nil {
			if cur != nil {
				return nil
			}
		} else if cur == nil || !bytes.Equal(cur, rawOld) {
			return nil
		}
		if new == nil {
			if _, err := tt.Delete(rawKey); err != nil {
				return err
			}
		} else {
			if _, err := tt.Put(rawKey, rawNew); err != nil {
				return err
			}
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, engineErrf(t.scm.name, "cas", err)
	}
	return swapped, nil
}

// boundary returns the first entry of rng, decoded.
func (t *Tree[K, V]) boundary(rng RawRange) (key K, value V, ok bool, err error) {
	var zeroK K
	var zeroV V
	cur, err := t.tbl.Scan(rng)
	if err != nil {
		return zeroK, zeroV, false, engineErrf(t.scm.name, "scan", err)
	}
	defer cur.Close()
	if !cur.Next() {
		if err := cur.Err(); err != nil {
			return zeroK, zeroV, false, engineErrf(t.scm.name, "scan", err)
		}
		return zeroK, zeroV, false, nil
	}
	key, err = t.scm.key.DecodeKey(cur.Key())
	if err != nil {
		return zeroK, zeroV, false, keyDecodeErr(t.scm.name, err)
	}
	value, err = t.decodeValue(cur.Value())
	if err != nil {
		return zeroK, zeroV, false, err
	}
	return key, value, true, nil
}

// First returns the entry with the smallest key, if the tree is non-empty.
func (t *Tree[K, V]) First() (key K, value V, ok bool, err error) {
	return t.boundary(RawOO())
}

// Last returns the entry with the largest key, if the tree is non-empty.
func (t *Tree[K, V]) Last() (key K, value V, ok bool, err error) {
	return t.boundary(RawOO().Reversed())
}

// IsEmpty reports whether the tree has no entries.
func (t *Tree[K, V]) IsEmpty() (bool, error) {
	cur, err := t.tbl.Scan(RawOO())
	if err != nil {
		return false, engineErrf(t.scm.name, "scan", err)
	}
	defer cur.Close()
	if cur.Next() {
		return false, nil
	}
	if err := cur.Err(); err != nil {
		return false, engineErrf(t.scm.name, "scan", err)
	}
	return true, nil
}

// ApplyBatch applies all of b's operations atomically. Inserting and
// removing the same key within b resolves to the last operation recorded.
func (t *Tree[K, V]) ApplyBatch(b *Batch[K, V]) error {
	if b.scm != t.scm {
		panic("tkv: batch built for a different schema")
	}
	ops := b.resolve()
	if len(ops) == 0 {
		return nil
	}
	if err := t.tbl.ApplyBatch(ops); err != nil {
		return engineErrf(t.scm.name, "batch", err)
	}
	return nil
}

// Range describes a typed key range. The mnemonic constructors mirror the
// RawRange ones: O open, I inclusive, E exclusive, lower bound first.
type Range[K any] struct {
	lower, upper       *K
	lowerInc, upperInc bool
	reverse            bool
}

func All[K any]() Range[K]      { return Range[K]{} }
func IO[K any](l K) Range[K]    { return Range[K]{lower: &l, lowerInc: true} }
func EO[K any](l K) Range[K]    { return Range[K]{lower: &l} }
func OI[K any](u K) Range[K]    { return Range[K]{upper: &u, upperInc: true} }
func OE[K any](u K) Range[K]    { return Range[K]{upper: &u} }
func II[K any](l, u K) Range[K] { return Range[K]{lower: &l, upper: &u, lowerInc: true, upperInc: true} }
func IE[K any](l, u K) Range[K] { return Range[K]{lower: &l, upper: &u, lowerInc: true} }
func EI[K any](l, u K) Range[K] { return Range[K]{lower: &l, upper: &u, upperInc: true} }
func EE[K any](l, u K) Range[K] { return Range[K]{lower: &l, upper: &u} }

func (rng Range[K]) Reversed() Range[K] { rng.reverse = true; return rng }

func (rng Range[K]) raw(codec KeyCodec[K]) RawRange {
	var raw RawRange
	if rng.lower != nil {
		raw.Lower = codec.EncodeKey(*rng.lower)
		raw.LowerInc = rng.lowerInc
	}
	if rng.upper != nil {
		raw.Upper = codec.EncodeKey(*rng.upper)
		raw.UpperInc = rng.upperInc
	}
	raw.Reverse = rng.reverse
	return raw
}

// Scan returns a cursor over the entries of rng in key order. The cursor
// must be closed; reaching the end closes it automatically.
func (t *Tree[K, V]) Scan(rng Range[K]) (*Cursor[K, V], error) {
	ec, err := t.tbl.Scan(rng.raw(t.scm.key))
	if err != nil {
		return nil, engineErrf(t.scm.name, "scan", err)
	}
	return &Cursor[K, V]{tree: t, c: ec}, nil
}

// ScanAll returns a cursor over the whole tree in ascending key order.
func (t *Tree[K, V]) ScanAll() (*Cursor[K, V], error) {
	return t.Scan(All[K]())
}

// Cursor iterates over typed entries. Typical use:
//
//	cur, err := tree.Scan(tkv.IE(10, 20))
//	if err != nil { ... }
//	defer cur.Close()
//	for cur.Next() {
//	    k, v := cur.Key(), cur.Value()
//	    ...
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor[K, V any] struct {
	tree *Tree[K, V]
	c    engineCursor
	key  K
	val  V
	err  error
	done bool
}

// Next advances to the next entry, returning false at the end of the range
// or on the first error. Check Err after the loop.
func (cur *Cursor[K, V]) Next() bool {
	if cur.done || cur.err != nil {
		return false
	}
	if !cur.c.Next() {
		cur.err = cur.c.Err()
		if cur.err != nil {
			cur.err = engineErrf(cur.tree.scm.name, "scan", cur.err)
		}
		cur.done = true
		cur.c.Close()
		return false
	}
	cur.key, cur.err = cur.tree.scm.key.DecodeKey(cur.c.Key())
	if cur.err != nil {
		cur.err = keyDecodeErr(cur.tree.scm.name, cur.err)
		return false
	}
	cur.val, cur.err = cur.tree.decodeValue(cur.c.Value())
	if cur.err != nil {
		return false
	}
	return true
}

// Key returns the key of the current entry.
func (cur *Cursor[K, V]) Key() K { return cur.key }

// Value returns the value of the current entry.
func (cur *Cursor[K, V]) Value() V { return cur.val }

// Err returns the error that stopped iteration, if any.
func (cur *Cursor[K, V]) Err() error { return cur.err }

// Close releases the cursor's engine resources. Safe to call multiple times
// and after exhaustion.
func (cur *Cursor[K, V]) Close() error {
	if cur.done {
		return nil
	}
	cur.done = true
	return cur.c.Close()
}

// Collect drains the cursor into parallel key and value slices and closes it.
func (cur *Cursor[K, V]) Collect() ([]K, []V, error) {
	defer cur.Close()
	var keys []K
	var vals []V
	for cur.Next() {
		keys = append(keys, cur.key)
		vals = append(vals, cur.val)
	}
	if cur.err != nil {
		return nil, nil, cur.err
	}
	return keys, vals, nil
}
