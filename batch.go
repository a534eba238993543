package tkv

// Batch accumulates inserts and removals for one tree, to be applied
// atomically by Tree.ApplyBatch. Keys and values are encoded as they are
// recorded, so codec failures surface at record time, not at apply time.
// A batch is not safe for concurrent use.
type Batch[K, V any] struct {
	scm *Schema[K, V]
	ops []RawOp
}

// NewBatch starts an empty batch for the given schema.
func NewBatch[K, V any](scm *Schema[K, V]) *Batch[K, V] {
	return &Batch[K, V]{scm: scm}
}

// Insert records an insert of value under key.
func (b *Batch[K, V]) Insert(key K, value V) error {
	raw, err := b.scm.val.EncodeValue(value)
	if err != nil {
		return serializationErr(b.scm.name, err)
	}
	b.ops = append(b.ops, RawOp{Key: b.scm.key.EncodeKey(key), Value: raw})
	return nil
}

// Remove records a removal of key.
func (b *Batch[K, V]) Remove(key K) {
	b.ops = append(b.ops, RawOp{Key: b.scm.key.EncodeKey(key), Remove: true})
}

// Len returns the number of recorded operations, before merging.
func (b *Batch[K, V]) Len() int {
	return len(b.ops)
}

// Ops returns a copy of the recorded operations, before merging.
func (b *Batch[K, V]) Ops() []RawOp {
	out := make([]RawOp, len(b.ops))
	copy(out, b.ops)
	return out
}

// resolve merges the recorded operations so that each key appears once,
// keeping the last operation recorded for it. Surviving operations stay in
// first-occurrence order.
func (b *Batch[K, V]) resolve() []RawOp {
	if len(b.ops) <= 1 {
		return b.ops
	}
	seen := make(map[string]int, len(b.ops))
	out := make([]RawOp, 0, len(b.ops))
	for _, op := range b.ops {
		if i, ok := seen[string(op.Key)]; ok {
			out[i] = op
		} else {
			seen[string(op.Key)] = len(out)
			out = append(out, op)
		}
	}
	return out
}
