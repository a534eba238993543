package tkv

import (
	"errors"
	"time"
)

// Backoff decides how long to sleep before retrying a conflicted
// transaction. Attempt 0 is the delay after the first failed attempt.
// Implementations must be pure functions of the attempt index so that
// concurrent transactions can share one Backoff value.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff multiplies Base by Multiplier for every attempt,
// capped at Max. Zero fields assume the defaults of 10ms, 2.0 and 5s.
type ExponentialBackoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	base, mult, max := b.Base, b.Multiplier, b.Max
	if base == 0 {
		base = 10 * time.Millisecond
	}
	if mult == 0 {
		mult = 2.0
	}
	if max == 0 {
		max = 5 * time.Second
	}
	d := time.Duration(float64(base))
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// LinearBackoff adds Increment to Base for every attempt, capped at Max.
// Zero fields assume the defaults of 10ms, 10ms and 1s.
type LinearBackoff struct {
	Base      time.Duration
	Increment time.Duration
	Max       time.Duration
}

func (b LinearBackoff) Delay(attempt int) time.Duration {
	base, inc, max := b.Base, b.Increment, b.Max
	if base == 0 {
		base = 10 * time.Millisecond
	}
	if inc == 0 {
		inc = 10 * time.Millisecond
	}
	if max == 0 {
		max = time.Second
	}
	d := base + time.Duration(attempt)*inc
	if d > max {
		return max
	}
	return d
}

// ConstantBackoff sleeps the same delay between every attempt. A zero
// Sleep field assumes the default of 100ms.
type ConstantBackoff struct {
	Sleep time.Duration
}

func (b ConstantBackoff) Delay(attempt int) time.Duration {
	if b.Sleep == 0 {
		return 100 * time.Millisecond
	}
	return b.Sleep
}

// Txn is a transactional view of the database, valid only inside the
// closure passed to RunTransaction or RunTransactionWithRetry. All reads
// and writes through it happen atomically when the closure returns nil.
type Txn struct {
	db  *DB
	etx engineTx
}

// Txn returns the transactional view of t inside tx. The tree must have
// been opened through the same DB that started the transaction.
func (t *Tree[K, V]) Txn(tx *Txn) *TxnTree[K, V] {
	if tx.db != t.db {
		panic("tkv: tree does not belong to the transaction's database")
	}
	return &TxnTree[K, V]{scm: t.scm, tt: tx.etx.Table(t.scm.name)}
}

// TxnTree is the typed per-tree surface inside a transaction. Reads observe
// the transaction's own uncommitted writes.
type TxnTree[K, V any] struct {
	scm *Schema[K, V]
	tt  engineTxTable
}

func (t *TxnTree[K, V]) Get(key K) (V, bool, error) {
	var zero V
	raw, err := t.tt.Get(t.scm.key.EncodeKey(key))
	if err != nil {
		return zero, false, engineErrf(t.scm.name, "get", err)
	}
	if raw == nil {
		return zero, false, nil
	}
	v, err := t.scm.val.DecodeValue(raw)
	if err != nil {
		return zero, false, deserializationErr(t.scm.name, err)
	}
	return v, true, nil
}

func (t *TxnTree[K, V]) Has(key K) (bool, error) {
	raw, err := t.tt.Get(t.scm.key.EncodeKey(key))
	if err != nil {
		return false, engineErrf(t.scm.name, "get", err)
	}
	return raw != nil, nil
}

func (t *TxnTree[K, V]) Insert(key K, value V) (prev V, replaced bool, err error) {
	var zero V
	raw, err := t.scm.val.EncodeValue(value)
	if err != nil {
		return zero, false, serializationErr(t.scm.name, err)
	}
	rawPrev, err := t.tt.Put(t.scm.key.EncodeKey(key), raw)
	if err != nil {
		return zero, false, engineErrf(t.scm.name, "put", err)
	}
	if rawPrev == nil {
		return zero, false, nil
	}
	prev, err = t.scm.val.DecodeValue(rawPrev)
	if err != nil {
		return zero, false, deserializationErr(t.scm.name, err)
	}
	return prev, true, nil
}

func (t *TxnTree[K, V]) Remove(key K) (removed V, existed bool, err error) {
	var zero V
	rawPrev, err := t.tt.Delete(t.scm.key.EncodeKey(key))
	if err != nil {
		return zero, false, engineErrf(t.scm.name, "delete", err)
	}
	if rawPrev == nil {
		return zero, false, nil
	}
	removed, err = t.scm.val.DecodeValue(rawPrev)
	if err != nil {
		return zero, false, deserializationErr(t.scm.name, err)
	}
	return removed, true, nil
}

// RunTransaction runs f atomically across every tree of the database.
// Returning nil from f commits; returning an error rolls back and passes
// the error through unchanged. On backends with optimistic concurrency the
// commit itself can fail with an error matching ErrConflict, in which case
// nothing was applied; use RunTransactionWithRetry to handle that
// automatically.
func (db *DB) RunTransaction(f func(tx *Txn) error) error {
	return db.eng.Transaction(func(etx engineTx) error {
		return f(&Txn{db: db, etx: etx})
	})
}

// RunTransactionWithRetry runs f like RunTransaction, retrying it when the
// commit fails with a conflict. Between attempts it sleeps per b, which may
// be nil for the default ExponentialBackoff. maxRetries bounds the retries,
// so f runs at most maxRetries+1 times; when the budget is exhausted the
// result is a RetriesExhaustedError, which still matches ErrConflict.
//
// Errors returned by f itself are never retried. Because f can run several
// times, it must not have side effects beyond the transaction.
func (db *DB) RunTransactionWithRetry(b Backoff, maxRetries int, f func(tx *Txn) error) error {
	if b == nil {
		b = ExponentialBackoff{}
	}
	for attempt := 0; ; attempt++ {
		err := db.RunTransaction(f)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt >= maxRetries {
			return &RetriesExhaustedError{Attempts: attempt + 1, Err: err}
		}
		delay := b.Delay(attempt)
		db.logf("tkv: transaction conflict, retry %d of %d in %v", attempt+1, maxRetries, delay)
		time.Sleep(delay)
	}
}
