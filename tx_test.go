package tkv

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTransactionCommit(t *testing.T) {
	eachBackend(t, func(t *testing.T, db *DB) {
		accounts := must(OpenTree(db, NewSchema[string, int]("accounts", StringKey, nil)))
		must2(accounts.Insert("a", 100))
		must2(accounts.Insert("b", 0))

		err := db.RunTransaction(func(tx *Txn) error {
			ta := accounts.Txn(tx)
			a := must2ok(ta.Get("a"))
			b := must2ok(ta.Get("b"))
			must2(ta.Insert("a", a-30))
			must2(ta.Insert("b", b+30))
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		deepEqual(t, must2ok(accounts.Get("a")), 70)
		deepEqual(t, must2ok(accounts.Get("b")), 30)
	})
}

func TestTransactionRollbackOnError(t *testing.T) {
	eachBackend(t, func(t *testing.T, db *DB) {
		a := must(OpenTree(db, NewSchema[string, int]("a", StringKey, nil)))
		b := must(OpenTree(db, NewSchema[string, int]("b", StringKey, nil)))
		must2(a.Insert("k", 1))

		boom := errors.New("boom")
		err := db.RunTransaction(func(tx *Txn) error {
			must2(a.Txn(tx).Insert("k", 99))
			must2(b.Txn(tx).Insert("k", 99))
			return boom
		})
		if err != boom {
			t.Fatalf("RunTransaction = %v, wanted the closure's error unchanged", err)
		}

		deepEqual(t, must2ok(a.Get("k")), 1)
		deepEqual(t, must(b.Has("k")), false)
	})
}

func TestTransactionReadsOwnWrites(t *testing.T) {
	eachBackend(t, func(t *testing.T, db *DB) {
		tree := must(OpenTree(db, NewSchema[string, int]("rw", StringKey, nil)))
		must2(tree.Insert("k", 1))

		err := db.RunTransaction(func(tx *Txn) error {
			tt := tree.Txn(tx)
			must2(tt.Insert("k", 2))
			deepEqual(t, must2ok(tt.Get("k")), 2)

			removed, existed := must2(tt.Remove("k"))
			deepEqual(t, existed, true)
			deepEqual(t, removed, 2)
			deepEqual(t, must(tt.Has("k")), false)

			must2(tt.Insert("k", 3))
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		deepEqual(t, must2ok(tree.Get("k")), 3)
	})
}

func TestTxnTreeWrongDB(t *testing.T) {
	db1 := setup(t, Memory)
	db2 := setup(t, Memory)
	tree2 := must(OpenTree(db2, peopleSchema))

	err := db1.RunTransaction(func(tx *Txn) error {
		expectPanic(t, func() { tree2.Txn(tx) })
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemConflictDetection(t *testing.T) {
	db := setup(t, Memory)
	tree := must(OpenTree(db, NewSchema[string, int]("c", StringKey, nil)))
	must2(tree.Insert("k", 0))

	// First transaction reads k, then a competing write commits before it
	// does. The commit must fail with ErrConflict.
	readDone := make(chan struct{})
	interfered := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-readDone
		must2(tree.Insert("k", 100))
		close(interfered)
	}()

	err := db.RunTransaction(func(tx *Txn) error {
		tt := tree.Txn(tx)
		v := must2ok(tt.Get("k"))

		close(readDone)
		<-interfered

		must2(tt.Insert("k", v+1))
		return nil
	})
	wg.Wait()
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("conflicting commit = %v, wanted ErrConflict", err)
	}
	deepEqual(t, must2ok(tree.Get("k")), 100)
}

func TestRetrySucceedsAfterConflicts(t *testing.T) {
	eng := &conflictingEngine{engine: newMemEngine(), conflicts: 2}
	db := &DB{eng: eng, logf: func(string, ...any) {}, trees: make(map[string]*treeHandle)}
	t.Cleanup(func() { db.Close() })
	users := must(OpenTree(db, NewSchema[string, int]("users", StringKey, nil)))
	orders := must(OpenTree(db, NewSchema[string, int]("orders", StringKey, nil)))

	var runs int
	backoff := &recordingBackoff{}
	err := db.RunTransactionWithRetry(backoff, 5, func(tx *Txn) error {
		runs++
		must2(users.Txn(tx).Insert("u", 1))
		must2(orders.Txn(tx).Insert("o", 2))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, runs, 3)
	deepEqual(t, backoff.calls, []int{0, 1})
	deepEqual(t, must2ok(users.Get("u")), 1)
	deepEqual(t, must2ok(orders.Get("o")), 2)
}

func TestRetryExhaustion(t *testing.T) {
	eng := &conflictingEngine{engine: newMemEngine(), conflicts: 1 << 30}
	db := &DB{eng: eng, logf: func(string, ...any) {}, trees: make(map[string]*treeHandle)}
	t.Cleanup(func() { db.Close() })

	var runs int
	err := db.RunTransactionWithRetry(ConstantBackoff{Sleep: time.Microsecond}, 3, func(tx *Txn) error {
		runs++
		return nil
	})
	deepEqual(t, runs, 4)

	var exhausted *RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("RunTransactionWithRetry = %v, wanted RetriesExhaustedError", err)
	}
	deepEqual(t, exhausted.Attempts, 4)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("RetriesExhaustedError does not match ErrConflict")
	}
}

func TestRetryDoesNotRetryUserErrors(t *testing.T) {
	db := setup(t, Memory)
	boom := errors.New("boom")
	var runs int
	err := db.RunTransactionWithRetry(nil, 5, func(tx *Txn) error {
		runs++
		return boom
	})
	if err != boom {
		t.Fatalf("RunTransactionWithRetry = %v, wanted the closure's error unchanged", err)
	}
	deepEqual(t, runs, 1)
}

func TestRetryZeroBudget(t *testing.T) {
	eng := &conflictingEngine{engine: newMemEngine(), conflicts: 1}
	db := &DB{eng: eng, logf: func(string, ...any) {}, trees: make(map[string]*treeHandle)}
	t.Cleanup(func() { db.Close() })

	err := db.RunTransactionWithRetry(ConstantBackoff{Sleep: time.Microsecond}, 0, func(tx *Txn) error {
		return nil
	})
	var exhausted *RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("zero-budget retry = %v, wanted RetriesExhaustedError", err)
	}
	deepEqual(t, exhausted.Attempts, 1)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Base: 10 * time.Millisecond, Multiplier: 2.0, Max: 5 * time.Second}
	deepEqual(t, b.Delay(0), 10*time.Millisecond)
	deepEqual(t, b.Delay(1), 20*time.Millisecond)
	deepEqual(t, b.Delay(2), 40*time.Millisecond)
	deepEqual(t, b.Delay(100), 5*time.Second)

	// zero value assumes the defaults
	deepEqual(t, ExponentialBackoff{}.Delay(0), 10*time.Millisecond)
	deepEqual(t, ExponentialBackoff{}.Delay(1), 20*time.Millisecond)
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff{Base: 10 * time.Millisecond, Increment: 10 * time.Millisecond, Max: time.Second}
	deepEqual(t, b.Delay(0), 10*time.Millisecond)
	deepEqual(t, b.Delay(1), 20*time.Millisecond)
	deepEqual(t, b.Delay(5), 60*time.Millisecond)
	deepEqual(t, b.Delay(1000), time.Second)
	deepEqual(t, LinearBackoff{}.Delay(2), 30*time.Millisecond)
}

func TestConstantBackoff(t *testing.T) {
	deepEqual(t, ConstantBackoff{Sleep: time.Minute}.Delay(7), time.Minute)
	deepEqual(t, ConstantBackoff{}.Delay(0), 100*time.Millisecond)
}

// conflictingEngine fails the first N commits with ErrConflict.
type conflictingEngine struct {
	engine
	conflicts int64
	attempts  atomic.Int64
}

func (eng *conflictingEngine) Transaction(f func(tx engineTx) error) error {
	err := eng.engine.Transaction(f)
	if err != nil {
		return err
	}
	if eng.attempts.Add(1) <= eng.conflicts {
		return ErrConflict
	}
	return nil
}

type recordingBackoff struct {
	calls []int
}

func (b *recordingBackoff) Delay(attempt int) time.Duration {
	b.calls = append(b.calls, attempt)
	return time.Microsecond
}
