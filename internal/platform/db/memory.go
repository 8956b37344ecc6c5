package db

import (
	"context"
	"sync"
)

// KeyedMutex hands out one exclusive lock per key. Entries are dropped once
// no holder or waiter references them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.drop(key, e)
		})
	}, nil
}

func (k *KeyedMutex) drop(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

type memTxKey struct{}

type memTx struct {
	locks *KeyedMutex

	mu    sync.Mutex
	held  map[string]func()
	order []string
	undo  []func()
}

// MemoryTransactor is the in-process Transactor. Row locks taken with LockKey
// are held until the unit of work ends; writes registered with OnRollback are
// reverted when fn fails.
type MemoryTransactor struct {
	locks *KeyedMutex
}

func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{locks: NewKeyedMutex()}
}

func (m *MemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if memTxFrom(ctx) != nil {
		return fn(ctx)
	}

	tx := &memTx{locks: m.locks, held: make(map[string]func())}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			tx.release()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
		tx.release()
	}()

	return fn(context.WithValue(ctx, memTxKey{}, tx))
}

// InTx reports whether ctx is bound to a unit of work of either transactor.
func InTx(ctx context.Context) bool {
	return TxFromContext(ctx) != nil || memTxFrom(ctx) != nil
}

func memTxFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

// LockKey takes the exclusive lock for key inside the current in-memory unit
// of work. Locking a key the unit already holds is a no-op.
func LockKey(ctx context.Context, key string) error {
	tx := memTxFrom(ctx)
	if tx == nil {
		return ErrNoTx
	}
	tx.mu.Lock()
	_, ok := tx.held[key]
	tx.mu.Unlock()
	if ok {
		return nil
	}

	unlock, err := tx.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	tx.held[key] = unlock
	tx.order = append(tx.order, key)
	tx.mu.Unlock()
	return nil
}

// OnRollback registers an undo step for the current in-memory unit of work.
// Outside a unit of work it does nothing.
func OnRollback(ctx context.Context, undo func()) {
	tx := memTxFrom(ctx)
	if tx == nil {
		return
	}
	tx.mu.Lock()
	tx.undo = append(tx.undo, undo)
	tx.mu.Unlock()
}

func (tx *memTx) rollback() {
	tx.mu.Lock()
	undo := tx.undo
	tx.undo = nil
	tx.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func (tx *memTx) release() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.held[tx.order[i]]()
	}
	tx.held = map[string]func(){}
	tx.order = nil
}
