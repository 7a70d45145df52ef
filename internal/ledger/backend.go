package ledger

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrTransferFailed    = errors.New("transfer failed")
	ErrReentrantTransfer = errors.New("reentrant transfer")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTxDone            = errors.New("transaction already finished")
)

// Backend is the external payment primitive the mover drives. A Tx stages
// debits and credits and applies them all-or-nothing on Commit.
type Backend interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single atomic batch of balance mutations.
type Tx interface {
	// Debit removes amount from addr. Fails with ErrInsufficientFunds when
	// the staged balance cannot cover it.
	Debit(addr string, amount uint64) error
	// Credit adds amount to addr. A recipient may reject the payment, which
	// surfaces as ErrTransferFailed.
	Credit(addr string, amount uint64) error
	Commit() error
	Rollback() error
}

// InMemory is a process-local payment backend keyed by account address.
// NOTE: Replace with durable storage later (Postgres).
type InMemory struct {
	mu       sync.Mutex
	balances map[string]uint64
	rejects  map[string]bool
}

// NewInMemory creates an empty backend.
func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[string]uint64),
		rejects:  make(map[string]bool),
	}
}

// Fund credits addr outside of any transfer, for seeding tests and demos.
func (b *InMemory) Fund(addr string, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] += amount
}

// Balance reports the committed balance of addr.
func (b *InMemory) Balance(addr string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[addr]
}

// RejectCredits makes addr refuse incoming payments, mimicking a recipient
// whose receive hook fails.
func (b *InMemory) RejectCredits(addr string, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejects[addr] = reject
}

// Begin locks the backend for the duration of the transaction so the staged
// view cannot drift from the committed one. Commit or Rollback must be
// called on every path.
func (b *InMemory) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	return &memTx{backend: b, staged: make(map[string]uint64)}, nil
}

type memTx struct {
	backend *InMemory
	staged  map[string]uint64 // addr -> balance as seen inside the tx
	touched []string
	done    bool
}

func (t *memTx) balanceOf(addr string) uint64 {
	if v, ok := t.staged[addr]; ok {
		return v
	}
	v := t.backend.balances[addr]
	t.staged[addr] = v
	t.touched = append(t.touched, addr)
	return v
}

func (t *memTx) Debit(addr string, amount uint64) error {
	if t.done {
		return ErrTxDone
	}
	cur := t.balanceOf(addr)
	if cur < amount {
		return ErrInsufficientFunds
	}
	t.staged[addr] = cur - amount
	return nil
}

func (t *memTx) Credit(addr string, amount uint64) error {
	if t.done {
		return ErrTxDone
	}
	if t.backend.rejects[addr] {
		return ErrTransferFailed
	}
	t.staged[addr] = t.balanceOf(addr) + amount
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	for _, addr := range t.touched {
		t.backend.balances[addr] = t.staged[addr]
	}
	t.backend.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.backend.mu.Unlock()
	return nil
}
