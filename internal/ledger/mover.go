package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sauda.org/internal/obs"
)

// Mover escrows and pays out auction funds through a Backend. Every transfer
// runs under a held guard: an external payment primitive that calls back into
// the mover while a transfer is outstanding fails loudly with
// ErrReentrantTransfer instead of silently skipping the payment. The guard is
// released on every exit path.
type Mover struct {
	backend Backend
	escrow  string

	guard sync.Mutex
}

// NewMover wires a backend and the escrow account that holds the current
// leading bid of every live auction.
func NewMover(backend Backend, escrowAddr string) *Mover {
	return &Mover{backend: backend, escrow: escrowAddr}
}

// EscrowAddr returns the account holding escrowed bids.
func (m *Mover) EscrowAddr() string { return m.escrow }

func (m *Mover) acquire() (func(), error) {
	if !m.guard.TryLock() {
		return nil, ErrReentrantTransfer
	}
	return m.guard.Unlock, nil
}

// Collect moves a bid amount from the bidder into escrow.
func (m *Mover) Collect(ctx context.Context, from string, amount uint64) error {
	release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	return m.run(ctx, "collect", func(tx Tx) error {
		if err := tx.Debit(from, amount); err != nil {
			return err
		}
		return tx.Credit(m.escrow, amount)
	})
}

// Send pays amount out of escrow to a recipient. This is the settlement
// payout and the unbid-refund path.
func (m *Mover) Send(ctx context.Context, to string, amount uint64) error {
	release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	return m.run(ctx, "send", func(tx Tx) error {
		if err := tx.Debit(m.escrow, amount); err != nil {
			return err
		}
		return tx.Credit(to, amount)
	})
}

// Outbid collects the supplanting bid and refunds the previous leader in one
// atomic batch. A failed refund leaves no trace of the new bid: both legs
// commit together or not at all.
func (m *Mover) Outbid(ctx context.Context, bidder string, amount uint64, prev string, prevAmount uint64) error {
	release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	return m.run(ctx, "outbid", func(tx Tx) error {
		if err := tx.Debit(bidder, amount); err != nil {
			return err
		}
		if err := tx.Credit(m.escrow, amount); err != nil {
			return err
		}
		if err := tx.Debit(m.escrow, prevAmount); err != nil {
			return err
		}
		return tx.Credit(prev, prevAmount)
	})
}

func (m *Mover) run(ctx context.Context, op string, fn func(Tx) error) error {
	start := time.Now()
	tx, err := m.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		obs.ObserveTransfer(op, "failed", time.Since(start))
		return err
	}
	if err := tx.Commit(); err != nil {
		obs.ObserveTransfer(op, "failed", time.Since(start))
		return fmt.Errorf("commit %s: %w", op, err)
	}
	obs.ObserveTransfer(op, "ok", time.Since(start))
	return nil
}
