package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownAsset indicates the registry has no record of the asset id.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrTransferRejected indicates the registry refused to move the asset.
	ErrTransferRejected = errors.New("asset transfer rejected")
)

// Registry is the external collaborator that owns asset identity and
// transfer. The auction core never mutates asset ownership directly.
type Registry interface {
	// Addr identifies the registry for capability verification.
	Addr() string
	// EnsureTransferable reports whether TransferAsset would succeed for the
	// asset right now. The engine pre-validates settlement transfers with it
	// before any funds move.
	EnsureTransferable(ctx context.Context, assetID uint64) error
	// TransferAsset moves the asset out of the core's custody to the
	// recipient. Called at most once per settlement.
	TransferAsset(ctx context.Context, to string, assetID uint64) error
}

// InMemory is a deed registry for tests and the smoke binary. It tracks one
// holder per asset id.
type InMemory struct {
	mu      sync.Mutex
	addr    string
	holders map[uint64]string
	rejects map[uint64]bool
}

// NewInMemory creates a registry identified by addr.
func NewInMemory(addr string) *InMemory {
	return &InMemory{
		addr:    addr,
		holders: make(map[uint64]string),
		rejects: make(map[uint64]bool),
	}
}

func (r *InMemory) Addr() string { return r.addr }

// Mint records a freshly issued deed held by owner.
func (r *InMemory) Mint(assetID uint64, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holders[assetID] = owner
}

// Holder reports the current holder of the asset.
func (r *InMemory) Holder(assetID uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holders[assetID]
	return h, ok
}

// Deposit moves the asset from its holder into the core's custody address.
func (r *InMemory) Deposit(assetID uint64, custodian string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holders[assetID]; !ok {
		return ErrUnknownAsset
	}
	r.holders[assetID] = custodian
	return nil
}

// RejectTransfers makes transfers of assetID fail, for fatal-transfer tests.
func (r *InMemory) RejectTransfers(assetID uint64, reject bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejects[assetID] = reject
}

func (r *InMemory) EnsureTransferable(ctx context.Context, assetID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holders[assetID]; !ok {
		return ErrUnknownAsset
	}
	if r.rejects[assetID] {
		return ErrTransferRejected
	}
	return nil
}

func (r *InMemory) TransferAsset(ctx context.Context, to string, assetID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holders[assetID]; !ok {
		return ErrUnknownAsset
	}
	if r.rejects[assetID] {
		return fmt.Errorf("transfer asset %d: %w", assetID, ErrTransferRejected)
	}
	r.holders[assetID] = to
	return nil
}
