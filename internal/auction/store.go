package auction

import (
	"context"
	"sync"
	"time"
)

// Store is durable keyed storage for auctions, bid histories and the custody
// mapping. It enforces structural integrity only (key uniqueness, index
// bounds); bidding invariants live in the engine. The mutators AppendBid,
// SetState and ResetCustody are engine-only.
type Store interface {
	RegisterCustody(ctx context.Context, owner string, assetID uint64) error
	Create(ctx context.Context, p CreateParams) (int, error)
	Get(ctx context.Context, idx int) (Auction, error)
	Bids(ctx context.Context, idx int) ([]Bid, error)
	// ByAsset resolves an asset id to its live (non-terminal) auction.
	ByAsset(ctx context.Context, assetID uint64) (Auction, error)
	AuctionsOf(ctx context.Context, owner string) ([]int, error)
	CustodyOwner(ctx context.Context, assetID uint64) (string, error)

	AppendBid(ctx context.Context, assetID uint64, b Bid) error
	SetState(ctx context.Context, assetID uint64, s State) error
	ResetCustody(ctx context.Context, assetID uint64) error
}

// MemStore implements Store with in-process concurrency safety. The auction
// log is append-only; byAsset holds only non-terminal auctions, so map
// presence is the "no auction" sentinel and a settled slot can never alias a
// live index. All index maps mutate together under one lock.
// NOTE: Replace with the Postgres store for durable deployments.
type MemStore struct {
	mu       sync.RWMutex
	custody  map[uint64]string // asset id -> owner entitled to list it
	auctions []Auction
	byAsset  map[uint64]int // asset id -> idx of the live auction
	byOwner  map[string][]int
	bids     map[int][]Bid
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		custody: make(map[uint64]string),
		byAsset: make(map[uint64]int),
		byOwner: make(map[string][]int),
		bids:    make(map[int][]Bid),
	}
}

func (s *MemStore) RegisterCustody(ctx context.Context, owner string, assetID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custody[assetID] = owner
	return nil
}

func (s *MemStore) Create(ctx context.Context, p CreateParams) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.custody[p.AssetID]
	if !ok {
		return 0, ErrNoRegisteredAsset
	}
	if owner != p.Caller {
		return 0, ErrNotAssetOwner
	}
	if _, exists := s.byAsset[p.AssetID]; exists {
		return 0, ErrAuctionExists
	}

	idx := len(s.auctions)
	a := Auction{
		Idx:        idx,
		AssetID:    p.AssetID,
		Name:       p.Name,
		Metadata:   p.Metadata,
		StartPrice: p.StartPrice,
		Deadline:   p.Deadline,
		Owner:      owner,
		State:      StateActive,
		CreatedAt:  time.Now().UTC(),
	}
	s.auctions = append(s.auctions, a)
	s.byAsset[p.AssetID] = idx
	s.byOwner[owner] = append(s.byOwner[owner], idx)
	return idx, nil
}

func (s *MemStore) Get(ctx context.Context, idx int) (Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx < 0 || idx >= len(s.auctions) {
		return Auction{}, ErrNoAuction
	}
	return s.auctions[idx], nil
}

func (s *MemStore) Bids(ctx context.Context, idx int) ([]Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx < 0 || idx >= len(s.auctions) {
		return nil, ErrNoAuction
	}
	out := make([]Bid, len(s.bids[idx]))
	copy(out, s.bids[idx])
	return out, nil
}

func (s *MemStore) ByAsset(ctx context.Context, assetID uint64) (Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byAsset[assetID]
	if !ok {
		return Auction{}, ErrNoAuction
	}
	return s.auctions[idx], nil
}

func (s *MemStore) AuctionsOf(ctx context.Context, owner string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.byOwner[owner]))
	copy(out, s.byOwner[owner])
	return out, nil
}

func (s *MemStore) CustodyOwner(ctx context.Context, assetID uint64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.custody[assetID]
	if !ok {
		return "", ErrNoRegisteredAsset
	}
	return owner, nil
}

func (s *MemStore) AppendBid(ctx context.Context, assetID uint64, b Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byAsset[assetID]
	if !ok {
		return ErrNoAuction
	}
	s.bids[idx] = append(s.bids[idx], b)
	return nil
}

func (s *MemStore) SetState(ctx context.Context, assetID uint64, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byAsset[assetID]
	if !ok {
		return ErrNoAuction
	}
	s.auctions[idx].State = st
	if st.Terminal() {
		delete(s.byAsset, assetID)
	}
	return nil
}

func (s *MemStore) ResetCustody(ctx context.Context, assetID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.custody, assetID)
	return nil
}
