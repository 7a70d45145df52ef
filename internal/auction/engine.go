package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sauda.org/internal/audit"
	"sauda.org/internal/ledger"
	"sauda.org/internal/obs"
	"sauda.org/internal/registry"
	"sauda.org/internal/stream"
)

// Engine is the auction state machine. It enforces bid admission, custody
// checks and the atomic finalize/cancel transitions, orchestrating the fund
// mover and the asset registry. Every precondition violation aborts the
// whole operation with no state mutation.
type Engine struct {
	store    Store
	funds    *ledger.Mover
	registry registry.Registry

	capSecret []byte
	sink      stream.Sink
	now       func() time.Time
	throttle  *bidThrottle
}

// Option configures Engine.
type Option func(*Engine)

// WithClock overrides the engine clock. Deadlines are checked lazily against
// it; there are no background timers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSink attaches an event sink for auction notifications.
func WithSink(s stream.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithBidThrottle enables a per-bidder token bucket. Bids over the limit fail
// with ErrBidThrottled before any funds move.
func WithBidThrottle(burst int, perSecond float64) Option {
	return func(e *Engine) { e.throttle = newBidThrottle(burst, perSecond) }
}

// NewEngine wires the store, the fund mover and the asset registry.
// capSecret verifies custody-notification capability tokens minted for the
// registry.
func NewEngine(store Store, funds *ledger.Mover, reg registry.Registry, capSecret []byte, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		funds:     funds,
		registry:  reg,
		capSecret: capSecret,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegistryAddr returns the address of the wired asset registry.
func (e *Engine) RegistryAddr() string { return e.registry.Addr() }

func (e *Engine) emit(evt stream.Event) {
	if e.sink == nil {
		return
	}
	evt.Timestamp = e.now()
	e.sink.Publish(evt)
}

// OnCustodyReceived records that owner deposited assetID into the core's
// custody. Only a holder of a capability token minted for the wired registry
// may report custody; raw caller-address comparison is not used.
func (e *Engine) OnCustodyReceived(ctx context.Context, capToken string, owner string, assetID uint64) error {
	if err := registry.VerifyCapability(e.capSecret, capToken, e.registry.Addr()); err != nil {
		return err
	}
	return e.store.RegisterCustody(ctx, owner, assetID)
}

// CreateAuction lists a deed held in custody. The caller must be the
// recorded custody owner and the asset must have no live auction.
func (e *Engine) CreateAuction(ctx context.Context, p CreateParams) (int, error) {
	idx, err := e.store.Create(ctx, p)
	if err != nil {
		return 0, err
	}

	obs.CountAuctionCreated()
	_ = audit.LogEvent(ctx, "auction.create", map[string]any{
		"asset_id":    p.AssetID,
		"auction_idx": idx,
		"owner":       p.Caller,
		"start_price": p.StartPrice,
		"deadline":    p.Deadline,
	})
	e.emit(stream.Event{
		Type:       stream.EventCreated,
		AssetID:    p.AssetID,
		AuctionIdx: idx,
		Actor:      p.Caller,
		Amount:     p.StartPrice,
	})
	return idx, nil
}

// PlaceBid admits a bid. The first bid must be at least the start price;
// every later bid must strictly exceed the current leader. The previous
// leader is refunded in the same ledger transaction that collects the new
// bid, so a failed refund aborts the bid with nothing retained.
func (e *Engine) PlaceBid(ctx context.Context, assetID uint64, bidder string, amount uint64) error {
	if err := e.placeBid(ctx, assetID, bidder, amount); err != nil {
		obs.CountBid(bidResult(err))
		return err
	}
	obs.CountBid("accepted")
	return nil
}

func (e *Engine) placeBid(ctx context.Context, assetID uint64, bidder string, amount uint64) error {
	a, err := e.store.ByAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if bidder == a.Owner {
		return ErrOwnerOfAuction
	}
	if e.now().After(a.Deadline) {
		return ErrDeadlineExpired
	}
	if a.State != StateActive {
		return ErrAlreadySettled
	}
	if e.throttle != nil && !e.throttle.allow(bidder) {
		return ErrBidThrottled
	}

	bids, err := e.store.Bids(ctx, a.Idx)
	if err != nil {
		return err
	}

	if len(bids) == 0 {
		if amount < a.StartPrice {
			return ErrInvalidBidAmount
		}
		if err := e.funds.Collect(ctx, bidder, amount); err != nil {
			return err
		}
	} else {
		leader := bids[len(bids)-1]
		if amount <= leader.Amount {
			return ErrInvalidBidAmount
		}
		if err := e.funds.Outbid(ctx, bidder, amount, leader.Bidder, leader.Amount); err != nil {
			return err
		}
		e.emit(stream.Event{
			Type:       stream.EventOutbid,
			AssetID:    assetID,
			AuctionIdx: a.Idx,
			Actor:      bidder,
			Recipient:  leader.Bidder,
			Amount:     leader.Amount,
		})
	}

	if err := e.store.AppendBid(ctx, assetID, Bid{Bidder: bidder, Amount: amount, PlacedAt: e.now()}); err != nil {
		return err
	}

	_ = audit.LogEvent(ctx, "auction.bid", map[string]any{
		"asset_id":    assetID,
		"auction_idx": a.Idx,
		"bidder":      bidder,
		"amount":      amount,
	})
	e.emit(stream.Event{
		Type:       stream.EventBid,
		AssetID:    assetID,
		AuctionIdx: a.Idx,
		Actor:      bidder,
		Amount:     amount,
	})
	return nil
}

// CancelAuction withdraws an unbid listing: the deed goes back to its owner
// and the slot becomes CANCELLED. Cancellation is time-independent but only
// permitted before any bid is placed.
func (e *Engine) CancelAuction(ctx context.Context, assetID uint64, caller string) error {
	custodian, err := e.store.CustodyOwner(ctx, assetID)
	if err != nil {
		if errors.Is(err, ErrNoRegisteredAsset) {
			return ErrNoAuction
		}
		return err
	}
	if caller != custodian {
		return ErrNotAssetOwner
	}

	a, err := e.store.ByAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if a.State.Terminal() {
		return ErrAlreadySettled
	}
	bids, err := e.store.Bids(ctx, a.Idx)
	if err != nil {
		return err
	}
	if len(bids) > 0 {
		return ErrActiveAuctionWithBids
	}

	if err := e.registry.TransferAsset(ctx, a.Owner, assetID); err != nil {
		return fmt.Errorf("return asset to owner: %w", err)
	}

	if err := e.store.ResetCustody(ctx, assetID); err != nil {
		return err
	}
	if err := e.store.SetState(ctx, assetID, StateCancelled); err != nil {
		return err
	}

	obs.CountSettlement("cancelled")
	_ = audit.LogEvent(ctx, "auction.cancel", map[string]any{
		"asset_id":    assetID,
		"auction_idx": a.Idx,
		"owner":       a.Owner,
	})
	e.emit(stream.Event{
		Type:       stream.EventCancelled,
		AssetID:    assetID,
		AuctionIdx: a.Idx,
		Actor:      caller,
		Recipient:  a.Owner,
	})
	return nil
}

// FinalizeAuction settles a listing strictly after its deadline. Any caller
// may trigger it: settlement only distributes already-escrowed value. With
// bids the seller is paid the leading amount and the deed moves to the
// leading bidder; without bids the deed returns to the seller unpaid. The
// asset transfer is pre-validated before any funds move.
func (e *Engine) FinalizeAuction(ctx context.Context, assetID uint64) error {
	if _, err := e.store.CustodyOwner(ctx, assetID); err != nil {
		if errors.Is(err, ErrNoRegisteredAsset) {
			return ErrNoAuction
		}
		return err
	}
	a, err := e.store.ByAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if a.State.Terminal() {
		return ErrAlreadySettled
	}
	if !e.now().After(a.Deadline) {
		return ErrDeadlineNotExpired
	}
	if err := e.registry.EnsureTransferable(ctx, assetID); err != nil {
		return fmt.Errorf("asset not transferable: %w", err)
	}

	bids, err := e.store.Bids(ctx, a.Idx)
	if err != nil {
		return err
	}

	recipient := a.Owner
	outcome := "finalized_unsold"
	var paid uint64
	if len(bids) > 0 {
		leader := bids[len(bids)-1]
		if err := e.funds.Send(ctx, a.Owner, leader.Amount); err != nil {
			return err
		}
		recipient = leader.Bidder
		outcome = "finalized"
		paid = leader.Amount
	}

	if err := e.registry.TransferAsset(ctx, recipient, assetID); err != nil {
		return fmt.Errorf("transfer asset to %s: %w", recipient, err)
	}

	if err := e.store.ResetCustody(ctx, assetID); err != nil {
		return err
	}
	if err := e.store.SetState(ctx, assetID, StateFinalized); err != nil {
		return err
	}

	obs.CountSettlement(outcome)
	_ = audit.LogEvent(ctx, "auction.finalize", map[string]any{
		"asset_id":    assetID,
		"auction_idx": a.Idx,
		"recipient":   recipient,
		"paid":        paid,
	})
	e.emit(stream.Event{
		Type:       stream.EventFinalized,
		AssetID:    assetID,
		AuctionIdx: a.Idx,
		Recipient:  recipient,
		Amount:     paid,
	})
	return nil
}

// Auction returns the record at idx, settled or live.
func (e *Engine) Auction(ctx context.Context, idx int) (Auction, error) {
	return e.store.Get(ctx, idx)
}

// Bids returns the ordered bid history of the auction at idx.
func (e *Engine) Bids(ctx context.Context, idx int) ([]Bid, error) {
	return e.store.Bids(ctx, idx)
}

// AuctionsOf returns the auction indices listed by owner.
func (e *Engine) AuctionsOf(ctx context.Context, owner string) ([]int, error) {
	return e.store.AuctionsOf(ctx, owner)
}

// CustodyOwner returns the address entitled to list the asset.
func (e *Engine) CustodyOwner(ctx context.Context, assetID uint64) (string, error) {
	return e.store.CustodyOwner(ctx, assetID)
}

func bidResult(err error) string {
	switch {
	case errors.Is(err, ErrNoAuction):
		return "no_auction"
	case errors.Is(err, ErrOwnerOfAuction):
		return "owner"
	case errors.Is(err, ErrDeadlineExpired):
		return "expired"
	case errors.Is(err, ErrAlreadySettled):
		return "settled"
	case errors.Is(err, ErrInvalidBidAmount):
		return "too_low"
	case errors.Is(err, ErrBidThrottled):
		return "throttled"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrReentrantTransfer):
		return "reentrant"
	case errors.Is(err, ledger.ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}

// bidThrottle is a token bucket per bidder address with idle-bucket eviction.
type bidThrottle struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	burst     int
	perSecond float64
}

type bucket struct {
	lim *rate.Limiter
	ts  time.Time
}

const bucketTTL = 5 * time.Minute

func newBidThrottle(burst int, perSecond float64) *bidThrottle {
	if burst < 1 {
		burst = 1
	}
	return &bidThrottle{
		buckets:   make(map[string]*bucket),
		burst:     burst,
		perSecond: perSecond,
	}
}

func (t *bidThrottle) allow(bidder string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for k, b := range t.buckets {
		if now.Sub(b.ts) > bucketTTL {
			delete(t.buckets, k)
		}
	}

	b, ok := t.buckets[bidder]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(t.perSecond), t.burst)}
		t.buckets[bidder] = b
	}
	b.ts = now
	return b.lim.Allow()
}
