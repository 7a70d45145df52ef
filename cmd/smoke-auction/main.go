// Command smoke-auction drives one full escrow-auction lifecycle against the
// in-memory stack: custody deposit, listing, competing bids with refunds,
// deadline expiry and settlement. It exits non-zero when any step or the
// final conservation check fails.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sauda.org/internal/auction"
	"sauda.org/internal/audit"
	"sauda.org/internal/config"
	"sauda.org/internal/ids"
	"sauda.org/internal/ledger"
	"sauda.org/internal/obs"
	"sauda.org/internal/registry"
	"sauda.org/internal/stream"
)

var version = "0.3.1"

// cents converts a human price like "1.2" into minor units.
func cents(price string) uint64 {
	d := decimal.RequireFromString(price)
	return uint64(d.Shift(2).IntPart())
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := obs.InitLogger(cfg.Debug); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	obs.Init()
	obs.InitBuildInfo(version, "smoke")
	logger := obs.Logger()

	secret := []byte(cfg.Auction.CapabilitySecret)
	if len(secret) == 0 {
		secret = []byte("smoke-secret")
	}

	backend := ledger.NewInMemory()
	mover := ledger.NewMover(backend, cfg.Auction.EscrowAccount)
	reg := registry.NewInMemory(cfg.Auction.RegistryAddr)
	store := auction.NewMemStore()
	clock := &manualClock{t: time.Now().UTC()}

	events := stream.New()
	var sink stream.Sink = events
	if cfg.NATS.URL != "" {
		pub, err := stream.NewNATSPublisher(stream.NATSConfig{
			URL:            cfg.NATS.URL,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		})
		if err != nil {
			logger.Sugar().Fatalf("connect nats: %v", err)
		}
		defer pub.Close()
		sink = fanout{events, pub}
	}

	eng := auction.NewEngine(store, mover, reg, secret,
		auction.WithClock(clock.Now),
		auction.WithSink(sink),
	)

	ctx := audit.WithRequestID(context.Background(), ids.New())
	evctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for evt := range events.Subscribe(evctx) {
			logger.Sugar().Infow("event", "type", evt.Type, "asset_id", evt.AssetID, "amount", evt.Amount)
		}
	}()

	const (
		seller  = "seller"
		bidderA = "bidder-a"
		bidderB = "bidder-b"
		bidderC = "bidder-c"
		deedID  = uint64(0)
	)

	backend.Fund(bidderA, cents("50.00"))
	backend.Fund(bidderB, cents("50.00"))
	backend.Fund(bidderC, cents("50.00"))
	total := backend.Balance(bidderA) + backend.Balance(bidderB) + backend.Balance(bidderC)

	reg.Mint(deedID, seller)
	if err := reg.Deposit(deedID, "custody"); err != nil {
		logger.Sugar().Fatalf("deposit deed: %v", err)
	}
	capToken, err := registry.MintCapability(secret, reg.Addr(), time.Hour)
	if err != nil {
		logger.Sugar().Fatalf("mint capability: %v", err)
	}
	if err := eng.OnCustodyReceived(ctx, capToken, seller, deedID); err != nil {
		logger.Sugar().Fatalf("custody notification: %v", err)
	}

	idx, err := eng.CreateAuction(ctx, auction.CreateParams{
		Name:       "Deed #0",
		Metadata:   "smoke scenario deed",
		StartPrice: cents("1.0"),
		Deadline:   clock.Now().Add(24 * time.Hour),
		AssetID:    deedID,
		Caller:     seller,
	})
	if err != nil {
		logger.Sugar().Fatalf("create auction: %v", err)
	}

	if err := eng.PlaceBid(ctx, deedID, bidderA, cents("1.2")); err != nil {
		logger.Sugar().Fatalf("bid A: %v", err)
	}
	if err := eng.PlaceBid(ctx, deedID, bidderB, cents("1.0")); !errors.Is(err, auction.ErrInvalidBidAmount) {
		logger.Sugar().Fatalf("low bid: got %v, want ErrInvalidBidAmount", err)
	}
	if err := eng.PlaceBid(ctx, deedID, seller, cents("9.0")); !errors.Is(err, auction.ErrOwnerOfAuction) {
		logger.Sugar().Fatalf("owner bid: got %v, want ErrOwnerOfAuction", err)
	}
	if err := eng.PlaceBid(ctx, deedID, bidderB, cents("1.5")); err != nil {
		logger.Sugar().Fatalf("bid B: %v", err)
	}

	clock.Advance(25 * time.Hour)
	if err := eng.PlaceBid(ctx, deedID, bidderC, cents("2.0")); !errors.Is(err, auction.ErrDeadlineExpired) {
		logger.Sugar().Fatalf("late bid: got %v, want ErrDeadlineExpired", err)
	}
	if err := eng.FinalizeAuction(ctx, deedID); err != nil {
		logger.Sugar().Fatalf("finalize: %v", err)
	}

	a, err := eng.Auction(ctx, idx)
	if err != nil {
		logger.Sugar().Fatalf("read auction: %v", err)
	}
	holder, _ := reg.Holder(deedID)
	if a.State != auction.StateFinalized || holder != bidderB {
		logger.Sugar().Fatalf("settlement mismatch: state=%s holder=%s", a.State, holder)
	}
	if got := backend.Balance(seller); got != cents("1.5") {
		logger.Sugar().Fatalf("seller received %d, want %d", got, cents("1.5"))
	}

	after := backend.Balance(bidderA) + backend.Balance(bidderB) + backend.Balance(bidderC) +
		backend.Balance(seller) + backend.Balance(cfg.Auction.EscrowAccount)
	if after != total {
		logger.Sugar().Fatalf("conservation violated: %d != %d", after, total)
	}

	logger.Sugar().Infow("smoke auction passed",
		"auction_idx", idx,
		"winner", bidderB,
		"price_paid", backend.Balance(seller),
	)
}

// fanout mirrors events to several sinks.
type fanout []stream.Sink

func (f fanout) Publish(evt stream.Event) {
	for _, s := range f {
		s.Publish(evt)
	}
}
