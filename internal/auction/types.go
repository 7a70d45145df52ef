package auction

import (
	"errors"
	"time"
)

// State of an auction slot. FINALIZED and CANCELLED are terminal: no
// transition ever leaves them.
type State string

const (
	StateActive    State = "ACTIVE"
	StateFinalized State = "FINALIZED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateCancelled
}

// Auction is one listing of a deed. Amounts are unsigned minor units; no
// floats in the core.
type Auction struct {
	Idx        int       `json:"idx"`
	AssetID    uint64    `json:"asset_id"`
	Name       string    `json:"name"`
	Metadata   string    `json:"metadata"`
	StartPrice uint64    `json:"start_price"`
	Deadline   time.Time `json:"deadline"`
	Owner      string    `json:"owner"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// Bid is one accepted bid. Bids of an auction form an append-only sequence;
// the leading bid is always the last element.
type Bid struct {
	Bidder   string    `json:"bidder"`
	Amount   uint64    `json:"amount"`
	PlacedAt time.Time `json:"placed_at"`
}

// CreateParams carries everything needed to list a deed.
type CreateParams struct {
	Name       string
	Metadata   string
	StartPrice uint64
	Deadline   time.Time
	AssetID    uint64
	Caller     string
}

var (
	ErrNotAssetOwner         = errors.New("caller is not the asset owner")
	ErrNoRegisteredAsset     = errors.New("no registered asset")
	ErrNoAuction             = errors.New("no auction")
	ErrAuctionExists         = errors.New("auction already exists for asset")
	ErrDeadlineExpired       = errors.New("auction deadline expired")
	ErrDeadlineNotExpired    = errors.New("auction deadline not expired")
	ErrInvalidBidAmount      = errors.New("invalid bid amount")
	ErrOwnerOfAuction        = errors.New("owner may not bid on own auction")
	ErrActiveAuctionWithBids = errors.New("active auction has bids")
	ErrAlreadySettled        = errors.New("auction already finalized or cancelled")
	ErrBidThrottled          = errors.New("bid rate limit exceeded")
)
