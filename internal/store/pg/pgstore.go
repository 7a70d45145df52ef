package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sauda.org/internal/auction"
)

// Store is the durable auction.Store. Every multi-map mutation runs in one
// SQL transaction so the custody, auction and bid indexes cannot drift.
type Store struct {
	db *sql.DB
}

var _ auction.Store = (*Store)(nil)

// Open connects with tuned pool defaults; adjust under load tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) RegisterCustody(ctx context.Context, owner string, assetID uint64) error {
	_, err := s.db.ExecContext(ctx, `
		insert into custody(asset_id, owner) values ($1, $2)
		on conflict (asset_id) do update set owner = excluded.owner
	`, int64(assetID), owner)
	return err
}

func (s *Store) Create(ctx context.Context, p auction.CreateParams) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx, `select owner from custody where asset_id = $1`, int64(p.AssetID)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auction.ErrNoRegisteredAsset
	}
	if err != nil {
		return 0, err
	}
	if owner != p.Caller {
		return 0, auction.ErrNotAssetOwner
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `
		select exists(select 1 from auctions where asset_id = $1 and state = $2)
	`, int64(p.AssetID), string(auction.StateActive)).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, auction.ErrAuctionExists
	}

	var idx int
	if err := tx.QueryRowContext(ctx, `select count(*) from auctions`).Scan(&idx); err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, `
		insert into auctions(idx, asset_id, name, metadata, start_price, deadline, owner, state, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, idx, int64(p.AssetID), p.Name, p.Metadata, int64(p.StartPrice), p.Deadline, owner, string(auction.StateActive))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return idx, nil
}

const auctionColumns = `idx, asset_id, name, metadata, start_price, deadline, owner, state, created_at`

func scanAuction(row *sql.Row) (auction.Auction, error) {
	var (
		a          auction.Auction
		assetID    int64
		startPrice int64
		state      string
	)
	err := row.Scan(&a.Idx, &assetID, &a.Name, &a.Metadata, &startPrice, &a.Deadline, &a.Owner, &state, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Auction{}, auction.ErrNoAuction
	}
	if err != nil {
		return auction.Auction{}, err
	}
	a.AssetID = uint64(assetID)
	a.StartPrice = uint64(startPrice)
	a.State = auction.State(state)
	return a, nil
}

func (s *Store) Get(ctx context.Context, idx int) (auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `select `+auctionColumns+` from auctions where idx = $1`, idx)
	return scanAuction(row)
}

func (s *Store) ByAsset(ctx context.Context, assetID uint64) (auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+auctionColumns+` from auctions where asset_id = $1 and state = $2
	`, int64(assetID), string(auction.StateActive))
	return scanAuction(row)
}

func (s *Store) Bids(ctx context.Context, idx int) ([]auction.Bid, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from auctions where idx = $1)`, idx).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, auction.ErrNoAuction
	}

	rows, err := s.db.QueryContext(ctx, `
		select bidder, amount, placed_at from bids where auction_idx = $1 order by seq
	`, idx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.Bid
	for rows.Next() {
		var (
			b      auction.Bid
			amount int64
		)
		if err := rows.Scan(&b.Bidder, &amount, &b.PlacedAt); err != nil {
			return nil, err
		}
		b.Amount = uint64(amount)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) AuctionsOf(ctx context.Context, owner string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `select idx from auctions where owner = $1 order by idx`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

func (s *Store) CustodyOwner(ctx context.Context, assetID uint64) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `select owner from custody where asset_id = $1`, int64(assetID)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auction.ErrNoRegisteredAsset
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

func (s *Store) AppendBid(ctx context.Context, assetID uint64, b auction.Bid) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var idx int
	err = tx.QueryRowContext(ctx, `
		select idx from auctions where asset_id = $1 and state = $2
	`, int64(assetID), string(auction.StateActive)).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.ErrNoAuction
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		insert into bids(auction_idx, seq, bidder, amount, placed_at)
		values ($1, (select count(*) from bids where auction_idx = $1), $2, $3, $4)
	`, idx, b.Bidder, int64(b.Amount), b.PlacedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetState(ctx context.Context, assetID uint64, st auction.State) error {
	res, err := s.db.ExecContext(ctx, `
		update auctions set state = $1 where asset_id = $2 and state = $3
	`, string(st), int64(assetID), string(auction.StateActive))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return auction.ErrNoAuction
	}
	return nil
}

func (s *Store) ResetCustody(ctx context.Context, assetID uint64) error {
	_, err := s.db.ExecContext(ctx, `delete from custody where asset_id = $1`, int64(assetID))
	return err
}
