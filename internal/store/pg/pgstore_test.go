package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"sauda.org/internal/auction"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestCreateHappyPath(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`select owner from custody`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner"}).AddRow("alice"))
	mock.ExpectQuery(`select exists`).
		WithArgs(int64(7), "ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`select count\(\*\) from auctions`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec(`insert into auctions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	idx, err := s.Create(ctx, auction.CreateParams{
		AssetID:    7,
		Caller:     "alice",
		Name:       "deed",
		StartPrice: 1000,
		Deadline:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, 3, idx)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNoCustody(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select owner from custody`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner"}))
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), auction.CreateParams{AssetID: 7, Caller: "alice"})
	require.ErrorIs(t, err, auction.ErrNoRegisteredAsset)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWrongOwner(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select owner from custody`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner"}).AddRow("alice"))
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), auction.CreateParams{AssetID: 7, Caller: "mallory"})
	require.ErrorIs(t, err, auction.ErrNotAssetOwner)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateLiveAuction(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select owner from custody`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner"}).AddRow("alice"))
	mock.ExpectQuery(`select exists`).
		WithArgs(int64(7), "ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), auction.CreateParams{AssetID: 7, Caller: "alice"})
	require.ErrorIs(t, err, auction.ErrAuctionExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestByAssetNoLiveAuction(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`select .+ from auctions where asset_id`).
		WithArgs(int64(7), "ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"idx"}))

	_, err := s.ByAsset(context.Background(), 7)
	require.ErrorIs(t, err, auction.ErrNoAuction)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStateOnSettledSlot(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(`update auctions set state`).
		WithArgs("CANCELLED", int64(7), "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetState(context.Background(), 7, auction.StateCancelled)
	require.ErrorIs(t, err, auction.ErrNoAuction)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBidsOrderedBySeq(t *testing.T) {
	s, mock := newMock(t)
	placed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select exists\(select 1 from auctions where idx`).
		WithArgs(0).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`select bidder, amount, placed_at from bids`).
		WithArgs(0).
		WillReturnRows(sqlmock.NewRows([]string{"bidder", "amount", "placed_at"}).
			AddRow("a", int64(1200), placed).
			AddRow("b", int64(1500), placed.Add(time.Minute)))

	bids, err := s.Bids(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, uint64(1200), bids[0].Amount)
	require.Equal(t, uint64(1500), bids[1].Amount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBidsUnknownIndex(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`select exists\(select 1 from auctions where idx`).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.Bids(context.Background(), 99)
	require.ErrorIs(t, err, auction.ErrNoAuction)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendBidRequiresLiveAuction(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select idx from auctions where asset_id`).
		WithArgs(int64(7), "ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"idx"}))
	mock.ExpectRollback()

	err := s.AppendBid(context.Background(), 7, auction.Bid{Bidder: "a", Amount: 10, PlacedAt: time.Now()})
	require.ErrorIs(t, err, auction.ErrNoAuction)
	require.NoError(t, mock.ExpectationsWereMet())
}
