package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/auction-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts are stored as NUMERIC(20,0) so the full uint64 range round-trips.
// Read-modify-write operations lock the touched row with SELECT ... FOR UPDATE
// inside one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS auctions (
	batch_id          BIGINT PRIMARY KEY,
	authority         TEXT NOT NULL,
	total_supply      NUMERIC(20,0) NOT NULL,
	remaining_supply  NUMERIC(20,0) NOT NULL CHECK (remaining_supply <= total_supply),
	start_price       NUMERIC(20,0) NOT NULL,
	reserve_price     NUMERIC(20,0) NOT NULL,
	current_price     NUMERIC(20,0) NOT NULL,
	start_time        TIMESTAMPTZ NOT NULL,
	end_time          TIMESTAMPTZ NOT NULL,
	status            TEXT NOT NULL,
	total_raised      NUMERIC(20,0) NOT NULL,
	participant_count BIGINT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	finalized_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS bids (
	id              TEXT PRIMARY KEY,
	batch_id        BIGINT NOT NULL REFERENCES auctions (batch_id),
	bidder          TEXT NOT NULL,
	token_amount    NUMERIC(20,0) NOT NULL,
	price_per_token NUMERIC(20,0) NOT NULL,
	total_cost      NUMERIC(20,0) NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL,
	refund          NUMERIC(20,0) NOT NULL DEFAULT 0,
	claimed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_bids_batch ON bids (batch_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_bids_bidder ON bids (bidder, timestamp);
`

// Migrate creates the auction and bid tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const auctionColumns = `batch_id, authority,
	total_supply::TEXT, remaining_supply::TEXT,
	start_price::TEXT, reserve_price::TEXT, current_price::TEXT,
	start_time, end_time, status,
	total_raised::TEXT, participant_count, created_at, finalized_at`

const bidColumns = `id, batch_id, bidder,
	token_amount::TEXT, price_per_token::TEXT, total_cost::TEXT,
	timestamp, status, refund::TEXT, claimed_at`

func (s *PostgresStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions (batch_id, authority, total_supply, remaining_supply,
		                       start_price, reserve_price, current_price,
		                       start_time, end_time, status, total_raised,
		                       participant_count, created_at, finalized_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		         $8, $9, $10, $11::NUMERIC, $12, $13, $14)`,
		int64(a.BatchID), a.Authority,
		u64(a.TotalSupply), u64(a.RemainingSupply),
		u64(a.StartPrice), u64(a.ReservePrice), u64(a.CurrentPrice),
		a.StartTime, a.EndTime, string(a.Status),
		u64(a.TotalRaised), int64(a.ParticipantCount), a.CreatedAt, a.FinalizedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("auction %d: %w", a.BatchID, ErrAlreadyExists)
	}
	return err
}

func (s *PostgresStore) GetAuction(ctx context.Context, batchID uint32) (*model.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE batch_id = $1`, int64(batchID))
	a, err := scanAuction(row)
	if err != nil {
		return nil, fmt.Errorf("get auction %d: %w", batchID, notFound(err))
	}
	return a, nil
}

func (s *PostgresStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions ORDER BY batch_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

func (s *PostgresStore) UpdateAuction(ctx context.Context, batchID uint32, fn AuctionFunc) (*model.Auction, error) {
	var result *model.Auction
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		a, err := lockAuction(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		if err := updateAuction(ctx, tx, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) PlaceBid(ctx context.Context, batchID uint32, fn BidFunc) (*model.Auction, *model.Bid, error) {
	var (
		auction *model.Auction
		bid     *model.Bid
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		a, err := lockAuction(ctx, tx, batchID)
		if err != nil {
			return err
		}
		b, err := fn(a)
		if err != nil {
			return err
		}
		if err := updateAuction(ctx, tx, a); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO bids (id, batch_id, bidder, token_amount, price_per_token, total_cost,
			                   timestamp, status, refund, claimed_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9::NUMERIC, $10)`,
			b.ID, int64(b.BatchID), b.Bidder,
			u64(b.TokenAmount), u64(b.PricePerToken), u64(b.TotalCost),
			b.Timestamp, string(b.Status), u64(b.Refund), b.ClaimedAt,
		)
		if err != nil {
			return fmt.Errorf("insert bid %s: %w", b.ID, err)
		}
		auction, bid = a, b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return auction, bid, nil
}

func (s *PostgresStore) SettleBid(ctx context.Context, bidID string, fn SettleFunc) (*model.Bid, error) {
	var result *model.Bid
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b, err := scanBid(tx.QueryRow(ctx,
			`SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, bidID))
		if err != nil {
			return fmt.Errorf("lock bid %s: %w", bidID, notFound(err))
		}
		a, err := scanAuction(tx.QueryRow(ctx,
			`SELECT `+auctionColumns+` FROM auctions WHERE batch_id = $1 FOR SHARE`, int64(b.BatchID)))
		if err != nil {
			return fmt.Errorf("get auction %d: %w", b.BatchID, notFound(err))
		}
		if err := fn(a, b); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE bids SET status = $2, refund = $3::NUMERIC, claimed_at = $4 WHERE id = $1`,
			b.ID, string(b.Status), u64(b.Refund), b.ClaimedAt,
		)
		if err != nil {
			return fmt.Errorf("update bid %s: %w", b.ID, err)
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	b, err := scanBid(s.pool.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get bid %s: %w", id, notFound(err))
	}
	return b, nil
}

func (s *PostgresStore) ListBidsByAuction(ctx context.Context, batchID uint32) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE batch_id = $1 ORDER BY timestamp`, int64(batchID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBids(rows)
}

func (s *PostgresStore) ListBidsByBidder(ctx context.Context, bidder string) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE bidder = $1 ORDER BY timestamp`, bidder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBids(rows)
}

func lockAuction(ctx context.Context, tx pgx.Tx, batchID uint32) (*model.Auction, error) {
	a, err := scanAuction(tx.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE batch_id = $1 FOR UPDATE`, int64(batchID)))
	if err != nil {
		return nil, fmt.Errorf("lock auction %d: %w", batchID, notFound(err))
	}
	return a, nil
}

func updateAuction(ctx context.Context, tx pgx.Tx, a *model.Auction) error {
	_, err := tx.Exec(ctx,
		`UPDATE auctions
		 SET remaining_supply = $2::NUMERIC, current_price = $3::NUMERIC,
		     status = $4, total_raised = $5::NUMERIC,
		     participant_count = $6, finalized_at = $7
		 WHERE batch_id = $1`,
		int64(a.BatchID), u64(a.RemainingSupply), u64(a.CurrentPrice),
		string(a.Status), u64(a.TotalRaised),
		int64(a.ParticipantCount), a.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("update auction %d: %w", a.BatchID, err)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*model.Auction, error) {
	var (
		a                                model.Auction
		batchID, participants            int64
		total, remaining, start, reserve string
		current, raised, status          string
		finalizedAt                      *time.Time
	)
	err := row.Scan(&batchID, &a.Authority,
		&total, &remaining,
		&start, &reserve, &current,
		&a.StartTime, &a.EndTime, &status,
		&raised, &participants, &a.CreatedAt, &finalizedAt)
	if err != nil {
		return nil, err
	}

	a.BatchID = uint32(batchID)
	a.ParticipantCount = uint32(participants)
	a.Status = model.AuctionStatus(status)
	a.FinalizedAt = finalizedAt
	for _, f := range []struct {
		dst *uint64
		src string
	}{
		{&a.TotalSupply, total},
		{&a.RemainingSupply, remaining},
		{&a.StartPrice, start},
		{&a.ReservePrice, reserve},
		{&a.CurrentPrice, current},
		{&a.TotalRaised, raised},
	} {
		if *f.dst, err = parseU64(f.src); err != nil {
			return nil, fmt.Errorf("auction %d: %w", a.BatchID, err)
		}
	}
	return &a, nil
}

func scanBid(row rowScanner) (*model.Bid, error) {
	var (
		b                         model.Bid
		batchID                   int64
		amount, price, cost, refd string
		status                    string
	)
	err := row.Scan(&b.ID, &batchID, &b.Bidder,
		&amount, &price, &cost,
		&b.Timestamp, &status, &refd, &b.ClaimedAt)
	if err != nil {
		return nil, err
	}

	b.BatchID = uint32(batchID)
	b.Status = model.BidStatus(status)
	for _, f := range []struct {
		dst *uint64
		src string
	}{
		{&b.TokenAmount, amount},
		{&b.PricePerToken, price},
		{&b.TotalCost, cost},
		{&b.Refund, refd},
	} {
		if *f.dst, err = parseU64(f.src); err != nil {
			return nil, fmt.Errorf("bid %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

func scanBids(rows pgx.Rows) ([]model.Bid, error) {
	var bids []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}
