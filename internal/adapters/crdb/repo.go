package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ovasilenko/coin-auctions/internal/domain"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a serializable transaction. Serialization failures
// surface as domain.ErrSerializationFailure so callers can treat them as
// retryable alongside lock contention.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

const auctionColumns = `
	id, product_id, product_name, product_image, product_category, product_list_price,
	lot_number, base_price, min_estimate, max_estimate, increment_amount, current_price,
	highest_bidder_id, highest_bidder_name, highest_bidder_email,
	start_time, end_time, status, created_at, updated_at`

func scanAuction(row pgx.Row) (*domain.Auction, error) {
	var a domain.Auction
	var bidderID *uuid.UUID
	var bidderName, bidderEmail *string
	err := row.Scan(
		&a.ID, &a.Product.ProductID, &a.Product.Name, &a.Product.ImageURL, &a.Product.Category, &a.Product.ListPrice,
		&a.LotNumber, &a.BasePrice, &a.MinEstimate, &a.MaxEstimate, &a.IncrementAmount, &a.CurrentPrice,
		&bidderID, &bidderName, &bidderEmail,
		&a.StartTime, &a.EndTime, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if bidderID != nil {
		a.HighestBidder = &domain.Bidder{ID: *bidderID}
		if bidderName != nil {
			a.HighestBidder.DisplayName = *bidderName
		}
		if bidderEmail != nil {
			a.HighestBidder.Email = *bidderEmail
		}
	}
	return &a, nil
}

func (r *Repository) CreateAuction(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO auctions (
			id, product_id, product_name, product_image, product_category, product_list_price,
			lot_number, base_price, min_estimate, max_estimate, increment_amount, current_price,
			start_time, end_time, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, a.ID, a.Product.ProductID, a.Product.Name, a.Product.ImageURL, a.Product.Category, a.Product.ListPrice,
		a.LotNumber, a.BasePrice, a.MinEstimate, a.MaxEstimate, a.IncrementAmount, a.CurrentPrice,
		a.StartTime, a.EndTime, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *Repository) GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+auctionColumns+` FROM auctions WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanAuction(row)
}

// GetAuctionForUpdate locks the auction row for the duration of the
// transaction so validation and the price update see a stable record.
func (r *Repository) GetAuctionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Auction, error) {
	row := tx.QueryRow(ctx, `SELECT`+auctionColumns+` FROM auctions WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	return scanAuction(row)
}

// ListAuctions returns auctions newest-first, optionally filtered by status.
func (r *Repository) ListAuctions(ctx context.Context, status *domain.Status) ([]*domain.Auction, error) {
	query := `SELECT` + auctionColumns + ` FROM auctions WHERE deleted_at IS NULL`
	args := []any{}
	if status != nil {
		query += ` AND status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// UpdateAuctionPrice writes the accepted bid onto the record inside the same
// transaction as the ledger insert.
func (r *Repository) UpdateAuctionPrice(ctx context.Context, tx pgx.Tx, id uuid.UUID, price int64, bidder domain.Bidder) error {
	result, err := tx.Exec(ctx, `
		UPDATE auctions
		SET current_price = $2, highest_bidder_id = $3, highest_bidder_name = $4,
		    highest_bidder_email = $5, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, price, bidder.ID, bidder.DisplayName, bidder.Email)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateAuctionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.Status) error {
	result, err := tx.Exec(ctx, `
		UPDATE auctions SET status = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateAuctionDetails changes the fields an administrator may still edit.
// Base price and lot number are frozen once any bid exists; the service
// enforces that under the auction's lock before calling this.
func (r *Repository) UpdateAuctionDetails(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	result, err := tx.Exec(ctx, `
		UPDATE auctions
		SET min_estimate = $2, max_estimate = $3, increment_amount = $4,
		    start_time = $5, end_time = $6, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, a.ID, a.MinEstimate, a.MaxEstimate, a.IncrementAmount, a.StartTime, a.EndTime)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateAuctionBase rewrites the base price and lot number. Only legal while
// the ledger is empty, since both are frozen by the first accepted bid; the
// current price follows the base price because no bid has moved it yet.
func (r *Repository) UpdateAuctionBase(ctx context.Context, tx pgx.Tx, id uuid.UUID, basePrice int64, lotNumber string) error {
	count, err := r.CountBids(ctx, tx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrHasBids
	}
	result, err := tx.Exec(ctx, `
		UPDATE auctions
		SET base_price = $2, current_price = $2, lot_number = $3, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, basePrice, lotNumber)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
			return domain.ErrConflict
		}
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAuction soft-deletes an auction that never attracted a bid.
func (r *Repository) DeleteAuction(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	count, err := r.CountBids(ctx, tx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrHasBids
	}
	result, err := tx.Exec(ctx, `
		UPDATE auctions SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetDueAuctions returns non-terminal auctions whose next time-triggered
// transition is due at now: UPCOMING past start, or any past end.
func (r *Repository) GetDueAuctions(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+auctionColumns+`
		FROM auctions
		WHERE deleted_at IS NULL AND status != 'ENDED'
		  AND ((status = 'UPCOMING' AND start_time <= $1) OR end_time <= $1)
		ORDER BY end_time ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}
