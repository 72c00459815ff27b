package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ovasilenko/coin-auctions/internal/domain"
)

// Ledger operations. Bids are append-only; nothing here updates or deletes a
// single row. PurgeBids exists only for the bulk admin reset.

func (r *Repository) InsertBid(ctx context.Context, tx pgx.Tx, bid domain.Bid) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, bidder_name, amount, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, bid.ID, bid.AuctionID, bid.BidderID, bid.BidderName, bid.Amount, bid.PlacedAt)
	return err
}

func (r *Repository) ListBidsByAuction(ctx context.Context, auctionID uuid.UUID) ([]domain.Bid, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, auction_id, bidder_id, bidder_name, amount, placed_at
		FROM bids WHERE auction_id = $1 ORDER BY placed_at ASC
	`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.BidderName, &b.Amount, &b.PlacedAt); err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (r *Repository) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*domain.Bid, error) {
	var b domain.Bid
	err := r.pool.QueryRow(ctx, `
		SELECT id, auction_id, bidder_id, bidder_name, amount, placed_at
		FROM bids WHERE auction_id = $1 ORDER BY amount DESC, placed_at ASC LIMIT 1
	`, auctionID).Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.BidderName, &b.Amount, &b.PlacedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) CountBids(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (int64, error) {
	var count int64
	err := tx.QueryRow(ctx, `SELECT count(*) FROM bids WHERE auction_id = $1`, auctionID).Scan(&count)
	return count, err
}

// PurgeBids clears every ledger entry and resets auction prices. Test-data
// cleanup for the admin dashboard, never part of normal operation.
func (r *Repository) PurgeBids(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `DELETE FROM bids`); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE auctions
		SET current_price = base_price, highest_bidder_id = NULL,
		    highest_bidder_name = NULL, highest_bidder_email = NULL, updated_at = now()
	`)
	return err
}
