package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ovasilenko/coin-auctions/internal/domain"
)

// AuctionUpdate is the wire shape pushed to viewers. The poll endpoint
// returns the same shape, so a client dropping off SSE can reconcile by
// fetching the auction once.
type AuctionUpdate struct {
	AuctionID         uuid.UUID `json:"auction_id"`
	Status            string    `json:"status"`
	CurrentPrice      int64     `json:"current_price"`
	MinNextBid        int64     `json:"min_next_bid"`
	HighestBidderName string    `json:"highest_bidder_name,omitempty"`
	EndTime           time.Time `json:"end_time"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func SnapshotFrom(a *domain.Auction) AuctionUpdate {
	u := AuctionUpdate{
		AuctionID:    a.ID,
		Status:       string(a.Status),
		CurrentPrice: a.CurrentPrice,
		MinNextBid:   domain.MinBidFor(a),
		EndTime:      a.EndTime,
		UpdatedAt:    a.UpdatedAt,
	}
	if a.HighestBidder != nil {
		u.HighestBidderName = a.HighestBidder.DisplayName
	}
	return u
}

// Hub fans auction updates out to the viewers subscribed to each auction.
// Delivery is best-effort: a subscriber that cannot keep up loses the oldest
// update rather than blocking the publisher, and reconciles via poll.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan AuctionUpdate]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[chan AuctionUpdate]struct{})}
}

// Subscribe registers a viewer for one auction. The returned cancel must be
// called when the viewer disconnects.
func (h *Hub) Subscribe(auctionID uuid.UUID) (<-chan AuctionUpdate, func()) {
	ch := make(chan AuctionUpdate, 8)

	h.mu.Lock()
	viewers, ok := h.subs[auctionID]
	if !ok {
		viewers = make(map[chan AuctionUpdate]struct{})
		h.subs[auctionID] = viewers
	}
	viewers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if viewers, ok := h.subs[auctionID]; ok {
			delete(viewers, ch)
			if len(viewers) == 0 {
				delete(h.subs, auctionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Publish(update AuctionUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[update.AuctionID] {
		select {
		case ch <- update:
		default:
			// Slow viewer: drop the oldest buffered update to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}

// Viewers reports how many subscribers an auction currently has.
func (h *Hub) Viewers(auctionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[auctionID])
}
