// Package testhelpers provides in-memory implementations of the auction
// service ports for unit tests that should not need a database.
package testhelpers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ovasilenko/coin-auctions/internal/adapters/crdb"
	"github.com/ovasilenko/coin-auctions/internal/broadcast"
	"github.com/ovasilenko/coin-auctions/internal/domain"
	"github.com/ovasilenko/coin-auctions/internal/idempotency"
)

// MemoryStore is a concurrency-safe in-memory stand-in for the crdb
// repository. WithTx snapshots state up front and restores it when the unit
// of work fails, mirroring transactional rollback.
type MemoryStore struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*domain.Auction
	bids     map[uuid.UUID][]domain.Bid
	Outbox   []crdb.OutboxRecord

	// FailBidInsert forces the ledger append to fail, for rollback tests.
	FailBidInsert bool
	// FailOutbox fails the event insert after the ledger and record already
	// moved, to prove the whole unit rolls back together.
	FailOutbox bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[uuid.UUID]*domain.Auction),
		bids:     make(map[uuid.UUID][]domain.Bid),
	}
}

func cloneAuction(a *domain.Auction) *domain.Auction {
	copied := *a
	if a.HighestBidder != nil {
		b := *a.HighestBidder
		copied.HighestBidder = &b
	}
	return &copied
}

func (m *MemoryStore) snapshot() (map[uuid.UUID]*domain.Auction, map[uuid.UUID][]domain.Bid, []crdb.OutboxRecord) {
	auctions := make(map[uuid.UUID]*domain.Auction, len(m.auctions))
	for id, a := range m.auctions {
		auctions[id] = cloneAuction(a)
	}
	bids := make(map[uuid.UUID][]domain.Bid, len(m.bids))
	for id, list := range m.bids {
		bids[id] = append([]domain.Bid(nil), list...)
	}
	outbox := append([]crdb.OutboxRecord(nil), m.Outbox...)
	return auctions, bids, outbox
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	auctions, bids, outbox := m.snapshot()
	if err := fn(nil); err != nil {
		m.auctions = auctions
		m.bids = bids
		m.Outbox = outbox
		return err
	}
	return nil
}

func (m *MemoryStore) Seed(a *domain.Auction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[a.ID] = cloneAuction(a)
}

func (m *MemoryStore) CreateAuction(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	for _, existing := range m.auctions {
		if existing.LotNumber == a.LotNumber {
			return domain.ErrConflict
		}
	}
	m.auctions[a.ID] = cloneAuction(a)
	return nil
}

func (m *MemoryStore) get(id uuid.UUID) (*domain.Auction, error) {
	a, ok := m.auctions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAuction(a), nil
}

func (m *MemoryStore) GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

func (m *MemoryStore) GetAuctionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Auction, error) {
	// WithTx already holds the store mutex.
	return m.get(id)
}

func (m *MemoryStore) ListAuctions(ctx context.Context, status *domain.Status) ([]*domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Auction
	for _, a := range m.auctions {
		if status == nil || a.Status == *status {
			result = append(result, cloneAuction(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) UpdateAuctionPrice(ctx context.Context, tx pgx.Tx, id uuid.UUID, price int64, bidder domain.Bidder) error {
	a, ok := m.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.CurrentPrice = price
	b := bidder
	a.HighestBidder = &b
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateAuctionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.Status) error {
	a, ok := m.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateAuctionDetails(ctx context.Context, tx pgx.Tx, updated *domain.Auction) error {
	a, ok := m.auctions[updated.ID]
	if !ok {
		return domain.ErrNotFound
	}
	a.MinEstimate = updated.MinEstimate
	a.MaxEstimate = updated.MaxEstimate
	a.IncrementAmount = updated.IncrementAmount
	a.StartTime = updated.StartTime
	a.EndTime = updated.EndTime
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateAuctionBase(ctx context.Context, tx pgx.Tx, id uuid.UUID, basePrice int64, lotNumber string) error {
	a, ok := m.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(m.bids[id]) > 0 {
		return domain.ErrHasBids
	}
	a.BasePrice = basePrice
	a.CurrentPrice = basePrice
	a.LotNumber = lotNumber
	return nil
}

func (m *MemoryStore) DeleteAuction(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if _, ok := m.auctions[id]; !ok {
		return domain.ErrNotFound
	}
	if len(m.bids[id]) > 0 {
		return domain.ErrHasBids
	}
	delete(m.auctions, id)
	return nil
}

func (m *MemoryStore) GetDueAuctions(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.Auction
	for _, a := range m.auctions {
		if _, ok := a.DueStatus(now); ok {
			due = append(due, cloneAuction(a))
		}
	}
	return due, nil
}

func (m *MemoryStore) InsertBid(ctx context.Context, tx pgx.Tx, bid domain.Bid) error {
	if m.FailBidInsert {
		return errors.New("ledger append failed")
	}
	m.bids[bid.AuctionID] = append(m.bids[bid.AuctionID], bid)
	return nil
}

func (m *MemoryStore) ListBidsByAuction(ctx context.Context, auctionID uuid.UUID) ([]domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bids := append([]domain.Bid(nil), m.bids[auctionID]...)
	sort.Slice(bids, func(i, j int) bool { return bids[i].PlacedAt.Before(bids[j].PlacedAt) })
	return bids, nil
}

func (m *MemoryStore) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bids := m.bids[auctionID]
	if len(bids) == 0 {
		return nil, domain.ErrNotFound
	}
	highest := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > highest.Amount {
			highest = b
		}
	}
	return &highest, nil
}

func (m *MemoryStore) CountBids(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (int64, error) {
	return int64(len(m.bids[auctionID])), nil
}

func (m *MemoryStore) PurgeBids(ctx context.Context, tx pgx.Tx) error {
	m.bids = make(map[uuid.UUID][]domain.Bid)
	for _, a := range m.auctions {
		a.CurrentPrice = a.BasePrice
		a.HighestBidder = nil
	}
	return nil
}

func (m *MemoryStore) InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error {
	if m.FailOutbox {
		return errors.New("outbox insert failed")
	}
	m.Outbox = append(m.Outbox, record)
	return nil
}

// BidCount reports ledger length outside a transaction.
func (m *MemoryStore) BidCount(auctionID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bids[auctionID])
}

// FakeCatalog serves product snapshots from a map.
type FakeCatalog struct {
	Products map[string]domain.ProductSnapshot
}

func NewFakeCatalog() *FakeCatalog {
	return &FakeCatalog{Products: make(map[string]domain.ProductSnapshot)}
}

func (c *FakeCatalog) GetProductSnapshot(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	p, ok := c.Products[productID]
	if !ok {
		return domain.ProductSnapshot{}, domain.ErrNotFound
	}
	return p, nil
}

// RecorderNotifier captures hub updates.
type RecorderNotifier struct {
	mu      sync.Mutex
	Updates []broadcast.AuctionUpdate
}

func (n *RecorderNotifier) Publish(update broadcast.AuctionUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Updates = append(n.Updates, update)
}

func (n *RecorderNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Updates)
}

// NopCache discards snapshot reads and invalidations.
type NopCache struct{}

func (NopCache) GetSnapshot(ctx context.Context, auctionID string, dest interface{}) (bool, error) {
	return false, nil
}

func (NopCache) SetSnapshot(ctx context.Context, auctionID string, snapshot interface{}, ttl time.Duration) error {
	return nil
}

func (NopCache) InvalidateSnapshot(ctx context.Context, auctionID string) error {
	return nil
}

// MemoryIdempotency is a map-backed Idempotency-Key store.
type MemoryIdempotency struct {
	mu        sync.Mutex
	responses map[string]idempotency.Response
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{responses: make(map[string]idempotency.Response)}
}

func (i *MemoryIdempotency) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	resp, ok := i.responses[key]
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (i *MemoryIdempotency) Set(ctx context.Context, key string, resp idempotency.Response) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.responses[key] = resp
	return nil
}

// RecorderAudit counts audit entries by action.
type RecorderAudit struct {
	mu      sync.Mutex
	Actions []string
}

func (a *RecorderAudit) record(action string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Actions = append(a.Actions, action)
}

func (a *RecorderAudit) LogBid(ctx context.Context, bid domain.Bid) { a.record("bid.accepted") }

func (a *RecorderAudit) LogStatusChange(ctx context.Context, actorID uuid.UUID, auctionID uuid.UUID, from, to domain.Status) {
	a.record("auction.status_changed")
}

func (a *RecorderAudit) LogAuctionCreated(ctx context.Context, actorID uuid.UUID, auction *domain.Auction) {
	a.record("auction.created")
}

func (a *RecorderAudit) LogReset(ctx context.Context, actorID uuid.UUID) { a.record("admin.reset") }
