package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ovasilenko/coin-auctions/internal/auction"
	"github.com/ovasilenko/coin-auctions/internal/auth"
	"github.com/ovasilenko/coin-auctions/internal/broadcast"
	"github.com/ovasilenko/coin-auctions/internal/config"
	"github.com/ovasilenko/coin-auctions/internal/domain"
	"github.com/ovasilenko/coin-auctions/internal/idempotency"
	"github.com/ovasilenko/coin-auctions/internal/observability"
)

// SnapshotCache and IdempotencyStore are satisfied by the redis adapters;
// handler tests substitute in-memory versions.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, auctionID string, dest interface{}) (bool, error)
	SetSnapshot(ctx context.Context, auctionID string, snapshot interface{}, ttl time.Duration) error
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
}

type Handlers struct {
	cfg    *config.Config
	svc    *auction.Service
	cache  SnapshotCache
	idemp  IdempotencyStore
	hub    *broadcast.Hub
	logger observability.Logger
}

func NewHandlers(cfg *config.Config, svc *auction.Service, cache SnapshotCache, idemp IdempotencyStore, hub *broadcast.Hub, logger observability.Logger) *Handlers {
	return &Handlers{cfg: cfg, svc: svc, cache: cache, idemp: idemp, hub: hub, logger: logger}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeDomainError maps the error taxonomy onto HTTP. Validation rejections
// carry their precise reason; busy and serialization failures share the
// retryable BUSY code; storage failures stay a generic INTERNAL so a client
// never mistakes them for a rejected bid.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBidTooLow):
		writeError(w, http.StatusUnprocessableEntity, "BID_TOO_LOW", err.Error())
	case errors.Is(err, domain.ErrAlreadyHighestBidder):
		writeError(w, http.StatusUnprocessableEntity, "ALREADY_HIGHEST_BIDDER", err.Error())
	case errors.Is(err, domain.ErrAuctionNotLive):
		writeError(w, http.StatusUnprocessableEntity, "AUCTION_NOT_LIVE", err.Error())
	case errors.Is(err, domain.ErrAuctionWindowClosed):
		writeError(w, http.StatusUnprocessableEntity, "AUCTION_WINDOW_CLOSED", err.Error())
	case errors.Is(err, domain.ErrAuctionEnded):
		writeError(w, http.StatusConflict, "AUCTION_ENDED", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, domain.ErrHasBids):
		writeError(w, http.StatusConflict, "AUCTION_HAS_BIDS", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "AUCTION_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrSerializationFailure):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "BUSY", "auction busy, retry")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

type bidderResponse struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
}

type productResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	ImageURL  string `json:"image_url"`
	Category  string `json:"category"`
}

type auctionResponse struct {
	ID              uuid.UUID       `json:"id"`
	LotNumber       string          `json:"lot_number"`
	Product         productResponse `json:"product"`
	BasePrice       int64           `json:"base_price"`
	MinEstimate     int64           `json:"min_estimate"`
	MaxEstimate     int64           `json:"max_estimate"`
	IncrementAmount int64           `json:"increment_amount"`
	CurrentPrice    int64           `json:"current_price"`
	MinNextBid      int64           `json:"min_next_bid"`
	HighestBidder   *bidderResponse `json:"highest_bidder"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	Status          string          `json:"status"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toAuctionResponse(a *domain.Auction) auctionResponse {
	resp := auctionResponse{
		ID:        a.ID,
		LotNumber: a.LotNumber,
		Product: productResponse{
			ProductID: a.Product.ProductID,
			Name:      a.Product.Name,
			ImageURL:  a.Product.ImageURL,
			Category:  a.Product.Category,
		},
		BasePrice:       a.BasePrice,
		MinEstimate:     a.MinEstimate,
		MaxEstimate:     a.MaxEstimate,
		IncrementAmount: a.IncrementAmount,
		CurrentPrice:    a.CurrentPrice,
		MinNextBid:      domain.MinBidFor(a),
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Status:          string(a.Status),
		UpdatedAt:       a.UpdatedAt,
	}
	if a.HighestBidder != nil {
		resp.HighestBidder = &bidderResponse{ID: a.HighestBidder.ID, DisplayName: a.HighestBidder.DisplayName}
	}
	return resp
}

type bidResponse struct {
	ID         uuid.UUID `json:"id"`
	AuctionID  uuid.UUID `json:"auction_id"`
	BidderID   uuid.UUID `json:"bidder_id"`
	BidderName string    `json:"bidder_name"`
	Amount     int64     `json:"amount"`
	PlacedAt   time.Time `json:"placed_at"`
}

func toBidResponse(b domain.Bid) bidResponse {
	return bidResponse{
		ID:         b.ID,
		AuctionID:  b.AuctionID,
		BidderID:   b.BidderID,
		BidderName: b.BidderName,
		Amount:     b.Amount,
		PlacedAt:   b.PlacedAt,
	}
}

func auctionIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handlers) CreateAuction(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	var req struct {
		ProductID       string    `json:"product_id"`
		LotNumber       string    `json:"lot_number"`
		BasePrice       int64     `json:"base_price"`
		MinEstimate     int64     `json:"min_estimate"`
		MaxEstimate     int64     `json:"max_estimate"`
		IncrementAmount int64     `json:"increment_amount"`
		StartTime       time.Time `json:"start_time"`
		EndTime         time.Time `json:"end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if req.ProductID == "" || req.LotNumber == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "product_id and lot_number are required")
		return
	}

	a, err := h.svc.CreateAuction(r.Context(), identity.UserID, auction.CreateAuctionCommand{
		ProductID:       req.ProductID,
		LotNumber:       req.LotNumber,
		BasePrice:       req.BasePrice,
		MinEstimate:     req.MinEstimate,
		MaxEstimate:     req.MaxEstimate,
		IncrementAmount: req.IncrementAmount,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuctionResponse(a))
}

func (h *Handlers) UpdateAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid auction id")
		return
	}

	var req struct {
		BasePrice       *int64     `json:"base_price"`
		LotNumber       *string    `json:"lot_number"`
		MinEstimate     *int64     `json:"min_estimate"`
		MaxEstimate     *int64     `json:"max_estimate"`
		IncrementAmount *int64     `json:"increment_amount"`
		StartTime       *time.Time `json:"start_time"`
		EndTime         *time.Time `json:"end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	a, err := h.svc.UpdateAuction(r.Context(), id, auction.UpdateAuctionCommand{
		BasePrice:       req.BasePrice,
		LotNumber:       req.LotNumber,
		MinEstimate:     req.MinEstimate,
		MaxEstimate:     req.MaxEstimate,
		IncrementAmount: req.IncrementAmount,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionResponse(a))
}

func (h *Handlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	id, err := auctionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid auction id")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	target := domain.Status(req.Status)
	if !target.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	a, err := h.svc.SetStatus(r.Context(), identity.UserID, id, target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionResponse(a))
}

func (h *Handlers) DeleteAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid auction id")
		return
	}
	if err := h.svc.DeleteAuction(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	if err := h.svc.Reset(r.Context(), identity.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) PlaceBid(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}
	id, err := auctionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid auction id")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if existing, err := h.idemp.Get(r.Context(), key); err == nil && existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "amount must be positive")
		return
	}

	bidder := domain.Bidder{ID: identity.UserID, DisplayName: identity.DisplayName, Email: identity.Email}
	bid, a, err := h.svc.PlaceBid(r.Context(), id, bidder, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := struct {
		Bid     bidResponse     `json:"bid"`
		Auction auctionResponse `json:"auction"`
	}{toBidResponse(*bid), toAuctionResponse(a)}
	data := writeJSON(w, http.StatusCreated, resp)

	if setErr := h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data}); setErr != nil {
		h.logger.Warn("idempotency store failed", setErr)
	}
}

func (h *Handlers) ListAuctions(w http.ResponseWriter, r *http.Request) {
	var status *domain.Status
	if s := r.URL.Query().Get("status"); s != "" {
		parsed := domain.Status(s)
		if !parsed.Valid() {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", fmt.Sprintf("unknown status %q", s))
			return
		}
		status = &parsed
	}

	auctions, err := h.svc.ListAuctions(r.Context(), status)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]auctionResponse, 0, len(auctions))
	for _, a := range auctions {
		resp = append(resp, toAuctionResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAuction is the poll fallback for viewers without a push channel. The
// snapshot is cached for one poll interval; invalidation on every accepted
// bid keeps staleness under a single poll.
func (h *Handlers) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid auction id")
		return
	}

	var cached auctionResponse
	if hit, err := h.cache.GetSnapshot(r.Context(), id.String(), &cached); err == nil && hit {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	a, err := h.svc.GetAuction(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := toAuctionResponse(a)
	if cacheErr := h.cache.SetSnapshot(r.Context(), id.String(), resp, h.cfg.SnapshotTTL); cacheErr != nil {
		h.logger.Warn("snapshot cache store failed", cacheErr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ListBids(w http.ResponseWriter, r *http.Request) {
	id, err := auctionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid auction id")
		return
	}

	bids, err := h.svc.ListBids(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, toBidResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// StreamAuction pushes auction updates over SSE. The first event is the
// current snapshot so a reconnecting viewer starts consistent; afterwards
// every accepted bid and status change arrives as an "update" event.
func (h *Handlers) StreamAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid auction id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
		return
	}

	a, err := h.svc.GetAuction(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	updates, cancel := h.hub.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(update broadcast.AuctionUpdate) bool {
		data, err := json.Marshal(update)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: update\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent(broadcast.SnapshotFrom(a)) {
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case update := <-updates:
			if !writeEvent(update) {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
