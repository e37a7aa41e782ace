package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenlabs/omend/internal/domain"
	"github.com/omenlabs/omend/internal/lifecycle"
)

// OperationService is the narrow orchestrator surface the handler consumes.
type OperationService interface {
	SubmitTrade(ctx context.Context, requester, market common.Address, p domain.TradeParams) (domain.Record, error)
	SubmitResolve(ctx context.Context, requester, market common.Address, outcome domain.Outcome) (domain.Record, error)
	SubmitClaim(ctx context.Context, requester, market common.Address) (domain.Record, error)
	SubmitFaucetClaim(ctx context.Context, requester, faucet common.Address) (domain.Record, error)
	SubmitCreateMarket(ctx context.Context, requester, factory common.Address, question string, endTime time.Time) (domain.Record, error)
	Get(ctx context.Context, id string) (domain.Record, error)
	List(ctx context.Context) ([]domain.Record, error)
	Ack(ctx context.Context, id string) error
}

// OperationHandler serves the operation lifecycle endpoints. The daemon
// operates a single wallet; every operation it submits is signed by and
// attributed to that wallet.
type OperationHandler struct {
	svc     OperationService
	wallet  common.Address
	faucet  common.Address
	factory common.Address
	logger  *slog.Logger
}

// NewOperationHandler creates an OperationHandler bound to the daemon wallet
// and the configured faucet and factory contracts.
func NewOperationHandler(svc OperationService, wallet, faucet, factory common.Address, logger *slog.Logger) *OperationHandler {
	return &OperationHandler{
		svc:     svc,
		wallet:  wallet,
		faucet:  faucet,
		factory: factory,
		logger:  logger,
	}
}

type tradeRequest struct {
	Market    string `json:"market"`
	Side      string `json:"side"`
	Direction string `json:"direction"`
	Amount    string `json:"amount,omitempty"`
	Shares    string `json:"shares,omitempty"`
}

// SubmitTrade accepts a buy or sell intent and starts its lifecycle.
// POST /api/v1/operations/trade
func (h *OperationHandler) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := parseAddress(req.Market)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	params := domain.TradeParams{
		Side:      domain.Outcome(req.Side),
		Direction: domain.TradeDirection(req.Direction),
	}
	switch params.Direction {
	case domain.DirectionBuy:
		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.Amount = amount
	case domain.DirectionSell:
		shares, err := parseAmount(req.Shares)
		if err != nil {
			writeError(w, http.StatusBadRequest, "shares must be a positive integer")
			return
		}
		params.Shares = shares
	default:
		writeError(w, http.StatusBadRequest, "direction must be buy or sell")
		return
	}

	rec, err := h.svc.SubmitTrade(r.Context(), h.wallet, market, params)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, lifecycle.Project(rec))
}

type resolveRequest struct {
	Market  string `json:"market"`
	Outcome string `json:"outcome"`
}

// SubmitResolve accepts a market resolution intent.
// POST /api/v1/operations/resolve
func (h *OperationHandler) SubmitResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := parseAddress(req.Market)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	rec, err := h.svc.SubmitResolve(r.Context(), h.wallet, market, domain.Outcome(req.Outcome))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, lifecycle.Project(rec))
}

type claimRequest struct {
	Market string `json:"market"`
}

// SubmitClaim accepts a winnings claim intent.
// POST /api/v1/operations/claim
func (h *OperationHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := parseAddress(req.Market)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	rec, err := h.svc.SubmitClaim(r.Context(), h.wallet, market)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, lifecycle.Project(rec))
}

// SubmitFaucet accepts a faucet grant claim against the configured faucet.
// POST /api/v1/operations/faucet
func (h *OperationHandler) SubmitFaucet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.SubmitFaucetClaim(r.Context(), h.wallet, h.faucet)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, lifecycle.Project(rec))
}

type createMarketRequest struct {
	Question string    `json:"question"`
	EndTime  time.Time `json:"end_time"`
}

// SubmitCreateMarket accepts a market creation intent against the factory.
// POST /api/v1/operations/create-market
func (h *OperationHandler) SubmitCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.svc.SubmitCreateMarket(r.Context(), h.wallet, h.factory, req.Question, req.EndTime)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, lifecycle.Project(rec))
}

// GetOperation returns the projection for a single operation.
// GET /api/v1/operations/{id}
func (h *OperationHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lifecycle.Project(rec))
}

// ListOperations returns projections for all live operations.
// GET /api/v1/operations
func (h *OperationHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.List(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	out := make([]lifecycle.Projection, 0, len(recs))
	for _, rec := range recs {
		out = append(out, lifecycle.Project(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// AckOperation acknowledges a terminal operation, releasing it from the live
// registry.
// POST /api/v1/operations/{id}/ack
func (h *OperationHandler) AckOperation(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.svc.Ack(r.Context(), id); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
