package ledger

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/npd-bank/npd_bank/internal/bridge"
)

// Actions served from the ledger queue.
const (
	ActionTransfer = "transfer"
	ActionHealth   = "transfer.health"
)

type transferRequest struct {
	Amount          json.RawMessage `json:"amount"`
	ToAccountNumber string          `json:"to_account_number"`
	ToUsername      string          `json:"to_username"`
}

type transferResponse struct {
	OK bool `json:"ok"`
	Receipt
}

// Handler exposes the transfer engine as a consumer action.
type Handler struct {
	engine *Engine
	auth   bridge.Authenticator
}

// NewHandler builds the ledger consumer handler.
func NewHandler(engine *Engine, auth bridge.Authenticator) *Handler {
	return &Handler{engine: engine, auth: auth}
}

// Register attaches the ledger actions to d.
func (h *Handler) Register(d *bridge.Dispatcher) {
	d.Handle(ActionTransfer, h.transfer)
}

func (h *Handler) transfer(ctx context.Context, req bridge.Request) (bridge.Response, error) {
	senderID, err := h.auth.Authenticate(ctx, req.Headers)
	if err != nil {
		return bridge.Response{}, err
	}

	var body transferRequest
	if err := req.Decode(&body); err != nil {
		return bridge.Response{}, err
	}
	amount, err := ParseAmount(body.Amount)
	if err != nil {
		return bridge.Response{}, err
	}

	receipt, err := h.engine.Transfer(ctx, senderID, Order{
		Amount:          amount,
		ToAccountNumber: body.ToAccountNumber,
		ToUsername:      body.ToUsername,
	})
	if err != nil {
		return bridge.Response{}, err
	}
	return bridge.JSON(http.StatusOK, transferResponse{OK: true, Receipt: receipt})
}
