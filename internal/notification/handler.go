package notification

import (
	"context"
	"net/http"

	"github.com/npd-bank/npd_bank/internal/bridge"
)

// Actions served from the notification queue.
const (
	ActionList   = "notifications"
	ActionHealth = "notifications.health"
)

// ListLimit caps how many notifications a caller receives.
const ListLimit = 50

// Handler exposes notification reads as consumer actions.
type Handler struct {
	repo Repository
	auth bridge.Authenticator
}

// NewHandler builds the notification consumer handler.
func NewHandler(repo Repository, auth bridge.Authenticator) *Handler {
	return &Handler{repo: repo, auth: auth}
}

// Register attaches the notification actions to d.
func (h *Handler) Register(d *bridge.Dispatcher) {
	d.Handle(ActionList, h.list)
}

func (h *Handler) list(ctx context.Context, req bridge.Request) (bridge.Response, error) {
	accountID, err := h.auth.Authenticate(ctx, req.Headers)
	if err != nil {
		return bridge.Response{}, err
	}
	items, err := h.repo.ListByAccount(ctx, accountID, ListLimit)
	if err != nil {
		return bridge.Response{}, err
	}
	if items == nil {
		items = []Notification{}
	}
	return bridge.JSON(http.StatusOK, items)
}
