package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/bridge"
	"github.com/npd-bank/npd_bank/internal/identity"
)

// Actions served from the directory queue.
const (
	ActionMe                 = "account.me"
	ActionBalance            = "account.balance"
	ActionLookup             = "account.lookup"
	ActionAdminStats         = "account.admin.stats"
	ActionAdminUsers         = "account.admin.users"
	ActionAdminTransfers     = "account.admin.transfers"
	ActionAdminNotifications = "account.admin.notifications"
	ActionHealth             = "account.health"
)

// number accepts a JSON number or a numeric string, since query parameters
// arrive as strings.
type number int64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*n = number(v)
	return nil
}

type lookupRequest struct {
	AccountNumber string `json:"account_number"`
}

type pageRequest struct {
	Page   number `json:"page"`
	Size   number `json:"size"`
	Search string `json:"search"`
	UserID number `json:"user_id"`
}

// Handler exposes directory reads as consumer actions.
type Handler struct {
	service *Service
	auth    bridge.Authenticator
}

// NewHandler builds the directory consumer handler.
func NewHandler(service *Service, auth bridge.Authenticator) *Handler {
	return &Handler{service: service, auth: auth}
}

// Register attaches the directory actions to d.
func (h *Handler) Register(d *bridge.Dispatcher) {
	d.Handle(ActionMe, h.me)
	d.Handle(ActionBalance, h.balance)
	d.Handle(ActionLookup, h.lookup)
	d.Handle(ActionAdminStats, h.admin(h.stats))
	d.Handle(ActionAdminUsers, h.admin(h.users))
	d.Handle(ActionAdminTransfers, h.admin(h.transfers))
	d.Handle(ActionAdminNotifications, h.admin(h.notifications))
}

func (h *Handler) me(ctx context.Context, req bridge.Request) (bridge.Response, error) {
	account, err := h.caller(ctx, req)
	if err != nil {
		return bridge.Response{}, err
	}
	return bridge.JSON(http.StatusOK, identity.View(account))
}

func (h *Handler) balance(ctx context.Context, req bridge.Request) (bridge.Response, error) {
	account, err := h.caller(ctx, req)
	if err != nil {
		return bridge.Response{}, err
	}
	return bridge.JSON(http.StatusOK, map[string]any{
		"account_number": account.AccountNumber,
		"balance":        account.Balance,
	})
}

func (h *Handler) lookup(ctx context.Context, req bridge.Request) (bridge.Response, error) {
	if _, err := h.auth.Authenticate(ctx, req.Headers); err != nil {
		return bridge.Response{}, err
	}
	var body lookupRequest
	if err := req.Decode(&body); err != nil {
		return bridge.Response{}, err
	}
	result, err := h.service.Lookup(ctx, body.AccountNumber)
	if err != nil {
		return bridge.Response{}, err
	}
	return bridge.JSON(http.StatusOK, result)
}

func (h *Handler) stats(ctx context.Context, _ pageRequest) (any, error) {
	return h.service.Stats(ctx)
}

func (h *Handler) users(ctx context.Context, p pageRequest) (any, error) {
	return h.service.Users(ctx, int(p.Page), int(p.Size), p.Search)
}

func (h *Handler) transfers(ctx context.Context, p pageRequest) (any, error) {
	return h.service.Transfers(ctx, int(p.Page), int(p.Size))
}

func (h *Handler) notifications(ctx context.Context, p pageRequest) (any, error) {
	return h.service.Notifications(ctx, int(p.Page), int(p.Size), int64(p.UserID))
}

// admin wraps a report behind the privileged-operation secret.
func (h *Handler) admin(report func(context.Context, pageRequest) (any, error)) bridge.HandlerFunc {
	return func(ctx context.Context, req bridge.Request) (bridge.Response, error) {
		if err := h.service.Authorize(req.Headers.AdminSecret()); err != nil {
			return bridge.Response{}, err
		}
		var p pageRequest
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &p); err != nil {
				return bridge.Response{}, apperr.Validation("invalid_payload", "page, size and user_id must be integers")
			}
		}
		result, err := report(ctx, p)
		if err != nil {
			return bridge.Response{}, err
		}
		return bridge.JSON(http.StatusOK, result)
	}
}

func (h *Handler) caller(ctx context.Context, req bridge.Request) (identity.Account, error) {
	accountID, err := h.auth.Authenticate(ctx, req.Headers)
	if err != nil {
		return identity.Account{}, err
	}
	return h.service.Me(ctx, accountID)
}
