package identity

import (
	"context"
	"net/http"
	"time"

	"github.com/npd-bank/npd_bank/internal/bridge"
	"github.com/npd-bank/npd_bank/internal/logging"
)

// Actions served from the identity queue.
const (
	ActionRegister = "auth.register"
	ActionLogin    = "auth.login"
	ActionHealth   = "auth.health"
)

type registerRequest struct {
	Phone    string `json:"phone"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AccountView is the public projection of an account.
type AccountView struct {
	ID            int64  `json:"id"`
	Phone         string `json:"phone"`
	Username      string `json:"username"`
	AccountNumber string `json:"account_number"`
	Balance       int64  `json:"balance"`
	CreatedAt     string `json:"created_at"`
}

// View projects an account for responses. The phone number is masked.
func View(a Account) AccountView {
	return AccountView{
		ID:            a.ID,
		Phone:         logging.MaskPhone(a.Phone),
		Username:      a.Username,
		AccountNumber: a.AccountNumber,
		Balance:       a.Balance,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

// Handler exposes identity operations as consumer actions.
type Handler struct {
	service *Service
}

// NewHandler builds the identity consumer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register attaches the identity actions to d.
func (h *Handler) Register(d *bridge.Dispatcher) {
	d.Handle(ActionRegister, h.register)
	d.Handle(ActionLogin, h.login)
}

func (h *Handler) register(ctx context.Context, req bridge.Request) (bridge.Response, error) {
	var body registerRequest
	if err := req.Decode(&body); err != nil {
		return bridge.Response{}, err
	}
	account, err := h.service.Register(ctx, Credentials{Phone: body.Phone, Username: body.Username, Password: body.Password})
	if err != nil {
		return bridge.Response{}, err
	}
	return bridge.JSON(http.StatusCreated, View(account))
}

func (h *Handler) login(ctx context.Context, req bridge.Request) (bridge.Response, error) {
	var body loginRequest
	if err := req.Decode(&body); err != nil {
		return bridge.Response{}, err
	}
	account, token, err := h.service.Login(ctx, Credentials{Phone: body.Phone, Username: body.Username, Password: body.Password})
	if err != nil {
		return bridge.Response{}, err
	}
	return bridge.JSON(http.StatusOK, map[string]any{
		"session": token,
		"account": View(account),
	})
}
