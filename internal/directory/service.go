// Package directory answers read-only questions about accounts: the caller's
// profile and balance, recipient lookups with presence, and admin reports.
package directory

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/identity"
	"github.com/npd-bank/npd_bank/internal/ledger"
	"github.com/npd-bank/npd_bank/internal/logging"
	"github.com/npd-bank/npd_bank/internal/notification"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Presence reports whether an account has a live realtime connection.
type Presence interface {
	Online(ctx context.Context, accountID int64) (bool, error)
}

// Lookup is the public card of a transfer recipient.
type Lookup struct {
	AccountNumber string `json:"account_number"`
	Username      string `json:"username"`
	Online        bool   `json:"online"`
}

// Stats aggregates accounts and transfers for operators.
type Stats struct {
	Accounts     int64 `json:"accounts"`
	TotalBalance int64 `json:"total_balance"`
	Transfers    int64 `json:"transfers"`
	Volume       int64 `json:"volume"`
}

// Page is one page of a listing.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

func newPage[T any](items []T, total int64, page, size int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Page: page, Size: size}
}

// Service exposes directory reads.
type Service struct {
	accounts      identity.Repository
	presence      Presence
	history       ledger.History
	notifications notification.Repository
	adminSecret   string
	logger        *slog.Logger
}

// Config wires a directory service.
type Config struct {
	Accounts      identity.Repository
	Presence      Presence
	History       ledger.History
	Notifications notification.Repository
	AdminSecret   string
	Logger        *slog.Logger
}

// NewService builds a directory service.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Service{
		accounts:      cfg.Accounts,
		presence:      cfg.Presence,
		history:       cfg.History,
		notifications: cfg.Notifications,
		adminSecret:   cfg.AdminSecret,
		logger:        cfg.Logger,
	}
}

// Me returns the caller's own account.
func (s *Service) Me(ctx context.Context, accountID int64) (identity.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.Account{}, apperr.NotFound("account_not_found", "Account not found")
	}
	return account, err
}

// Lookup resolves a recipient by account number and reports whether they are online.
func (s *Service) Lookup(ctx context.Context, number string) (Lookup, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Lookup{}, apperr.Validation("missing_account_number", "Missing account_number")
	}
	if !identity.IsDigits(number) {
		return Lookup{}, apperr.Validation("invalid_account_format", "account_number must be digits only")
	}

	account, err := s.accounts.FindByNumber(ctx, number)
	if errors.Is(err, identity.ErrNotFound) {
		return Lookup{}, apperr.NotFound("account_not_found", "Account not found")
	}
	if err != nil {
		return Lookup{}, err
	}

	online := false
	if s.presence != nil {
		online, err = s.presence.Online(ctx, account.ID)
		if err != nil {
			s.logger.Warn("presence_unavailable", slog.Int64("user_id", account.ID), slog.String("error", err.Error()))
			online = false
		}
	}
	return Lookup{AccountNumber: account.AccountNumber, Username: account.Username, Online: online}, nil
}

// Authorize checks the privileged-operation secret in constant time. An
// unset secret disables admin operations entirely.
func (s *Service) Authorize(secret string) error {
	if s.adminSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.adminSecret)) != 1 {
		return apperr.Forbidden("forbidden", "Forbidden")
	}
	return nil
}

// Stats aggregates accounts and transfers.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	summary, err := s.accounts.Summary(ctx)
	if err != nil {
		return Stats{}, err
	}
	totals, err := s.history.Totals(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Accounts:     summary.Accounts,
		TotalBalance: summary.TotalBalance,
		Transfers:    totals.Transfers,
		Volume:       totals.Volume,
	}, nil
}

// Users pages through accounts matching search.
func (s *Service) Users(ctx context.Context, page, size int, search string) (Page[identity.AccountView], error) {
	page, size = normalizePage(page, size)
	accounts, total, err := s.accounts.Search(ctx, identity.SearchFilter{Query: strings.TrimSpace(search), Page: page, Size: size})
	if err != nil {
		return Page[identity.AccountView]{}, err
	}
	views := make([]identity.AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, identity.View(a))
	}
	return newPage(views, total, page, size), nil
}

// Transfers pages through recorded transfers, newest first.
func (s *Service) Transfers(ctx context.Context, page, size int) (Page[ledger.TransferView], error) {
	page, size = normalizePage(page, size)
	items, total, err := s.history.ListTransfers(ctx, page, size)
	if err != nil {
		return Page[ledger.TransferView]{}, err
	}
	return newPage(items, total, page, size), nil
}

// Notifications pages through notifications, optionally for one account.
func (s *Service) Notifications(ctx context.Context, page, size int, accountID int64) (Page[notification.Notification], error) {
	page, size = normalizePage(page, size)
	items, total, err := s.notifications.List(ctx, notification.Filter{AccountID: accountID, Page: page, Size: size})
	if err != nil {
		return Page[notification.Notification]{}, err
	}
	return newPage(items, total, page, size), nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
