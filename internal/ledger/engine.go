package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/logging"
	"github.com/npd-bank/npd_bank/internal/metrics"
)

const outcomeCompleted = "completed"

// Order describes a requested transfer. Exactly one of ToAccountNumber and
// ToUsername identifies the receiver; the account number wins if both are set.
type Order struct {
	Amount          int64
	ToAccountNumber string
	ToUsername      string
}

// Receipt is returned for a committed transfer.
type Receipt struct {
	TransferID      int64  `json:"transfer_id"`
	From            string `json:"from"`
	To              string `json:"to"`
	ToAccountNumber string `json:"to_account_number"`
	Amount          int64  `json:"amount"`
	Balance         int64  `json:"balance"`
}

// Engine executes transfers against a Store.
type Engine struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewEngine wires a transfer engine. notifier and m may be nil.
func NewEngine(store Store, notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{store: store, notifier: notifier, logger: logger, metrics: m}
}

// ParseAmount accepts a JSON integer greater than zero. Strings, fractions
// and missing values are rejected.
func ParseAmount(raw json.RawMessage) (int64, error) {
	invalid := apperr.Validation("amount_invalid", "Amount must be > 0")
	if len(raw) == 0 || raw[0] == '"' {
		return 0, invalid
	}
	amount, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || amount <= 0 {
		return 0, invalid
	}
	return amount, nil
}

// Transfer validates order, then moves the amount from senderID to the
// receiver. Rejections are typed *apperr.Error values and leave no trace in
// the store.
func (e *Engine) Transfer(ctx context.Context, senderID int64, order Order) (Receipt, error) {
	toNumber := strings.TrimSpace(order.ToAccountNumber)
	toUsername := strings.TrimSpace(order.ToUsername)

	if err := validate(order.Amount, toNumber, toUsername); err != nil {
		return Receipt{}, e.reject(senderID, err)
	}

	var (
		receipt    Receipt
		receiverID int64
		pushed     string
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sender, err := tx.AccountByID(ctx, senderID)
		if errors.Is(err, ErrAccountNotFound) {
			return apperr.NotFound("sender_not_found", "Sender not found")
		}
		if err != nil {
			return err
		}

		var receiver Account
		if toNumber != "" {
			receiver, err = tx.AccountByNumber(ctx, toNumber)
		} else {
			receiver, err = tx.AccountByUsername(ctx, toUsername)
		}
		if errors.Is(err, ErrAccountNotFound) {
			return apperr.NotFound("receiver_not_found", "Receiver not found")
		}
		if err != nil {
			return err
		}
		if receiver.ID == sender.ID {
			return apperr.Validation("self_transfer", "Cannot transfer to yourself")
		}

		locked, err := tx.LockAccounts(ctx, sender.ID, receiver.ID)
		if err != nil {
			return err
		}
		sender, receiver = locked[sender.ID], locked[receiver.ID]
		if sender.Balance < order.Amount {
			return apperr.InsufficientFunds("insufficient_balance", "Insufficient balance")
		}

		if err := tx.SetBalance(ctx, sender.ID, sender.Balance-order.Amount); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, receiver.ID, receiver.Balance+order.Amount); err != nil {
			return err
		}
		entry, err := tx.InsertEntry(ctx, sender.ID, receiver.ID, order.Amount)
		if err != nil {
			return err
		}

		pushed = fmt.Sprintf("You received %d from %s", order.Amount, sender.Username)
		if err := tx.InsertNotification(ctx, sender.ID, fmt.Sprintf("You sent %d to %s", order.Amount, receiver.Username)); err != nil {
			return err
		}
		if err := tx.InsertNotification(ctx, receiver.ID, pushed); err != nil {
			return err
		}

		receiverID = receiver.ID
		receipt = Receipt{
			TransferID:      entry.ID,
			From:            sender.Username,
			To:              receiver.Username,
			ToAccountNumber: receiver.AccountNumber,
			Amount:          order.Amount,
			Balance:         sender.Balance - order.Amount,
		}
		return nil
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return Receipt{}, e.reject(senderID, appErr)
		}
		e.metrics.ObserveTransfer(apperr.ReasonInternal)
		return Receipt{}, fmt.Errorf("transfer: %w", err)
	}

	e.metrics.ObserveTransfer(outcomeCompleted)
	e.logger.Info("transfer_success",
		slog.Int64("transfer_id", receipt.TransferID),
		slog.Int64("from_user_id", senderID),
		slog.Int64("to_user_id", receiverID),
		slog.String("to_account_masked", logging.MaskAccountNumber(receipt.ToAccountNumber)))

	// The transfer is committed; a failed push only costs the realtime event.
	if e.notifier != nil {
		if err := e.notifier.Publish(ctx, receiverID, pushed); err != nil {
			e.logger.Warn("notify_failed", slog.Int64("to_user_id", receiverID), slog.String("error", err.Error()))
		}
	}
	return receipt, nil
}

func validate(amount int64, toNumber, toUsername string) error {
	if amount <= 0 {
		return apperr.Validation("amount_invalid", "Amount must be > 0")
	}
	if toNumber == "" && toUsername == "" {
		return apperr.Validation("missing_recipient", "Missing to_account_number/to_username")
	}
	if toNumber != "" && !digitsOnly(toNumber) {
		return apperr.Validation("invalid_account_format", "to_account_number must be digits only")
	}
	return nil
}

func (e *Engine) reject(senderID int64, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		e.metrics.ObserveTransfer(appErr.Reason)
		e.logger.Info("transfer_rejected", slog.Int64("from_user_id", senderID), slog.String("reason", appErr.Reason))
	}
	return err
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
