// Package ledger moves money between accounts. Every transfer locks both
// account rows in ascending id order, applies the two balance changes,
// records one immutable entry and two notification rows in a single
// transaction, and only then publishes the receiver's push message.
package ledger

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrAccountNotFound is returned by a Tx lookup that matches no account.
var ErrAccountNotFound = errors.New("account not found")

// Account is the part of an account row the ledger reads and writes.
type Account struct {
	ID            int64
	AccountNumber string
	Username      string
	Balance       int64
}

// Entry is an immutable record of one completed transfer.
type Entry struct {
	ID          int64
	FromAccount int64
	ToAccount   int64
	Amount      int64
	CreatedAt   time.Time
}

// Store runs ledger mutations inside a transaction.
type Store interface {
	// WithinTx runs fn in one transaction. A nil return commits; any error
	// rolls back every change fn made.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a ledger transaction.
type Tx interface {
	AccountByID(ctx context.Context, id int64) (Account, error)
	AccountByNumber(ctx context.Context, number string) (Account, error)
	AccountByUsername(ctx context.Context, username string) (Account, error)
	// LockAccounts locks the given rows for the rest of the transaction in
	// ascending id order, whatever order ids are passed in, and returns
	// their current state.
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]Account, error)
	SetBalance(ctx context.Context, id, balance int64) error
	InsertEntry(ctx context.Context, from, to, amount int64) (Entry, error)
	InsertNotification(ctx context.Context, accountID int64, message string) error
}

// Notifier pushes a message to an account's realtime channel.
type Notifier interface {
	Publish(ctx context.Context, accountID int64, message string) error
}

// TransferView is a ledger entry joined with both parties, for reporting.
type TransferView struct {
	ID           int64     `json:"id"`
	FromUsername string    `json:"from_username"`
	ToUsername   string    `json:"to_username"`
	Amount       int64     `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
}

// Totals summarises all recorded transfers.
type Totals struct {
	Transfers int64 `json:"transfers"`
	Volume    int64 `json:"volume"`
}

// History exposes recorded transfers for reporting.
type History interface {
	ListTransfers(ctx context.Context, page, size int) ([]TransferView, int64, error)
	Totals(ctx context.Context) (Totals, error)
}

// lockOrder returns ids sorted ascending with duplicates removed.
func lockOrder(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
