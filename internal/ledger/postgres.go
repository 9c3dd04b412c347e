package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore runs ledger transactions in PostgreSQL using row locks.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithinTx implements Store.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

const ledgerAccountColumns = `id, account_number, username, balance`

func (t *postgresTx) AccountByID(ctx context.Context, id int64) (Account, error) {
	return t.account(ctx, `SELECT `+ledgerAccountColumns+` FROM accounts WHERE id = $1`, id)
}

func (t *postgresTx) AccountByNumber(ctx context.Context, number string) (Account, error) {
	return t.account(ctx, `SELECT `+ledgerAccountColumns+` FROM accounts WHERE account_number = $1`, number)
}

func (t *postgresTx) AccountByUsername(ctx context.Context, username string) (Account, error) {
	return t.account(ctx, `SELECT `+ledgerAccountColumns+` FROM accounts WHERE username = $1 ORDER BY id LIMIT 1`, username)
}

// LockAccounts takes one FOR UPDATE lock per row, lowest id first, so two
// transfers touching the same pair always queue behind each other.
func (t *postgresTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]Account, error) {
	locked := make(map[int64]Account, len(ids))
	for _, id := range lockOrder(ids) {
		a, err := t.account(ctx, `SELECT `+ledgerAccountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return nil, fmt.Errorf("lock account %d: %w", id, err)
		}
		locked[id] = a
	}
	return locked, nil
}

func (t *postgresTx) SetBalance(ctx context.Context, id, balance int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return fmt.Errorf("update balance %d: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) InsertEntry(ctx context.Context, from, to, amount int64) (Entry, error) {
	e := Entry{FromAccount: from, ToAccount: to, Amount: amount}
	err := t.tx.QueryRow(ctx, `INSERT INTO transfers (from_account, to_account, amount)
        VALUES ($1, $2, $3) RETURNING id, created_at`, from, to, amount).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("insert transfer: %w", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (t *postgresTx) InsertNotification(ctx context.Context, accountID int64, message string) error {
	if _, err := t.tx.Exec(ctx, `INSERT INTO notifications (account_id, message) VALUES ($1, $2)`, accountID, message); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (t *postgresTx) account(ctx context.Context, query string, arg any) (Account, error) {
	var a Account
	err := t.tx.QueryRow(ctx, query, arg).Scan(&a.ID, &a.AccountNumber, &a.Username, &a.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// ListTransfers implements History, newest first.
func (s *PostgresStore) ListTransfers(ctx context.Context, page, size int) ([]TransferView, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM transfers`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transfers: %w", err)
	}

	const query = `
        SELECT t.id, f.username, r.username, t.amount, t.created_at
        FROM transfers t
        INNER JOIN accounts f ON f.id = t.from_account
        INNER JOIN accounts r ON r.id = t.to_account
        ORDER BY t.id DESC
        OFFSET $1 LIMIT $2`
	rows, err := s.db.Query(ctx, query, (page-1)*size, size)
	if err != nil {
		return nil, 0, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var views []TransferView
	for rows.Next() {
		var (
			v         TransferView
			createdAt time.Time
		)
		if err := rows.Scan(&v.ID, &v.FromUsername, &v.ToUsername, &v.Amount, &createdAt); err != nil {
			return nil, 0, err
		}
		v.CreatedAt = createdAt.UTC()
		views = append(views, v)
	}
	return views, total, rows.Err()
}

// Totals implements History.
func (s *PostgresStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	if err := s.db.QueryRow(ctx, `SELECT count(*), COALESCE(SUM(amount), 0)::bigint FROM transfers`).Scan(&t.Transfers, &t.Volume); err != nil {
		return Totals{}, fmt.Errorf("transfer totals: %w", err)
	}
	return t, nil
}
