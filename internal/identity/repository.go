package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no account matches a lookup.
	ErrNotFound = errors.New("account not found")
	// ErrPhoneTaken is returned when the phone number is already registered.
	ErrPhoneTaken = errors.New("phone already registered")
	// ErrNumberTaken is returned when a generated account number collides.
	ErrNumberTaken = errors.New("account number already taken")
)

const uniqueViolation = "23505"

// Repository persists accounts.
type Repository interface {
	Create(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id int64) (Account, error)
	FindByPhone(ctx context.Context, phone string) (Account, error)
	FindByUsername(ctx context.Context, username string) (Account, error)
	FindByNumber(ctx context.Context, number string) (Account, error)
	Search(ctx context.Context, filter SearchFilter) ([]Account, int64, error)
	Summary(ctx context.Context) (Summary, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, phone, username, account_number, password_hash, balance, created_at`

// Create inserts a new account and fills in its identifier and creation time.
func (r *PostgresRepository) Create(ctx context.Context, account *Account) error {
	row := r.db.QueryRow(ctx, `INSERT INTO accounts (phone, username, account_number, password_hash, balance)
        VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		account.Phone, account.Username, account.AccountNumber, string(account.PasswordHash), account.Balance)

	var createdAt time.Time
	if err := row.Scan(&account.ID, &createdAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "accounts_account_number_key" {
				return ErrNumberTaken
			}
			return ErrPhoneTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}
	account.CreatedAt = createdAt.UTC()
	return nil
}

// FindByID fetches an account by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// FindByPhone fetches an account by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, phone)
}

// FindByUsername fetches the oldest account with the given display name.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1 ORDER BY id LIMIT 1`, username)
}

// FindByNumber fetches an account by external account number.
func (r *PostgresRepository) FindByNumber(ctx context.Context, number string) (Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
}

// Search pages through accounts, newest first.
func (r *PostgresRepository) Search(ctx context.Context, filter SearchFilter) ([]Account, int64, error) {
	where := ""
	args := []any{}
	if filter.Query != "" {
		where = ` WHERE username ILIKE $1 OR phone ILIKE $1 OR account_number ILIKE $1`
		args = append(args, "%"+filter.Query+"%")
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM accounts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM accounts%s ORDER BY id DESC OFFSET $%d LIMIT $%d`, accountColumns, where, n+1, n+2)
	rows, err := r.db.Query(ctx, query, append(args, filter.Offset(), filter.Size)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	return accounts, total, rows.Err()
}

// Summary counts accounts and sums their balances.
func (r *PostgresRepository) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := r.db.QueryRow(ctx, `SELECT count(*), COALESCE(SUM(balance), 0)::bigint FROM accounts`).Scan(&s.Accounts, &s.TotalBalance)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize accounts: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a         Account
		hash      string
		createdAt time.Time
	)
	if err := row.Scan(&a.ID, &a.Phone, &a.Username, &a.AccountNumber, &hash, &a.Balance, &createdAt); err != nil {
		return Account{}, err
	}
	a.PasswordHash = []byte(hash)
	a.CreatedAt = createdAt.UTC()
	return a, nil
}
