package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Filter pages through notifications. AccountID zero matches every account.
type Filter struct {
	AccountID int64
	Page      int
	Size      int
}

// Repository reads notification rows. Rows are written by the ledger inside
// the transfer transaction.
type Repository interface {
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]Notification, error)
	List(ctx context.Context, filter Filter) ([]Notification, int64, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed notification repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListByAccount returns an account's newest notifications first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT id, account_id, message, is_read, created_at
        FROM notifications WHERE account_id = $1 ORDER BY id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// List pages through notifications, optionally restricted to one account.
func (r *PostgresRepository) List(ctx context.Context, filter Filter) ([]Notification, int64, error) {
	where := ""
	args := []any{}
	if filter.AccountID != 0 {
		where = ` WHERE account_id = $1`
		args = append(args, filter.AccountID)
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM notifications`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT id, account_id, message, is_read, created_at FROM notifications%s
        ORDER BY id DESC OFFSET $%d LIMIT $%d`, where, n+1, n+2)
	rows, err := r.db.Query(ctx, query, append(args, (filter.Page-1)*filter.Size, filter.Size)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	items, err := scanNotifications(rows)
	return items, total, err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanNotifications(rows rowScanner) ([]Notification, error) {
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// MemoryRepository is an in-memory Repository for tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	items []Notification
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Add appends a notification row.
func (r *MemoryRepository) Add(accountID int64, message string) Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := Notification{
		ID:        int64(len(r.items)) + 1,
		AccountID: accountID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	r.items = append(r.items, n)
	return n
}

// ListByAccount implements Repository.
func (r *MemoryRepository) ListByAccount(_ context.Context, accountID int64, limit int) ([]Notification, error) {
	out := r.newestFirst(accountID)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context, filter Filter) ([]Notification, int64, error) {
	out := r.newestFirst(filter.AccountID)
	total := int64(len(out))
	start := (filter.Page - 1) * filter.Size
	if start >= len(out) {
		return nil, total, nil
	}
	end := start + filter.Size
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *MemoryRepository) newestFirst(accountID int64) []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Notification
	for _, n := range r.items {
		if accountID == 0 || n.AccountID == accountID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
