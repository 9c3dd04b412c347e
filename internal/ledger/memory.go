package ledger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type memoryRow struct {
	lock    sync.Mutex
	account Account
}

// MemoryNotification is a notification row captured by MemoryStore.
type MemoryNotification struct {
	AccountID int64
	Message   string
}

// MemoryStore is a concurrency-safe in-memory ledger store useful for unit
// tests. Row locks are real mutexes, so lock ordering mistakes deadlock here
// exactly as they would in the database.
type MemoryStore struct {
	mu            sync.Mutex
	rows          map[int64]*memoryRow
	entries       []Entry
	notifications []MemoryNotification
	entrySeq      atomic.Int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*memoryRow)}
}

// WithinTx implements Store. Writes are staged and applied on commit.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{store: s, balances: make(map[int64]int64)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, balance := range tx.balances {
		s.rows[id].account.Balance = balance
	}
	s.entries = append(s.entries, tx.entries...)
	s.notifications = append(s.notifications, tx.notifications...)
	return nil
}

// Balance returns the committed balance of an account.
func (s *MemoryStore) Balance(id int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return 0, false
	}
	return row.account.Balance, true
}

// Entries returns a copy of the committed ledger entries.
func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Notifications returns a copy of the committed notification rows.
func (s *MemoryStore) Notifications() []MemoryNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MemoryNotification(nil), s.notifications...)
}

// ListTransfers implements History.
func (s *MemoryStore) ListTransfers(_ context.Context, page, size int) ([]TransferView, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]TransferView, 0, len(s.entries))
	for _, e := range s.entries {
		views = append(views, TransferView{
			ID:           e.ID,
			FromUsername: s.rows[e.FromAccount].account.Username,
			ToUsername:   s.rows[e.ToAccount].account.Username,
			Amount:       e.Amount,
			CreatedAt:    e.CreatedAt,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID > views[j].ID })

	total := int64(len(views))
	start := (page - 1) * size
	if start >= len(views) {
		return nil, total, nil
	}
	end := start + size
	if end > len(views) {
		end = len(views)
	}
	return views[start:end], total, nil
}

// Totals implements History.
func (s *MemoryStore) Totals(context.Context) (Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Totals{Transfers: int64(len(s.entries))}
	for _, e := range s.entries {
		t.Volume += e.Amount
	}
	return t, nil
}

func (s *MemoryStore) find(match func(Account) bool) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		found Account
		ok    bool
	)
	for _, row := range s.rows {
		if match(row.account) && (!ok || row.account.ID < found.ID) {
			found, ok = row.account, true
		}
	}
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return found, nil
}

type memoryTx struct {
	store         *MemoryStore
	locked        []*memoryRow
	balances      map[int64]int64
	entries       []Entry
	notifications []MemoryNotification
}

func (t *memoryTx) AccountByID(_ context.Context, id int64) (Account, error) {
	return t.store.find(func(a Account) bool { return a.ID == id })
}

func (t *memoryTx) AccountByNumber(_ context.Context, number string) (Account, error) {
	return t.store.find(func(a Account) bool { return a.AccountNumber == number })
}

func (t *memoryTx) AccountByUsername(_ context.Context, username string) (Account, error) {
	return t.store.find(func(a Account) bool { return a.Username == username })
}

func (t *memoryTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]Account, error) {
	locked := make(map[int64]Account, len(ids))
	for _, id := range lockOrder(ids) {
		t.store.mu.Lock()
		row, ok := t.store.rows[id]
		t.store.mu.Unlock()
		if !ok {
			return nil, ErrAccountNotFound
		}

		row.lock.Lock()
		t.locked = append(t.locked, row)

		t.store.mu.Lock()
		locked[id] = row.account
		t.store.mu.Unlock()
	}
	return locked, ctx.Err()
}

func (t *memoryTx) SetBalance(_ context.Context, id, balance int64) error {
	t.balances[id] = balance
	return nil
}

func (t *memoryTx) InsertEntry(_ context.Context, from, to, amount int64) (Entry, error) {
	e := Entry{ID: t.store.entrySeq.Add(1), FromAccount: from, ToAccount: to, Amount: amount, CreatedAt: time.Now().UTC()}
	t.entries = append(t.entries, e)
	return e, nil
}

func (t *memoryTx) InsertNotification(_ context.Context, accountID int64, message string) error {
	t.notifications = append(t.notifications, MemoryNotification{AccountID: accountID, Message: message})
	return nil
}

func (t *memoryTx) release() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].lock.Unlock()
	}
	t.locked = nil
}
