package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[int64]Account
}

// NewMemoryRepository builds an in-memory account store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{accounts: make(map[int64]Account)}
}

func (r *memoryRepository) Create(_ context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Phone == account.Phone {
			return ErrPhoneTaken
		}
		if existing.AccountNumber == account.AccountNumber {
			return ErrNumberTaken
		}
	}
	r.nextID++
	account.ID = r.nextID
	account.CreatedAt = time.Now().UTC()
	r.accounts[account.ID] = *account
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id int64) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Account, error) {
	return r.find(func(a Account) bool { return a.Phone == phone })
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (Account, error) {
	return r.find(func(a Account) bool { return a.Username == username })
}

func (r *memoryRepository) FindByNumber(_ context.Context, number string) (Account, error) {
	return r.find(func(a Account) bool { return a.AccountNumber == number })
}

func (r *memoryRepository) Search(_ context.Context, filter SearchFilter) ([]Account, int64, error) {
	matches := r.sorted(func(a Account) bool {
		if filter.Query == "" {
			return true
		}
		q := strings.ToLower(filter.Query)
		return strings.Contains(strings.ToLower(a.Username), q) ||
			strings.Contains(a.Phone, q) || strings.Contains(a.AccountNumber, q)
	})
	total := int64(len(matches))
	start := filter.Offset()
	if start >= len(matches) {
		return nil, total, nil
	}
	end := start + filter.Size
	if end > len(matches) {
		end = len(matches)
	}
	return matches[start:end], total, nil
}

func (r *memoryRepository) Summary(_ context.Context) (Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Summary
	for _, a := range r.accounts {
		s.Accounts++
		s.TotalBalance += a.Balance
	}
	return s, nil
}

func (r *memoryRepository) find(match func(Account) bool) (Account, error) {
	// Oldest match wins, like the postgres username lookup.
	all := r.sorted(match)
	if len(all) == 0 {
		return Account{}, ErrNotFound
	}
	return all[len(all)-1], nil
}

// sorted returns matching accounts newest first.
func (r *memoryRepository) sorted(match func(Account) bool) []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Account
	for _, a := range r.accounts {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
