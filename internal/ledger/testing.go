package ledger

// Seed is a test helper that inserts accounts into an in-memory store.
func Seed(s *MemoryStore, accounts ...Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accounts {
		s.rows[a.ID] = &memoryRow{account: a}
	}
}
