package identity

import "time"

// Account is a registered customer and the holder of one balance.
type Account struct {
	ID            int64
	Phone         string
	Username      string
	AccountNumber string
	PasswordHash  []byte
	Balance       int64
	CreatedAt     time.Time
}

// Credentials request structure. Login accepts either phone or username.
type Credentials struct {
	Phone    string
	Username string
	Password string
}

// SearchFilter pages through accounts, optionally matching a substring of
// username, phone or account number.
type SearchFilter struct {
	Query string
	Page  int
	Size  int
}

// Offset returns the number of rows skipped for the filter's page.
func (f SearchFilter) Offset() int {
	return (f.Page - 1) * f.Size
}

// Summary aggregates all accounts.
type Summary struct {
	Accounts     int64
	TotalBalance int64
}
