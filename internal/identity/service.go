package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/logging"
)

const (
	// StartingBalance is credited to every new account.
	StartingBalance int64 = 100000

	accountNumberLength = 12
	numberAttempts      = 20
	minPasswordLength   = 4
	maxUsernameLength   = 50
)

// SessionIssuer hands out session tokens after a successful login.
type SessionIssuer interface {
	Create(ctx context.Context, accountID int64) (string, error)
}

// Service manages registration and login.
type Service struct {
	repo     Repository
	sessions SessionIssuer
	logger   *slog.Logger
}

// NewService creates a new identity service.
func NewService(repo Repository, sessions SessionIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{repo: repo, sessions: sessions, logger: logger}
}

// Register creates an account with a fresh account number and the starting balance.
func (s *Service) Register(ctx context.Context, creds Credentials) (Account, error) {
	phone := strings.TrimSpace(creds.Phone)
	username := strings.TrimSpace(creds.Username)
	if err := ValidatePhone(phone); err != nil {
		return Account{}, err
	}
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		return Account{}, apperr.Validation("invalid_username", "Username must be 1 to 50 characters")
	}
	if len(creds.Password) < minPasswordLength {
		return Account{}, apperr.Validation("weak_password", "Password must be at least 4 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	for attempt := 0; attempt < numberAttempts; attempt++ {
		number, err := NewAccountNumber()
		if err != nil {
			return Account{}, err
		}
		account := Account{
			Phone:         phone,
			Username:      username,
			AccountNumber: number,
			PasswordHash:  hash,
			Balance:       StartingBalance,
		}
		err = s.repo.Create(ctx, &account)
		switch {
		case err == nil:
			s.logger.Info("account_registered",
				slog.Int64("account_id", account.ID),
				slog.String("phone", logging.MaskPhone(phone)),
				slog.String("account_number", logging.MaskAccountNumber(number)))
			return account, nil
		case errors.Is(err, ErrPhoneTaken):
			return Account{}, apperr.Conflict("phone_taken", "Phone already registered")
		case errors.Is(err, ErrNumberTaken):
			continue
		default:
			return Account{}, err
		}
	}
	return Account{}, apperr.Unavailable("account_number_exhausted", "Could not allocate an account number",
		fmt.Errorf("no free account number after %d attempts", numberAttempts))
}

// Login verifies credentials and opens a session. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, creds Credentials) (Account, string, error) {
	invalid := apperr.Unauthorized("invalid_credentials", "Invalid credentials")

	var (
		account Account
		err     error
	)
	switch phone, username := strings.TrimSpace(creds.Phone), strings.TrimSpace(creds.Username); {
	case phone != "":
		if err := ValidatePhone(phone); err != nil {
			return Account{}, "", err
		}
		account, err = s.repo.FindByPhone(ctx, phone)
	case username != "":
		account, err = s.repo.FindByUsername(ctx, username)
	default:
		return Account{}, "", apperr.Validation("missing_login", "Phone or username is required")
	}
	if errors.Is(err, ErrNotFound) {
		return Account{}, "", invalid
	}
	if err != nil {
		return Account{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(creds.Password)); err != nil {
		s.logger.Warn("login_rejected", slog.Int64("account_id", account.ID))
		return Account{}, "", invalid
	}

	token, err := s.sessions.Create(ctx, account.ID)
	if err != nil {
		return Account{}, "", err
	}
	return account, token, nil
}

// ValidatePhone accepts a non-empty string of ASCII digits.
func ValidatePhone(phone string) error {
	if phone == "" || !IsDigits(phone) {
		return apperr.Validation("invalid_phone", "Phone must contain digits only")
	}
	return nil
}

// IsDigits reports whether s consists only of ASCII digits.
func IsDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// NewAccountNumber draws a random 12-digit account number.
func NewAccountNumber() (string, error) {
	var b strings.Builder
	b.Grow(accountNumberLength)
	ten := big.NewInt(10)
	for i := 0; i < accountNumberLength; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate account number: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
