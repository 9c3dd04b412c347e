package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/bridge"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages map[int64][]string
	err      error
}

func (n *recordingNotifier) Publish(_ context.Context, accountID int64, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.messages == nil {
		n.messages = make(map[int64][]string)
	}
	n.messages[accountID] = append(n.messages[accountID], message)
	return n.err
}

// countingStore fails the test if the engine touches it.
type countingStore struct {
	calls int
}

func (s *countingStore) WithinTx(context.Context, func(context.Context, Tx) error) error {
	s.calls++
	return errors.New("store must not be used")
}

func seededStore(balanceA, balanceB int64) *MemoryStore {
	store := NewMemoryStore()
	Seed(store,
		Account{ID: 1, AccountNumber: "111111111111", Username: "alice", Balance: balanceA},
		Account{ID: 2, AccountNumber: "222222222222", Username: "bob", Balance: balanceB},
	)
	return store
}

func reasonOf(err error) string {
	_, body := apperr.Render(err)
	return body.Reason
}

func TestTransferMovesFundsAndRecords(t *testing.T) {
	store := seededStore(100000, 100000)
	notifier := &recordingNotifier{}
	engine := NewEngine(store, notifier, nil, nil)

	receipt, err := engine.Transfer(context.Background(), 1, Order{Amount: 5000, ToAccountNumber: "222222222222"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.Balance != 95000 || receipt.To != "bob" || receipt.Amount != 5000 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	if b, _ := store.Balance(1); b != 95000 {
		t.Fatalf("expected sender 95000, got %d", b)
	}
	if b, _ := store.Balance(2); b != 105000 {
		t.Fatalf("expected receiver 105000, got %d", b)
	}

	entries := store.Entries()
	if len(entries) != 1 || entries[0].Amount != 5000 || entries[0].FromAccount != 1 || entries[0].ToAccount != 2 {
		t.Fatalf("unexpected entries %+v", entries)
	}

	notes := store.Notifications()
	if len(notes) != 2 {
		t.Fatalf("expected two notifications, got %d", len(notes))
	}
	if notes[0].AccountID != 1 || notes[0].Message != "You sent 5000 to bob" {
		t.Fatalf("unexpected sender notification %+v", notes[0])
	}
	if notes[1].AccountID != 2 || notes[1].Message != "You received 5000 from alice" {
		t.Fatalf("unexpected receiver notification %+v", notes[1])
	}

	if got := notifier.messages[2]; len(got) != 1 || got[0] != "You received 5000 from alice" {
		t.Fatalf("unexpected push %v", got)
	}
}

func TestTransferByUsername(t *testing.T) {
	store := seededStore(1000, 0)
	engine := NewEngine(store, nil, nil, nil)

	if _, err := engine.Transfer(context.Background(), 1, Order{Amount: 250, ToUsername: "bob"}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if b, _ := store.Balance(2); b != 250 {
		t.Fatalf("expected 250, got %d", b)
	}
}

func TestTransferValidationSkipsStore(t *testing.T) {
	store := &countingStore{}
	engine := NewEngine(store, nil, nil, nil)
	ctx := context.Background()

	cases := []struct {
		order  Order
		reason string
	}{
		{Order{Amount: 0, ToAccountNumber: "222222222222"}, "amount_invalid"},
		{Order{Amount: -5, ToAccountNumber: "222222222222"}, "amount_invalid"},
		{Order{Amount: 10}, "missing_recipient"},
		{Order{Amount: 10, ToAccountNumber: "22-22"}, "invalid_account_format"},
	}
	for _, tc := range cases {
		_, err := engine.Transfer(ctx, 1, tc.order)
		if reasonOf(err) != tc.reason {
			t.Fatalf("expected %s, got %v", tc.reason, err)
		}
	}
	if store.calls != 0 {
		t.Fatalf("store accessed %d times during validation", store.calls)
	}
}

func TestTransferRejectionsLeaveBalances(t *testing.T) {
	store := seededStore(100, 100)
	engine := NewEngine(store, nil, nil, nil)
	ctx := context.Background()

	cases := []struct {
		sender int64
		order  Order
		reason string
		status int
	}{
		{99, Order{Amount: 10, ToAccountNumber: "222222222222"}, "sender_not_found", http.StatusNotFound},
		{1, Order{Amount: 10, ToAccountNumber: "999999999999"}, "receiver_not_found", http.StatusNotFound},
		{1, Order{Amount: 10, ToAccountNumber: "111111111111"}, "self_transfer", http.StatusBadRequest},
		{1, Order{Amount: 101, ToAccountNumber: "222222222222"}, "insufficient_balance", http.StatusBadRequest},
	}
	for _, tc := range cases {
		_, err := engine.Transfer(ctx, tc.sender, tc.order)
		status, body := apperr.Render(err)
		if body.Reason != tc.reason || status != tc.status {
			t.Fatalf("expected %s/%d, got %d %+v", tc.reason, tc.status, status, body)
		}
	}

	if a, _ := store.Balance(1); a != 100 {
		t.Fatalf("sender balance changed to %d", a)
	}
	if b, _ := store.Balance(2); b != 100 {
		t.Fatalf("receiver balance changed to %d", b)
	}
	if len(store.Entries()) != 0 || len(store.Notifications()) != 0 {
		t.Fatalf("rejected transfers must not record anything")
	}
}

func TestOppositeTransfersDoNotDeadlock(t *testing.T) {
	store := seededStore(100, 100)
	engine := NewEngine(store, nil, nil, nil)
	ctx := context.Background()

	done := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := engine.Transfer(ctx, 1, Order{Amount: 40, ToAccountNumber: "222222222222"})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := engine.Transfer(ctx, 2, Order{Amount: 40, ToAccountNumber: "111111111111"})
		errs <- err
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("opposite transfers deadlocked")
	}
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("transfer: %v", err)
		}
	}

	a, _ := store.Balance(1)
	b, _ := store.Balance(2)
	if a != 100 || b != 100 {
		t.Fatalf("expected (100, 100), got (%d, %d)", a, b)
	}
	if n := len(store.Entries()); n != 2 {
		t.Fatalf("expected two entries, got %d", n)
	}
}

func TestConcurrentTransfersConserveFunds(t *testing.T) {
	store := seededStore(1000, 1000)
	engine := NewEngine(store, nil, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = engine.Transfer(ctx, 1, Order{Amount: 70, ToAccountNumber: "222222222222"})
			} else {
				_, _ = engine.Transfer(ctx, 2, Order{Amount: 30, ToUsername: "alice"})
			}
		}(i)
	}
	wg.Wait()

	a, _ := store.Balance(1)
	b, _ := store.Balance(2)
	if a+b != 2000 {
		t.Fatalf("funds not conserved: %d + %d", a, b)
	}
	if a < 0 || b < 0 {
		t.Fatalf("negative balance: %d, %d", a, b)
	}
}

func TestPublishFailureKeepsTransfer(t *testing.T) {
	store := seededStore(100, 0)
	engine := NewEngine(store, &recordingNotifier{err: errors.New("cache down")}, nil, nil)

	if _, err := engine.Transfer(context.Background(), 1, Order{Amount: 60, ToAccountNumber: "222222222222"}); err != nil {
		t.Fatalf("publish failure must not fail the transfer: %v", err)
	}
	if b, _ := store.Balance(2); b != 60 {
		t.Fatalf("expected committed transfer, got receiver %d", b)
	}
}

func TestParseAmount(t *testing.T) {
	valid := map[string]int64{"1": 1, "5000": 5000}
	for raw, want := range valid {
		got, err := ParseAmount(json.RawMessage(raw))
		if err != nil || got != want {
			t.Fatalf("ParseAmount(%s) = %d, %v", raw, got, err)
		}
	}
	for _, raw := range []string{"", "0", "-1", "1.5", `"100"`, "null", "true"} {
		if _, err := ParseAmount(json.RawMessage(raw)); reasonOf(err) != "amount_invalid" {
			t.Fatalf("expected amount_invalid for %q, got %v", raw, err)
		}
	}
}

func TestLockOrderIsAscending(t *testing.T) {
	got := lockOrder([]int64{9, 3, 9, 1})
	want := []int64{1, 3, 9}
	if len(got) != len(want) {
		t.Fatalf("unexpected order %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v", got)
		}
	}
}

type staticAuth int64

func (a staticAuth) Authenticate(context.Context, bridge.Headers) (int64, error) {
	if a == 0 {
		return 0, apperr.Unauthorized("missing_session", "Missing session")
	}
	return int64(a), nil
}

func TestTransferHandler(t *testing.T) {
	store := seededStore(100000, 100000)
	h := NewHandler(NewEngine(store, nil, nil, nil), staticAuth(1))

	resp, err := h.transfer(context.Background(), bridge.Request{
		Action:  ActionTransfer,
		Payload: json.RawMessage(`{"amount": 5000, "to_account_number": "222222222222"}`),
	})
	if err != nil {
		t.Fatalf("transfer handler: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != http.StatusOK || body["ok"] != true || body["to"] != "bob" || body["balance"] != float64(95000) {
		t.Fatalf("unexpected response %d %v", resp.Status, body)
	}

	unauth := NewHandler(NewEngine(store, nil, nil, nil), staticAuth(0))
	if _, err := unauth.transfer(context.Background(), bridge.Request{Action: ActionTransfer}); reasonOf(err) != "missing_session" {
		t.Fatalf("expected missing_session, got %v", err)
	}
}
