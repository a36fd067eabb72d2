package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/animgen/api/internal/store"
)

type fakeLedger struct {
	active       int64
	activeErr    error
	deductErr    error
	deductCalls  int
	usageCalls   int
	countedFirst bool
}

func (f *fakeLedger) CountActive(ctx context.Context, userID string) (int64, error) {
	if f.deductCalls == 0 {
		f.countedFirst = true
	}
	return f.active, f.activeErr
}

func (f *fakeLedger) DeductCredit(ctx context.Context, userID string) error {
	f.deductCalls++
	return f.deductErr
}

func (f *fakeLedger) IncrementUsage(ctx context.Context, userID string) error {
	f.usageCalls++
	return nil
}

func TestAdmitHappyPath(t *testing.T) {
	ledger := &fakeLedger{active: 0}
	c := New(ledger, 2, "platform-key")

	decision, err := c.Admit(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	if decision.Credential != "platform-key" {
		t.Errorf("Credential = %q, want platform key", decision.Credential)
	}
	if decision.UsedPersonalKey {
		t.Error("UsedPersonalKey = true, want false")
	}
	if ledger.deductCalls != 1 {
		t.Errorf("deductCalls = %d, want 1", ledger.deductCalls)
	}
	if ledger.usageCalls != 1 {
		t.Errorf("usageCalls = %d, want 1", ledger.usageCalls)
	}
}

func TestAdmitConcurrencyRejectionHasNoSideEffects(t *testing.T) {
	ledger := &fakeLedger{active: 2}
	c := New(ledger, 2, "platform-key")

	_, err := c.Admit(context.Background(), "u1", "personal-key")
	if !errors.Is(err, ErrConcurrencyExceeded) {
		t.Fatalf("Admit() error = %v, want ErrConcurrencyExceeded", err)
	}
	if ledger.deductCalls != 0 {
		t.Errorf("credit deducted despite concurrency rejection")
	}
	if ledger.usageCalls != 0 {
		t.Errorf("usage incremented despite concurrency rejection")
	}
}

func TestAdmitConcurrencyCheckedBeforeFunding(t *testing.T) {
	ledger := &fakeLedger{active: 0}
	c := New(ledger, 2, "platform-key")

	if _, err := c.Admit(context.Background(), "u1", ""); err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	if !ledger.countedFirst {
		t.Error("concurrency was not checked before the credit decrement")
	}
}

func TestAdmitPaymentRequired(t *testing.T) {
	ledger := &fakeLedger{deductErr: store.ErrInsufficientCredits}
	c := New(ledger, 2, "platform-key")

	_, err := c.Admit(context.Background(), "u1", "")
	if !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("Admit() error = %v, want ErrPaymentRequired", err)
	}
	if ledger.usageCalls != 0 {
		t.Errorf("usage incremented despite rejection")
	}
}

func TestAdmitPersonalKeyFallback(t *testing.T) {
	ledger := &fakeLedger{deductErr: store.ErrInsufficientCredits}
	c := New(ledger, 2, "platform-key")

	decision, err := c.Admit(context.Background(), "u1", "personal-key")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	if decision.Credential != "personal-key" {
		t.Errorf("Credential = %q, want personal key", decision.Credential)
	}
	if !decision.UsedPersonalKey {
		t.Error("UsedPersonalKey = false, want true")
	}
	// Usage counts every accepted job regardless of who paid.
	if ledger.usageCalls != 1 {
		t.Errorf("usageCalls = %d, want 1", ledger.usageCalls)
	}
}

func TestAdmitAnonymousBypassesLedger(t *testing.T) {
	ledger := &fakeLedger{active: 99}
	c := New(ledger, 2, "platform-key")

	decision, err := c.Admit(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	if decision.Credential != "platform-key" {
		t.Errorf("Credential = %q, want platform key", decision.Credential)
	}
	if ledger.deductCalls != 0 || ledger.usageCalls != 0 {
		t.Error("anonymous admission touched the ledger")
	}
}

func TestAdmitAnonymousWithoutAnyKey(t *testing.T) {
	c := New(&fakeLedger{}, 2, "")

	if _, err := c.Admit(context.Background(), "", ""); !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("Admit() error = %v, want ErrPaymentRequired", err)
	}
}

func TestAdmitLedgerFailure(t *testing.T) {
	ledger := &fakeLedger{activeErr: errors.New("db down")}
	c := New(ledger, 2, "platform-key")

	if _, err := c.Admit(context.Background(), "u1", ""); err == nil {
		t.Fatal("Admit() succeeded despite ledger failure")
	}
	if ledger.deductCalls != 0 {
		t.Error("credit deducted despite ledger failure")
	}
}
