// Package admission decides whether a new job may be accepted, given the
// owner's current concurrency and credit state. Rejections are plain
// error values with no side effects: a caller blocked on concurrency is
// never charged a credit.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/animgen/api/internal/store"
)

var (
	// ErrConcurrencyExceeded indicates the owner already has the maximum
	// number of jobs in flight.
	ErrConcurrencyExceeded = errors.New("too many jobs in progress")

	// ErrPaymentRequired indicates the owner has no credits and supplied
	// no personal API key.
	ErrPaymentRequired = errors.New("no credits remaining and no API key provided")
)

// Ledger is the slice of the store the controller needs
type Ledger interface {
	CountActive(ctx context.Context, userID string) (int64, error)
	DeductCredit(ctx context.Context, userID string) error
	IncrementUsage(ctx context.Context, userID string) error
}

// Decision is the outcome of a successful admission
type Decision struct {
	// Credential is the Gemini API key the job will run with: the
	// platform key when a credit was reserved, the caller's own key
	// otherwise.
	Credential      string
	UsedPersonalKey bool
}

// Controller applies the admission rules
type Controller struct {
	ledger        Ledger
	maxConcurrent int
	platformKey   string
}

// New creates an admission Controller
func New(ledger Ledger, maxConcurrent int, platformKey string) *Controller {
	return &Controller{
		ledger:        ledger,
		maxConcurrent: maxConcurrent,
		platformKey:   platformKey,
	}
}

// Admit authorizes a job for the given owner. personalKey is the caller's
// own Gemini key, empty if none. An empty userID is an anonymous job:
// it bypasses the ledger entirely and runs on the platform key.
//
// The concurrency check runs strictly before any funding mutation.
func (c *Controller) Admit(ctx context.Context, userID, personalKey string) (*Decision, error) {
	if userID == "" {
		if c.platformKey == "" && personalKey == "" {
			return nil, ErrPaymentRequired
		}
		cred := c.platformKey
		used := false
		if cred == "" {
			cred = personalKey
			used = true
		}
		return &Decision{Credential: cred, UsedPersonalKey: used}, nil
	}

	active, err := c.ledger.CountActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active jobs: %w", err)
	}
	if active >= int64(c.maxConcurrent) {
		return nil, ErrConcurrencyExceeded
	}

	decision := &Decision{Credential: c.platformKey}
	err = c.ledger.DeductCredit(ctx, userID)
	switch {
	case err == nil:
		// Platform pays; one credit reserved.
	case errors.Is(err, store.ErrInsufficientCredits):
		if personalKey == "" {
			return nil, ErrPaymentRequired
		}
		decision.Credential = personalKey
		decision.UsedPersonalKey = true
	default:
		return nil, fmt.Errorf("failed to reserve credit: %w", err)
	}

	if err := c.ledger.IncrementUsage(ctx, userID); err != nil {
		// Usage accounting is advisory; the job was already funded.
		log.Printf("Failed to increment usage for user %s: %v", userID, err)
	}

	return decision, nil
}
