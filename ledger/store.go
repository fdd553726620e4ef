// Package ledger is the single source of truth for payment status.
package ledger

import (
	"context"
	"errors"

	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("payment record not found")

// ErrReferenceClaimed is returned by Transition when the provider reference
// already completed a different record.
var ErrReferenceClaimed = errors.New("provider reference already completed another payment")

type NewPayment struct {
	ReportID string
	Provider string
	Amount   decimal.Decimal
	Currency string
}

// TransitionFields are non-terminal fields written together with a status change.
// Empty values leave the stored field untouched.
type TransitionFields struct {
	ProviderReference string
}

// Transition is the outcome of a status change request.
// Applied is true only for the call that actually moved the status.
type Transition struct {
	Record  *models.PaymentRecord
	Applied bool
}

type Store interface {
	Create(ctx context.Context, in NewPayment) (*models.PaymentRecord, error)
	FindByID(ctx context.Context, id string) (*models.PaymentRecord, error)
	// FindByProviderReference returns ErrNotFound when no record carries ref.
	FindByProviderReference(ctx context.Context, provider, ref string) (*models.PaymentRecord, error)
	// Transition atomically checks the current status and applies next when it is a forward move.
	// A record in a terminal status is never changed; such calls return Applied=false and no error.
	// Completing with a reference that completed another record fails with ErrReferenceClaimed.
	Transition(ctx context.Context, id string, next models.PaymentStatus, fields TransitionFields) (Transition, error)
}

// EventLog deduplicates provider webhook events.
type EventLog interface {
	// Record stores ev once per (provider, event id); duplicate is true when it was seen before.
	Record(ctx context.Context, ev *models.WebhookEvent) (duplicate bool, err error)
	MarkProcessed(ctx context.Context, provider, eventID string, procErr error) error
}
