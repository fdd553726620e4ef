package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "initiated"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusExpired   PaymentStatus = "expired"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusInitiated, PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusExpired
}

func (s PaymentStatus) rank() int {
	switch s {
	case PaymentStatusInitiated:
		return 0
	case PaymentStatusPending:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo allows only forward moves along initiated -> pending -> {completed|failed|expired}.
// A terminal status never moves, and staying in place is not a transition.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Predecessors lists the statuses from which s is reachable.
func (s PaymentStatus) Predecessors() []PaymentStatus {
	var out []PaymentStatus
	for _, from := range []PaymentStatus{PaymentStatusInitiated, PaymentStatusPending} {
		if from.CanTransitionTo(s) {
			out = append(out, from)
		}
	}
	return out
}

func (s *PaymentStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*s = PaymentStatus(v)
	case string:
		*s = PaymentStatus(v)
	case nil:
		*s = ""
	default:
		return fmt.Errorf("cannot scan %T into PaymentStatus", value)
	}
	return nil
}

func (s PaymentStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Provenance names the flow that produced an entitlement.
type Provenance string

const (
	ProvenanceLemonSqueezy Provenance = "lemonsqueezy"
	ProvenanceCrypto       Provenance = "crypto"
	ProvenanceBeta         Provenance = "beta"
	ProvenanceCoupon       Provenance = "coupon"
)

// IsOverride is true for provenances that grant access without payment evidence.
func (p Provenance) IsOverride() bool {
	return p == ProvenanceBeta || p == ProvenanceCoupon
}

func ParseProvenance(s string) (Provenance, error) {
	switch p := Provenance(s); p {
	case ProvenanceLemonSqueezy, ProvenanceCrypto, ProvenanceBeta, ProvenanceCoupon:
		return p, nil
	}
	return "", errors.New("invalid provenance")
}
