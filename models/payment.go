package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRecord is one payment attempt against one report.
// Status moves forward only; a terminal status is sticky.
type PaymentRecord struct {
	ID                string          `gorm:"primaryKey;size:64" json:"id"`
	ReportID          string          `gorm:"size:64;not null;index" json:"reportId"`
	Provider          string          `gorm:"size:32;not null;index:idx_provider_ref,priority:1;uniqueIndex:uniq_completed_ref,priority:1" json:"provider"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency          string          `gorm:"size:8;not null" json:"currency"`
	Status            PaymentStatus   `gorm:"size:16;not null;index" json:"status"`
	ProviderReference string          `gorm:"size:191;index:idx_provider_ref,priority:2" json:"providerReference,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`

	// CompletedReference is set only on completion. NULLs never collide in
	// uniq_completed_ref, so a provider reference completes at most one record.
	CompletedReference *string `gorm:"size:191;uniqueIndex:uniq_completed_ref,priority:2" json:"-"`
}

func (PaymentRecord) TableName() string {
	return "payment_records"
}

// Clone returns a copy that shares no pointers with r.
func (r *PaymentRecord) Clone() *PaymentRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.CompletedReference != nil {
		ref := *r.CompletedReference
		c.CompletedReference = &ref
	}
	return &c
}
