package ledger

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mmdatafocus/pathway_backend/models"
	"gorm.io/gorm"
)

// GormStore persists the ledger in MySQL. The terminal-status invariant is enforced by a
// conditional UPDATE (compare-and-swap on status), and reference reuse by a unique
// index, so both hold across instances.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, in NewPayment) (*models.PaymentRecord, error) {
	rec := &models.PaymentRecord{
		ID:       uuid.NewString(),
		ReportID: in.ReportID,
		Provider: in.Provider,
		Amount:   in.Amount,
		Currency: in.Currency,
		Status:   models.PaymentStatusInitiated,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) FindByProviderReference(ctx context.Context, provider, ref string) (*models.PaymentRecord, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	var rec models.PaymentRecord
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_reference = ?", provider, ref).
		Order("created_at ASC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) Transition(ctx context.Context, id string, next models.PaymentStatus, fields TransitionFields) (Transition, error) {
	db := s.db.WithContext(ctx)
	now := time.Now().UTC()

	if preds := next.Predecessors(); len(preds) > 0 {
		updates := map[string]interface{}{
			"status":     next,
			"updated_at": now,
		}
		if fields.ProviderReference != "" {
			updates["provider_reference"] = fields.ProviderReference
		}
		if next == models.PaymentStatusCompleted {
			updates["completed_at"] = now
			// uniq_completed_ref rejects a second completion with the same reference.
			if fields.ProviderReference != "" {
				updates["completed_reference"] = fields.ProviderReference
			} else {
				updates["completed_reference"] = gorm.Expr("NULLIF(provider_reference, '')")
			}
		}
		res := db.Model(&models.PaymentRecord{}).
			Where("id = ? AND status IN ?", id, preds).
			Updates(updates)
		if res.Error != nil {
			if next == models.PaymentStatusCompleted && isDuplicateKeyErr(res.Error) {
				return Transition{}, ErrReferenceClaimed
			}
			return Transition{}, res.Error
		}
		if res.RowsAffected == 1 {
			rec, err := s.FindByID(ctx, id)
			if err != nil {
				return Transition{}, err
			}
			return Transition{Record: rec, Applied: true}, nil
		}
	}

	// Not applied. Same-status calls may still refresh the provider reference.
	if fields.ProviderReference != "" && !next.IsTerminal() {
		if err := db.Model(&models.PaymentRecord{}).
			Where("id = ? AND status = ?", id, next).
			Updates(map[string]interface{}{
				"provider_reference": fields.ProviderReference,
				"updated_at":         now,
			}).Error; err != nil {
			return Transition{}, err
		}
	}

	rec, err := s.FindByID(ctx, id)
	if err != nil {
		return Transition{}, err
	}
	return Transition{Record: rec}, nil
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// GormEventLog persists webhook events; uniqueness comes from the (provider, event_id) index.
type GormEventLog struct {
	db *gorm.DB
}

func NewGormEventLog(db *gorm.DB) *GormEventLog {
	return &GormEventLog{db: db}
}

func (l *GormEventLog) Record(ctx context.Context, ev *models.WebhookEvent) (bool, error) {
	db := l.db.WithContext(ctx)
	if err := db.Create(ev).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.WebhookEvent
	if err := db.Where("provider = ? AND event_id = ?", ev.Provider, ev.EventID).
		First(&existing).Error; err != nil {
		return false, err
	}
	// a failed attempt may be retried by the provider
	return existing.ProcessingError == nil, nil
}

func (l *GormEventLog) MarkProcessed(ctx context.Context, provider, eventID string, procErr error) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if procErr != nil {
		msg := procErr.Error()
		updates["processing_error"] = &msg
		updates["processed_at"] = nil
	} else {
		updates["processing_error"] = nil
		updates["processed_at"] = time.Now().UTC()
	}
	return l.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Updates(updates).Error
}
