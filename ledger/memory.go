package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/pathway_backend/models"
)

// MemoryStore keeps records for the process lifetime.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.PaymentRecord
	order   []string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.PaymentRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, in NewPayment) (*models.PaymentRecord, error) {
	now := s.now()
	rec := &models.PaymentRecord{
		ID:        uuid.NewString(),
		ReportID:  in.ReportID,
		Provider:  in.Provider,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Status:    models.PaymentStatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec.Clone(), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) FindByProviderReference(_ context.Context, provider, ref string) (*models.PaymentRecord, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// oldest first, so a completed original wins over later attempts reusing the reference
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Provider == provider && rec.ProviderReference == ref {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Transition(_ context.Context, id string, next models.PaymentStatus, fields TransitionFields) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Transition{}, ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return Transition{Record: rec.Clone()}, nil
	}

	applied := rec.Status.CanTransitionTo(next)
	if !applied && rec.Status != next {
		// backwards move: ignore
		return Transition{Record: rec.Clone()}, nil
	}

	ref := rec.ProviderReference
	if fields.ProviderReference != "" {
		ref = fields.ProviderReference
	}
	if applied && next == models.PaymentStatusCompleted && ref != "" && s.referenceClaimed(rec, ref) {
		return Transition{}, ErrReferenceClaimed
	}

	now := s.now()
	rec.ProviderReference = ref
	if applied {
		rec.Status = next
		if next == models.PaymentStatusCompleted {
			rec.CompletedAt = &now
			if ref != "" {
				rec.CompletedReference = &ref
			}
		}
	}
	rec.UpdatedAt = now
	return Transition{Record: rec.Clone(), Applied: applied}, nil
}

// referenceClaimed reports whether ref completed a record other than rec. Callers hold s.mu.
func (s *MemoryStore) referenceClaimed(rec *models.PaymentRecord, ref string) bool {
	for _, other := range s.records {
		if other.ID != rec.ID && other.Provider == rec.Provider &&
			other.CompletedReference != nil && *other.CompletedReference == ref {
			return true
		}
	}
	return false
}

// MemoryEventLog is the in-process EventLog.
type MemoryEventLog struct {
	mu     sync.Mutex
	events map[string]*models.WebhookEvent
	now    func() time.Time
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		events: make(map[string]*models.WebhookEvent),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func eventKey(provider, eventID string) string {
	return provider + ":" + eventID
}

func (l *MemoryEventLog) Record(_ context.Context, ev *models.WebhookEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := eventKey(ev.Provider, ev.EventID)
	if existing, ok := l.events[key]; ok {
		// a failed attempt may be retried by the provider
		return existing.ProcessingError == nil, nil
	}
	c := *ev
	c.CreatedAt = l.now()
	c.UpdatedAt = c.CreatedAt
	l.events[key] = &c
	return false, nil
}

func (l *MemoryEventLog) MarkProcessed(_ context.Context, provider, eventID string, procErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[eventKey(provider, eventID)]
	if !ok {
		return ErrNotFound
	}
	now := l.now()
	ev.UpdatedAt = now
	if procErr != nil {
		msg := procErr.Error()
		ev.ProcessingError = &msg
		ev.ProcessedAt = nil
		return nil
	}
	ev.ProcessingError = nil
	ev.ProcessedAt = &now
	return nil
}

// Get is used by operators and tests.
func (l *MemoryEventLog) Get(provider, eventID string) (*models.WebhookEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[eventKey(provider, eventID)]
	if !ok {
		return nil, false
	}
	c := *ev
	return &c, true
}
