// Package reports stores roadmap reports and computes their free previews.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/pathway_backend/config"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/sirupsen/logrus"
)

type Service struct {
	store     Store
	generator Generator
	renderer  Renderer
	logger    *logrus.Logger
	now       func() time.Time
}

func NewService(store Store, generator Generator, renderer Renderer, logger *logrus.Logger) *Service {
	return &Service{
		store:     store,
		generator: generator,
		renderer:  renderer,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) Create(ctx context.Context, studentInput json.RawMessage) (*models.Report, error) {
	if len(studentInput) == 0 {
		return nil, utils.NewValidationError("studentInput is required")
	}
	doc, err := s.generator.Generate(ctx, studentInput)
	if err != nil {
		return nil, err
	}

	report := &models.Report{
		ID:           uuid.NewString(),
		StudentInput: studentInput,
		Document:     doc,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Save(ctx, report); err != nil {
		config.LogError(s.logger, "reports", "Create", "save report", report.ID, err)
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"reportId": report.ID,
		"periods":  len(doc.Timeline),
	}).Info("report created")
	return report, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Report, error) {
	if id == "" {
		return nil, utils.NewValidationError("report id is required")
	}
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, utils.NewNotFoundError("report not found", err)
	}
	if err != nil {
		config.LogError(s.logger, "reports", "Get", "load report", id, err)
		return nil, err
	}
	return r, nil
}

// Exists satisfies the payments report lookup.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if utils.IsKind(err, utils.ErrorKindNotFound) {
		return false, nil
	}
	return err == nil, err
}

// View returns the report with its document partitioned for the caller.
func (s *Service) View(ctx context.Context, id string, entitled bool) (*models.Report, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := *r
	view.Document = Partition(r.Document, entitled)
	return &view, nil
}

// RenderPDF renders the full document. Callers check entitlement first.
func (s *Service) RenderPDF(ctx context.Context, id string) ([]byte, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.renderer.Render(r)
}
