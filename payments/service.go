package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/pathway_backend/config"
	"github.com/mmdatafocus/pathway_backend/entitlement"
	"github.com/mmdatafocus/pathway_backend/events"
	"github.com/mmdatafocus/pathway_backend/ledger"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	moduleName            = "payments"
	defaultPublishTimeout = 5 * time.Second
)

// ReportLookup confirms a report exists before money is taken for it.
type ReportLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type Options struct {
	DefaultProvider string
	// ReportPrice, when positive, is the only accepted amount.
	ReportPrice    decimal.Decimal
	BetaAccessCode string
	CouponCodes    []string
}

type Deps struct {
	Registry  *Registry
	Store     ledger.Store
	EventLog  ledger.EventLog
	Issuer    *entitlement.Issuer
	Verifier  *Verifier
	Publisher events.Publisher
	Reports   ReportLookup
	Logger    *logrus.Logger
}

type Service struct {
	registry  *Registry
	store     ledger.Store
	eventLog  ledger.EventLog
	issuer    *entitlement.Issuer
	verifier  *Verifier
	publisher events.Publisher
	reports   ReportLookup
	logger    *logrus.Logger
	opts      Options
	validate  *validator.Validate

	publishTimeout time.Duration
}

func NewService(deps Deps, opts Options) *Service {
	return &Service{
		registry:  deps.Registry,
		store:     deps.Store,
		eventLog:  deps.EventLog,
		issuer:    deps.Issuer,
		verifier:  deps.Verifier,
		publisher: deps.Publisher,
		reports:   deps.Reports,
		logger:    deps.Logger,
		opts:      opts,
		validate:  utils.NewValidator(),

		publishTimeout: defaultPublishTimeout,
	}
}

type InitializeRequest struct {
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3,alpha"`
	ReportID string `json:"reportId" validate:"required,max=64"`
	Provider string `json:"provider,omitempty" validate:"omitempty,max=32"`
}

type InitializeResult struct {
	PaymentID           string               `json:"paymentId"`
	PaymentURLOrAddress string               `json:"paymentUrlOrAddress"`
	Provider            string               `json:"provider"`
	Status              models.PaymentStatus `json:"status"`
	Addresses           map[string]string    `json:"addresses,omitempty"`
}

type VerifyPaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required,max=64"`
	Proof     string `json:"proof" validate:"max=191"`
}

type RedeemRequest struct {
	ReportID string `json:"reportId" validate:"required,max=64"`
	Code     string `json:"code" validate:"required,max=128"`
}

type TokenResult struct {
	Token      string            `json:"token"`
	ReportID   string            `json:"reportId"`
	PaymentID  string            `json:"paymentId,omitempty"`
	Provenance models.Provenance `json:"provenance"`
}

type StatusResult struct {
	PaymentID string               `json:"paymentId"`
	ReportID  string               `json:"reportId"`
	Status    models.PaymentStatus `json:"status"`
	Provider  string               `json:"provider"`
}

type WebhookResult struct {
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventType string `json:"eventType,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Service) adapterFor(name string) (Adapter, error) {
	if strings.TrimSpace(name) == "" {
		name = s.opts.DefaultProvider
	}
	return s.registry.Get(name)
}

func (s *Service) requireReport(ctx context.Context, reportID string) error {
	ok, err := s.reports.Exists(ctx, reportID)
	if err != nil {
		return err
	}
	if !ok {
		return utils.NewNotFoundError("report not found")
	}
	return nil
}

// Initialize records a new payment and opens an intent with the provider.
// The provider call runs with no ledger lock held.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if err := utils.ValidateStruct(s.validate, req); err != nil {
		return nil, err
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	currency := utils.NormalizeCurrency(req.Currency)

	adapter, err := s.adapterFor(req.Provider)
	if err != nil {
		return nil, err
	}
	if !adapter.SupportsCurrency(currency) {
		return nil, utils.NewValidationError("unsupported currency")
	}
	if s.opts.ReportPrice.IsPositive() && !amount.Equal(s.opts.ReportPrice) {
		return nil, utils.NewValidationError("amount does not match the report price")
	}
	if err := s.requireReport(ctx, req.ReportID); err != nil {
		return nil, err
	}

	rec, err := s.store.Create(ctx, ledger.NewPayment{
		ReportID: req.ReportID,
		Provider: adapter.Name(),
		Amount:   amount,
		Currency: currency,
	})
	if err != nil {
		config.LogError(s.logger, moduleName, "Initialize", "create payment record", req.ReportID, err)
		return nil, err
	}

	intent, err := adapter.CreateIntent(ctx, IntentRequest{
		PaymentID: rec.ID,
		ReportID:  rec.ReportID,
		Amount:    amount,
		Currency:  currency,
	})
	// From here on the ledger write must land even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		config.LogError(s.logger, moduleName, "Initialize", "create provider intent", rec.ID, err)
		if _, terr := s.store.Transition(ctx, rec.ID, models.PaymentStatusFailed, ledger.TransitionFields{}); terr != nil {
			config.LogError(s.logger, moduleName, "Initialize", "mark payment failed", rec.ID, terr)
		}
		return nil, err
	}

	next := models.PaymentStatusInitiated
	if intent.Pending {
		next = models.PaymentStatusPending
	}
	tr, err := s.store.Transition(ctx, rec.ID, next, ledger.TransitionFields{ProviderReference: intent.ProviderReference})
	if err != nil {
		config.LogError(s.logger, moduleName, "Initialize", "record provider reference", rec.ID, err)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"paymentId": rec.ID,
		"reportId":  rec.ReportID,
		"provider":  adapter.Name(),
		"status":    tr.Record.Status,
	}).Info("payment initialized")

	return &InitializeResult{
		PaymentID:           rec.ID,
		PaymentURLOrAddress: intent.URLOrAddress(),
		Provider:            adapter.Name(),
		Status:              tr.Record.Status,
		Addresses:           intent.Addresses,
	}, nil
}

// Verify confirms a payment with its provider and returns an entitlement token.
// A record that is already completed gets a token without another provider call.
func (s *Service) Verify(ctx context.Context, req VerifyPaymentRequest) (*TokenResult, error) {
	if err := utils.ValidateStruct(s.validate, req); err != nil {
		return nil, err
	}
	rec, err := s.store.FindByID(ctx, req.PaymentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, utils.NewValidationError("payment record not found", err)
	}
	if err != nil {
		return nil, err
	}

	if rec.Status == models.PaymentStatusCompleted {
		return s.tokenFor(rec)
	}
	if rec.Status.IsTerminal() {
		return nil, utils.NewValidationError("payment not confirmed")
	}

	adapter, err := s.registry.Get(rec.Provider)
	if err != nil {
		return nil, err
	}
	res, err := adapter.Verify(ctx, VerifyRequest{
		PaymentID:         rec.ID,
		ProviderReference: rec.ProviderReference,
		Proof:             req.Proof,
		Amount:            rec.Amount,
		Currency:          rec.Currency,
	})
	if err != nil {
		config.LogError(s.logger, moduleName, "Verify", "provider verify", rec.ID, err)
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	if !res.Confirmed {
		if res.Outcome != "" {
			if _, err := s.store.Transition(ctx, rec.ID, res.Outcome, ledger.TransitionFields{}); err != nil {
				config.LogError(s.logger, moduleName, "Verify", "record provider outcome", rec.ID, err)
			}
		}
		s.logger.WithFields(logrus.Fields{
			"paymentId":      rec.ID,
			"providerStatus": res.ProviderStatus,
		}).Info("payment not confirmed")
		return nil, utils.NewValidationError("payment not confirmed")
	}

	tr, err := s.complete(ctx, rec, res.ProviderReference, "verify")
	if err != nil {
		return nil, err
	}
	if tr.Record.Status != models.PaymentStatusCompleted {
		return nil, utils.NewValidationError("payment not confirmed")
	}
	return s.tokenFor(tr.Record)
}

func (s *Service) tokenFor(rec *models.PaymentRecord) (*TokenResult, error) {
	token, err := s.issuer.IssueForPayment(rec)
	if err != nil {
		return nil, err
	}
	return &TokenResult{
		Token:      token,
		ReportID:   rec.ReportID,
		PaymentID:  rec.ID,
		Provenance: models.Provenance(rec.Provider),
	}, nil
}

// complete moves rec to completed. The grant event is published only by the
// call whose transition applied, so a racing webhook and verify emit it once.
// The ledger refuses a provider reference that already completed another payment.
func (s *Service) complete(ctx context.Context, rec *models.PaymentRecord, providerRef, source string) (ledger.Transition, error) {
	tr, err := s.store.Transition(ctx, rec.ID, models.PaymentStatusCompleted, ledger.TransitionFields{ProviderReference: providerRef})
	if errors.Is(err, ledger.ErrReferenceClaimed) {
		s.logger.WithFields(logrus.Fields{
			"paymentId":         rec.ID,
			"providerReference": providerRef,
			"source":            source,
		}).Warn("provider reference already completed another payment")
		return ledger.Transition{}, utils.NewValidationError("payment not confirmed", err)
	}
	if err != nil {
		config.LogError(s.logger, moduleName, "complete", "transition to completed", rec.ID, err)
		return ledger.Transition{}, err
	}
	if !tr.Applied {
		return tr, nil
	}

	s.logger.WithFields(logrus.Fields{
		"paymentId": rec.ID,
		"reportId":  rec.ReportID,
		"provider":  rec.Provider,
		"source":    source,
	}).Info("payment completed")
	s.publish(ctx, events.EntitlementGranted{
		ReportID:   tr.Record.ReportID,
		PaymentID:  tr.Record.ID,
		Provenance: models.Provenance(tr.Record.Provider),
	})
	return tr, nil
}

func (s *Service) publish(ctx context.Context, ev events.EntitlementGranted) {
	if ev.GrantedAt.IsZero() {
		ev.GrantedAt = time.Now().UTC()
	}
	ev.CorrelationID, _ = utils.GetCorrelationIdFromContext(ctx)
	ev.ClientIP, _ = utils.GetClientIPFromContext(ctx)

	// callers pass a context detached from the request, so bound the broker wait here
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		config.LogError(s.logger, moduleName, "publish", "publish entitlement event", ev, err)
	}
}

// SignatureHeader names the header that carries the webhook signature for provider.
func (s *Service) SignatureHeader(provider string) string {
	adapter, err := s.adapterFor(provider)
	if err != nil {
		return ""
	}
	return adapter.SignatureHeader()
}

// HandleWebhook never returns an error: the provider is always acknowledged and
// failures are logged and kept on the event log.
func (s *Service) HandleWebhook(ctx context.Context, provider string, body []byte, signature string) WebhookResult {
	ctx = context.WithoutCancel(ctx)

	adapter, err := s.adapterFor(provider)
	if err != nil {
		s.logger.WithField("provider", provider).Warn("webhook for unsupported provider")
		return WebhookResult{Reason: "unsupported provider"}
	}
	if !s.verifier.Verify(body, signature) {
		s.logger.WithFields(logrus.Fields{
			"provider":     adapter.Name(),
			"hasSignature": signature != "",
		}).Warn("webhook signature rejected")
		return WebhookResult{Reason: "invalid signature"}
	}

	ev, err := adapter.ParseWebhook(body)
	if err != nil {
		config.LogError(s.logger, moduleName, "HandleWebhook", "parse webhook", adapter.Name(), err)
		return WebhookResult{Reason: utils.PublicMessage(err)}
	}
	result := WebhookResult{EventType: ev.Type}

	duplicate, recordErr := s.eventLog.Record(ctx, &models.WebhookEvent{
		Provider:       adapter.Name(),
		EventID:        ev.ID,
		EventType:      ev.Type,
		PaymentID:      ev.PaymentID,
		SignatureValid: signature != "",
	})
	if recordErr != nil {
		// Dispatch anyway; the ledger transition is idempotent on its own.
		config.LogError(s.logger, moduleName, "HandleWebhook", "record webhook event", ev.ID, recordErr)
	}
	if duplicate {
		s.logger.WithFields(logrus.Fields{"provider": adapter.Name(), "eventId": ev.ID}).Info("duplicate webhook ignored")
		result.Duplicate = true
		result.Reason = "duplicate event"
		return result
	}

	applied, procErr := s.dispatch(ctx, adapter, ev)
	if recordErr == nil {
		if markErr := s.eventLog.MarkProcessed(ctx, adapter.Name(), ev.ID, procErr); markErr != nil {
			config.LogError(s.logger, moduleName, "HandleWebhook", "mark webhook processed", ev.ID, markErr)
		}
	}
	if procErr != nil {
		config.LogError(s.logger, moduleName, "HandleWebhook", "dispatch webhook", ev.ID, procErr)
		result.Reason = utils.PublicMessage(procErr)
		return result
	}
	if ev.Status == "" {
		result.Reason = "event type ignored"
	}
	result.Processed = applied
	return result
}

func (s *Service) dispatch(ctx context.Context, adapter Adapter, ev WebhookEvent) (bool, error) {
	if ev.Status == "" {
		return false, nil
	}

	var (
		rec *models.PaymentRecord
		err error
	)
	if ev.PaymentID != "" {
		rec, err = s.store.FindByID(ctx, ev.PaymentID)
	} else {
		rec, err = s.store.FindByProviderReference(ctx, adapter.Name(), ev.ProviderReference)
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return false, utils.NewNotFoundError("payment not found", err)
	}
	if err != nil {
		return false, err
	}
	if rec.Provider != adapter.Name() {
		return false, utils.NewValidationError("payment belongs to another provider")
	}

	if ev.Status != models.PaymentStatusCompleted {
		// A signed event binds its provider reference to the payment it names.
		tr, err := s.store.Transition(ctx, rec.ID, ev.Status, ledger.TransitionFields{ProviderReference: ev.ProviderReference})
		if err != nil {
			return false, err
		}
		bound := ev.ProviderReference != "" && rec.ProviderReference != ev.ProviderReference &&
			tr.Record.ProviderReference == ev.ProviderReference
		return tr.Applied || bound, nil
	}

	if !ev.Amount.IsZero() && !amountMatches(rec.Amount, rec.Currency, ev.Amount, ev.Currency) {
		return false, utils.NewValidationError("payment amount mismatch",
			fmt.Errorf("expected %s %s, got %s %s", rec.Amount, rec.Currency, ev.Amount, ev.Currency))
	}
	tr, err := s.complete(ctx, rec, ev.ProviderReference, "webhook")
	if err != nil {
		return false, err
	}
	return tr.Applied, nil
}

// Redeem grants an override entitlement for a beta access code or coupon.
// It never touches the payment ledger.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*TokenResult, error) {
	if err := utils.ValidateStruct(s.validate, req); err != nil {
		return nil, err
	}
	if err := s.requireReport(ctx, req.ReportID); err != nil {
		return nil, err
	}

	prov, ok := s.matchOverride(strings.TrimSpace(req.Code))
	clientIP, _ := utils.GetClientIPFromContext(ctx)
	if !ok {
		s.logger.WithFields(logrus.Fields{"reportId": req.ReportID, "clientIp": clientIP}).Warn("override code rejected")
		return nil, utils.NewAuthorizationError("invalid access code")
	}

	token, err := s.issuer.IssueOverride(req.ReportID, prov)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"reportId":   req.ReportID,
		"provenance": prov,
		"clientIp":   clientIP,
	}).Warn("override entitlement issued")
	s.publish(ctx, events.EntitlementGranted{ReportID: req.ReportID, Provenance: prov})

	return &TokenResult{Token: token, ReportID: req.ReportID, Provenance: prov}, nil
}

func (s *Service) matchOverride(code string) (models.Provenance, bool) {
	if code == "" {
		return "", false
	}
	if s.opts.BetaAccessCode != "" && utils.MatchAccessCode(s.opts.BetaAccessCode, code) {
		return models.ProvenanceBeta, true
	}
	for _, c := range s.opts.CouponCodes {
		if utils.MatchAccessCode(c, code) {
			return models.ProvenanceCoupon, true
		}
	}
	return "", false
}

func (s *Service) Status(ctx context.Context, paymentID string) (*StatusResult, error) {
	if paymentID == "" {
		return nil, utils.NewValidationError("paymentId is required")
	}
	rec, err := s.store.FindByID(ctx, paymentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, utils.NewNotFoundError("payment not found", err)
	}
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		PaymentID: rec.ID,
		ReportID:  rec.ReportID,
		Status:    rec.Status,
		Provider:  rec.Provider,
	}, nil
}
