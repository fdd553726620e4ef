package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/pathway_backend/entitlement"
	"github.com/mmdatafocus/pathway_backend/events"
	"github.com/mmdatafocus/pathway_backend/ledger"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

// fakeAdapter stands in for a provider. Webhook bodies are the JSON form of WebhookEvent.
type fakeAdapter struct {
	mu          sync.Mutex
	intentErr   error
	verifyRes   VerifyResult
	verifyErr   error
	verifyCalls int
	lastPayment string
}

func (f *fakeAdapter) Name() string                  { return "crypto" }
func (f *fakeAdapter) Provenance() models.Provenance { return models.ProvenanceCrypto }
func (f *fakeAdapter) SignatureHeader() string       { return "X-Test-Signature" }
func (f *fakeAdapter) SupportsCurrency(code string) bool {
	return supports([]string{"USD"}, code)
}

func (f *fakeAdapter) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	f.lastPayment = req.PaymentID
	if f.intentErr != nil {
		return Intent{}, f.intentErr
	}
	return Intent{ProviderReference: "ref-" + req.PaymentID, RedirectURL: "https://pay.example/" + req.PaymentID, Pending: true}, nil
}

func (f *fakeAdapter) Verify(_ context.Context, req VerifyRequest) (VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	res := f.verifyRes
	if res.ProviderReference == "" {
		res.ProviderReference = req.ProviderReference
	}
	return res, f.verifyErr
}

func (f *fakeAdapter) ParseWebhook(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, utils.NewValidationError("malformed webhook payload", err)
	}
	return ev, nil
}

type staticReports map[string]bool

func (s staticReports) Exists(_ context.Context, id string) (bool, error) {
	return s[id], nil
}

type harness struct {
	svc      *Service
	store    *ledger.MemoryStore
	eventLog *ledger.MemoryEventLog
	issuer   *entitlement.Issuer
	adapter  *fakeAdapter
	recorder *events.Recorder
}

func newHarness(t *testing.T, production bool, opts Options) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	issuer, err := entitlement.NewIssuer("signing-secret", 0)
	require.NoError(t, err)
	verifier, err := NewVerifier(testWebhookSecret, NewSignaturePolicy(production, false))
	require.NoError(t, err)

	h := &harness{
		store:    ledger.NewMemoryStore(),
		eventLog: ledger.NewMemoryEventLog(),
		issuer:   issuer,
		adapter:  &fakeAdapter{verifyRes: VerifyResult{Confirmed: true, ProviderStatus: "COMPLETED"}},
		recorder: &events.Recorder{},
	}
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = "crypto"
	}
	h.svc = NewService(Deps{
		Registry:  NewRegistry(h.adapter),
		Store:     h.store,
		EventLog:  h.eventLog,
		Issuer:    issuer,
		Verifier:  verifier,
		Publisher: h.recorder,
		Reports:   staticReports{"report-a": true, "report-b": true},
		Logger:    logger,
	}, opts)
	return h
}

func (h *harness) initialize(t *testing.T, reportID string) string {
	t.Helper()
	res, err := h.svc.Initialize(context.Background(), InitializeRequest{Amount: "19.00", Currency: "usd", ReportID: reportID})
	require.NoError(t, err)
	return res.PaymentID
}

func webhookBody(t *testing.T, ev WebhookEvent) []byte {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}

func TestInitialize(t *testing.T) {
	h := newHarness(t, false, Options{})
	ctx := context.Background()

	res, err := h.svc.Initialize(ctx, InitializeRequest{Amount: "19.00", Currency: "usd", ReportID: "report-a"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/"+res.PaymentID, res.PaymentURLOrAddress)
	assert.Equal(t, models.PaymentStatusPending, res.Status)

	rec, err := h.store.FindByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "ref-"+res.PaymentID, rec.ProviderReference)
	assert.Equal(t, "USD", rec.Currency)
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("19")))
}

func TestInitialize_Validation(t *testing.T) {
	h := newHarness(t, false, Options{ReportPrice: decimal.RequireFromString("19.00")})
	ctx := context.Background()

	cases := []struct {
		name string
		req  InitializeRequest
		kind utils.ErrorKind
	}{
		{"missing fields", InitializeRequest{}, utils.ErrorKindValidation},
		{"negative amount", InitializeRequest{Amount: "-1", Currency: "USD", ReportID: "report-a"}, utils.ErrorKindValidation},
		{"non numeric amount", InitializeRequest{Amount: "abc", Currency: "USD", ReportID: "report-a"}, utils.ErrorKindValidation},
		{"unsupported currency", InitializeRequest{Amount: "19", Currency: "EUR", ReportID: "report-a"}, utils.ErrorKindValidation},
		{"wrong price", InitializeRequest{Amount: "1", Currency: "USD", ReportID: "report-a"}, utils.ErrorKindValidation},
		{"unknown provider", InitializeRequest{Amount: "19", Currency: "USD", ReportID: "report-a", Provider: "paypal"}, utils.ErrorKindValidation},
		{"unknown report", InitializeRequest{Amount: "19", Currency: "USD", ReportID: "report-x"}, utils.ErrorKindNotFound},
	}
	for _, tc := range cases {
		_, err := h.svc.Initialize(ctx, tc.req)
		assert.True(t, utils.IsKind(err, tc.kind), "%s: got %v", tc.name, err)
	}
}

func TestInitialize_ProviderFailureMarksFailed(t *testing.T) {
	h := newHarness(t, false, Options{})
	h.adapter.intentErr = utils.NewUpstreamError("payment provider is unavailable")

	_, err := h.svc.Initialize(context.Background(), InitializeRequest{Amount: "19", Currency: "USD", ReportID: "report-a"})
	assert.True(t, utils.IsKind(err, utils.ErrorKindUpstream))

	rec, err := h.store.FindByID(context.Background(), h.adapter.lastPayment)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, rec.Status)
}

func TestVerify_IssuesScopedToken(t *testing.T) {
	h := newHarness(t, false, Options{})
	paymentID := h.initialize(t, "report-a")

	res, err := h.svc.Verify(context.Background(), VerifyPaymentRequest{PaymentID: paymentID})
	require.NoError(t, err)
	assert.Equal(t, "report-a", res.ReportID)

	claims, err := h.issuer.Verify(res.Token)
	require.NoError(t, err)
	assert.True(t, entitlement.IsEntitled(claims, "report-a"))
	assert.False(t, entitlement.IsEntitled(claims, "report-b"))

	rec, err := h.store.FindByID(context.Background(), paymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, rec.Status)
	assert.Len(t, h.recorder.Events(), 1)
}

func TestVerify_AlreadyCompletedDoesNotRepublish(t *testing.T) {
	h := newHarness(t, false, Options{})
	paymentID := h.initialize(t, "report-a")

	_, err := h.svc.Verify(context.Background(), VerifyPaymentRequest{PaymentID: paymentID})
	require.NoError(t, err)
	res, err := h.svc.Verify(context.Background(), VerifyPaymentRequest{PaymentID: paymentID})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)

	assert.Equal(t, 1, h.adapter.verifyCalls)
	assert.Len(t, h.recorder.Events(), 1)
}

func TestVerify_NotConfirmed(t *testing.T) {
	h := newHarness(t, false, Options{})
	ctx := context.Background()

	_, err := h.svc.Verify(ctx, VerifyPaymentRequest{PaymentID: "missing"})
	assert.True(t, utils.IsKind(err, utils.ErrorKindValidation))

	paymentID := h.initialize(t, "report-a")
	h.adapter.verifyRes = VerifyResult{ProviderStatus: "PENDING"}
	_, err = h.svc.Verify(ctx, VerifyPaymentRequest{PaymentID: paymentID})
	assert.True(t, utils.IsKind(err, utils.ErrorKindValidation))
	rec, _ := h.store.FindByID(ctx, paymentID)
	assert.Equal(t, models.PaymentStatusPending, rec.Status)

	h.adapter.verifyRes = VerifyResult{ProviderStatus: "EXPIRED", Outcome: models.PaymentStatusExpired}
	_, err = h.svc.Verify(ctx, VerifyPaymentRequest{PaymentID: paymentID})
	assert.True(t, utils.IsKind(err, utils.ErrorKindValidation))
	rec, _ = h.store.FindByID(ctx, paymentID)
	assert.Equal(t, models.PaymentStatusExpired, rec.Status)

	// terminal records are not sent to the provider again
	calls := h.adapter.verifyCalls
	_, err = h.svc.Verify(ctx, VerifyPaymentRequest{PaymentID: paymentID})
	assert.True(t, utils.IsKind(err, utils.ErrorKindValidation))
	assert.Equal(t, calls, h.adapter.verifyCalls)
	assert.Empty(t, h.recorder.Events())
}

func TestVerify_UpstreamError(t *testing.T) {
	h := newHarness(t, false, Options{})
	paymentID := h.initialize(t, "report-a")
	h.adapter.verifyErr = utils.NewUpstreamError("payment provider is unavailable", errors.New("timeout"))

	_, err := h.svc.Verify(context.Background(), VerifyPaymentRequest{PaymentID: paymentID})
	assert.True(t, utils.IsKind(err, utils.ErrorKindUpstream))
}

func TestVerify_ProviderReferenceReplayRejected(t *testing.T) {
	h := newHarness(t, false, Options{})
	ctx := context.Background()
	first := h.initialize(t, "report-a")
	second := h.initialize(t, "report-b")

	h.adapter.verifyRes = VerifyResult{Confirmed: true, ProviderReference: "tx-1"}
	_, err := h.svc.Verify(ctx, VerifyPaymentRequest{PaymentID: first, Proof: "tx-1"})
	require.NoError(t, err)

	_, err = h.svc.Verify(ctx, VerifyPaymentRequest{PaymentID: second, Proof: "tx-1"})
	assert.True(t, utils.IsKind(err, utils.ErrorKindValidation))
	rec, _ := h.store.FindByID(ctx, second)
	assert.NotEqual(t, models.PaymentStatusCompleted, rec.Status)
}

// stallingPublisher blocks until its context ends, like a broker that never acks.
type stallingPublisher struct {
	mu          sync.Mutex
	hadDeadline bool
}

func (p *stallingPublisher) Publish(ctx context.Context, _ events.EntitlementGranted) error {
	_, ok := ctx.Deadline()
	p.mu.Lock()
	p.hadDeadline = ok
	p.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func TestVerify_PublishIsBounded(t *testing.T) {
	h := newHarness(t, false, Options{})
	pub := &stallingPublisher{}
	h.svc.publisher = pub
	h.svc.publishTimeout = 50 * time.Millisecond
	paymentID := h.initialize(t, "report-a")

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Verify(context.Background(), VerifyPaymentRequest{PaymentID: paymentID})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err, "a stuck broker does not fail the verify")
	case <-time.After(2 * time.Second):
		t.Fatal("verify waited on the publisher past its timeout")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.True(t, pub.hadDeadline)
}

func TestHandleWebhook_DeliveredTwice(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()
	paymentID := h.initialize(t, "report-a")
	body := webhookBody(t, WebhookEvent{ID: "evt-1", Type: "charge:confirmed", PaymentID: paymentID, Status: models.PaymentStatusCompleted})
	sig := Sign(body, testWebhookSecret)

	first := h.svc.HandleWebhook(ctx, "crypto", body, sig)
	assert.True(t, first.Processed)

	second := h.svc.HandleWebhook(ctx, "crypto", body, sig)
	assert.False(t, second.Processed)
	assert.True(t, second.Duplicate)

	rec, _ := h.store.FindByID(ctx, paymentID)
	assert.Equal(t, models.PaymentStatusCompleted, rec.Status)
	assert.Len(t, h.recorder.Events(), 1)

	logged, ok := h.eventLog.Get("crypto", "evt-1")
	require.True(t, ok)
	assert.NotNil(t, logged.ProcessedAt)
	assert.Nil(t, logged.ProcessingError)
}

func TestHandleWebhook_RedeliveryWithNewEventIDIsNoop(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()
	paymentID := h.initialize(t, "report-a")

	for _, id := range []string{"evt-1", "evt-2"} {
		body := webhookBody(t, WebhookEvent{ID: id, Type: "charge:confirmed", PaymentID: paymentID, Status: models.PaymentStatusCompleted})
		h.svc.HandleWebhook(ctx, "", body, Sign(body, testWebhookSecret))
	}
	// a late failure event cannot undo completion
	body := webhookBody(t, WebhookEvent{ID: "evt-3", Type: "charge:failed", PaymentID: paymentID, Status: models.PaymentStatusFailed})
	res := h.svc.HandleWebhook(ctx, "crypto", body, Sign(body, testWebhookSecret))
	assert.False(t, res.Processed)

	rec, _ := h.store.FindByID(ctx, paymentID)
	assert.Equal(t, models.PaymentStatusCompleted, rec.Status)
	assert.Len(t, h.recorder.Events(), 1)
}

func TestHandleWebhook_SignaturePolicy(t *testing.T) {
	ctx := context.Background()

	prod := newHarness(t, true, Options{})
	paymentID := prod.initialize(t, "report-a")
	body := webhookBody(t, WebhookEvent{ID: "evt-1", Type: "charge:confirmed", PaymentID: paymentID, Status: models.PaymentStatusCompleted})

	res := prod.svc.HandleWebhook(ctx, "crypto", body, Sign(body, "wrong-secret"))
	assert.False(t, res.Processed)
	assert.Equal(t, "invalid signature", res.Reason)
	res = prod.svc.HandleWebhook(ctx, "crypto", body, "")
	assert.False(t, res.Processed)
	rec, _ := prod.store.FindByID(ctx, paymentID)
	assert.Equal(t, models.PaymentStatusPending, rec.Status)
	_, logged := prod.eventLog.Get("crypto", "evt-1")
	assert.False(t, logged, "rejected events are not recorded")

	dev := newHarness(t, false, Options{})
	paymentID = dev.initialize(t, "report-a")
	body = webhookBody(t, WebhookEvent{ID: "evt-1", Type: "charge:confirmed", PaymentID: paymentID, Status: models.PaymentStatusCompleted})
	res = dev.svc.HandleWebhook(ctx, "crypto", body, "")
	assert.True(t, res.Processed, "dev mode tolerates a missing signature")
}

func TestHandleWebhook_IgnoredAndFailedEvents(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()
	paymentID := h.initialize(t, "report-a")

	body := webhookBody(t, WebhookEvent{ID: "evt-0", Type: "charge:created", PaymentID: paymentID})
	res := h.svc.HandleWebhook(ctx, "crypto", body, Sign(body, testWebhookSecret))
	assert.False(t, res.Processed)
	assert.Equal(t, "event type ignored", res.Reason)

	body = webhookBody(t, WebhookEvent{ID: "evt-1", Type: "charge:confirmed", PaymentID: "unknown", Status: models.PaymentStatusCompleted})
	res = h.svc.HandleWebhook(ctx, "crypto", body, Sign(body, testWebhookSecret))
	assert.False(t, res.Processed)
	logged, ok := h.eventLog.Get("crypto", "evt-1")
	require.True(t, ok)
	require.NotNil(t, logged.ProcessingError)

	body = webhookBody(t, WebhookEvent{ID: "evt-2", Type: "charge:confirmed", PaymentID: paymentID, Status: models.PaymentStatusCompleted,
		Amount: decimal.NewFromInt(1), Currency: "USD"})
	res = h.svc.HandleWebhook(ctx, "crypto", body, Sign(body, testWebhookSecret))
	assert.False(t, res.Processed, "amount mismatch is not applied")

	body = webhookBody(t, WebhookEvent{ID: "evt-3", Type: "charge:expired", ProviderReference: "ref-" + paymentID, Status: models.PaymentStatusExpired})
	res = h.svc.HandleWebhook(ctx, "crypto", body, Sign(body, testWebhookSecret))
	assert.True(t, res.Processed)
	rec, _ := h.store.FindByID(ctx, paymentID)
	assert.Equal(t, models.PaymentStatusExpired, rec.Status)

	res = h.svc.HandleWebhook(ctx, "paypal", body, Sign(body, testWebhookSecret))
	assert.Equal(t, "unsupported provider", res.Reason)
	assert.Empty(t, h.recorder.Events())
}

func TestVerifyAndWebhookRace(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()
	paymentID := h.initialize(t, "report-a")
	body := webhookBody(t, WebhookEvent{ID: "evt-1", Type: "charge:confirmed", PaymentID: paymentID, Status: models.PaymentStatusCompleted})
	sig := Sign(body, testWebhookSecret)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.svc.Verify(ctx, VerifyPaymentRequest{PaymentID: paymentID})
		}()
		go func() {
			defer wg.Done()
			h.svc.HandleWebhook(ctx, "crypto", body, sig)
		}()
	}
	wg.Wait()

	rec, _ := h.store.FindByID(ctx, paymentID)
	assert.Equal(t, models.PaymentStatusCompleted, rec.Status)
	assert.Len(t, h.recorder.Events(), 1)
}

func TestRedeem(t *testing.T) {
	hashed, err := utils.HashAccessCode("BETA-2024")
	require.NoError(t, err)
	h := newHarness(t, false, Options{BetaAccessCode: string(hashed), CouponCodes: []string{"LAUNCH50"}})
	ctx := context.Background()

	res, err := h.svc.Redeem(ctx, RedeemRequest{ReportID: "report-a", Code: "BETA-2024"})
	require.NoError(t, err)
	assert.Equal(t, models.ProvenanceBeta, res.Provenance)
	claims, err := h.issuer.Verify(res.Token)
	require.NoError(t, err)
	assert.True(t, entitlement.IsEntitled(claims, "report-a"))
	assert.False(t, entitlement.IsEntitled(claims, "report-b"))

	res, err = h.svc.Redeem(ctx, RedeemRequest{ReportID: "report-b", Code: " LAUNCH50 "})
	require.NoError(t, err)
	assert.Equal(t, models.ProvenanceCoupon, res.Provenance)

	_, err = h.svc.Redeem(ctx, RedeemRequest{ReportID: "report-a", Code: "guess"})
	assert.True(t, utils.IsKind(err, utils.ErrorKindAuthorization))
	_, err = h.svc.Redeem(ctx, RedeemRequest{ReportID: "report-x", Code: "LAUNCH50"})
	assert.True(t, utils.IsKind(err, utils.ErrorKindNotFound))
	_, err = h.svc.Redeem(ctx, RedeemRequest{ReportID: "report-a"})
	assert.True(t, utils.IsKind(err, utils.ErrorKindValidation))

	got := h.recorder.Events()
	require.Len(t, got, 2)
	assert.Empty(t, got[0].PaymentID)
}

func TestRedeem_NoCodesConfigured(t *testing.T) {
	h := newHarness(t, false, Options{})
	_, err := h.svc.Redeem(context.Background(), RedeemRequest{ReportID: "report-a", Code: "anything"})
	assert.True(t, utils.IsKind(err, utils.ErrorKindAuthorization))
}

func TestStatus(t *testing.T) {
	h := newHarness(t, false, Options{})
	paymentID := h.initialize(t, "report-a")

	res, err := h.svc.Status(context.Background(), paymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, res.Status)
	assert.Equal(t, "report-a", res.ReportID)

	_, err = h.svc.Status(context.Background(), "missing")
	assert.True(t, utils.IsKind(err, utils.ErrorKindNotFound))
}
