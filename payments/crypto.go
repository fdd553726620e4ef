package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/mmdatafocus/pathway_backend/config"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/shopspring/decimal"
)

const (
	cryptoDefaultBaseURL = "https://api.commerce.coinbase.com"
	cryptoAPIVersion     = "2018-03-22"
)

var cryptoEventStatus = map[string]models.PaymentStatus{
	"charge:confirmed": models.PaymentStatusCompleted,
	"charge:resolved":  models.PaymentStatusCompleted,
	"charge:failed":    models.PaymentStatusFailed,
	"charge:expired":   models.PaymentStatusExpired,
}

// CryptoAdapter is the address-based provider: a charge exposes one deposit
// address per network and a hosted payment page.
type CryptoAdapter struct {
	settings config.CryptoSettings
	client   *apiClient
}

func NewCryptoAdapter(settings config.CryptoSettings, timeout time.Duration) *CryptoAdapter {
	if settings.BaseURL == "" {
		settings.BaseURL = cryptoDefaultBaseURL
	}
	if len(settings.Currencies) == 0 {
		settings.Currencies = []string{"USD"}
	}
	return &CryptoAdapter{
		settings: settings,
		client: newAPIClient(string(models.ProvenanceCrypto), strings.TrimRight(settings.BaseURL, "/"), timeout, map[string]string{
			"X-CC-Api-Key": settings.APIKey,
			"X-CC-Version": cryptoAPIVersion,
			"Content-Type": "application/json",
			"Accept":       "application/json",
		}),
	}
}

func (a *CryptoAdapter) Name() string                  { return string(models.ProvenanceCrypto) }
func (a *CryptoAdapter) Provenance() models.Provenance { return models.ProvenanceCrypto }
func (a *CryptoAdapter) SignatureHeader() string       { return "X-CC-Webhook-Signature" }

func (a *CryptoAdapter) SupportsCurrency(code string) bool {
	return supports(a.settings.Currencies, code)
}

type ccMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type ccChargeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  ccMoney           `json:"local_price"`
	Metadata    map[string]string `json:"metadata"`
}

type ccCharge struct {
	Code      string            `json:"code"`
	HostedURL string            `json:"hosted_url"`
	Addresses map[string]string `json:"addresses"`
	Metadata  map[string]string `json:"metadata"`
	Pricing   struct {
		Local ccMoney `json:"local"`
	} `json:"pricing"`
	Timeline []struct {
		Status string `json:"status"`
	} `json:"timeline"`
}

func (c ccCharge) lastStatus() string {
	if len(c.Timeline) == 0 {
		return ""
	}
	return c.Timeline[len(c.Timeline)-1].Status
}

type ccChargeResponse struct {
	Data ccCharge `json:"data"`
}

func (a *CryptoAdapter) checkConfigured() error {
	if a.settings.APIKey == "" {
		return utils.NewConfigurationError("payment provider is not configured", errors.New("missing CRYPTO_API_KEY"))
	}
	return nil
}

func (a *CryptoAdapter) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if err := a.checkConfigured(); err != nil {
		return Intent{}, err
	}
	body := ccChargeRequest{
		Name:        "Pathway report",
		Description: "Full report " + req.ReportID,
		PricingType: "fixed_price",
		LocalPrice: ccMoney{
			Amount:   req.Amount.StringFixed(2),
			Currency: utils.NormalizeCurrency(req.Currency),
		},
		Metadata: map[string]string{
			"payment_id": req.PaymentID,
			"report_id":  req.ReportID,
		},
	}

	var resp ccChargeResponse
	if err := a.client.do(ctx, "POST", "/charges", body, &resp); err != nil {
		if errors.Is(err, errProviderNotFound) {
			return Intent{}, utils.NewConfigurationError("payment provider is misconfigured", err)
		}
		return Intent{}, err
	}
	if resp.Data.Code == "" {
		return Intent{}, utils.NewUpstreamError("payment provider returned no charge")
	}
	return Intent{
		ProviderReference: resp.Data.Code,
		RedirectURL:       resp.Data.HostedURL,
		Addresses:         resp.Data.Addresses,
		Pending:           true,
	}, nil
}

// Verify reads the charge. The proof is the charge code and defaults to the stored reference.
func (a *CryptoAdapter) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	if err := a.checkConfigured(); err != nil {
		return VerifyResult{}, err
	}
	code := strings.TrimSpace(req.Proof)
	if code == "" {
		code = req.ProviderReference
	}
	if code == "" {
		return VerifyResult{}, utils.NewValidationError("proof is required")
	}

	var resp ccChargeResponse
	if err := a.client.do(ctx, "GET", "/charges/"+url.PathEscape(code), nil, &resp); err != nil {
		if errors.Is(err, errProviderNotFound) {
			return VerifyResult{}, utils.NewValidationError("payment not confirmed", err)
		}
		return VerifyResult{}, err
	}

	charge := resp.Data
	status := charge.lastStatus()
	result := VerifyResult{ProviderStatus: status, ProviderReference: charge.Code}
	if charge.Metadata["payment_id"] != req.PaymentID {
		result.ProviderStatus = "payment_mismatch"
		return result, nil
	}

	switch status {
	case "COMPLETED", "RESOLVED":
		local, err := decimal.NewFromString(charge.Pricing.Local.Amount)
		if err != nil || !amountMatches(req.Amount, req.Currency, local, charge.Pricing.Local.Currency) {
			result.ProviderStatus = "amount_mismatch"
			return result, nil
		}
		result.Confirmed = true
	case "EXPIRED":
		result.Outcome = models.PaymentStatusExpired
	case "CANCELED":
		result.Outcome = models.PaymentStatusFailed
	}
	return result, nil
}

type ccWebhook struct {
	Event struct {
		ID   string   `json:"id"`
		Type string   `json:"type"`
		Data ccCharge `json:"data"`
	} `json:"event"`
}

func (a *CryptoAdapter) ParseWebhook(body []byte) (WebhookEvent, error) {
	var w ccWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return WebhookEvent{}, utils.NewValidationError("malformed webhook payload", err)
	}
	if w.Event.ID == "" || w.Event.Type == "" {
		return WebhookEvent{}, utils.NewValidationError("webhook payload is missing event id or type")
	}

	ev := WebhookEvent{
		ID:                w.Event.ID,
		Type:              w.Event.Type,
		PaymentID:         w.Event.Data.Metadata["payment_id"],
		ProviderReference: w.Event.Data.Code,
		Status:            cryptoEventStatus[w.Event.Type],
		Currency:          utils.NormalizeCurrency(w.Event.Data.Pricing.Local.Currency),
	}
	if amt, err := decimal.NewFromString(w.Event.Data.Pricing.Local.Amount); err == nil {
		ev.Amount = amt
	}
	return ev, nil
}
