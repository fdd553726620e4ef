package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/pathway_backend/config"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/shopspring/decimal"
)

const (
	lemonSqueezyDefaultBaseURL = "https://api.lemonsqueezy.com"
	lemonSqueezyOrderPaid      = "paid"
	lemonSqueezyOrderPending   = "pending"
	lemonSqueezyOrderFailed    = "failed"
	lemonSqueezyEventOrder     = "order_created"
)

// LemonSqueezyAdapter is the checkout-redirect provider.
type LemonSqueezyAdapter struct {
	settings config.LemonSqueezySettings
	client   *apiClient
}

func NewLemonSqueezyAdapter(settings config.LemonSqueezySettings, timeout time.Duration) *LemonSqueezyAdapter {
	if settings.BaseURL == "" {
		settings.BaseURL = lemonSqueezyDefaultBaseURL
	}
	if len(settings.Currencies) == 0 {
		settings.Currencies = []string{"USD"}
	}
	return &LemonSqueezyAdapter{
		settings: settings,
		client: newAPIClient(string(models.ProvenanceLemonSqueezy), strings.TrimRight(settings.BaseURL, "/"), timeout, map[string]string{
			"Authorization": "Bearer " + settings.APIKey,
			"Accept":        "application/vnd.api+json",
			"Content-Type":  "application/vnd.api+json",
		}),
	}
}

func (a *LemonSqueezyAdapter) Name() string                  { return string(models.ProvenanceLemonSqueezy) }
func (a *LemonSqueezyAdapter) Provenance() models.Provenance { return models.ProvenanceLemonSqueezy }
func (a *LemonSqueezyAdapter) SignatureHeader() string       { return "X-Signature" }

func (a *LemonSqueezyAdapter) SupportsCurrency(code string) bool {
	return supports(a.settings.Currencies, code)
}

func (a *LemonSqueezyAdapter) checkConfigured() error {
	var missing []string
	if a.settings.APIKey == "" {
		missing = append(missing, "LEMONSQUEEZY_API_KEY")
	}
	if a.settings.StoreID == "" {
		missing = append(missing, "LEMONSQUEEZY_STORE_ID")
	}
	if a.settings.VariantID == "" {
		missing = append(missing, "LEMONSQUEEZY_VARIANT_ID")
	}
	if len(missing) > 0 {
		return utils.NewConfigurationError("payment provider is not configured",
			fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

type lsRelation struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

type lsCheckoutRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			CustomPrice  int64 `json:"custom_price"`
			CheckoutData struct {
				Custom map[string]string `json:"custom"`
			} `json:"checkout_data"`
		} `json:"attributes"`
		Relationships struct {
			Store   lsRelation `json:"store"`
			Variant lsRelation `json:"variant"`
		} `json:"relationships"`
	} `json:"data"`
}

type lsCheckoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URL string `json:"url"`
		} `json:"attributes"`
	} `json:"data"`
}

type lsOrderAttributes struct {
	StoreID        int64  `json:"store_id"`
	Status         string `json:"status"`
	Total          int64  `json:"total"`
	Currency       string `json:"currency"`
	FirstOrderItem struct {
		VariantID int64 `json:"variant_id"`
	} `json:"first_order_item"`
}

type lsOrderResponse struct {
	Data struct {
		ID         string            `json:"id"`
		Attributes lsOrderAttributes `json:"attributes"`
	} `json:"data"`
}

func (a *LemonSqueezyAdapter) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if err := a.checkConfigured(); err != nil {
		return Intent{}, err
	}

	var body lsCheckoutRequest
	body.Data.Type = "checkouts"
	body.Data.Attributes.CustomPrice = utils.ToMinorUnits(req.Amount)
	body.Data.Attributes.CheckoutData.Custom = map[string]string{
		"payment_id": req.PaymentID,
		"report_id":  req.ReportID,
	}
	body.Data.Relationships.Store.Data.Type = "stores"
	body.Data.Relationships.Store.Data.ID = a.settings.StoreID
	body.Data.Relationships.Variant.Data.Type = "variants"
	body.Data.Relationships.Variant.Data.ID = a.settings.VariantID

	var resp lsCheckoutResponse
	if err := a.client.do(ctx, "POST", "/v1/checkouts", body, &resp); err != nil {
		if errors.Is(err, errProviderNotFound) {
			return Intent{}, utils.NewConfigurationError("payment provider is misconfigured", err)
		}
		return Intent{}, err
	}
	if resp.Data.Attributes.URL == "" {
		return Intent{}, utils.NewUpstreamError("payment provider returned no checkout url")
	}
	return Intent{
		ProviderReference: resp.Data.ID,
		RedirectURL:       resp.Data.Attributes.URL,
		Pending:           true,
	}, nil
}

// Verify confirms only the order a signed order_created webhook bound to this
// payment, so the proof alone never names someone else's order. Until that
// webhook arrives the payment stays pending.
func (a *LemonSqueezyAdapter) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	if err := a.checkConfigured(); err != nil {
		return VerifyResult{}, err
	}
	orderID := strings.TrimSpace(req.Proof)
	if orderID == "" {
		return VerifyResult{}, utils.NewValidationError("proof is required")
	}
	if orderID != req.ProviderReference {
		return VerifyResult{ProviderStatus: "awaiting_webhook"}, nil
	}

	var resp lsOrderResponse
	if err := a.client.do(ctx, "GET", "/v1/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		if errors.Is(err, errProviderNotFound) {
			return VerifyResult{}, utils.NewValidationError("payment not confirmed", err)
		}
		return VerifyResult{}, err
	}

	attrs := resp.Data.Attributes
	result := VerifyResult{ProviderStatus: attrs.Status, ProviderReference: resp.Data.ID}
	if !a.ownsOrder(attrs) {
		result.ProviderStatus = "order_mismatch"
		return result, nil
	}
	switch attrs.Status {
	case lemonSqueezyOrderPaid:
		if !amountMatches(req.Amount, req.Currency, utils.FromMinorUnits(attrs.Total), attrs.Currency) {
			result.ProviderStatus = "amount_mismatch"
			return result, nil
		}
		result.Confirmed = true
	case lemonSqueezyOrderFailed:
		result.Outcome = models.PaymentStatusFailed
	}
	return result, nil
}

// ownsOrder reports whether the order was placed in the configured store for the configured variant.
func (a *LemonSqueezyAdapter) ownsOrder(attrs lsOrderAttributes) bool {
	return strconv.FormatInt(attrs.StoreID, 10) == a.settings.StoreID &&
		strconv.FormatInt(attrs.FirstOrderItem.VariantID, 10) == a.settings.VariantID
}

type lsWebhook struct {
	Meta struct {
		EventName  string            `json:"event_name"`
		CustomData map[string]string `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string            `json:"id"`
		Type       string            `json:"type"`
		Attributes lsOrderAttributes `json:"attributes"`
	} `json:"data"`
}

// ParseWebhook has no delivery id to work with, so the event id is the event name plus the order id.
func (a *LemonSqueezyAdapter) ParseWebhook(body []byte) (WebhookEvent, error) {
	var w lsWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return WebhookEvent{}, utils.NewValidationError("malformed webhook payload", err)
	}
	if w.Meta.EventName == "" || w.Data.ID == "" {
		return WebhookEvent{}, utils.NewValidationError("webhook payload is missing event name or data id")
	}

	ev := WebhookEvent{
		ID:                w.Meta.EventName + ":" + w.Data.ID,
		Type:              w.Meta.EventName,
		PaymentID:         w.Meta.CustomData["payment_id"],
		ProviderReference: w.Data.ID,
		Currency:          utils.NormalizeCurrency(w.Data.Attributes.Currency),
	}
	if w.Meta.EventName == lemonSqueezyEventOrder {
		switch w.Data.Attributes.Status {
		case lemonSqueezyOrderPaid:
			ev.Status = models.PaymentStatusCompleted
			ev.Amount = utils.FromMinorUnits(w.Data.Attributes.Total)
		case lemonSqueezyOrderPending:
			// binds the order so a later verify can confirm it
			ev.Status = models.PaymentStatusPending
		case lemonSqueezyOrderFailed:
			ev.Status = models.PaymentStatusFailed
		}
	}
	return ev, nil
}

// amountMatches compares at minor-unit precision.
func amountMatches(want decimal.Decimal, wantCurrency string, got decimal.Decimal, gotCurrency string) bool {
	return utils.ToMinorUnits(want) == utils.ToMinorUnits(got) &&
		utils.NormalizeCurrency(wantCurrency) == utils.NormalizeCurrency(gotCurrency)
}
