// Package payments creates provider payment intents, confirms them and turns
// confirmed payments into entitlement tokens.
package payments

import (
	"context"
	"sort"
	"strings"

	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/shopspring/decimal"
)

type IntentRequest struct {
	PaymentID string
	ReportID  string
	Amount    decimal.Decimal
	Currency  string
}

// Intent is what the caller needs to pay: a checkout redirect or deposit addresses.
type Intent struct {
	ProviderReference string
	RedirectURL       string
	Addresses         map[string]string
	// Pending is set when confirmation arrives asynchronously.
	Pending bool
}

// URLOrAddress prefers the redirect URL and falls back to the first address by network name.
func (i Intent) URLOrAddress() string {
	if i.RedirectURL != "" {
		return i.RedirectURL
	}
	networks := make([]string, 0, len(i.Addresses))
	for n := range i.Addresses {
		networks = append(networks, n)
	}
	sort.Strings(networks)
	if len(networks) == 0 {
		return ""
	}
	return i.Addresses[networks[0]]
}

type VerifyRequest struct {
	PaymentID         string
	ProviderReference string
	Proof             string
	Amount            decimal.Decimal
	Currency          string
}

type VerifyResult struct {
	Confirmed         bool
	ProviderStatus    string
	ProviderReference string
	// Outcome is failed or expired when the provider reports a final non-success, else empty.
	Outcome models.PaymentStatus
}

// WebhookEvent is a provider notification normalized for dispatch.
type WebhookEvent struct {
	ID                string
	Type              string
	PaymentID         string
	ProviderReference string
	// Status is empty for event types outside the allow-list.
	Status   models.PaymentStatus
	Amount   decimal.Decimal
	Currency string
}

// Adapter is one payment provider.
type Adapter interface {
	Name() string
	Provenance() models.Provenance
	SupportsCurrency(code string) bool
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error)
	SignatureHeader() string
	ParseWebhook(body []byte) (WebhookEvent, error)
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, utils.NewValidationError("unsupported payment provider")
	}
	return a, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func supports(currencies []string, code string) bool {
	code = utils.NormalizeCurrency(code)
	for _, c := range currencies {
		if utils.NormalizeCurrency(c) == code {
			return true
		}
	}
	return false
}
