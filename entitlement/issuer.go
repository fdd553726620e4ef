package entitlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/utils"
)

// DefaultTTL matches "pay once, keep access".
const DefaultTTL = 365 * 24 * time.Hour

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, utils.NewConfigurationError("entitlement signing secret is not configured")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// IssueForPayment mints a token for a completed payment. The record must be read
// from the ledger after the completing transition, never from a cached copy.
func (i *Issuer) IssueForPayment(rec *models.PaymentRecord) (string, error) {
	if rec == nil || rec.Status != models.PaymentStatusCompleted {
		return "", utils.NewAuthorizationError("payment is not completed")
	}
	prov, err := models.ParseProvenance(rec.Provider)
	if err != nil || prov.IsOverride() {
		return "", fmt.Errorf("payment %s has unknown provider %q", rec.ID, rec.Provider)
	}
	return i.issue(rec.ReportID, rec.ID, prov)
}

// IssueOverride mints a token without payment evidence (beta code, coupon).
// It is still scoped to exactly one report.
func (i *Issuer) IssueOverride(reportID string, prov models.Provenance) (string, error) {
	if !prov.IsOverride() {
		return "", fmt.Errorf("provenance %q is not an override", prov)
	}
	return i.issue(reportID, "", prov)
}

func (i *Issuer) issue(reportID, paymentID string, prov models.Provenance) (string, error) {
	if reportID == "" {
		return "", utils.NewValidationError("reportId is required")
	}
	now := i.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		IsPaid:     true,
		ReportID:   reportID,
		Provenance: prov,
		PaymentID:  paymentID,
		StandardClaims: jwt.StandardClaims{
			Issuer:    tokenIssuer,
			Subject:   reportID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(i.ttl).Unix(),
		},
	})
	return t.SignedString(i.secret)
}

// Verify checks method, signature and expiry. Expiry is enforced here, at use time.
func (i *Issuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, utils.NewAuthenticationError("credential is required")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, utils.NewAuthorizationError("invalid or expired credential", err)
	}
	if !parsed.Valid {
		return nil, utils.NewAuthorizationError("invalid or expired credential")
	}
	if claims.ExpiresAt == 0 || claims.Issuer != tokenIssuer || claims.ReportID == "" {
		return nil, utils.NewAuthorizationError("invalid or expired credential", errors.New("missing required claims"))
	}
	return claims, nil
}
