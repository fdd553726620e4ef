// Package entitlement mints and verifies report access tokens.
package entitlement

import (
	"github.com/dgrijalva/jwt-go"
	"github.com/mmdatafocus/pathway_backend/models"
)

const tokenIssuer = "pathway"

// Claims bind one report to a paid (or overridden) entitlement.
type Claims struct {
	IsPaid     bool              `json:"isPaid"`
	ReportID   string            `json:"reportId"`
	Provenance models.Provenance `json:"provenance"`
	PaymentID  string            `json:"paymentId,omitempty"`
	jwt.StandardClaims
}

// IsEntitled is the scope check. A verified token only entitles its holder to the
// report it names; any other report is treated as unpaid.
func IsEntitled(claims *Claims, reportID string) bool {
	if claims == nil || reportID == "" {
		return false
	}
	return claims.IsPaid && claims.ReportID == reportID
}
