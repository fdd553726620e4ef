package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mmdatafocus/pathway_backend/utils"
)

// SignaturePolicy decides whether an unsigned webhook may be processed.
// Build it with NewSignaturePolicy; production always requires a signature.
type SignaturePolicy struct {
	RequireSignature bool
}

func NewSignaturePolicy(production, requireInDev bool) SignaturePolicy {
	return SignaturePolicy{RequireSignature: production || requireInDev}
}

type Verifier struct {
	secret []byte
	policy SignaturePolicy
}

func NewVerifier(secret string, policy SignaturePolicy) (*Verifier, error) {
	if policy.RequireSignature && secret == "" {
		return nil, utils.NewConfigurationError("webhook secret is not configured")
	}
	return &Verifier{secret: []byte(secret), policy: policy}, nil
}

func (v *Verifier) Policy() SignaturePolicy {
	return v.policy
}

// Verify applies the policy. A missing signature passes only when the policy
// does not require one; a present signature must always be valid.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if strings.TrimSpace(signature) == "" {
		return !v.policy.RequireSignature
	}
	return VerifySignature(body, signature, v.secret)
}

// VerifySignature checks a hex HMAC-SHA256 of body. A "sha256=" prefix is accepted.
func VerifySignature(body []byte, signature string, secret []byte) bool {
	if len(body) == 0 || len(secret) == 0 {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, computeMAC(body, secret))
}

// Sign returns the hex signature a provider would send for body.
func Sign(body []byte, secret string) string {
	return hex.EncodeToString(computeMAC(body, []byte(secret)))
}

func computeMAC(body, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
