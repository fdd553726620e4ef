package payments

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"order_created"}`)
	sig := Sign(body, "whsec")

	assert.True(t, VerifySignature(body, sig, []byte("whsec")))
	assert.True(t, VerifySignature(body, "sha256="+sig, []byte("whsec")))
	assert.False(t, VerifySignature(body, sig, []byte("other")))
	assert.False(t, VerifySignature([]byte(`{"event":"order_created" }`), sig, []byte("whsec")))
	assert.False(t, VerifySignature(body, "not-hex", []byte("whsec")))
	assert.False(t, VerifySignature(body, "", []byte("whsec")))
	assert.False(t, VerifySignature(body, sig, nil))
	assert.False(t, VerifySignature(nil, sig, []byte("whsec")))
}

func TestNewSignaturePolicy(t *testing.T) {
	assert.True(t, NewSignaturePolicy(true, false).RequireSignature)
	assert.True(t, NewSignaturePolicy(false, true).RequireSignature)
	assert.False(t, NewSignaturePolicy(false, false).RequireSignature)
}

func TestVerifier_Policy(t *testing.T) {
	body := []byte(`{"a":1}`)

	dev, err := NewVerifier("whsec", NewSignaturePolicy(false, false))
	require.NoError(t, err)
	assert.True(t, dev.Verify(body, ""), "dev tolerates a missing signature")
	assert.True(t, dev.Verify(body, Sign(body, "whsec")))
	assert.False(t, dev.Verify(body, Sign(body, "other")), "a present signature must be valid even in dev")

	prod, err := NewVerifier("whsec", NewSignaturePolicy(true, false))
	require.NoError(t, err)
	assert.False(t, prod.Verify(body, ""))
	assert.True(t, prod.Verify(body, Sign(body, "whsec")))

	_, err = NewVerifier("", NewSignaturePolicy(true, false))
	assert.True(t, utils.IsKind(err, utils.ErrorKindConfiguration))
}

// TestSignatureRejectionProperty: an identical body signed with a different secret
// never passes a production verifier.
func TestSignatureRejectionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("foreign secret rejected in production", prop.ForAll(
		func(body, secret, other string) bool {
			if secret == other {
				return true
			}
			v, err := NewVerifier(secret, NewSignaturePolicy(true, false))
			if err != nil {
				return false
			}
			return !v.Verify([]byte(body), Sign([]byte(body), other)) &&
				v.Verify([]byte(body), Sign([]byte(body), secret))
		},
		gen.AnyString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
