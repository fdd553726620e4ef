package middlewares

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pathway_backend/entitlement"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newIssuer(t *testing.T) *entitlement.Issuer {
	t.Helper()
	i, err := entitlement.NewIssuer("middleware-secret", 0)
	require.NoError(t, err)
	return i
}

func claimsRouter(issuer *entitlement.Issuer, mode AuthMode) *gin.Engine {
	r := gin.New()
	r.GET("/claims", Entitlement(issuer, mode), func(c *gin.Context) {
		claims := ClaimsFromContext(c.Request.Context())
		if claims == nil {
			c.String(http.StatusOK, "none")
			return
		}
		c.String(http.StatusOK, claims.ReportID)
	})
	return r
}

func get(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEntitlement_Required(t *testing.T) {
	issuer := newIssuer(t)
	r := claimsRouter(issuer, AuthRequired)
	token, err := issuer.IssueOverride("report-a", models.ProvenanceBeta)
	require.NoError(t, err)

	w := get(r, "/claims", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"authentication required"}`, w.Body.String())

	w = get(r, "/claims", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/claims", "Bearer not-a-token")
	assert.Equal(t, http.StatusForbidden, w.Code)

	other, err := entitlement.NewIssuer("other-secret", 0)
	require.NoError(t, err)
	foreign, err := other.IssueOverride("report-a", models.ProvenanceBeta)
	require.NoError(t, err)
	w = get(r, "/claims", "Bearer "+foreign)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(r, "/claims", "bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "report-a", w.Body.String())
}

func TestEntitlement_Optional(t *testing.T) {
	issuer := newIssuer(t)
	r := claimsRouter(issuer, AuthOptional)
	token, err := issuer.IssueOverride("report-a", models.ProvenanceCoupon)
	require.NoError(t, err)

	assert.Equal(t, "none", get(r, "/claims", "").Body.String())
	assert.Equal(t, "none", get(r, "/claims", "Bearer garbage").Body.String())
	assert.Equal(t, "report-a", get(r, "/claims", "Bearer "+token).Body.String())
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("  BEARER   abc "))
	assert.Equal(t, "", bearerToken("Bearer "))
	assert.Equal(t, "", bearerToken("abc"))
	assert.Equal(t, "", bearerToken(""))
}

func TestCorrelationID(t *testing.T) {
	r := gin.New()
	r.Use(CorrelationID())
	r.GET("/cid", func(c *gin.Context) {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		ip, _ := utils.GetClientIPFromContext(c.Request.Context())
		c.String(http.StatusOK, cid+"|"+ip)
	})

	req := httptest.NewRequest(http.MethodGet, "/cid", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(CorrelationHeader))
	assert.Contains(t, w.Body.String(), "abc-123|")

	w = get(r, "/cid", "")
	assert.NotEmpty(t, w.Header().Get(CorrelationHeader))
}

func TestLocalRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(nil, 3, time.Hour, nil))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, get(r, "/ping", "").Code)
	}
	w := get(r, "/ping", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
}

func TestLocalRateLimiter_DropsIdleClients(t *testing.T) {
	rl := NewLocalRateLimiter(2, time.Minute)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	for i := 0; i < 100; i++ {
		assert.True(t, rl.allow(fmt.Sprintf("10.0.0.%d", i)))
	}
	assert.True(t, rl.allow("10.0.1.1"))
	assert.True(t, rl.allow("10.0.1.1"))
	assert.False(t, rl.allow("10.0.1.1"))
	assert.Len(t, rl.limiters, 101)

	// only the active client survives the next sweep
	clock = clock.Add(30 * time.Second)
	rl.allow("10.0.1.1")
	clock = clock.Add(40 * time.Second)
	rl.allow("10.0.1.1")
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "10.0.1.1")

	// a returning client starts with a full bucket
	assert.True(t, rl.allow("10.0.0.7"))
	assert.True(t, rl.allow("10.0.0.7"))
	assert.False(t, rl.allow("10.0.0.7"))
}

func TestErrorLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := gin.New()
	r.Use(ErrorLogger(logger))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusInternalServerError)
	})

	get(r, "/ok", "")
	assert.Empty(t, hook.Entries)
	get(r, "/fail", "")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "/fail", hook.LastEntry().Data["path"])
}
