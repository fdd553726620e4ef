package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pathway_backend/config"
	"github.com/mmdatafocus/pathway_backend/entitlement"
	"github.com/mmdatafocus/pathway_backend/middlewares"
	"github.com/mmdatafocus/pathway_backend/payments"
	"github.com/mmdatafocus/pathway_backend/utils"
)

const maxWebhookBody = 1 << 20

// bindJSON decodes the body into req. Field presence is checked by the service.
func bindJSON(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return utils.NewValidationError("request body must be a JSON object", err)
	}
	return nil
}

func (h *Handler) InitializePayment(c *gin.Context) {
	var req payments.InitializeRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	res, err := h.payments.Initialize(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"paymentId":           res.PaymentID,
		"paymentUrlOrAddress": res.PaymentURLOrAddress,
		"provider":            res.Provider,
		"status":              res.Status,
		"addresses":           res.Addresses,
	})
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	var req payments.VerifyPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	res, err := h.payments.Verify(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondToken(c, res)
}

func (h *Handler) RedeemCode(c *gin.Context) {
	var req payments.RedeemRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	res, err := h.payments.Redeem(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondToken(c, res)
}

func respondToken(c *gin.Context, res *payments.TokenResult) {
	body := gin.H{
		"success":    true,
		"token":      res.Token,
		"reportId":   res.ReportID,
		"provenance": res.Provenance,
	}
	if res.PaymentID != "" {
		body["paymentId"] = res.PaymentID
	}
	c.JSON(http.StatusOK, body)
}

// Webhook always answers 200 so the provider does not retry; the outcome is in the body.
func (h *Handler) Webhook(c *gin.Context) {
	// Empty selects the configured default provider.
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		config.LogError(h.logger, "handlers", "Webhook", "read webhook body", provider, err)
		c.JSON(http.StatusOK, gin.H{"success": true, "processed": false, "reason": "unreadable body"})
		return
	}

	signature := ""
	if header := h.payments.SignatureHeader(provider); header != "" {
		signature = c.GetHeader(header)
	}
	res := h.payments.HandleWebhook(c.Request.Context(), provider, body, signature)

	resp := gin.H{"success": true, "processed": res.Processed}
	if res.Duplicate {
		resp["duplicate"] = true
	}
	if res.EventType != "" {
		resp["eventType"] = res.EventType
	}
	if res.Reason != "" {
		resp["reason"] = res.Reason
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) VerifyStatus(c *gin.Context) {
	reportID := strings.TrimSpace(c.Query("reportId"))
	if reportID == "" {
		h.respondError(c, utils.NewValidationError("reportId is required"))
		return
	}
	claims := middlewares.ClaimsFromContext(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"reportId": reportID,
		"isPaid":   entitlement.IsEntitled(claims, reportID),
	})
}

func (h *Handler) PaymentStatus(c *gin.Context) {
	res, err := h.payments.Status(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"paymentId": res.PaymentID,
		"reportId":  res.ReportID,
		"status":    res.Status,
		"provider":  res.Provider,
	})
}
