package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pathway_backend/entitlement"
	"github.com/mmdatafocus/pathway_backend/middlewares"
	"github.com/mmdatafocus/pathway_backend/payments"
	"github.com/mmdatafocus/pathway_backend/reports"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	payments   *payments.Service
	reports    *reports.Service
	issuer     *entitlement.Issuer
	logger     *logrus.Logger
	production bool
}

func New(paymentSvc *payments.Service, reportSvc *reports.Service, issuer *entitlement.Issuer, logger *logrus.Logger, production bool) *Handler {
	return &Handler{
		payments:   paymentSvc,
		reports:    reportSvc,
		issuer:     issuer,
		logger:     logger,
		production: production,
	}
}

// Register mounts every route. paymentLimiter, when non-nil, guards /payment.
func (h *Handler) Register(r *gin.Engine, paymentLimiter gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	report := r.Group("/report")
	report.POST("", h.CreateReport)
	report.GET("/:id", middlewares.Entitlement(h.issuer, middlewares.AuthOptional), h.GetReport)
	report.GET("/:id/pdf", middlewares.Entitlement(h.issuer, middlewares.AuthRequired), h.GetReportPDF)

	payment := r.Group("/payment")
	if paymentLimiter != nil {
		payment.Use(paymentLimiter)
	}
	payment.POST("/initialize", h.InitializePayment)
	payment.POST("/verify", h.VerifyPayment)
	payment.POST("/redeem", h.RedeemCode)
	payment.POST("/webhook", h.Webhook)
	payment.POST("/webhook/:provider", h.Webhook)
	payment.GET("/verify-status", middlewares.Entitlement(h.issuer, middlewares.AuthRequired), h.VerifyStatus)
	payment.GET("/:paymentId", h.PaymentStatus)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "route not found"})
	})
}
