package handlers

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pathway_backend/entitlement"
	"github.com/mmdatafocus/pathway_backend/middlewares"
	"github.com/mmdatafocus/pathway_backend/utils"
)

type createReportRequest struct {
	StudentInput json.RawMessage `json:"studentInput"`
}

func (h *Handler) CreateReport(c *gin.Context) {
	var req createReportRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	report, err := h.reports.Create(c.Request.Context(), req.StudentInput)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"reportId": report.ID,
		"report":   report,
		"isPaid":   false,
	})
}

// GetReport is public. A credential scoped to another report is ignored.
func (h *Handler) GetReport(c *gin.Context) {
	id := c.Param("id")
	claims := middlewares.ClaimsFromContext(c.Request.Context())
	paid := entitlement.IsEntitled(claims, id)

	report, err := h.reports.View(c.Request.Context(), id, paid)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"report":  report,
		"isPaid":  paid,
	})
}

func (h *Handler) GetReportPDF(c *gin.Context) {
	id := c.Param("id")
	claims := middlewares.ClaimsFromContext(c.Request.Context())
	if !entitlement.IsEntitled(claims, id) {
		h.respondError(c, utils.NewAuthorizationError("payment required for this report"))
		return
	}

	pdf, err := h.reports.RenderPDF(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", attachmentDisposition("pathway-"+id+".pdf"))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// attachmentDisposition quotes filename, using RFC 2231 encoding for non-ASCII names.
func attachmentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}
