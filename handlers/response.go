// Package handlers is the HTTP surface for reports and payments.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pathway_backend/utils"
)

func statusFor(err error) int {
	switch utils.KindOf(err) {
	case utils.ErrorKindValidation:
		return http.StatusBadRequest
	case utils.ErrorKindNotFound:
		return http.StatusNotFound
	case utils.ErrorKindAuthentication:
		return http.StatusUnauthorized
	case utils.ErrorKindAuthorization:
		return http.StatusForbidden
	case utils.ErrorKindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {success:false, message}. The internal cause is added as
// "detail" only outside production, and 5xx causes are always sent to the error log.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	body := gin.H{"success": false, "message": utils.PublicMessage(err)}
	if !h.production {
		body["detail"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}
