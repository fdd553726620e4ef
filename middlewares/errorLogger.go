package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/sirupsen/logrus"
)

// ErrorLogger logs only requests that recorded errors with c.Error.
func ErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"method":        c.Request.Method,
				"path":          c.FullPath(),
				"status":        c.Writer.Status(),
				"correlationId": cid,
			}).Error(c.Errors.String())
		}
	}
}
