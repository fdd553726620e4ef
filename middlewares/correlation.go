package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/pathway_backend/utils"
)

const CorrelationHeader = "X-Correlation-Id"

// CorrelationID generates a correlation id once per request (or keeps the caller's)
// and stores it with the client IP on the request context.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationHeader)
		if cid == "" || len(cid) > 128 {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		ctx = utils.SetClientIPInContext(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Header(CorrelationHeader, cid)
		c.Next()
	}
}
