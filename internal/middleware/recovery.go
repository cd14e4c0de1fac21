package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callcore/pkg/logger"
	"callcore/pkg/response"
)

// Recovery converts panics into 500 responses with a stack trace in the log
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))
				response.InternalError(c, "internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
