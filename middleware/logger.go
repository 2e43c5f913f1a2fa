package middleware

import (
	"time"

	pkgzap "github.com/forbearing/querygate/logger/zap"
	"github.com/forbearing/querygate/types/consts"
	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestID assigns a request ID via github.com/rs/xid when the caller
// didn't supply one (spec.md §6's requestContext.requestId), and stores it
// in the gin context under consts.RequestID for the adapter/response layer
// and the access log to read back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if len(id) == 0 {
			id = xid.New().String()
		}
		c.Set(consts.RequestID, id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// Logger returns a middleware that writes one structured access-log line
// per request to the Gin access logger.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		c.Set(consts.CtxRoute, path)
		c.Next()

		//nolint:prealloc
		fields := []zapcore.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String(consts.CtxUsername, c.GetString(consts.CtxUsername)),
			zap.String(consts.CtxUserID, c.GetString(consts.CtxUserID)),
			zap.String(consts.RequestID, c.GetString(consts.RequestID)),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Duration("latency", time.Since(start)),
		}

		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				fields := append(fields, zap.String("error", e))
				pkgzap.Gin.Error(path, fields...)
			}
		} else {
			pkgzap.Gin.Info(path, fields...)
		}
	}
}
