package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	pkgzap "github.com/forbearing/querygate/logger/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery returns a middleware that recovers from panics, logging the
// panic and a redacted request dump through the Gin access logger rather
// than crashing the process.
func Recovery() gin.HandlerFunc {
	return RecoveryWithLogger(pkgzap.Gin, true)
}

// RecoveryWithLogger recovers from any panic and logs it via logger.
// stack controls whether the (large) goroutine stack trace is included.
func RecoveryWithLogger(logger *zap.Logger, stack bool) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		// A broken client connection isn't a condition that warrants a
		// full stack trace.
		var brokenPipe bool
		if ne, ok := recovered.(*net.OpError); ok {
			var se *os.SyscallError
			if errors.As(ne, &se) {
				seStr := strings.ToLower(se.Error())
				if strings.Contains(seStr, "broken pipe") ||
					strings.Contains(seStr, "connection reset by peer") {
					brokenPipe = true
				}
			}
		}

		if logger != nil {
			httpRequest, _ := httputil.DumpRequest(c.Request, false)
			headers := strings.Split(string(httpRequest), "\r\n")
			for idx, header := range headers {
				current := strings.SplitN(header, ":", 2)
				if current[0] == "Authorization" {
					headers[idx] = current[0] + ": *"
				}
			}
			headersToStr := strings.Join(headers, "\r\n")

			switch {
			case brokenPipe:
				logger.Error(fmt.Sprintf("%s\n%s", recovered, headersToStr))
			case stack:
				logger.Error(fmt.Sprintf("[Recovery] %s panic recovered:\n%s\n%s\n%s",
					timeFormat(time.Now()), headersToStr, recovered, debug.Stack()))
			default:
				logger.Error(fmt.Sprintf("[Recovery] %s panic recovered:\n%s\n%s",
					timeFormat(time.Now()), headersToStr, recovered))
			}
		}

		// If the connection is dead, we can't write a status to it.
		if brokenPipe {
			c.Error(recovered.(error)) //nolint:errcheck
			c.Abort()
		} else {
			c.AbortWithStatus(http.StatusInternalServerError)
		}
	})
}

func timeFormat(t time.Time) string {
	return t.Format("2006/01/02 - 15:04:05")
}
