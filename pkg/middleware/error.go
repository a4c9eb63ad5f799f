package middleware

import (
	"misp-controlplane/pkg/errutil"
	"misp-controlplane/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorRenderer writes a BaseError to the response.
type ErrorRenderer func(c *gin.Context, status int, err errutil.BaseError)

// Error renders the last error attached with c.Error once the handler chain
// returns. Errors that are not a BaseError are reported as internal.
func Error(render ErrorRenderer) gin.HandlerFunc {
	if render == nil {
		render = RenderJSON
	}

	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		be := errutil.From(last.Err)
		status := be.Code.HTTPStatus()
		if status >= 500 {
			logger.WithTrace(c.Request.Context()).Error("request failed",
				zap.String("path", c.FullPath()),
				zap.String("code", string(be.Code)),
				zap.Error(last.Err),
			)
		}

		render(c, status, be)
	}
}

func RenderJSON(c *gin.Context, status int, err errutil.BaseError) {
	c.AbortWithStatusJSON(status, err.JSON())
}
