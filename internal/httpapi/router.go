package httpapi

import (
	"net/http"

	"misp-controlplane/pkg/health"
	"misp-controlplane/pkg/middleware"
	"misp-controlplane/pkg/otelcol"
	"misp-controlplane/services/misp"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		provideRegistry,
		NewHandler,
		NewRouter,
		func(e *gin.Engine) http.Handler { return e },
	),
)

func provideRegistry(s *misp.Service) Registry {
	return s
}

type RouterParams struct {
	fx.In
	Handler *Handler
	Health  health.HealthService `optional:"true"`
}

// NewRouter builds the gin engine serving the MISP API plus health and
// metrics endpoints.
func NewRouter(p RouterParams) *gin.Engine {
	useJSONFieldNames()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.AccessLog(),
		middleware.Error(renderError),
	)
	r.NoRoute(noRoute)

	if p.Health != nil {
		health.RegisterRoutes(r, p.Health)
	}
	r.GET("/metrics", gin.WrapH(otelcol.MetricsHandler()))

	p.Handler.RegisterRoutes(r)
	return r
}
