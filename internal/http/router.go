// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carpool/internal/http/handlers"
	"carpool/internal/http/middleware"
	"carpool/internal/infra"
	"carpool/internal/modules/carpool"
)

type RouterDeps struct {
	Carpools *carpool.Service
	Verifier infra.TokenVerifier
	Logger   *slog.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Logger), middleware.Metrics(), middleware.Logging(d.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(d.Verifier))
	h := handlers.NewCarpoolHandler(d.Carpools)
	api.POST("/carpools", h.Create)
	api.GET("/carpools/:id", h.Get)
	api.POST("/carpools/:id/join", h.Join)
	api.POST("/carpools/:id/start", h.Start)
	api.POST("/carpools/:id/finish", h.Finish)
	api.POST("/carpools/:id/cancel", h.Cancel)

	return r
}
