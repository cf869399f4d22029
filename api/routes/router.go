package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kanghyki/badang-post-office/api/controllers"
	"github.com/kanghyki/badang-post-office/api/middleware"
	"github.com/kanghyki/badang-post-office/pkg/config"
	"github.com/kanghyki/badang-post-office/pkg/logger"
)

type RouterParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         controllers.Pinger
	Redis      controllers.Pinger
	Postcards  *controllers.PostcardController
	Registry   *prometheus.Registry
}

// NewRouter wires the delivery worker's HTTP surface: health probes, metrics
// and the postcard delivery operations.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(params.Logger),
		middleware.RequestID(params.Logger),
		middleware.Logging(params.Logger),
	)

	r.Get("/healthz", controllers.HealthLive(params.Config))
	r.Get("/readyz", controllers.HealthReady(params.Config, params.DB, params.Redis))

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	if params.Postcards != nil {
		r.Route("/v1/postcards/{postcardID}", func(r chi.Router) {
			r.Post("/send", params.Postcards.Send)
			r.Post("/cancel", params.Postcards.Cancel)
			r.Post("/reschedule", params.Postcards.Reschedule)
			r.Post("/resend", params.Postcards.Resend)
			r.Get("/events", params.Postcards.Events)
		})
	}

	return r
}
