package controllers

import (
	"context"
	"net/http"

	"github.com/kanghyki/badang-post-office/api/responses"
	"github.com/kanghyki/badang-post-office/pkg/config"
)

// Pinger is any dependency whose liveness gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Badang-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, db, redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Badang-Env", cfg.App.Env)
		checks := map[string]string{}
		healthy := true
		for name, dep := range map[string]Pinger{"db": db, "redis": redis} {
			if dep == nil {
				continue
			}
			if err := dep.Ping(r.Context()); err != nil {
				checks[name] = "down"
				healthy = false
				continue
			}
			checks[name] = "up"
		}
		if !healthy {
			responses.WriteSuccessStatus(w, http.StatusServiceUnavailable, checks)
			return
		}
		checks["status"] = "ready"
		responses.WriteSuccess(w, checks)
	}
}
