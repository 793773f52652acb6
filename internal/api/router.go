package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cbruun/smsbridge/internal/gateway"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/v1/health", h.Health)

	r.Get("/v1/scheduler/status", h.SchedulerStatus)
	r.Post("/v1/scheduler/start", h.SchedulerStart)
	r.Post("/v1/scheduler/stop", h.SchedulerStop)

	r.Post("/v1/messages", h.EnqueueMessage)
	r.Get("/v1/messages", h.ListMessages)

	r.Get("/v1/balance", h.Balance)

	r.Post(gateway.CallbackPath, h.DeliveryReport)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("smsbridge"))
	})

	return r
}
