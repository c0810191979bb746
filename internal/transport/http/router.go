// http — административный HTTP-интерфейс краулера: пробы, метрики,
// запуск прохода и очистка дубликатов.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger *slog.Logger
	// Timeout — таймаут /runs; CleanupTimeout — таймаут /cleanup (0 — без ограничения).
	Timeout        time.Duration
	CleanupTimeout time.Duration
	// Ready — флаг готовности для /healthz; nil — всегда готов.
	Ready *atomic.Bool
	// Gatherer — источник метрик для /metrics; nil — prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// RunContext — время жизни проходов, запущенных через POST /runs; nil — context.Background().
	RunContext context.Context
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		RequestID(),
		Logging(opts.Logger),
		Recover(),
	)

	h := newHandlers(svc, opts)

	root.Get("/livez", h.Livez)
	root.Get("/healthz", h.Healthz)
	root.Handle("/metrics", h.metrics)

	root.Group(func(r chi.Router) {
		r.Use(Timeout(opts.Timeout))
		r.Get("/runs/last", h.LastRun)
		r.Post("/runs", h.TriggerRun)
	})

	root.With(
		RejectWhileRunning(svc.Running),
		Timeout(opts.CleanupTimeout),
	).Post("/cleanup", h.Cleanup)

	return root
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
