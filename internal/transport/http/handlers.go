package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/service"
)

var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
)

// Service — операции сервиса, доступные через HTTP.
type Service interface {
	TriggerRun(ctx context.Context) (uuid.UUID, error)
	LastReport() (service.RunReport, bool)
	CleanupDuplicates(ctx context.Context, dryRun bool) (service.CleanupPlan, int, error)
	Running() bool
}

// Handlers агрегирует зависимости обработчиков.
type Handlers struct {
	svc     Service
	ready   *atomic.Bool
	runCtx  context.Context
	metrics http.Handler
}

func newHandlers(svc Service, opts Options) *Handlers {
	runCtx := opts.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}

	return &Handlers{
		svc:     svc,
		ready:   opts.Ready,
		runCtx:  runCtx,
		metrics: metricsHandler(opts.Gatherer),
	}
}

// Livez — процесс жив.
func (h *Handlers) Livez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Healthz — процесс готов обслуживать запросы.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	if h.ready == nil || h.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}

	http.Error(w, "not ready", http.StatusServiceUnavailable)
}

// LastRun отдаёт отчёт последнего завершённого прохода.
func (h *Handlers) LastRun(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.svc.LastReport()
	if !ok {
		writeError(w, r, errNotFound)
		return
	}
	log.Annotate(r.Context(), slog.String("run_id", rep.ID.String()))

	writeJSON(w, http.StatusOK, rep)
}

type triggerResponse struct {
	ID uuid.UUID `json:"id"`
}

// TriggerRun запускает проход в фоне: 202 с идентификатором или 409, если проход уже идёт.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	// Логгер запроса (с request_id) переезжает в контекст прохода.
	ctx := log.Into(h.runCtx, log.From(r.Context()))

	id, err := h.svc.TriggerRun(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Annotate(r.Context(), slog.String("run_id", id.String()))

	writeJSON(w, http.StatusAccepted, triggerResponse{ID: id})
}

type cleanupResponse struct {
	DryRun  bool   `json:"dry_run"`
	Scanned int    `json:"scanned"`
	Groups  int    `json:"groups"`
	Deleted int    `json:"deleted"`
	Backup  string `json:"backup,omitempty"`
}

// Cleanup ищет и удаляет дубликаты в хранилище.
// По умолчанию dry_run=true: удаление только при явном dry_run=false.
func (h *Handlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	dryRun := true
	if v := r.URL.Query().Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: dry_run", errBadRequest))
			return
		}
		dryRun = b
	}

	log.Annotate(r.Context(), slog.Bool("dry_run", dryRun))

	plan, n, err := h.svc.CleanupDuplicates(r.Context(), dryRun)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Annotate(r.Context(),
		slog.Int("scanned", plan.Scanned),
		slog.Int("groups", len(plan.Groups)),
		slog.Int("deleted", n),
	)

	writeJSON(w, http.StatusOK, cleanupResponse{
		DryRun:  dryRun,
		Scanned: plan.Scanned,
		Groups:  len(plan.Groups),
		Deleted: n,
		Backup:  plan.Backup,
	})
}
