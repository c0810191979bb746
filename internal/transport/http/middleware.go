package http

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/service"
)

// Middleware — стандартный net/http мидлвар.
type Middleware func(http.Handler) http.Handler

type requestIDKey struct{}

// requestIDFrom возвращает идентификатор запроса, выставленный RequestID.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusWriter запоминает статус ответа для строки лога.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

// routeOf — шаблон маршрута chi (/runs/last), иначе сырой путь.
func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// RequestID берёт X-Request-Id из запроса или генерирует UUID, возвращает его
// в ответе и кладёт в контекст: по нему ошибки API связываются со строкой лога.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(headerRequestID, id)

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// Logging кладёт логгер запроса и набор аннотаций в контекст и пишет одну
// строку http_request. Аннотации обработчиков (run_id, итоги очистки)
// попадают в ту же строку.
func Logging(base *slog.Logger) Middleware {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			l := base.With(slog.String("request_id", requestIDFrom(r.Context())))
			ctx, notes := log.WithAnnotations(log.Into(r.Context(), l))
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r.WithContext(ctx))

			attrs := append([]slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", routeOf(r)),
				slog.Int("status", sw.status),
				slog.Duration("dur", time.Since(start)),
			}, notes.Attrs()...)

			level := slog.LevelInfo
			if sw.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			l.LogAttrs(ctx, level, "http_request", attrs...)
		})
	}
}

// Recover отвечает 500/internal на панику обработчика; стек остаётся в логе.
// Стоит внутри Logging, чтобы строка запроса получила статус 500.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.From(r.Context()).Error("http_panic_recovered",
					slog.String("route", routeOf(r)),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, r, errInternal)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Timeout ограничивает время обработки маршрутов группы. d <= 0 — без ограничения;
// более ранний дедлайн запроса сохраняется.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RejectWhileRunning отвечает 409 run_in_progress, пока идёт проход конвейера.
func RejectWhileRunning(running func() bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if running != nil && running() {
				log.Annotate(r.Context(), slog.Bool("rejected_while_running", true))
				writeError(w, r, service.ErrRunInProgress)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
