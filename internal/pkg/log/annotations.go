package log

import (
	"context"
	"log/slog"
	"sync"
)

type annotationsKey struct{}

// Annotations — атрибуты, которые обработчик добавляет к итоговой строке
// лога запроса (run_id запущенного прохода, итоги очистки).
type Annotations struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

// WithAnnotations кладёт в контекст пустой набор аннотаций запроса.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	a := &Annotations{}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

// Annotate добавляет атрибуты к аннотациям запроса из ctx.
// Без WithAnnotations вызов ничего не делает.
func Annotate(ctx context.Context, attrs ...slog.Attr) {
	a, ok := ctx.Value(annotationsKey{}).(*Annotations)
	if !ok || a == nil {
		return
	}

	a.mu.Lock()
	a.attrs = append(a.attrs, attrs...)
	a.mu.Unlock()
}

// Attrs возвращает копию накопленных атрибутов.
func (a *Annotations) Attrs() []slog.Attr {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]slog.Attr(nil), a.attrs...)
}
