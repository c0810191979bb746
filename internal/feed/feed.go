// feed — постраничный обход обратно-хронологической ленты с ранней остановкой
// по окну свежести.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/retry"
)

// Fetcher загружает страницу по URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ListExtractor разбирает страницу списка в записи в порядке документа.
type ListExtractor interface {
	ExtractList(page []byte) ([]models.ArticleStub, error)
}

// Stop — причина завершения обхода.
type Stop int

const (
	// StoppedByExhaustion — пройдены все maxPages страниц.
	StoppedByExhaustion Stop = iota
	// StoppedByWindow — встречена запись старше окна; дальнейшие страницы не запрашивались.
	StoppedByWindow
	// StoppedByCancel — обход прерван отменой контекста.
	StoppedByCancel
)

func (s Stop) String() string {
	switch s {
	case StoppedByWindow:
		return "window"
	case StoppedByCancel:
		return "cancelled"
	default:
		return "exhausted"
	}
}

// Result — итог обхода.
type Result struct {
	Items []models.ArticleStub
	// Pages — сколько страниц запрошено, FailedPages — сколько из них пропущено из-за ошибок.
	Pages       int
	FailedPages int
	Stop        Stop
}

// Options — настройки обхода.
type Options struct {
	// BaseURL — первая страница; страница n>1 — BaseURL + "page/<n>/".
	BaseURL string
	// PageDelay — пауза между последовательными запросами страниц.
	PageDelay time.Duration
	Now       func() time.Time
	Sleep     retry.SleepFunc
}

// Lister обходит ленту последовательно.
type Lister struct {
	fetcher   Fetcher
	extractor ListExtractor
	base      string
	delay     time.Duration
	now       func() time.Time
	sleep     retry.SleepFunc
}

// New создаёт Lister.
func New(fetcher Fetcher, extractor ListExtractor, opts Options) *Lister {
	l := &Lister{
		fetcher:   fetcher,
		extractor: extractor,
		base:      opts.BaseURL,
		delay:     opts.PageDelay,
		now:       opts.Now,
		sleep:     opts.Sleep,
	}

	if !strings.HasSuffix(l.base, "/") {
		l.base += "/"
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = retry.Sleep
	}

	return l
}

// PageURL возвращает адрес страницы n (нумерация с 1).
func (l *Lister) PageURL(n int) string {
	if n <= 1 {
		return l.base
	}

	return fmt.Sprintf("%spage/%d/", l.base, n)
}

// ListItems обходит страницы 1..maxPages и собирает записи не старше window.
//
// Особенности:
//   - граница окна вычисляется один раз до первого запроса; window <= 0 отключает фильтр;
//   - записи без времени публикации сохраняются;
//   - первая запись старше границы завершает обход немедленно, следующие страницы не запрашиваются;
//   - страница с ошибкой загрузки или разбора пропускается;
//   - повтор URL в пределах обхода отбрасывается;
//   - при отмене возвращаются собранные записи и ошибка контекста.
func (l *Lister) ListItems(ctx context.Context, maxPages int, window time.Duration) (Result, error) {
	const op = "feed.ListItems"

	lg := log.From(ctx)

	var cutoff time.Time
	if window > 0 {
		cutoff = l.now().UTC().Add(-window)
	}

	var res Result
	seen := make(map[string]struct{})

	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := l.sleep(ctx, l.delay); err != nil {
				res.Stop = StoppedByCancel
				return res, fmt.Errorf("%s: %w", op, err)
			}
		}
		if err := ctx.Err(); err != nil {
			res.Stop = StoppedByCancel
			return res, fmt.Errorf("%s: %w", op, err)
		}

		url := l.PageURL(page)
		res.Pages++

		body, err := l.fetcher.Fetch(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				res.Stop = StoppedByCancel
				return res, fmt.Errorf("%s: %w", op, ctx.Err())
			}

			res.FailedPages++
			lg.Warn("page_fetch_failed",
				slog.String("op", op),
				slog.Int("page", page),
				slog.String("url", url),
				slog.String("err", err.Error()),
			)
			continue
		}

		stubs, err := l.extractor.ExtractList(body)
		if err != nil {
			res.FailedPages++
			lg.Warn("page_extract_failed",
				slog.String("op", op),
				slog.Int("page", page),
				slog.String("err", err.Error()),
			)
			continue
		}

		kept := 0
		for _, s := range stubs {
			if _, dup := seen[s.URL]; dup {
				continue
			}
			seen[s.URL] = struct{}{}

			if !cutoff.IsZero() && !s.PublishedAt.IsZero() && s.PublishedAt.Before(cutoff) {
				res.Stop = StoppedByWindow
				lg.Info("listing_window_reached",
					slog.String("op", op),
					slog.Int("page", page),
					slog.String("title", s.Title),
					slog.Time("published_at", s.PublishedAt),
					slog.Time("cutoff", cutoff),
				)
				return res, nil
			}

			res.Items = append(res.Items, s)
			kept++
		}

		lg.Debug("page_listed",
			slog.String("op", op),
			slog.Int("page", page),
			slog.Int("found", len(stubs)),
			slog.Int("kept", kept),
		)
	}

	res.Stop = StoppedByExhaustion
	return res, nil
}
