// enrich — конкурентная догрузка полного текста статей ограниченным пулом воркеров.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
)

// Fetcher загружает страницу статьи.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ContentExtractor достаёт текст статьи; пустая строка — промах извлечения.
type ContentExtractor interface {
	ExtractContent(page []byte) string
}

// DefaultConcurrency — ширина пула по умолчанию.
const DefaultConcurrency = 3

// Stats — счётчики прохода догрузки.
type Stats struct {
	Total          int
	WithContent    int
	FetchFailed    int
	ExtractionMiss int
}

// Pool — пул воркеров догрузки.
type Pool struct {
	fetcher   Fetcher
	extractor ContentExtractor
	workers   int
}

// New создаёт пул шириной workers (<= 0 — DefaultConcurrency).
func New(fetcher Fetcher, extractor ContentExtractor, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultConcurrency
	}

	return &Pool{fetcher: fetcher, extractor: extractor, workers: workers}
}

type outcome int

const (
	enriched outcome = iota
	fetchFailed
	extractionMiss
)

// result — ответ воркера, помеченный индексом исходной записи.
type result struct {
	idx     int
	content string
	outcome outcome
}

// Enrich догружает текст для каждой записи.
//
// Особенности:
//   - результат всегда той же длины и в том же порядке, что stubs;
//   - ошибка одной записи не прерывает пачку: запись остаётся с пустым текстом;
//   - при отмене новые задачи не запускаются, необработанные записи возвращаются
//     с пустым текстом вместе с ошибкой контекста.
func (p *Pool) Enrich(ctx context.Context, stubs []models.ArticleStub) ([]models.EnrichedArticle, Stats, error) {
	const op = "enrich.Enrich"

	lg := log.From(ctx)

	out := make([]models.EnrichedArticle, len(stubs))
	for i, s := range stubs {
		out[i] = models.EnrichedArticle{ArticleStub: s}
	}

	stats := Stats{Total: len(stubs)}
	if len(stubs) == 0 {
		return out, stats, nil
	}

	tasks := make(chan int)
	results := make(chan result)

	var wg sync.WaitGroup
	for w := 0; w < min(p.workers, len(stubs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				if ctx.Err() != nil {
					continue
				}
				results <- p.enrichOne(ctx, idx, stubs[idx])
			}
		}()
	}

	go func() {
		defer close(tasks)
		for i := range stubs {
			select {
			case <-ctx.Done():
				return
			case tasks <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		switch r.outcome {
		case fetchFailed:
			stats.FetchFailed++
		case extractionMiss:
			stats.ExtractionMiss++
		default:
			stats.WithContent++
			out[r.idx].Content = r.content
			out[r.idx].ContentLength = utf8.RuneCountInString(r.content)
			out[r.idx].HasContent = true
		}
	}

	lg.Info("enrich_done",
		slog.String("op", op),
		slog.Int("total", stats.Total),
		slog.Int("with_content", stats.WithContent),
		slog.Int("fetch_failed", stats.FetchFailed),
		slog.Int("extraction_miss", stats.ExtractionMiss),
	)

	if err := ctx.Err(); err != nil {
		return out, stats, fmt.Errorf("%s: %w", op, err)
	}

	return out, stats, nil
}

func (p *Pool) enrichOne(ctx context.Context, idx int, s models.ArticleStub) result {
	const op = "enrich.enrichOne"

	page, err := p.fetcher.Fetch(ctx, s.URL)
	if err != nil {
		log.From(ctx).Warn("article_fetch_failed",
			slog.String("op", op),
			slog.String("url", s.URL),
			slog.String("err", err.Error()),
		)
		return result{idx: idx, outcome: fetchFailed}
	}

	content := p.extractor.ExtractContent(page)
	if content == "" {
		log.From(ctx).Debug("article_content_missing",
			slog.String("op", op),
			slog.String("url", s.URL),
		)
		return result{idx: idx, outcome: extractionMiss}
	}

	return result{idx: idx, content: content, outcome: enriched}
}
