package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/backup"
	"github.com/pribylovaa/go-news-crawler/internal/enrich"
	"github.com/pribylovaa/go-news-crawler/internal/feed"
	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
)

// RunReport — итог одного прохода конвейера.
type RunReport struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"started_at"`
	// Stop — причина остановки листинга: exhausted, window или cancelled.
	Stop        string        `json:"stop"`
	Pages       int           `json:"pages"`
	FailedPages int           `json:"failed_pages"`
	Listed      int           `json:"listed"`
	Enrich      enrich.Stats  `json:"enrich"`
	Upload      UploadResult  `json:"upload"`
	Summary     Summary       `json:"summary"`
	Backup      string        `json:"backup,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`

	// Articles — догруженные статьи прохода (для выгрузки), в JSON не попадают.
	Articles []models.EnrichedArticle `json:"-"`
}

// RunOnce выполняет проход: листинг -> догрузка -> загрузка статей с текстом
// -> снапшот загруженной пачки (если что-то сохранено) -> сводка.
//
// Одновременно выполняется не больше одного прохода: пересечение — ErrRunInProgress.
func (s *Service) RunOnce(ctx context.Context) (RunReport, error) {
	const op = "service.RunOnce"

	if s.lister == nil || s.enricher == nil {
		return RunReport{}, fmt.Errorf("%s: %w", op, ErrNoPipeline)
	}
	if !s.running.CompareAndSwap(false, true) {
		return RunReport{}, fmt.Errorf("%s: %w", op, ErrRunInProgress)
	}
	defer s.running.Store(false)

	return s.run(ctx, uuid.New())
}

// TriggerRun запускает проход в фоне и сразу возвращает его идентификатор.
// ctx задаёт время жизни прохода (а не входящего запроса).
func (s *Service) TriggerRun(ctx context.Context) (uuid.UUID, error) {
	const op = "service.TriggerRun"

	if s.lister == nil || s.enricher == nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrNoPipeline)
	}
	if !s.running.CompareAndSwap(false, true) {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrRunInProgress)
	}

	id := uuid.New()
	go func() {
		defer s.running.Store(false)
		_, _ = s.run(ctx, id)
	}()

	return id, nil
}

// Running сообщает, выполняется ли проход прямо сейчас.
func (s *Service) Running() bool {
	return s.running.Load()
}

// LastReport возвращает отчёт последнего завершённого прохода.
func (s *Service) LastReport() (RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return RunReport{}, false
	}

	return *s.last, true
}

func (s *Service) run(ctx context.Context, id uuid.UUID) (rep RunReport, err error) {
	const op = "service.run"

	started := s.now()
	rep = RunReport{ID: id, StartedAt: started.UTC()}

	ctx = log.With(ctx, slog.String("run_id", id.String()))
	lg := log.From(ctx)
	lg.Info("run_start",
		slog.String("op", op),
		slog.Int("max_pages", s.cfg.Feed.MaxPages),
		slog.Duration("window", s.cfg.Feed.Window()),
	)

	defer func() {
		rep.Duration = s.now().Sub(started)
		if err != nil {
			rep.Error = err.Error()
		}
		s.metrics.Run(rep.Duration, err)

		s.mu.Lock()
		last := rep
		s.last = &last
		s.mu.Unlock()

		lg.Info("run_done",
			slog.String("op", op),
			slog.String("stop", rep.Stop),
			slog.Int("listed", rep.Listed),
			slog.Int("with_content", rep.Enrich.WithContent),
			slog.Int("uploaded", rep.Upload.Uploaded),
			slog.Int("skipped", rep.Upload.Skipped),
			slog.Duration("duration", rep.Duration),
		)
	}()

	listing, err := s.lister.ListItems(ctx, s.cfg.Feed.MaxPages, s.cfg.Feed.Window())
	listing.Items = s.capListing(ctx, listing.Items)
	rep.Stop = listing.Stop.String()
	rep.Pages = listing.Pages
	rep.FailedPages = listing.FailedPages
	rep.Listed = len(listing.Items)
	s.metrics.Pages(listing.Pages, listing.FailedPages)
	s.metrics.Listed(len(listing.Items))
	if err != nil {
		return rep, fmt.Errorf("%s: %w", op, err)
	}

	if len(listing.Items) == 0 {
		lg.Info("run_nothing_listed", slog.String("op", op))
		return rep, nil
	}

	articles, stats, err := s.enricher.Enrich(ctx, listing.Items)
	rep.Enrich = stats
	s.metrics.Enriched(stats.WithContent, stats.FetchFailed, stats.ExtractionMiss)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", op, err)
	}

	rep.Articles = articles
	rep.Summary = Summarize(articles)

	withContent := make([]models.EnrichedArticle, 0, stats.WithContent)
	for _, a := range articles {
		if a.HasContent {
			withContent = append(withContent, a)
		}
	}

	if len(withContent) == 0 {
		lg.Warn("run_no_content", slog.String("op", op), slog.Int("listed", len(articles)))
		return rep, nil
	}

	rep.Upload, err = s.Upload(ctx, withContent)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", op, err)
	}

	if rep.Upload.OK() && s.snapshots != nil {
		loc, err := s.snapshots.Snapshot(ctx, backup.PrefixArticles, withContent)
		if err != nil {
			lg.Warn("run_backup_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		} else {
			rep.Backup = loc
		}
	}

	return rep, nil
}

// StartIngest запускает периодические проходы с интервалом scheduler.interval.
//
// Особенности:
//   - первый проход выполняется сразу;
//   - ошибки проходов логируются и не останавливают цикл;
//   - тик, пришедший во время ещё идущего прохода (например, запущенного через
//     TriggerRun), пропускается;
//   - останавливается по ctx.
func (s *Service) StartIngest(ctx context.Context) error {
	const op = "service.StartIngest"

	if s.lister == nil || s.enricher == nil {
		return fmt.Errorf("%s: %w", op, ErrNoPipeline)
	}

	interval := s.cfg.Scheduler.Interval
	if interval <= 0 {
		return fmt.Errorf("%s: scheduler interval must be > 0", op)
	}

	lg := log.From(ctx)
	lg.Info("ingest_start",
		slog.String("op", op),
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := func() {
		_, err := s.RunOnce(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrRunInProgress):
			lg.Info("ingest_tick_skipped", slog.String("op", op))
		default:
			lg.Warn("ingest_tick_error",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}
	}

	tick()

	for {
		select {
		case <-ctx.Done():
			lg.Info("ingest_stop", slog.String("op", op))
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// ListOnly выполняет только листинг, без догрузки и записи.
func (s *Service) ListOnly(ctx context.Context, window time.Duration) (feed.Result, error) {
	const op = "service.ListOnly"

	if s.lister == nil {
		return feed.Result{}, fmt.Errorf("%s: %w", op, ErrNoPipeline)
	}

	res, err := s.lister.ListItems(ctx, s.cfg.Feed.MaxPages, window)
	res.Items = s.capListing(ctx, res.Items)
	s.metrics.Pages(res.Pages, res.FailedPages)
	s.metrics.Listed(len(res.Items))
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

// capListing оставляет первые feed.max_articles записей листинга (0 — все).
// Лента обратно-хронологическая, поэтому отбрасываются самые старые.
func (s *Service) capListing(ctx context.Context, items []models.ArticleStub) []models.ArticleStub {
	limit := s.cfg.Feed.MaxArticles
	if limit <= 0 || len(items) <= limit {
		return items
	}

	log.From(ctx).Info("listing_capped",
		slog.String("op", "service.capListing"),
		slog.Int("listed", len(items)),
		slog.Int("max_articles", limit),
	)

	return items[:limit]
}

// FetchArticle загружает одну статью по URL и извлекает её текст.
// Промах извлечения — не ошибка: HasContent будет false.
func (s *Service) FetchArticle(ctx context.Context, url string) (models.EnrichedArticle, error) {
	const op = "service.FetchArticle"

	if s.enricher == nil {
		return models.EnrichedArticle{}, fmt.Errorf("%s: %w", op, ErrNoPipeline)
	}

	stub := models.ArticleStub{URL: url, ScrapedAt: s.now().UTC()}

	out, stats, err := s.enricher.Enrich(ctx, []models.ArticleStub{stub})
	if err != nil {
		return models.EnrichedArticle{}, fmt.Errorf("%s: %w", op, err)
	}
	if stats.FetchFailed > 0 {
		return out[0], fmt.Errorf("%s: fetch failed: %s", op, url)
	}

	return out[0], nil
}
