package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/storage"
)

// UploadResult — итоги загрузки пачки.
type UploadResult struct {
	Uploaded int `json:"uploaded"`
	// Skipped = Duplicates + Failed.
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	// NoContent — записи без текста, отброшенные до сверки.
	NoContent int `json:"no_content"`
}

// OK — хотя бы одна запись сохранена.
func (r UploadResult) OK() bool {
	return r.Uploaded > 0
}

// existingFields — поля, по которым строится индекс сверки.
var existingFields = []storage.Field{storage.FieldTitle, storage.FieldURL, storage.FieldContent}

// Upload сверяет пачку с хранилищем и сохраняет новые записи по одной.
//
// Особенности:
//   - записи без текста отбрасываются (NoContent);
//   - дубликат по заголовку, URL или близкому тексту пропускается, в том числе
//     дубликат более ранней записи этой же пачки;
//   - ошибка загрузки существующих записей логируется, сверка идёт с пустым индексом;
//   - ошибка одной записи не прерывает пачку; ошибка возвращается только при отмене ctx.
func (s *Service) Upload(ctx context.Context, batch []models.EnrichedArticle) (res UploadResult, err error) {
	const op = "service.Upload"

	lg := log.From(ctx)

	var candidates []models.EnrichedArticle

	for _, a := range batch {
		if a.Content == "" {
			res.NoContent++
			continue
		}
		candidates = append(candidates, a)
	}

	defer func() {
		res.Skipped = res.Duplicates + res.Failed
		s.metrics.Uploaded(res.Uploaded, res.Duplicates, res.Failed, res.NoContent)
	}()

	if len(candidates) == 0 {
		lg.Info("upload_empty", slog.String("op", op), slog.Int("no_content", res.NoContent))
		return res, nil
	}

	existing, err := s.storage.SelectAll(ctx, existingFields)
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		lg.Warn("existing_load_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}

	idx := s.classifier.NewIndex(existing)
	titles, urls, prefixes := idx.Len()
	lg.Info("upload_index_ready",
		slog.String("op", op),
		slog.Int("titles", titles),
		slog.Int("urls", urls),
		slog.Int("prefixes", prefixes),
	)

	for _, a := range candidates {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}

		rec := s.toRecord(a)

		if v := idx.Match(rec); v.Duplicate() {
			res.Duplicates++
			s.metrics.Duplicate(v.Reason.String())
			lg.Debug("upload_duplicate_skipped",
				slog.String("op", op),
				slog.String("title", rec.Title),
				slog.String("reason", v.Reason.String()),
				slog.Float64("score", v.Score),
			)
			continue
		}

		idx.Add(rec)

		kind, err := s.write(ctx, rec)
		switch {
		case err != nil:
			return res, fmt.Errorf("%s: %w", op, err)
		case kind == storage.KindNone:
			res.Uploaded++
		case kind == storage.KindConflict:
			res.Duplicates++
			s.metrics.Duplicate("store_conflict")
		default:
			res.Failed++
		}
	}

	lg.Info("upload_done",
		slog.String("op", op),
		slog.Int("uploaded", res.Uploaded),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("failed", res.Failed),
		slog.Int("no_content", res.NoContent),
	)

	return res, nil
}

// write сохраняет запись с ограниченными повторами и возвращает вид последней ошибки
// (KindNone — сохранено). Ошибка возвращается только при отмене ctx.
//
// Первая попытка — Insert, повторные — UpsertByKey(title): повтор после
// фактически применённой записи не порождает конфликт. Пауза перед повтором
// зависит от вида ошибки: conflict_delay, transient_delay*n или other_delay*n.
func (s *Service) write(ctx context.Context, rec models.Record) (storage.Kind, error) {
	const op = "service.write"

	lg := log.From(ctx)
	pol := s.cfg.Retry.Upload
	attempts := max(pol.Attempts, 1)

	var kind storage.Kind
	for attempt := 1; attempt <= attempts; attempt++ {
		var err error
		if attempt == 1 {
			_, err = s.storage.Insert(ctx, rec)
		} else {
			_, err = s.storage.UpsertByKey(ctx, rec, storage.FieldTitle)
		}

		if err == nil {
			if attempt > 1 {
				lg.Info("upload_retry_succeeded",
					slog.String("op", op),
					slog.String("title", rec.Title),
					slog.Int("attempt", attempt),
				)
			}
			return storage.KindNone, nil
		}

		if ctx.Err() != nil {
			return kind, ctx.Err()
		}

		kind = storage.KindOf(err)
		lg.Warn("upload_attempt_failed",
			slog.String("op", op),
			slog.String("title", rec.Title),
			slog.Int("attempt", attempt),
			slog.String("kind", kind.String()),
			slog.String("err", err.Error()),
		)

		if attempt == attempts {
			break
		}

		var delay time.Duration
		switch kind {
		case storage.KindConflict:
			delay = pol.ConflictDelay
		case storage.KindTransient:
			delay = pol.TransientDelay * time.Duration(attempt)
		default:
			delay = pol.OtherDelay * time.Duration(attempt)
		}

		if err := s.sleep(ctx, delay); err != nil {
			return kind, err
		}
	}

	lg.Warn("upload_skipped",
		slog.String("op", op),
		slog.String("title", rec.Title),
		slog.String("kind", kind.String()),
	)

	return kind, nil
}

// toRecord переводит статью в запись хранилища.
// Неизвестное время публикации заменяется текущим.
func (s *Service) toRecord(a models.EnrichedArticle) models.Record {
	published := a.PublishedAt
	if published.IsZero() {
		published = s.now()
	}

	return models.Record{
		Title:       a.Title,
		URL:         a.URL,
		Content:     a.Content,
		PublishedAt: published.UTC(),
		Source:      s.cfg.Source,
	}
}
