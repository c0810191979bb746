package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/storage"
)

// SelectAll возвращает все записи в порядке вставки (created_at, id).
// Поля вне fields остаются нулевыми; ID заполняется всегда.
func (s *Storage) SelectAll(ctx context.Context, fields []storage.Field) ([]models.Record, error) {
	const op = "storage.postgres.SelectAll"

	if len(fields) == 0 {
		fields = storage.AllFields
	}

	cols := []string{"id"}
	for _, f := range fields {
		if f == storage.FieldID {
			continue
		}
		if _, ok := columns[f]; !ok {
			return nil, fmt.Errorf("%s: unknown field %q", op, f)
		}
		cols = append(cols, string(f))
	}

	query := fmt.Sprintf(`SELECT %s FROM articles ORDER BY created_at, id`, strings.Join(cols, ", "))

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var (
			rec       models.Record
			published *time.Time
		)

		dest := make([]any, 0, len(cols))
		for _, c := range cols {
			switch storage.Field(c) {
			case storage.FieldID:
				dest = append(dest, &rec.ID)
			case storage.FieldTitle:
				dest = append(dest, &rec.Title)
			case storage.FieldURL:
				dest = append(dest, &rec.URL)
			case storage.FieldContent:
				dest = append(dest, &rec.Content)
			case storage.FieldPublishedAt:
				dest = append(dest, &published)
			case storage.FieldSource:
				dest = append(dest, &rec.Source)
			}
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}

		if published != nil {
			rec.PublishedAt = published.UTC()
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, classify(err))
	}

	return out, nil
}

var columns = map[storage.Field]struct{}{
	storage.FieldTitle:       {},
	storage.FieldURL:         {},
	storage.FieldContent:     {},
	storage.FieldPublishedAt: {},
	storage.FieldSource:      {},
}

// Insert сохраняет одну запись; id назначает БД.
// Совпадение title — storage.ErrConflict.
func (s *Storage) Insert(ctx context.Context, rec models.Record) (models.Record, error) {
	const op = "storage.postgres.Insert"

	query := `
		INSERT INTO articles (title, url, content, published_at, source)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.db.QueryRow(ctx, query,
		rec.Title,
		rec.URL,
		rec.Content,
		nullTime(rec.PublishedAt),
		rec.Source,
	).Scan(&rec.ID)
	if err != nil {
		return models.Record{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	return rec, nil
}

// UpsertByKey вставляет запись или обновляет существующую по уникальному ключу.
//
// Политика обновления:
//   - url/content/source — перезаписываются пришедшими значениями;
//   - published_at — не затирается пустым;
//   - id существующей записи сохраняется.
func (s *Storage) UpsertByKey(ctx context.Context, rec models.Record, key storage.Field) (models.Record, error) {
	const op = "storage.postgres.UpsertByKey"

	if key != storage.FieldTitle {
		return models.Record{}, fmt.Errorf("%s: unsupported upsert key %q", op, key)
	}

	query := `
		INSERT INTO articles (title, url, content, published_at, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (title) DO UPDATE
		SET
		url = EXCLUDED.url,
		content = EXCLUDED.content,
		published_at = COALESCE(EXCLUDED.published_at, articles.published_at),
		source = EXCLUDED.source
		RETURNING id
	`

	err := s.db.QueryRow(ctx, query,
		rec.Title,
		rec.URL,
		rec.Content,
		nullTime(rec.PublishedAt),
		rec.Source,
	).Scan(&rec.ID)
	if err != nil {
		return models.Record{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	return rec, nil
}

// DeleteByIDs удаляет записи одним запросом и возвращает число удалённых строк.
func (s *Storage) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int, error) {
	const op = "storage.postgres.DeleteByIDs"

	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM articles WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, classify(err))
	}

	return int(tag.RowsAffected()), nil
}

// nullTime — нулевое время пишется как NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t.UTC()
}
