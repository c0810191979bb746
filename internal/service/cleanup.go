package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/backup"
	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/storage"
)

// CleanupPlan — найденные в хранилище группы дубликатов.
type CleanupPlan struct {
	// Scanned — сколько записей просмотрено.
	Scanned int
	Groups  []models.DuplicateGroup
	// Backup — расположение снапшота хранилища (пусто, если снапшот не сделан).
	Backup string
}

// IDs возвращает идентификаторы записей к удалению в порядке групп.
func (p CleanupPlan) IDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, g := range p.Groups {
		for _, d := range g.Duplicates {
			ids = append(ids, d.Record.ID)
		}
	}

	return ids
}

// FindStoreDuplicates загружает все записи, сохраняет их снапшот и группирует дубликаты
// (URL -> близкий текст; каноническая — самая ранняя по времени вставки).
//
// Если снапшот не удался, а cleanup.require_backup включён, возвращается ErrBackupRequired.
func (s *Service) FindStoreDuplicates(ctx context.Context) (CleanupPlan, error) {
	const op = "service.FindStoreDuplicates"

	lg := log.From(ctx)

	records, err := s.storage.SelectAll(ctx, storage.AllFields)
	if err != nil {
		return CleanupPlan{}, fmt.Errorf("%s: %w", op, err)
	}

	plan := CleanupPlan{Scanned: len(records)}

	if err := s.snapshotStore(ctx, &plan, records); err != nil {
		return plan, fmt.Errorf("%s: %w", op, err)
	}

	plan.Groups = s.classifier.Groups(records)
	for _, g := range plan.Groups {
		for _, d := range g.Duplicates {
			s.metrics.Duplicate(d.Reason.String())
		}
	}

	lg.Info("cleanup_plan_ready",
		slog.String("op", op),
		slog.Int("scanned", plan.Scanned),
		slog.Int("groups", len(plan.Groups)),
		slog.Int("to_delete", len(plan.IDs())),
		slog.String("backup", plan.Backup),
	)

	return plan, nil
}

func (s *Service) snapshotStore(ctx context.Context, plan *CleanupPlan, records []models.Record) error {
	const op = "service.snapshotStore"

	lg := log.From(ctx)

	if s.snapshots == nil {
		if s.cfg.Cleanup.RequireBackup {
			return ErrBackupRequired
		}
		lg.Warn("cleanup_backup_disabled", slog.String("op", op))
		return nil
	}

	loc, err := s.snapshots.Snapshot(ctx, backup.PrefixDatabase, records)
	if err != nil {
		if s.cfg.Cleanup.RequireBackup {
			return fmt.Errorf("%w: %w", ErrBackupRequired, err)
		}
		lg.Warn("cleanup_backup_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil
	}

	plan.Backup = loc
	return nil
}

// DeleteDuplicates удаляет дубликаты из плана пачками по cleanup.batch_size.
//
// Особенности:
//   - dryRun ничего не удаляет и возвращает число записей, которые были бы удалены;
//   - ошибка пачки логируется, пачка пропускается, удаление продолжается;
//   - ошибка возвращается только при отмене ctx.
func (s *Service) DeleteDuplicates(ctx context.Context, plan CleanupPlan, dryRun bool) (int, error) {
	const op = "service.DeleteDuplicates"

	lg := log.From(ctx)
	ids := plan.IDs()

	if len(ids) == 0 {
		lg.Info("cleanup_nothing_to_delete", slog.String("op", op))
		return 0, nil
	}

	if dryRun {
		lg.Info("cleanup_dry_run", slog.String("op", op), slog.Int("to_delete", len(ids)))
		return len(ids), nil
	}

	size := max(s.cfg.Cleanup.BatchSize, 1)

	var deleted int
	for start, batch := 0, 1; start < len(ids); start, batch = start+size, batch+1 {
		if err := ctx.Err(); err != nil {
			return deleted, fmt.Errorf("%s: %w", op, err)
		}

		chunk := ids[start:min(start+size, len(ids))]

		n, err := s.storage.DeleteByIDs(ctx, chunk)
		if err != nil {
			lg.Error("cleanup_batch_failed",
				slog.String("op", op),
				slog.Int("batch", batch),
				slog.Int("size", len(chunk)),
				slog.String("err", err.Error()),
			)
			continue
		}

		deleted += n
		s.metrics.Deleted(n)
		lg.Info("cleanup_batch_deleted",
			slog.String("op", op),
			slog.Int("batch", batch),
			slog.Int("deleted", n),
		)
	}

	lg.Info("cleanup_done", slog.String("op", op), slog.Int("deleted", deleted))

	return deleted, nil
}

// CleanupDuplicates — FindStoreDuplicates + DeleteDuplicates без подтверждения.
func (s *Service) CleanupDuplicates(ctx context.Context, dryRun bool) (CleanupPlan, int, error) {
	const op = "service.CleanupDuplicates"

	plan, err := s.FindStoreDuplicates(ctx)
	if err != nil {
		return plan, 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := s.DeleteDuplicates(ctx, plan, dryRun)
	if err != nil {
		return plan, n, fmt.Errorf("%s: %w", op, err)
	}

	return plan, n, nil
}

// Count возвращает число записей в хранилище.
func (s *Service) Count(ctx context.Context) (int, error) {
	const op = "service.Count"

	records, err := s.storage.SelectAll(ctx, []storage.Field{storage.FieldID})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return len(records), nil
}
