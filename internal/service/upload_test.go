package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/storage"
	"github.com/pribylovaa/go-news-crawler/mocks"
	"github.com/stretchr/testify/require"
)

// Файл unit-тестов для Upload:
//  - повторная загрузка той же пачки ничего не пишет;
//  - частичный отказ одной записи не мешает остальным;
//  - конфликт/временная ошибка -> повтор через UpsertByKey(title) с паузами по виду ошибки;
//  - сверка внутри пачки и с хранилищем, записи без текста.

func batchOf(n int) []models.EnrichedArticle {
	out := make([]models.EnrichedArticle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, article(
			fmt.Sprintf("Title %d", i),
			fmt.Sprintf("https://e.org/%d", i),
			texts[i],
		))
	}
	return out
}

// TestUpload_Idempotent — первая загрузка пишет N записей, повторная — ноль.
func TestUpload_Idempotent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	st := mocks.NewMockStorage(ctrl)

	mem := &memStore{}
	mem.expect(st)

	svc, _ := newTestService(t, st)
	batch := batchOf(5)

	res, err := svc.Upload(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 5, res.Uploaded)
	require.Equal(t, 0, res.Skipped)
	require.True(t, res.OK())
	require.Equal(t, 5, mem.len())

	res, err = svc.Upload(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 0, res.Uploaded)
	require.Equal(t, 5, res.Duplicates)
	require.Equal(t, 5, res.Skipped)
	require.False(t, res.OK())
	require.Equal(t, 5, mem.len())
}

// TestUpload_PartialFailure — запись с постоянной временной ошибкой пропускается после 3 попыток.
func TestUpload_PartialFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	st := mocks.NewMockStorage(ctrl)

	batch := batchOf(4)
	bad := batch[2].Title
	transient := fmt.Errorf("pg: %w", storage.ErrTransient)

	st.EXPECT().SelectAll(gomock.Any(), existingFields).Return(nil, nil)
	st.EXPECT().Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r models.Record) (models.Record, error) {
			if r.Title == bad {
				return models.Record{}, transient
			}
			return r, nil
		}).Times(4)
	st.EXPECT().UpsertByKey(gomock.Any(), gomock.Any(), storage.FieldTitle).
		Return(models.Record{}, transient).Times(2)

	svc, sleeps := newTestService(t, st)

	res, err := svc.Upload(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 3, res.Uploaded)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 0, res.Duplicates)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.got())
}

// TestUpload_ConflictRetriesWithUpsert — конфликт на вставке -> upsert по заголовку после паузы 0.5s.
func TestUpload_ConflictRetriesWithUpsert(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	st := mocks.NewMockStorage(ctrl)

	batch := batchOf(1)

	gomock.InOrder(
		st.EXPECT().SelectAll(gomock.Any(), gomock.Any()).Return(nil, nil),
		st.EXPECT().Insert(gomock.Any(), gomock.Any()).
			Return(models.Record{}, fmt.Errorf("x: %w", storage.ErrConflict)),
		st.EXPECT().UpsertByKey(gomock.Any(), gomock.Any(), storage.FieldTitle).
			DoAndReturn(func(_ context.Context, r models.Record, _ storage.Field) (models.Record, error) {
				require.Equal(t, batch[0].Title, r.Title)
				return r, nil
			}),
	)

	svc, sleeps := newTestService(t, st)

	res, err := svc.Upload(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)
	require.Equal(t, []time.Duration{500 * time.Millisecond}, sleeps.got())
}

// TestUpload_PersistentConflictCountsAsDuplicate — конфликт до конца попыток -> дубликат, не отказ.
func TestUpload_PersistentConflictCountsAsDuplicate(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	st := mocks.NewMockStorage(ctrl)

	conflict := fmt.Errorf("x: %w", storage.ErrConflict)
	st.EXPECT().SelectAll(gomock.Any(), gomock.Any()).Return(nil, nil)
	st.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(models.Record{}, conflict)
	st.EXPECT().UpsertByKey(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Record{}, conflict).Times(2)

	svc, sleeps := newTestService(t, st)

	res, err := svc.Upload(context.Background(), batchOf(1))
	require.NoError(t, err)
	require.Equal(t, 0, res.Uploaded)
	require.Equal(t, 1, res.Duplicates)
	require.Equal(t, 0, res.Failed)
	require.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, sleeps.got())
}

// TestUpload_OtherErrorLinearDelay — прочие ошибки: паузы 0.5s, 1s.
func TestUpload_OtherErrorLinearDelay(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	st := mocks.NewMockStorage(ctrl)

	boom := errors.New("boom")
	st.EXPECT().SelectAll(gomock.Any(), gomock.Any()).Return(nil, nil)
	st.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(models.Record{}, boom)
	st.EXPECT().UpsertByKey(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Record{}, boom).Times(2)

	svc, sleeps := newTestService(t, st)

	res, err := svc.Upload(context.Background(), batchOf(1))
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeps.got())
}

// TestUpload_FiltersAgainstStoreAndBatch — дубли по заголовку, URL и тексту отсекаются до записи.
func TestUpload_FiltersAgainstStoreAndBatch(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	st := mocks.NewMockStorage(ctrl)

	existing := []models.Record{
		{Title: "Stored", URL: "https://e.org/stored", Content: texts[0]},
	}
	st.EXPECT().SelectAll(gomock.Any(), existingFields).Return(existing, nil)

	var inserted []models.Record
	st.EXPECT().Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r models.Record) (models.Record, error) {
			inserted = append(inserted, r)
			return r, nil
		}).Times(2)

	batch := []models.EnrichedArticle{
		article("Stored", "https://e.org/new-1", texts[1]),      // заголовок из хранилища
		article("New 2", "https://e.org/stored", texts[2]),      // URL из хранилища
		article("New 3", "https://e.org/new-3", texts[0]+" "),   // текст из хранилища
		article("Fresh", "https://e.org/fresh", texts[3]),       // новая
		article("Fresh again", "https://e.org/fresh", texts[4]), // дубль внутри пачки по URL
		article("Empty", "https://e.org/empty", ""),             // без текста
		article("Other", "https://e.org/other", texts[4]),       // новая
	}

	svc, _ := newTestService(t, st)

	res, err := svc.Upload(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 2, res.Uploaded)
	require.Equal(t, 4, res.Duplicates)
	require.Equal(t, 1, res.NoContent)
	require.Equal(t, 4, res.Skipped)

	require.Len(t, inserted, 2)
	require.Equal(t, "Fresh", inserted[0].Title)
	require.Equal(t, "Other", inserted[1].Title)
	require.Equal(t, "TechCrunch", inserted[0].Source)
	// Неизвестное время публикации заменяется текущим.
	require.True(t, inserted[0].PublishedAt.Equal(fixedNow))
}

// TestUpload_ExistingLoadFailure — ошибка загрузки существующих записей не останавливает загрузку.
func TestUpload_ExistingLoadFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	st := mocks.NewMockStorage(ctrl)

	st.EXPECT().SelectAll(gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))
	st.EXPECT().Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r models.Record) (models.Record, error) { return r, nil }).
		Times(2)

	svc, _ := newTestService(t, st)

	res, err := svc.Upload(context.Background(), batchOf(2))
	require.NoError(t, err)
	require.Equal(t, 2, res.Uploaded)
}

// TestUpload_NoContentOnly — пачка без текста не обращается к хранилищу.
func TestUpload_NoContentOnly(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	st := mocks.NewMockStorage(ctrl)

	svc, _ := newTestService(t, st)

	res, err := svc.Upload(context.Background(), []models.EnrichedArticle{article("A", "https://a", "")})
	require.NoError(t, err)
	require.Equal(t, 1, res.NoContent)
	require.False(t, res.OK())
}

// TestUpload_Cancelled — отмена контекста прерывает пачку и возвращает ошибку.
func TestUpload_Cancelled(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	st := mocks.NewMockStorage(ctrl)

	ctx, cancel := context.WithCancel(context.Background())

	st.EXPECT().SelectAll(gomock.Any(), gomock.Any()).Return(nil, nil)
	st.EXPECT().Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r models.Record) (models.Record, error) {
			cancel()
			return r, nil
		})

	svc, _ := newTestService(t, st)

	res, err := svc.Upload(ctx, batchOf(3))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, res.Uploaded)
}
