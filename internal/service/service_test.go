package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/config"
	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/storage"
	"github.com/pribylovaa/go-news-crawler/mocks"
)

// Общие фикстуры для тестов сервиса.

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// texts — попарно непохожие тексты длиннее порогов сравнения.
var texts = []string{
	"The startup announced on Tuesday that it has raised a fifty million dollar series B round led by a prominent venture firm in San Francisco.",
	"Regulators in Brussels opened a formal investigation into how the social network handles advertising data collected from teenage users.",
	"A new open source database engine promises faster analytical queries by storing columns in compressed blocks on commodity object storage.",
	"Electric scooter operators are pulling out of several midwestern cities after winter ridership collapsed and local permits became costly.",
	"The chipmaker reported quarterly revenue above expectations, citing strong demand for accelerators used to train large language models.",
}

func testConfig() config.Config {
	return config.Config{
		Source: "TechCrunch",
		Feed:   config.FeedConfig{MaxPages: 10, WindowHours: 24},
		Retry: config.RetryConfig{
			Upload: config.UploadRetryConfig{
				Attempts:       3,
				TransientDelay: time.Second,
				OtherDelay:     500 * time.Millisecond,
				ConflictDelay:  500 * time.Millisecond,
			},
		},
		Dedup:     config.DedupConfig{Threshold: 0.85, Shingle: 3, PrefixLength: 300, MinPrefixLength: 50},
		Cleanup:   config.CleanupConfig{BatchSize: 10, RequireBackup: true},
		Scheduler: config.SchedulerConfig{Interval: time.Hour},
	}
}

// sleepRecorder запоминает запрошенные паузы вместо ожидания.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) got() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// newTestService — сервис с фиксированными часами и записью пауз.
func newTestService(t *testing.T, st *mocks.MockStorage, opts ...Option) (*Service, *sleepRecorder) {
	t.Helper()

	rec := &sleepRecorder{}
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithSleep(rec.sleep),
	}

	return New(st, testConfig(), append(base, opts...)...), rec
}

func article(title, url, content string) models.EnrichedArticle {
	return models.EnrichedArticle{
		ArticleStub: models.ArticleStub{Title: title, URL: url},
		Content:     content,
		HasContent:  content != "",
	}
}

// memStore — состояние хранилища поверх gomock: SelectAll отдаёт всё вставленное.
type memStore struct {
	mu      sync.Mutex
	records []models.Record
}

func (m *memStore) expect(st *mocks.MockStorage) {
	st.EXPECT().SelectAll(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, []storage.Field) ([]models.Record, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			return append([]models.Record(nil), m.records...), nil
		}).AnyTimes()

	st.EXPECT().Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r models.Record) (models.Record, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			r.ID = uuid.New()
			m.records = append(m.records, r)
			return r, nil
		}).AnyTimes()
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
