// service содержит бизнес-логику краулера: проход конвейера
// (лента -> догрузка -> сверка с хранилищем), планировщик и очистку дубликатов.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pribylovaa/go-news-crawler/internal/backup"
	"github.com/pribylovaa/go-news-crawler/internal/config"
	"github.com/pribylovaa/go-news-crawler/internal/dedup"
	"github.com/pribylovaa/go-news-crawler/internal/enrich"
	"github.com/pribylovaa/go-news-crawler/internal/feed"
	"github.com/pribylovaa/go-news-crawler/internal/metrics"
	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/retry"
	"github.com/pribylovaa/go-news-crawler/internal/similarity"
	"github.com/pribylovaa/go-news-crawler/internal/storage"
)

var (
	// ErrRunInProgress — предыдущий проход ещё не завершён.
	// Транспорт: 409 Conflict.
	ErrRunInProgress = errors.New("run in progress")
	// ErrBackupRequired — очистка без снапшота запрещена конфигурацией.
	ErrBackupRequired = errors.New("backup required")
	// ErrNoPipeline — сервис создан без стадий листинга/догрузки.
	ErrNoPipeline = errors.New("pipeline is not configured")
)

// Lister — стадия листинга ленты.
type Lister interface {
	ListItems(ctx context.Context, maxPages int, window time.Duration) (feed.Result, error)
}

// Enricher — стадия догрузки текста.
type Enricher interface {
	Enrich(ctx context.Context, stubs []models.ArticleStub) ([]models.EnrichedArticle, enrich.Stats, error)
}

// Service — описывает бизнес-логику краулера.
type Service struct {
	storage    storage.Storage
	cfg        config.Config
	lister     Lister
	enricher   Enricher
	classifier *dedup.Classifier
	snapshots  backup.Snapshotter
	metrics    *metrics.Metrics
	now        func() time.Time
	sleep      retry.SleepFunc

	running atomic.Bool
	mu      sync.RWMutex
	last    *RunReport
}

// Option настраивает Service.
type Option func(*Service)

// WithPipeline задаёт стадии листинга и догрузки.
func WithPipeline(l Lister, e Enricher) Option {
	return func(s *Service) {
		s.lister = l
		s.enricher = e
	}
}

// WithSnapshotter включает снапшоты (nil — без снапшотов).
func WithSnapshotter(sn backup.Snapshotter) Option {
	return func(s *Service) { s.snapshots = sn }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSleep подменяет ожидание между повторами записи.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(s *Service) { s.sleep = sleep }
}

// New создает новый экземпляр Service.
func New(storage storage.Storage, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		storage: storage,
		cfg:     cfg,
		now:     time.Now,
		sleep:   retry.Sleep,
		classifier: dedup.New(dedup.Options{
			PrefixLength:    cfg.Dedup.PrefixLength,
			MinPrefixLength: cfg.Dedup.MinPrefixLength,
			Scorer:          similarity.NewScorer(cfg.Dedup.Shingle, cfg.Dedup.Threshold),
		}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}
