// metrics — Prometheus-метрики конвейера краулера.
//
// Все методы безопасны для вызова на nil *Metrics: сервис работает и без метрик.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crawler"

// Metrics — набор счётчиков и гистограмм одного процесса.
type Metrics struct {
	pages      *prometheus.CounterVec
	listed     prometheus.Counter
	enrich     *prometheus.CounterVec
	upload     *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	runs       *prometheus.CounterVec
	runSeconds prometheus.Histogram
	deleted    prometheus.Counter
}

// New создаёт метрики и регистрирует их в reg (nil — prometheus.DefaultRegisterer).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Feed pages requested, by result.",
		}, []string{"result"}),
		listed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_listed_total",
			Help:      "Article stubs kept by the listing stage.",
		}),
		enrich: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_total",
			Help:      "Enrichment outcomes per article.",
		}, []string{"outcome"}),
		upload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_total",
			Help:      "Upload outcomes per article.",
		}, []string{"outcome"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Detected duplicates, by reason.",
		}, []string{"reason"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed crawl runs, by status.",
		}, []string{"status"}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Crawl run duration.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Duplicate records deleted from the store.",
		}),
	}

	reg.MustRegister(m.pages, m.listed, m.enrich, m.upload, m.duplicates, m.runs, m.runSeconds, m.deleted)

	return m
}

// Pages учитывает запрошенные и упавшие страницы.
func (m *Metrics) Pages(total, failed int) {
	if m == nil {
		return
	}

	m.pages.WithLabelValues("ok").Add(float64(total - failed))
	m.pages.WithLabelValues("failed").Add(float64(failed))
}

// Listed учитывает записи, прошедшие листинг.
func (m *Metrics) Listed(n int) {
	if m == nil {
		return
	}

	m.listed.Add(float64(n))
}

// Enriched учитывает итоги догрузки текста.
func (m *Metrics) Enriched(withContent, fetchFailed, extractionMiss int) {
	if m == nil {
		return
	}

	m.enrich.WithLabelValues("with_content").Add(float64(withContent))
	m.enrich.WithLabelValues("fetch_failed").Add(float64(fetchFailed))
	m.enrich.WithLabelValues("extraction_miss").Add(float64(extractionMiss))
}

// Uploaded учитывает итоги загрузки в хранилище.
func (m *Metrics) Uploaded(uploaded, duplicates, failed, noContent int) {
	if m == nil {
		return
	}

	m.upload.WithLabelValues("uploaded").Add(float64(uploaded))
	m.upload.WithLabelValues("duplicate").Add(float64(duplicates))
	m.upload.WithLabelValues("failed").Add(float64(failed))
	m.upload.WithLabelValues("no_content").Add(float64(noContent))
}

// Duplicate учитывает один найденный дубликат.
func (m *Metrics) Duplicate(reason string) {
	if m == nil {
		return
	}

	m.duplicates.WithLabelValues(reason).Inc()
}

// Run учитывает завершённый проход.
func (m *Metrics) Run(d time.Duration, err error) {
	if m == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}

	m.runs.WithLabelValues(status).Inc()
	m.runSeconds.Observe(d.Seconds())
}

// Deleted учитывает удалённые при очистке записи.
func (m *Metrics) Deleted(n int) {
	if m == nil {
		return
	}

	m.deleted.Add(float64(n))
}
