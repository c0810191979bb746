package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"github.com/pribylovaa/go-news-crawler/internal/backup"
	"github.com/pribylovaa/go-news-crawler/internal/config"
	"github.com/pribylovaa/go-news-crawler/internal/enrich"
	"github.com/pribylovaa/go-news-crawler/internal/export"
	"github.com/pribylovaa/go-news-crawler/internal/extract"
	"github.com/pribylovaa/go-news-crawler/internal/feed"
	"github.com/pribylovaa/go-news-crawler/internal/fetch"
	"github.com/pribylovaa/go-news-crawler/internal/metrics"
	"github.com/pribylovaa/go-news-crawler/internal/models"
	logctx "github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/retry"
	"github.com/pribylovaa/go-news-crawler/internal/service"
	"github.com/pribylovaa/go-news-crawler/internal/storage/connect"
	crawlergrpc "github.com/pribylovaa/go-news-crawler/internal/transport/grpc"
	crawlerhttp "github.com/pribylovaa/go-news-crawler/internal/transport/http"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// Режимы запуска.
const (
	modeRun     = "run"
	modeServe   = "serve"
	modeList    = "list"
	modeArticle = "article"
)

// exportPrefix — префикс имён файлов выгрузки.
const exportPrefix = "techcrunch_articles"

type flags struct {
	configPath string
	mode       string
	hours      int
	maxArts    int
	url        string
	export     string
	out        string
}

func main() {
	_ = godotenv.Load()

	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to config file (overrides CONFIG_PATH env)")
	flag.StringVar(&f.mode, "mode", modeRun, "run | serve | list | article")
	flag.IntVar(&f.hours, "hours", -1, "freshness window in hours, 0 disables (default: from config)")
	flag.IntVar(&f.maxArts, "max-articles", -1, "cap on listed articles, 0 = unlimited (default: from config)")
	flag.StringVar(&f.url, "url", "", "article url for -mode=article")
	flag.StringVar(&f.export, "export", "", "export formats: json,csv,txt")
	flag.StringVar(&f.out, "out", ".", "directory for exported files")
	flag.Parse()

	cfg := config.MustLoad(f.configPath)
	if f.hours >= 0 {
		cfg.Feed.WindowHours = f.hours
	}
	if f.maxArts >= 0 {
		cfg.Feed.MaxArticles = f.maxArts
	}

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting crawler",
		slog.String("env", cfg.Env),
		slog.String("mode", f.mode),
		slog.Int("window_hours", cfg.Feed.WindowHours),
		slog.Int("max_articles", cfg.Feed.MaxArticles),
	)

	formats, err := export.ParseFormats(f.export)
	if err != nil {
		log.Error("invalid_flags", slog.String("err", err.Error()))
		os.Exit(2)
	}

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	code := run(rootCtx, log, cfg, f, formats)

	log.Info("crawler_stopped", slog.Int("code", code))
	rootCancel()
	os.Exit(code)
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Config, f flags, formats []export.Format) int {
	m := metrics.New(nil)
	lister, enricher := buildPipeline(cfg, log)

	// Листинг и одиночная статья не требуют хранилища.
	switch f.mode {
	case modeList:
		svc := service.New(nil, *cfg, service.WithPipeline(lister, enricher), service.WithMetrics(m))
		return runList(ctx, log, svc, cfg, f, formats)
	case modeArticle:
		svc := service.New(nil, *cfg, service.WithPipeline(lister, enricher), service.WithMetrics(m))
		return runArticle(ctx, log, svc, f, formats)
	case modeRun, modeServe:
	default:
		log.Error("unknown_mode", slog.String("mode", f.mode))
		return 2
	}

	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := connect.Open(dbCtx, cfg.DB)
	dbCancel()
	if err != nil {
		log.Error("storage_connect_failed",
			slog.String("driver", cfg.DB.Driver),
			slog.String("err", err.Error()),
		)
		return 1
	}
	defer store.Close()
	log.Info("storage_connected", slog.String("driver", cfg.DB.Driver))

	bCtx, bCancel := context.WithTimeout(ctx, 10*time.Second)
	snaps, err := backup.New(bCtx, cfg.Backup)
	bCancel()
	if err != nil {
		log.Error("backup_init_failed", slog.String("err", err.Error()))
		return 1
	}

	opts := []service.Option{
		service.WithPipeline(lister, enricher),
		service.WithMetrics(m),
	}
	if snaps != nil {
		opts = append(opts, service.WithSnapshotter(snaps))
	}

	svc := service.New(store, *cfg, opts...)
	log.Info("service_initialized")

	if f.mode == modeServe {
		return serve(ctx, log, cfg, svc)
	}

	return runOnce(ctx, log, svc, f, formats)
}

// buildPipeline собирает стадии листинга и догрузки поверх общего HTTP-клиента.
func buildPipeline(cfg *config.Config, log *slog.Logger) (*feed.Lister, *enrich.Pool) {
	fetcher := fetch.New(nil, fetch.Options{
		Timeout:   cfg.HTTPClient.Timeout,
		UserAgent: cfg.HTTPClient.UserAgent,
		RateLimit: cfg.HTTPClient.RateLimit,
		Retry: retry.Policy{
			Attempts: cfg.Retry.Fetch.Attempts,
			Base:     cfg.Retry.Fetch.BaseDelay,
			Backoff:  retry.Exponential,
		},
	})

	extractor := extract.New(extract.Options{
		ItemClass:         cfg.Extract.ItemClass,
		TitleHrefContains: cfg.Extract.TitleHrefContains,
		MinContentLength:  cfg.Extract.MinContentLength,
		Logger:            log,
	})

	lister := feed.New(fetcher, extractor, feed.Options{
		BaseURL:   cfg.Feed.BaseURL,
		PageDelay: cfg.Feed.PageDelay,
	})

	return lister, enrich.New(fetcher, extractor, cfg.Enrich.Concurrency)
}

func runOnce(ctx context.Context, log *slog.Logger, svc *service.Service, f flags, formats []export.Format) int {
	rep, err := svc.RunOnce(ctx)
	logSummary(log, rep.Summary)
	log.Info("run_report",
		slog.String("run_id", rep.ID.String()),
		slog.String("stop", rep.Stop),
		slog.Int("pages", rep.Pages),
		slog.Int("failed_pages", rep.FailedPages),
		slog.Int("uploaded", rep.Upload.Uploaded),
		slog.Int("duplicates", rep.Upload.Duplicates),
		slog.Int("failed", rep.Upload.Failed),
		slog.String("backup", rep.Backup),
	)

	exportAll(log, f.out, formats, rep.Articles)

	code := exitCode(rep, err)
	switch {
	case err != nil:
		log.Error("run_failed", slog.String("err", err.Error()))
	case code != 0:
		log.Error("run_upload_failed",
			slog.Int("failed", rep.Upload.Failed),
			slog.Int("duplicates", rep.Upload.Duplicates),
		)
	case !rep.Upload.OK():
		log.Warn("run_nothing_uploaded")
	}

	return code
}

// exitCode — 1 при ошибке прохода или если ни одна запись не сохранена из-за
// ошибок записи. Пачка, целиком состоящая из дубликатов, — успешный проход.
func exitCode(rep service.RunReport, err error) int {
	if err != nil {
		return 1
	}
	if rep.Upload.Uploaded == 0 && rep.Upload.Failed > 0 {
		return 1
	}

	return 0
}

func runList(ctx context.Context, log *slog.Logger, svc *service.Service, cfg *config.Config, f flags, formats []export.Format) int {
	res, err := svc.ListOnly(ctx, cfg.Feed.Window())
	if err != nil {
		log.Error("list_failed", slog.String("err", err.Error()))
		return 1
	}

	articles := make([]models.EnrichedArticle, 0, len(res.Items))
	for _, s := range res.Items {
		articles = append(articles, models.EnrichedArticle{ArticleStub: s})
	}

	log.Info("list_done",
		slog.Int("items", len(res.Items)),
		slog.Int("pages", res.Pages),
		slog.String("stop", res.Stop.String()),
	)
	logSummary(log, service.Summarize(articles))

	if len(formats) == 0 {
		formats = []export.Format{export.FormatJSON}
	}
	exportAll(log, f.out, formats, articles)

	return 0
}

func runArticle(ctx context.Context, log *slog.Logger, svc *service.Service, f flags, formats []export.Format) int {
	if f.url == "" {
		log.Error("invalid_flags", slog.String("err", "-url is required for -mode=article"))
		return 2
	}

	a, err := svc.FetchArticle(ctx, f.url)
	if err != nil {
		log.Error("article_failed", slog.String("url", f.url), slog.String("err", err.Error()))
		return 1
	}

	log.Info("article_done",
		slog.String("url", a.URL),
		slog.Bool("has_content", a.HasContent),
		slog.Int("content_length", a.ContentLength),
	)

	if len(formats) == 0 {
		_ = export.Text(os.Stdout, []models.EnrichedArticle{a})
		return 0
	}
	exportAll(log, f.out, formats, []models.EnrichedArticle{a})

	return 0
}

// serve — планировщик + административный HTTP + gRPC health до сигнала остановки.
func serve(ctx context.Context, log *slog.Logger, cfg *config.Config, svc *service.Service) int {
	var ready atomic.Bool
	ctx = logctx.Into(ctx, log)

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr(),
		Handler: crawlerhttp.NewRouter(svc, crawlerhttp.Options{
			Logger:         log,
			Timeout:        cfg.Timeouts.Service,
			CleanupTimeout: cfg.Timeouts.Cleanup,
			Ready:          &ready,
			RunContext:     ctx,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http_listen_start", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}()

	grpc_prometheus.EnableHandlingTimeHistogram()
	grpcSrv := crawlergrpc.NewServer(svc, crawlergrpc.Options{
		Logger:         log,
		Timeout:        cfg.Timeouts.Service,
		CleanupTimeout: cfg.Timeouts.Cleanup,
		RunContext:     ctx,
		Reflection:     cfg.Env == envLocal || cfg.Env == envDev,
	})

	addr := cfg.GRPC.Addr()
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("grpc_listen_failed",
			slog.String("addr", addr),
			slog.String("err", err.Error()),
		)
		_ = httpSrv.Shutdown(context.Background())
		return 1
	}
	log.Info("grpc_listen_start", slog.String("addr", addr))

	go func() {
		if err := svc.StartIngest(ctx); err != nil {
			log.Error("ingest_start_failed", slog.String("err", err.Error()))
		}
	}()

	grpcSrv.SetServing(true)
	ready.Store(true)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := grpcSrv.GRPC().Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("grpc_serve_failed", slog.String("err", err.Error()))
			code = 1
		}
	}

	grpcSrv.SetServing(false)
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		grpcSrv.GRPC().GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc_stopped")
	case <-shutdownCtx.Done():
		log.Warn("grpc_force_stop")
		grpcSrv.GRPC().Stop()
	}

	_ = httpSrv.Shutdown(shutdownCtx)

	return code
}

func exportAll(log *slog.Logger, dir string, formats []export.Format, articles []models.EnrichedArticle) {
	if len(formats) == 0 || len(articles) == 0 {
		return
	}

	now := time.Now()
	for _, f := range formats {
		path, err := export.WriteFile(dir, export.FileName(exportPrefix, f, articles, now), f, articles)
		if err != nil {
			log.Error("export_failed", slog.String("format", string(f)), slog.String("err", err.Error()))
			continue
		}
		log.Info("export_saved", slog.String("format", string(f)), slog.String("path", path))
	}
}

func logSummary(log *slog.Logger, s service.Summary) {
	if s.Total == 0 {
		log.Info("summary_empty")
		return
	}

	log.Info("summary",
		slog.Int("total", s.Total),
		slog.Int("with_content", s.WithContent),
		slog.String("success_rate", fmt.Sprintf("%.1f%%", s.SuccessRate)),
		slog.String("avg_content_length", fmt.Sprintf("%.0f", s.AvgContentLength)),
	)
	for _, a := range s.TopAuthors {
		log.Info("summary_author", slog.String("name", a.Name), slog.Int("count", a.Count))
	}
	for _, c := range s.TopCategories {
		log.Info("summary_category", slog.String("name", c.Name), slog.Int("count", c.Count))
	}
	for i, p := range s.Preview {
		log.Info("summary_preview",
			slog.Int("n", i+1),
			slog.String("title", p.Title),
			slog.Bool("has_content", p.HasContent),
		)
	}
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}
