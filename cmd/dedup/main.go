package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pribylovaa/go-news-crawler/internal/backup"
	"github.com/pribylovaa/go-news-crawler/internal/config"
	"github.com/pribylovaa/go-news-crawler/internal/metrics"
	"github.com/pribylovaa/go-news-crawler/internal/service"
	"github.com/pribylovaa/go-news-crawler/internal/storage/connect"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath string
		yes        bool
		dryRun     bool
	)
	flag.StringVar(&configPath, "config", "", "path to config file (overrides CONFIG_PATH env)")
	flag.BoolVar(&yes, "yes", false, "delete without confirmation")
	flag.BoolVar(&dryRun, "dry-run", false, "only report what would be deleted")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting dedup", slog.String("env", cfg.Env), slog.Bool("dry_run", dryRun))

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	code := run(rootCtx, log, cfg, yes, dryRun)

	rootCancel()
	os.Exit(code)
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Config, yes, dryRun bool) int {
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := connect.Open(dbCtx, cfg.DB)
	dbCancel()
	if err != nil {
		log.Error("storage_connect_failed", slog.String("err", err.Error()))
		return 1
	}
	defer store.Close()

	bCtx, bCancel := context.WithTimeout(ctx, 10*time.Second)
	snaps, err := backup.New(bCtx, cfg.Backup)
	bCancel()
	if err != nil {
		log.Error("backup_init_failed", slog.String("err", err.Error()))
		return 1
	}

	opts := []service.Option{service.WithMetrics(metrics.New(nil))}
	if snaps != nil {
		opts = append(opts, service.WithSnapshotter(snaps))
	}
	svc := service.New(store, *cfg, opts...)

	plan, err := svc.FindStoreDuplicates(ctx)
	if err != nil {
		log.Error("find_duplicates_failed", slog.String("err", err.Error()))
		return 1
	}

	preview(os.Stdout, plan)

	ids := plan.IDs()
	if len(ids) == 0 {
		fmt.Println("No duplicate articles in the store.")
		return 0
	}

	if !dryRun && !yes {
		fmt.Println("\nWARNING: this permanently deletes the duplicate articles listed above.")
		if plan.Backup != "" {
			fmt.Printf("Backup saved to: %s\n", plan.Backup)
		}
		if !confirm(os.Stdin, os.Stdout, "Delete duplicates? (y/N): ") {
			fmt.Println("Cancelled.")
			return 0
		}
	}

	n, err := svc.DeleteDuplicates(ctx, plan, dryRun)
	if err != nil {
		log.Error("delete_duplicates_failed", slog.String("err", err.Error()))
		return 1
	}

	if dryRun {
		fmt.Printf("Dry run: %d articles would be deleted.\n", n)
		return 0
	}

	fmt.Printf("Deleted %d duplicate articles.\n", n)

	left, err := svc.Count(ctx)
	if err != nil {
		log.Warn("count_failed", slog.String("err", err.Error()))
		return 0
	}
	fmt.Printf("Articles in the store: %d\n", left)

	return 0
}

// preview печатает группы: какая запись остаётся и какие будут удалены.
func preview(w io.Writer, plan service.CleanupPlan) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, "Duplicate articles")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	for i, g := range plan.Groups {
		fmt.Fprintf(w, "\n[group %d]\n", i+1)
		fmt.Fprintf(w, "keep: %s\n", orNA(g.Canonical.Title))
		fmt.Fprintf(w, "      id: %s\n", g.Canonical.ID)
		fmt.Fprintf(w, "      published: %s\n", publishedOf(g.Canonical.PublishedAt))
		fmt.Fprintf(w, "      url: %s\n", orNA(g.Canonical.URL))

		fmt.Fprintf(w, "\ndelete %d:\n", len(g.Duplicates))
		for j, d := range g.Duplicates {
			reason := d.Reason.String()
			if d.Score > 0 {
				reason = fmt.Sprintf("%s %.2f", reason, d.Score)
			}
			fmt.Fprintf(w, "  %d. [%s] %s\n", j+1, reason, orNA(d.Record.Title))
			fmt.Fprintf(w, "     id: %s | published: %s\n", d.Record.ID, publishedOf(d.Record.PublishedAt))
		}
	}

	fmt.Fprintf(w, "\nTotal: %d groups, %d articles to delete (scanned %d)\n",
		len(plan.Groups), len(plan.IDs()), plan.Scanned)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

// confirm читает ответ пользователя; согласие — только "y".
func confirm(r io.Reader, w io.Writer, prompt string) bool {
	fmt.Fprint(w, prompt)

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func publishedOf(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.UTC().Format(time.RFC3339)
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}
