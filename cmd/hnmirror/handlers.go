package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/hnmirror/internal/backup"
	"github.com/elonfeng/hnmirror/internal/config"
	"github.com/elonfeng/hnmirror/internal/metrics"
	"github.com/elonfeng/hnmirror/internal/refresh"
	"github.com/elonfeng/hnmirror/internal/scheduler"
	"github.com/elonfeng/hnmirror/internal/store"
	"github.com/elonfeng/hnmirror/pkg/hnclient"
	"github.com/elonfeng/hnmirror/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// app bundles the wired collaborators behind each command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Collector
	store    *store.SQLiteStore
	pipeline *refresh.Pipeline
	backups  *backup.Manager
}

func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dbPath, err := cfg.Database.Path()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logger := newLogger()
	collector := metrics.NewCollector()

	db, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := hnclient.New(
		cfg.HackerNews.BaseURL,
		cfg.HackerNews.TopStoriesLimit,
		cfg.HackerNews.ParseRequestTimeout(),
		logger,
		collector,
	)

	pipeline := refresh.New(db, client, logger, collector, refresh.Options{
		CommentLimit:   cfg.HackerNews.TopCommentsLimit,
		DataDir:        filepath.Dir(dbPath),
		MinFreeDiskPct: cfg.Preflight.MinFreeDiskPct,
	})

	backups := backup.NewManager(dbPath, cfg.Backup.Dir, cfg.Backup.Keep, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  collector,
		store:    db,
		pipeline: pipeline,
		backups:  backups,
	}, nil
}

func runRefresh() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	l := a.pipeline.Run(context.Background())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATUS\tSTORIES\tCOMMENTS\tERROR")
	errMsg := ""
	if l.ErrorMessage != nil {
		errMsg = *l.ErrorMessage
	}
	fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
		l.RefreshTime.Format(time.RFC3339), l.Status,
		l.StoriesRefreshed, l.CommentsRefreshed, errMsg)
	return w.Flush()
}

func runTop(jsonOutput bool, limit int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	stories, err := a.store.TopStories(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("top stories: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stories)
	}

	if len(stories) == 0 {
		fmt.Println("no top stories mirrored yet (try: hnmirror refresh)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tBY\tCOMMENTS\tTITLE")
	for _, s := range stories {
		score, descendants := 0, 0
		if s.Score != nil {
			score = *s.Score
		}
		if s.Descendants != nil {
			descendants = *s.Descendants
		}
		by := "[deleted]"
		if s.By != nil {
			by = *s.By
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", score, by, descendants, s.Title)
	}
	return w.Flush()
}

func runStatus() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	last, err := a.store.LastRefresh(context.Background())
	if errors.Is(err, store.ErrNotFound) {
		fmt.Println("no refresh has run yet")
		return nil
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(last)
}

func runServe(port int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	srv := server.New(a.store, a.pipeline, a.backups, a.metrics, a.logger, port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(a.pipeline, a.backups, a.logger,
		a.cfg.Schedule.ParseRefreshInterval(),
		a.cfg.Schedule.ParseBackupInterval(),
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("scheduler error", "error", err)
		}
	}()

	srv := server.New(a.store, a.pipeline, a.backups, a.metrics, a.logger, port)
	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down")
	}()

	return srv.ListenAndServe()
}

func runBackupCreate() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	info, err := a.backups.Create()
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	fmt.Printf("created %s (%d bytes)\n", info.Name, info.Size)
	return nil
}

func runBackupList() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	backups, err := a.backups.List()
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}

	if len(backups) == 0 {
		fmt.Println("no backups found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tCREATED")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%d\t%s\n", b.Name, b.Size, b.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runBackupRestore(name string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	// Close the live store before overwriting its file.
	a.store.Close()

	if err := a.backups.Restore(name); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	fmt.Printf("restored store from %s\n", name)
	return nil
}
