package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"datebook/internal/api"
	"datebook/internal/config"
	"datebook/internal/metrics"
	"datebook/internal/storage"
	"datebook/internal/store"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	cfgPath := flag.String("config", "configs/datebook.yaml", "Path to YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	if err := ensureConfig(*cfgPath); err != nil {
		slog.Error("failed to create default config", "err", err)
		os.Exit(1)
	}
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	listen := cfg.Listen
	if *addr != "" {
		listen = *addr
	}

	// ── Storage ──────────────────────────────────────────────────────────────
	var backend storage.Backend
	if b, err := storage.NewDirBackend(cfg.Storage.Dir); err != nil {
		// The manager's probe will report unsupported; the calendar still
		// runs with session-only memory.
		slog.Warn("storage backend unavailable", "err", err)
	} else {
		backend = b
	}
	sm := storage.New(backend, cfg.Storage.Key, storage.Options{
		Policy:        storage.CorruptionPolicy(cfg.Storage.CorruptionPolicy),
		StalenessDays: cfg.Storage.StalenessDays,
	})

	// ── Event store ──────────────────────────────────────────────────────────
	st, warnings := store.New(sm)
	for _, warn := range warnings {
		slog.Warn("event load warning", "warning", warn)
	}
	slog.Info("event store ready", "events", len(st.GetAll()), "storage_supported", sm.Supported())

	// ── Scheduled backups ────────────────────────────────────────────────────
	backups := newBackupScheduler(sm)
	backups.Arm(cfg.Backup)
	defer backups.Stop()

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		backups.Arm(newCfg.Backup)
		slog.Info("config hot-reloaded")
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(st, sm)
	srv := &http.Server{
		Addr:         listen,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)

	// One final write-through so the last session state is durable.
	if err := sm.Save(st.ExportJSON()); err != nil {
		slog.Warn("final save failed", "err", err)
	}
	slog.Info("goodbye")
}

// ensureConfig writes a default config file on first run, so the server
// starts without manual setup.
func ensureConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	slog.Info("writing default config", "path", path)
	return os.WriteFile(path, data, 0o600)
}

// backupScheduler runs the cron-driven backup job and can be re-armed when
// the config hot-reloads.
type backupScheduler struct {
	sm *storage.Manager
	mu sync.Mutex
	c  *cron.Cron
	id cron.EntryID
}

func newBackupScheduler(sm *storage.Manager) *backupScheduler {
	return &backupScheduler{sm: sm, c: cron.New()}
}

// Arm replaces any existing schedule with the one in conf. A disabled config
// just removes the job.
func (b *backupScheduler) Arm(conf config.BackupConf) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.id != 0 {
		b.c.Remove(b.id)
		b.id = 0
	}
	if !conf.Enabled {
		return
	}
	dir := conf.Dir
	id, err := b.c.AddFunc(conf.Schedule, func() {
		path, err := b.sm.WriteBackupFile(dir)
		if err != nil {
			metrics.BackupsCreated.WithLabelValues("error").Inc()
			slog.Warn("scheduled backup failed", "err", err)
			return
		}
		metrics.BackupsCreated.WithLabelValues("success").Inc()
		slog.Info("scheduled backup written", "path", path)
	})
	if err != nil {
		slog.Warn("backup schedule rejected", "schedule", conf.Schedule, "err", err)
		return
	}
	b.id = id
	b.c.Start()
	slog.Info("backups scheduled", "schedule", conf.Schedule, "dir", dir)
}

func (b *backupScheduler) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.c.Stop()
}
