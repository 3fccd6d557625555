package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toxiguard/internal/actions"
	"toxiguard/internal/analytics"
	"toxiguard/internal/audit"
	"toxiguard/internal/bot"
	"toxiguard/internal/bypass"
	"toxiguard/internal/classifier"
	"toxiguard/internal/config"
	"toxiguard/internal/permissions"
	"toxiguard/internal/presence"
	"toxiguard/internal/storage"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting", zap.String("name", cfg.BotName), zap.String("version", cfg.Version), zap.Bool("dev_mode", cfg.DevMode))
	if len(cfg.AllowedChannels) == 0 {
		logger.Warn("no allowed channels configured, every message will be ignored")
	}

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	model, closeModel, err := buildClassifier(context.Background(), cfg, store)
	if err != nil {
		logger.Fatal("classifier init failed", zap.Error(err))
	}
	defer closeModel()
	logger.Info("classifier ready", zap.String("backend", cfg.Classifier.Backend), zap.Float64("threshold", model.Threshold()))

	auditLogger := audit.NewLogger(store, logger)
	presenceManager := presence.NewManager(store, storage.PresenceEntry{
		Type: cfg.Presence.DefaultType,
		Text: cfg.Presence.DefaultText,
	}, logger)

	botSvc, err := bot.New(cfg, logger, bot.Deps{
		Store:       store,
		Audit:       auditLogger,
		Classifier:  model,
		Permissions: permissions.NewManager(store, cfg.OwnerIDs),
		Bypass:      bypass.NewManager(store, logger),
		Actions:     actions.NewManager(cfg, store, auditLogger, logger),
		Presence:    presenceManager,
		Analytics:   analytics.New(store),
	})
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
}

// buildClassifier picks the configured backend and applies the stored
// threshold, falling back to the configured default when none is stored.
func buildClassifier(ctx context.Context, cfg config.Config, store *storage.Store) (*classifier.Classifier, func(), error) {
	threshold, err := store.GetThreshold(ctx, cfg.Classifier.DefaultThreshold)
	if err != nil {
		return nil, nil, fmt.Errorf("threshold lookup: %w", err)
	}

	closeModel := func() {}
	var loader classifier.Loader
	switch cfg.Classifier.Backend {
	case "onnx":
		onnx := classifier.NewONNXLoader(classifier.ONNXConfig{
			ModelPath:   cfg.Classifier.ModelPath,
			VocabPath:   cfg.Classifier.VocabPath,
			LibraryPath: cfg.Classifier.LibraryPath,
			Labels:      cfg.Classifier.Labels,
			MaxSeqLen:   cfg.Classifier.MaxSequenceLength,
		})
		closeModel = func() {
			_ = onnx.Close()
		}
		loader = onnx
	default:
		loader = classifier.NewKeywordLoader(cfg.Classifier.Labels, cfg.Classifier.Keywords)
	}

	model, err := classifier.New(loader, threshold)
	if err != nil {
		closeModel()
		return nil, nil, fmt.Errorf("threshold %v: %w", threshold, err)
	}
	return model, closeModel, nil
}
