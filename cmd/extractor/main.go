package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/question-extractor/internal/api"
	"github.com/JakeFAU/question-extractor/internal/clock/system"
	"github.com/JakeFAU/question-extractor/internal/config"
	"github.com/JakeFAU/question-extractor/internal/extraction"
	"github.com/JakeFAU/question-extractor/internal/gemini"
	"github.com/JakeFAU/question-extractor/internal/id/uuid"
	"github.com/JakeFAU/question-extractor/internal/logging"
	"github.com/JakeFAU/question-extractor/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/question-extractor/internal/publisher/pubsub"
	"github.com/JakeFAU/question-extractor/internal/retry"
	"github.com/JakeFAU/question-extractor/internal/sink"
	"github.com/JakeFAU/question-extractor/internal/status"
	"github.com/JakeFAU/question-extractor/internal/storage/gcs"
	"github.com/JakeFAU/question-extractor/internal/storage/local"
	memoryStorage "github.com/JakeFAU/question-extractor/internal/storage/memory"
	"github.com/JakeFAU/question-extractor/internal/storage/postgres"
	"github.com/JakeFAU/question-extractor/internal/telemetry"
	"github.com/JakeFAU/question-extractor/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	inputPath := flag.String("input", "", "Process this URL list once and exit instead of serving HTTP")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracerProvider(ctx, logging.ServiceName)
	if err != nil {
		logger.Fatal("tracer init failed", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	if err := os.MkdirAll(cfg.Output.DataDir, 0o750); err != nil {
		logger.Fatal("create data dir failed", zap.String("dir", cfg.Output.DataDir), zap.Error(err))
	}

	client, err := gemini.New(ctx, gemini.Options{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		Timeout:     cfg.GeminiTimeout(),
		AttachVideo: cfg.Gemini.AttachVideo,
		BaseURL:     cfg.Gemini.BaseURL,
	}, logger)
	if err != nil {
		logger.Fatal("gemini client init failed", zap.Error(err))
	}

	fileSink, err := sink.NewFile(cfg.OutputPath(), logger)
	if err != nil {
		logger.Fatal("output sink init failed", zap.Error(err))
	}
	var recordSink extraction.Sink = fileSink
	if cfg.DB.DSN != "" {
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: int32(cfg.DB.MaxConns), // #nosec G115 -- small configured value.
		})
		if err != nil {
			logger.Fatal("record store init failed", zap.Error(err))
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal("record store schema failed", zap.Error(err))
		}
		recordSink = sink.NewMulti(fileSink, logger, store)
		logger.Info("mirroring records to postgres", zap.String("table", cfg.DB.Table))
	}

	blobStore, closeBlobs, err := openBlobStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("blob store init failed", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer closeBlobs()

	var publisher extraction.Publisher
	if cfg.PubSub.TopicName != "" {
		ps, err := pubsubpublisher.Open(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer func() {
			if err := ps.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		}()
		publisher = ps
	}

	register := status.NewRegister(nil)
	w := worker.New(
		client,
		recordSink,
		register,
		system.New(),
		uuid.New(),
		retry.Policy{
			MaxAttempts:  cfg.Worker.MaxAttempts,
			InitialDelay: time.Duration(cfg.Worker.InitialDelaySeconds) * time.Second,
			FixedDelay:   time.Duration(cfg.Worker.FixedDelaySeconds) * time.Second,
		},
		blobStore,
		publisher,
		worker.Config{
			Cooldown:    cfg.Cooldown(),
			OutputPath:  cfg.OutputPath(),
			ContentType: cfg.Storage.ContentType,
			BlobPrefix:  cfg.Storage.Prefix,
			Topic:       cfg.PubSub.TopicName,
		},
		logger,
	)

	if *inputPath != "" {
		if err := runOnce(ctx, w, *inputPath, logger); err != nil {
			logger.Error("run failed", zap.Error(err))
			stop()
			os.Exit(1) //nolint:gocritic // deferred cleanup is best effort on failure.
		}
		return
	}

	sessions, err := buildSessions(cfg.Auth, cfg.SessionTTL(), logger)
	if err != nil {
		logger.Fatal("auth init failed", zap.Error(err))
	}
	apiServer := api.NewServer(w, register, sessions, api.Options{
		InputPath:      cfg.InputPath(),
		OutputPath:     cfg.OutputPath(),
		MaxUploadBytes: int64(cfg.Server.MaxUploadBytes),
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		APIKey:         cfg.Auth.APIKey,
		LoginThrottle: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Auth.LoginRPS,
			Burst: cfg.Auth.LoginBurst,
		}),
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port), zap.String("model", client.Model()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if snap := register.Snapshot(); snap.Active {
		logger.Warn("exiting with an active run", zap.String("run_id", snap.RunID), zap.Int("current", snap.Current), zap.Int("total", snap.Total))
	}
	logger.Info("shutdown complete")
}

// runOnce processes the URL list at path synchronously.
func runOnce(ctx context.Context, w *worker.Worker, path string, logger *zap.Logger) error {
	urls, err := readURLs(path)
	if err != nil {
		return err
	}
	summary, err := w.Run(ctx, urls)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	logger.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.String("status", string(summary.Status)),
		zap.Int("current", summary.Current),
		zap.Int("total", summary.Total),
		zap.Int("records", summary.Records),
		zap.Int("attempts", summary.Attempts),
	)
	if summary.Error != "" {
		return errors.New(summary.Error)
	}
	return nil
}

func readURLs(path string) ([]string, error) {
	// #nosec G304 -- path comes from the command line.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()
	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return urls, nil
}

func openBlobStore(ctx context.Context, cfg config.StorageConfig) (extraction.BlobStore, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case config.StorageMemory:
		return memoryStorage.NewBlobStore(), noop, nil
	case config.StorageGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, noop, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				zap.L().Warn("gcs close failed", zap.Error(err))
			}
		}, nil
	default:
		return nil, noop, nil
	}
}

// buildSessions returns nil when the login gate is disabled.
func buildSessions(cfg config.AuthConfig, ttl time.Duration, logger *zap.Logger) (*api.Sessions, error) {
	if !cfg.Enabled {
		logger.Warn("login gate disabled")
		return nil, nil
	}
	hash := cfg.PasswordHash
	if hash == "" {
		var err error
		if hash, err = api.HashPassword(cfg.Password); err != nil {
			return nil, err
		}
	}
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		logger.Warn("auth.session_secret not set; sessions will not survive a restart")
	}
	sessions, err := api.NewSessions(api.SessionConfig{
		Username:     cfg.Username,
		PasswordHash: hash,
		Secret:       secret,
		TTL:          ttl,
		Secure:       cfg.CookieSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("build sessions: %w", err)
	}
	return sessions, nil
}
