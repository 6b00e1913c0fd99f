// Package worker runs extraction batches: one URL at a time, with retries,
// pacing and progress reporting.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/question-extractor/internal/extraction"
	"github.com/JakeFAU/question-extractor/internal/metrics"
	"github.com/JakeFAU/question-extractor/internal/parser"
	"github.com/JakeFAU/question-extractor/internal/retry"
	"github.com/JakeFAU/question-extractor/internal/status"
)

// DefaultCooldown separates consecutive successful items.
const DefaultCooldown = 60 * time.Second

const tracerName = "github.com/JakeFAU/question-extractor/internal/worker"

// ErrNoURLs is returned when a run is requested with an empty list.
var ErrNoURLs = errors.New("no urls to process")

// Item outcomes reported to metrics.
const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

// Config controls Worker behavior.
type Config struct {
	Cooldown time.Duration
	// OutputPath is the sink artifact archived after each run.
	OutputPath  string
	ContentType string
	BlobPrefix  string
	Topic       string
}

// Worker executes one run at a time against the shared status register.
type Worker struct {
	client    extraction.Client
	sink      extraction.Sink
	register  *status.Register
	clock     extraction.Clock
	ids       extraction.IDGenerator
	policy    retry.Policy
	blobStore extraction.BlobStore
	publisher extraction.Publisher
	cfg       Config
	logger    *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Worker. blobStore and publisher may be nil.
func New(
	client extraction.Client,
	sink extraction.Sink,
	register *status.Register,
	clock extraction.Clock,
	ids extraction.IDGenerator,
	policy retry.Policy,
	blobStore extraction.BlobStore,
	publisher extraction.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/x-ndjson"
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.NewPolicy()
	}
	metrics.Init()
	return &Worker{
		client:    client,
		sink:      sink,
		register:  register,
		clock:     clock,
		ids:       ids,
		policy:    policy,
		blobStore: blobStore,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Start reserves the register and processes urls on a detached goroutine.
// It returns the run ID, ErrNoURLs, or status.ErrRunActive.
func (w *Worker) Start(urls []string) (string, error) {
	runID, err := w.reserve(urls)
	if err != nil {
		return "", err
	}
	items := append([]string(nil), urls...)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.execute(context.Background(), runID, items)
	}()
	return runID, nil
}

// Run processes urls synchronously and returns the run summary.
func (w *Worker) Run(ctx context.Context, urls []string) (extraction.RunSummary, error) {
	runID, err := w.reserve(urls)
	if err != nil {
		return extraction.RunSummary{}, err
	}
	return w.execute(ctx, runID, urls), nil
}

// Wait blocks until every started run has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) reserve(urls []string) (string, error) {
	if len(urls) == 0 {
		return "", ErrNoURLs
	}
	if err := w.register.TryReserve(); err != nil {
		return "", err
	}
	runID, err := w.ids.NewID()
	if err != nil {
		w.register.Release()
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return runID, nil
}

// execute owns the register from Begin to Finish. A panic anywhere in the
// run is recorded as the run error.
func (w *Worker) execute(ctx context.Context, runID string, urls []string) (summary extraction.RunSummary) {
	logger := w.logger.With(zap.String("run_id", runID))
	summary = extraction.RunSummary{
		RunID:     runID,
		Total:     len(urls),
		StartedAt: w.clock.Now(),
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "extraction.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.total", len(urls)),
	))
	w.register.Begin(runID, len(urls))
	metrics.IncActiveRuns()
	logger.Info("run started", zap.Int("total", len(urls)))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("run panicked", zap.Any("panic", rec), zap.Stack("stack"))
			summary.Error = fmt.Sprintf("internal error: %v", rec)
		}
		var runErr error
		summary.Status = extraction.RunStatusSucceeded
		if summary.Error != "" {
			runErr = errors.New(summary.Error)
			summary.Status = extraction.RunStatusFailed
		}
		summary.Current = w.register.Snapshot().Current
		summary.FinishedAt = w.clock.Now()
		w.register.Finish(runErr)
		metrics.DecActiveRuns()
		metrics.ObserveRun(string(summary.Status))
		logger.Info("run finished",
			zap.String("status", string(summary.Status)),
			zap.Int("records", summary.Records),
			zap.Int("attempts", summary.Attempts),
			zap.Int("current", summary.Current),
			zap.String("error", summary.Error),
		)
		if summary.Error != "" {
			span.SetStatus(codes.Error, summary.Error)
		}
		span.SetAttributes(attribute.Int("run.records", summary.Records))
		w.afterRun(trace.ContextWithSpan(context.Background(), span), logger, &summary)
		span.End()
	}()

	for i, raw := range urls {
		w.register.SetCurrent(i + 1)
		url := strings.TrimSpace(raw)
		if url == "" {
			metrics.ObserveItem(outcomeSkipped)
			continue
		}
		state, err := w.processItem(ctx, logger, runID, url)
		summary.Attempts += state.Attempt
		if state.Phase != retry.PhaseSuccess {
			metrics.ObserveItem(outcomeFailed)
			summary.Error = fmt.Sprintf("Failed %s: %v", url, err)
			return summary
		}
		metrics.ObserveItem(outcomeSucceeded)
		summary.Records++
		if i < len(urls)-1 && w.cfg.Cooldown > 0 {
			logger.Debug("cooldown", zap.Duration("duration", w.cfg.Cooldown))
			if err := w.clock.Sleep(ctx, w.cfg.Cooldown); err != nil {
				summary.Error = fmt.Sprintf("run interrupted: %v", err)
				return summary
			}
		}
	}
	return summary
}

// processItem drives one URL through the retry policy. It returns the final
// state and, unless that state is PhaseSuccess, the error that ended the item.
func (w *Worker) processItem(ctx context.Context, logger *zap.Logger, runID, url string) (retry.State, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "extraction.item", trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	state := w.policy.Start()
	for {
		err := w.attempt(ctx, logger, runID, url)
		if err == nil {
			state = w.policy.Succeed(state)
			span.SetAttributes(attribute.Int("attempts", state.Attempt))
			return state, nil
		}
		class := retry.Classify(err)
		decision := w.policy.Next(state, class)
		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.Int("attempt", state.Attempt),
			attribute.String("class", class.String()),
		))
		logger.Warn("attempt failed",
			zap.String("url", url),
			zap.Int("attempt", state.Attempt),
			zap.Stringer("class", class),
			zap.Duration("wait", decision.Wait),
			zap.Error(err),
		)
		if decision.Next.Phase == retry.PhaseFatal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return decision.Next, err
		}
		if decision.Wait > 0 {
			metrics.ObserveRetryWait(class.String(), decision.Wait)
			if sleepErr := w.clock.Sleep(ctx, decision.Wait); sleepErr != nil {
				state.Phase = retry.PhaseFatal
				return state, fmt.Errorf("retry wait: %w", sleepErr)
			}
		}
		state = decision.Next
	}
}

// attempt is one call, parse and append. Any failure is an attempt error.
func (w *Worker) attempt(ctx context.Context, logger *zap.Logger, runID, url string) error {
	start := time.Now()
	text, err := w.client.Extract(ctx, url)
	latency := time.Since(start)
	if err != nil {
		metrics.ObserveAttempt(retry.Classify(err).String(), latency)
		return err
	}
	record, err := parser.Parse(text)
	if err != nil {
		metrics.ObserveAttempt("parse_error", latency)
		return fmt.Errorf("parse response: %w", err)
	}
	record.RunID = runID
	record.SourceURL = url
	issues := parser.Check(record)
	if len(issues) > 0 {
		logger.Warn("record schema issues", zap.String("url", url), zap.Strings("issues", issues))
	}
	if err := w.sink.Append(ctx, record); err != nil {
		metrics.ObserveAttempt("sink_error", latency)
		return fmt.Errorf("append record: %w", err)
	}
	metrics.ObserveAttempt("success", latency)
	metrics.ObserveRecord(len(issues))
	logger.Info("record extracted", zap.String("url", url), zap.Int("bytes", len(record.Payload)))
	return nil
}

// afterRun archives the output and announces the run. Failures here are
// logged and never change the run outcome. parent carries the run span so
// notifications propagate its trace context.
func (w *Worker) afterRun(parent context.Context, logger *zap.Logger, summary *extraction.RunSummary) {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	if w.blobStore != nil && w.cfg.OutputPath != "" {
		uri, err := w.archive(ctx, summary.RunID)
		switch {
		case err != nil:
			logger.Warn("archive output failed", zap.Error(err))
		case uri != "":
			summary.Artifact = uri
			logger.Info("output archived", zap.String("uri", uri))
		}
	}
	if w.publisher != nil && w.cfg.Topic != "" {
		msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, summary)
		if err != nil {
			logger.Warn("publish run summary failed", zap.Error(err))
			return
		}
		logger.Debug("run summary published", zap.String("message_id", msgID))
	}
}

func (w *Worker) archive(ctx context.Context, runID string) (string, error) {
	// #nosec G304 -- output path comes from configuration.
	f, err := os.Open(w.cfg.OutputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = f.Close() }()
	key := path.Join(w.cfg.BlobPrefix, runID, path.Base(w.cfg.OutputPath))
	uri, err := w.blobStore.PutObject(ctx, key, w.cfg.ContentType, f)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return uri, nil
}
