// Package worker consumes submitted cases from the event bus and runs them
// through the pipeline.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auditwatch/auditwatch/internal/domain"
	"github.com/auditwatch/auditwatch/internal/pipeline"
)

// Worker subscribes to the case-submission topic and executes one pipeline
// run per message. Runs for different cases proceed in parallel under a
// bounded group; a failed run is recorded in its audit trail and never
// stops the worker.
type Worker struct {
	bus        domain.EventBus
	dispatcher *pipeline.Dispatcher
	log        *slog.Logger

	concurrency int
	runTimeout  time.Duration

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	sub    domain.Subscription
}

// Config bounds the worker.
type Config struct {
	// Concurrency caps simultaneous pipeline runs.
	Concurrency int

	// RunTimeout bounds a single run end to end.
	RunTimeout time.Duration
}

// New creates a worker over a bus and dispatcher.
func New(b domain.EventBus, d *pipeline.Dispatcher, cfg Config, log *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Concurrency)

	return &Worker{
		bus:         b,
		dispatcher:  d,
		log:         log,
		concurrency: cfg.Concurrency,
		runTimeout:  cfg.RunTimeout,
		group:       group,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start subscribes to the submission topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCaseSubmitted, w.handleSubmission)
	if err != nil {
		return err
	}
	w.sub = sub

	w.log.Info("case worker started",
		"topic", domain.TopicCaseSubmitted,
		"concurrency", w.concurrency)
	return nil
}

func (w *Worker) handleSubmission(ctx context.Context, msg *domain.Message) error {
	payload := msg.Payload
	w.group.Go(func() error {
		runCtx, cancel := context.WithTimeout(w.ctx, w.runTimeout)
		defer cancel()

		res, err := w.dispatcher.Run(runCtx, payload)
		if err != nil {
			// Already audited as run-failed by the dispatcher.
			w.log.Error("submitted case run failed", "error", err)
			return nil
		}

		w.log.Info("submitted case run completed",
			"case_id", res.CaseID,
			"correlation_id", res.CorrelationID,
			"risk_score", float64(res.RiskScore),
			"typology", res.Typology.Label)
		return nil
	})
	return nil
}

// Stop unsubscribes and waits for in-flight runs.
func (w *Worker) Stop() error {
	if w.sub != nil {
		_ = w.sub.Unsubscribe()
	}
	err := w.group.Wait()
	w.cancel()
	w.log.Info("case worker stopped")
	return err
}
