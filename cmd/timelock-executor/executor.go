// Package main provides the background executor for due releases.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/timelock/pkg/authz"
	"github.com/dukex/timelock/pkg/eventbus"
	"github.com/dukex/timelock/pkg/events"
	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/otelhelper"
	"github.com/dukex/timelock/pkg/persistence"
	"github.com/dukex/timelock/pkg/services"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// systemActor executes due releases on behalf of the scheduler itself.
var systemActor = authz.Actor{ID: "system", Role: authz.RoleAdmin}

// Executor polls for APPROVED releases whose scheduled instant has passed and
// executes them. Failures on individual releases are logged and skipped so one
// bad release never stalls the batch.
type Executor struct {
	id          string
	persistence persistence.Persistence
	releases    *services.Release
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	tracer      trace.Tracer
	clock       clockwork.Clock
	batchSize   int
	webhookURL  string
	httpClient  *http.Client
	cron        *cron.Cron
}

func NewExecutor(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	tracer trace.Tracer,
	clock clockwork.Clock,
	batchSize int,
	webhookURL string,
) *Executor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if tracer == nil {
		tracer = otel.Tracer("timelock-executor")
	}

	return &Executor{
		id:          id,
		persistence: persistence,
		releases:    services.NewRelease(persistence, eventBus, clock, logger),
		eventBus:    eventBus,
		logger:      logger.With("module", "executor", "executor_id", id),
		tracer:      tracer,
		clock:       clock,
		batchSize:   batchSize,
		webhookURL:  webhookURL,
		httpClient:  &http.Client{},
	}
}

// Start runs the poll loop until the context is cancelled or a termination
// signal arrives.
func (e *Executor) Start(ctx context.Context, pollEvery string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.handleSignals(cancel)

	if e.webhookURL != "" {
		err := e.registerWebhook(ctx)
		if err != nil {
			return fmt.Errorf("failed to register webhook subscriber: %w", err)
		}
	}

	e.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := e.cron.AddFunc("@every "+pollEvery, func() { e.tick(ctx) })
	if err != nil {
		return fmt.Errorf("failed to add poll job: %w", err)
	}

	e.logger.Info("Starting executor", "poll_every", pollEvery, "batch_size", e.batchSize)
	e.cron.Start()

	<-ctx.Done()
	e.logger.Info("Executor context cancelled, stopping...")

	<-e.cron.Stop().Done()

	return nil
}

func (e *Executor) handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		e.logger.Info("Received signal", "signal", sig)
		cancel()
	}()
}

// tick executes every due release in one bounded batch, oldest first.
func (e *Executor) tick(ctx context.Context) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.poll")
	defer span.End()

	due, err := e.persistence.ReleaseRepository().ListDue(ctx, e.clock.Now(), e.batchSize)
	if err != nil {
		otelhelper.SetError(span, err)
		e.logger.ErrorContext(ctx, "Failed to list due releases", "error", err)

		return
	}

	span.SetAttributes(attribute.Int(otelhelper.BatchSizeKey, len(due)))

	if len(due) == 0 {
		return
	}

	e.logger.InfoContext(ctx, "Executing due releases", "count", len(due))

	for _, release := range due {
		e.executeOne(ctx, release)
	}
}

func (e *Executor) executeOne(ctx context.Context, release *models.Release) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.execute",
		attribute.String(otelhelper.ReleaseIDKey, release.ID),
		attribute.String(otelhelper.ReleaseTitleKey, release.Title),
		attribute.String(otelhelper.ActorIDKey, systemActor.ID),
	)
	defer span.End()

	executed, err := e.releases.Execute(ctx, systemActor, release.ID)

	switch {
	case err == nil:
		e.logger.InfoContext(ctx, "Executed release",
			"release_id", executed.ID, "title", executed.Title)
	case services.IsInvalidTransition(err) || services.IsNotDue(err):
		// Another executor or an operator got there first.
		e.logger.DebugContext(ctx, "Release no longer executable, skipping",
			"release_id", release.ID, "error", err)
	default:
		otelhelper.SetError(span, err)
		e.logger.ErrorContext(ctx, "Failed to execute release",
			"release_id", release.ID, "error", err)
	}
}

// registerWebhook subscribes to executed events and forwards them to the
// configured endpoint.
func (e *Executor) registerWebhook(ctx context.Context) error {
	err := e.eventBus.Handle(events.ReleaseExecutedEvent, func(ctx context.Context, event any) error {
		executed, ok := event.(*events.ReleaseExecuted)
		if !ok {
			return nil
		}

		return e.notifyWebhook(ctx, executed)
	})
	if err != nil {
		return err
	}

	return e.eventBus.Subscribe(ctx)
}

func (e *Executor) notifyWebhook(ctx context.Context, event *events.ReleaseExecuted) error {
	body, err := json.Marshal(map[string]any{
		"id":      event.ReleaseID,
		"title":   event.Title,
		"payload": event.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.ErrorContext(ctx, "Webhook delivery failed",
			"release_id", event.ReleaseID, "error", err)

		return err
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		e.logger.ErrorContext(ctx, "Webhook returned non-success status",
			"release_id", event.ReleaseID, "status", resp.StatusCode)

		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	e.logger.InfoContext(ctx, "Webhook delivered", "release_id", event.ReleaseID)

	return nil
}
