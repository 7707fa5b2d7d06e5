package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/timelock/pkg/authz"
	"github.com/dukex/timelock/pkg/eventbus"
	"github.com/dukex/timelock/pkg/events"
	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/xeipuuv/gojsonschema"
)

// Release owns the release lifecycle: it validates and applies every
// transition, consulting the authorization table and the injected clock.
// Transitions on the same release are serialized; no two can interleave.
type Release struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
	locks       sync.Map // release ID -> *sync.Mutex
}

// NewRelease creates a new release service. The event bus may be nil, in which
// case lifecycle events are not published. A nil clock falls back to the real
// clock.
func NewRelease(
	persistence persistence.Persistence,
	eventBus eventbus.EventPublisher,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Release {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Release{
		persistence: persistence,
		eventBus:    eventBus,
		clock:       clock,
		logger:      logger,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Release) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateReleaseRequest contains the creator-owned fields of a new release.
type CreateReleaseRequest struct {
	Title       string
	Description string
	Payload     json.RawMessage
}

// Create adds a new release in DRAFT status.
func (s *Release) Create(ctx context.Context, actor authz.Actor, req CreateReleaseRequest) (*models.Release, error) {
	if !authz.Permits(actor.Role, authz.ActionCreate) {
		return nil, ErrForbidden
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return nil, ErrMalformedPayload
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate release ID: %w", err)
	}

	release := &models.Release{
		ID:          id.String(),
		Title:       title,
		Description: req.Description,
		Payload:     req.Payload,
		Status:      models.ReleaseStatusDraft,
		CreatedAt:   s.clock.Now().UTC(),
		CreatedBy:   actor.ID,
	}

	err = s.persistence.ReleaseRepository().Save(ctx, release)
	if err != nil {
		return nil, fmt.Errorf("failed to create release: %w", err)
	}

	s.audit(ctx, release.ID, authz.ActionCreate, actor.ID, "title: "+title)
	s.publish(ctx, release.ID, events.ReleaseCreated{
		BaseEvent: s.baseEvent(events.ReleaseCreatedEvent, release.ID, actor.ID),
		Title:     release.Title,
		Payload:   release.Payload,
	})

	s.logger.InfoContext(ctx, "Created release", "release_id", release.ID, "created_by", actor.ID)

	return release, nil
}

// CreateFromTemplate adds a new release seeded from an active template.
// Overrides replace the template defaults field by field; when the template
// carries a payload schema, the effective payload must validate against it.
func (s *Release) CreateFromTemplate(
	ctx context.Context,
	actor authz.Actor,
	templateID string,
	overrides CreateReleaseRequest,
) (*models.Release, error) {
	if !authz.Permits(actor.Role, authz.ActionCreate) {
		return nil, ErrForbidden
	}

	template, err := s.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	if template == nil {
		return nil, ErrTemplateNotFound
	}

	if !template.Active {
		return nil, ErrTemplateInactive
	}

	req := CreateReleaseRequest{
		Title:       template.DefaultTitle,
		Description: template.DefaultDescription,
		Payload:     template.DefaultPayload,
	}

	if strings.TrimSpace(overrides.Title) != "" {
		req.Title = overrides.Title
	}

	if overrides.Description != "" {
		req.Description = overrides.Description
	}

	if len(overrides.Payload) > 0 {
		req.Payload = overrides.Payload
	}

	if len(template.PayloadSchema) > 0 {
		result, err := gojsonschema.Validate(
			gojsonschema.NewBytesLoader(template.PayloadSchema),
			gojsonschema.NewBytesLoader(req.Payload),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPayloadSchemaViolation, err)
		}

		if !result.Valid() {
			details := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				details = append(details, desc.String())
			}

			return nil, fmt.Errorf("%w: %s", ErrPayloadSchemaViolation, strings.Join(details, "; "))
		}
	}

	return s.Create(ctx, actor, req)
}

// Schedule sets or moves the release's execution instant. The instant must be
// strictly in the future. An APPROVED release keeps its status; approval is
// not revoked by rescheduling.
func (s *Release) Schedule(ctx context.Context, actor authz.Actor, releaseID string, when time.Time) (*models.Release, error) {
	if !authz.Permits(actor.Role, authz.ActionSchedule) {
		return nil, ErrForbidden
	}

	lock := s.lockFor(releaseID)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.load(ctx, releaseID)
	if err != nil {
		return nil, err
	}

	if release.Status.Terminal() {
		return nil, NewInvalidTransitionError(authz.ActionSchedule, release.Status)
	}

	if !when.After(s.clock.Now()) {
		return nil, ErrScheduleNotFuture
	}

	previous := release.Status

	when = when.UTC()
	release.ScheduledAt = &when

	if release.Status != models.ReleaseStatusApproved {
		release.Status = models.ReleaseStatusScheduled
	}

	err = s.saveTransition(ctx, authz.ActionSchedule, release, previous)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, release.ID, authz.ActionSchedule, actor.ID, "scheduled for: "+when.Format(time.RFC3339))
	s.publish(ctx, release.ID, events.ReleaseScheduled{
		BaseEvent:   s.baseEvent(events.ReleaseScheduledEvent, release.ID, actor.ID),
		ScheduledAt: when,
	})

	s.logger.InfoContext(ctx, "Scheduled release", "release_id", release.ID, "scheduled_at", when)

	return release, nil
}

// Approve marks a DRAFT or SCHEDULED release as approved. Approving an
// already-approved release fails; approvedAt is never rewritten.
func (s *Release) Approve(ctx context.Context, actor authz.Actor, releaseID string) (*models.Release, error) {
	if !authz.Permits(actor.Role, authz.ActionApprove) {
		return nil, ErrForbidden
	}

	lock := s.lockFor(releaseID)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.load(ctx, releaseID)
	if err != nil {
		return nil, err
	}

	if release.Status != models.ReleaseStatusDraft && release.Status != models.ReleaseStatusScheduled {
		return nil, NewInvalidTransitionError(authz.ActionApprove, release.Status)
	}

	previous := release.Status

	now := s.clock.Now().UTC()
	release.ApprovedAt = &now
	release.ApprovedBy = actor.ID
	release.Status = models.ReleaseStatusApproved

	err = s.saveTransition(ctx, authz.ActionApprove, release, previous)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, release.ID, authz.ActionApprove, actor.ID, "")
	s.publish(ctx, release.ID, events.ReleaseApproved{
		BaseEvent:  s.baseEvent(events.ReleaseApprovedEvent, release.ID, actor.ID),
		ApprovedBy: actor.ID,
		ApprovedAt: now,
	})

	s.logger.InfoContext(ctx, "Approved release", "release_id", release.ID, "approved_by", actor.ID)

	return release, nil
}

// Execute runs an APPROVED release once its scheduled instant has been
// reached. Exactly one concurrent execute can succeed per release.
func (s *Release) Execute(ctx context.Context, actor authz.Actor, releaseID string) (*models.Release, error) {
	if !authz.Permits(actor.Role, authz.ActionExecute) {
		return nil, ErrForbidden
	}

	lock := s.lockFor(releaseID)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.load(ctx, releaseID)
	if err != nil {
		return nil, err
	}

	if release.Status != models.ReleaseStatusApproved {
		return nil, NewInvalidTransitionError(authz.ActionExecute, release.Status)
	}

	now := s.clock.Now()
	if !release.Due(now) {
		return nil, ErrNotDue
	}

	executedAt := now.UTC()
	release.ExecutedAt = &executedAt
	release.Status = models.ReleaseStatusExecuted

	err = s.saveTransition(ctx, authz.ActionExecute, release, models.ReleaseStatusApproved)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, release.ID, authz.ActionExecute, actor.ID, "")
	s.publish(ctx, release.ID, events.ReleaseExecuted{
		BaseEvent:  s.baseEvent(events.ReleaseExecutedEvent, release.ID, actor.ID),
		Title:      release.Title,
		Payload:    release.Payload,
		ExecutedAt: executedAt,
	})

	s.logger.InfoContext(ctx, "Executed release", "release_id", release.ID, "executed_by", actor.ID)

	return release, nil
}

// Cancel abandons a release from any non-terminal status.
func (s *Release) Cancel(ctx context.Context, actor authz.Actor, releaseID string) (*models.Release, error) {
	if !authz.Permits(actor.Role, authz.ActionCancel) {
		return nil, ErrForbidden
	}

	lock := s.lockFor(releaseID)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.load(ctx, releaseID)
	if err != nil {
		return nil, err
	}

	if release.Status.Terminal() {
		return nil, NewInvalidTransitionError(authz.ActionCancel, release.Status)
	}

	previous := release.Status
	release.Status = models.ReleaseStatusCancelled

	err = s.saveTransition(ctx, authz.ActionCancel, release, previous)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, release.ID, authz.ActionCancel, actor.ID, "")
	s.publish(ctx, release.ID, events.ReleaseCancelled{
		BaseEvent:   s.baseEvent(events.ReleaseCancelledEvent, release.ID, actor.ID),
		CancelledBy: actor.ID,
	})

	s.logger.InfoContext(ctx, "Cancelled release", "release_id", release.ID, "cancelled_by", actor.ID)

	return release, nil
}

// FetchByID retrieves a release by its ID.
func (s *Release) FetchByID(ctx context.Context, id string) (*models.Release, error) {
	release, err := s.persistence.ReleaseRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if release == nil {
		return nil, ErrReleaseNotFound
	}

	return release, nil
}

// History returns one page of a release's audit trail, newest first.
func (s *Release) History(ctx context.Context, releaseID string, page, size int) (*persistence.AuditListResult, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, persistence.ErrInvalidPageSize)
	}

	if _, err := s.FetchByID(ctx, releaseID); err != nil {
		return nil, err
	}

	return s.persistence.AuditRepository().ListByRelease(ctx, releaseID, page, size)
}

// saveTransition persists a status move, using the pre-transition status as
// the write precondition. The in-memory lock serializes callers within one
// process; the precondition covers writers in other processes sharing the
// store. Losing to one surfaces as an InvalidTransitionError carrying the
// status that won.
func (s *Release) saveTransition(
	ctx context.Context,
	action authz.Action,
	release *models.Release,
	previous models.ReleaseStatus,
) error {
	err := s.persistence.ReleaseRepository().Update(ctx, release, previous)
	if err == nil {
		return nil
	}

	if errors.Is(err, persistence.ErrStaleRelease) {
		current, loadErr := s.persistence.ReleaseRepository().GetByID(ctx, release.ID)
		if loadErr == nil && current != nil {
			return NewInvalidTransitionError(action, current.Status)
		}

		return NewInvalidTransitionError(action, previous)
	}

	if errors.Is(err, persistence.ErrReleaseNotFound) {
		return ErrReleaseNotFound
	}

	return fmt.Errorf("failed to %s release %s: %w", action, release.ID, err)
}

func (s *Release) lockFor(releaseID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(releaseID, &sync.Mutex{})

	return lock.(*sync.Mutex)
}

func (s *Release) load(ctx context.Context, releaseID string) (*models.Release, error) {
	release, err := s.persistence.ReleaseRepository().GetByID(ctx, releaseID)
	if err != nil {
		return nil, err
	}

	if release == nil {
		return nil, ErrReleaseNotFound
	}

	return release, nil
}

// audit appends an entry to the action trail. A failing append is logged and
// never fails the transition.
func (s *Release) audit(ctx context.Context, releaseID string, action authz.Action, performedBy, details string) {
	id, err := uuid.NewV7()
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to generate audit entry ID", "release_id", releaseID, "error", err)

		return
	}

	entry := &models.ReleaseAuditEntry{
		ID:          id.String(),
		ReleaseID:   releaseID,
		Action:      string(action),
		PerformedBy: performedBy,
		PerformedAt: s.clock.Now().UTC(),
		Details:     details,
	}

	err = s.persistence.AuditRepository().Append(ctx, entry)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to append audit entry",
			"release_id", releaseID, "action", action, "error", err)
	}
}

// publish sends a lifecycle event. A failing publish is logged and never
// fails the transition.
func (s *Release) publish(ctx context.Context, releaseID string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	err := s.eventBus.Publish(ctx, releaseID, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish lifecycle event",
			"release_id", releaseID, "event_type", event.GetType(), "error", err)
	}
}

func (s *Release) baseEvent(eventType events.EventType, releaseID, actor string) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: s.clock.Now().UTC(),
		ReleaseID: releaseID,
		Actor:     actor,
	}
}
