package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/timelock/pkg/authz"
	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence/file"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	adminActor    = authz.Actor{ID: "admin@example.com", Role: authz.RoleAdmin}
	approverActor = authz.Actor{ID: "approver@example.com", Role: authz.RoleApprover}
	userActor     = authz.Actor{ID: "user@example.com", Role: authz.RoleUser}
)

func newTestRelease(t *testing.T) (*Release, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	persistence := file.NewPersistence(t.TempDir())

	return NewRelease(persistence, nil, clock, nil), clock
}

func mustCreate(t *testing.T, service *Release, actor authz.Actor, title string) *models.Release {
	t.Helper()

	release, err := service.Create(t.Context(), actor, CreateReleaseRequest{
		Title:   title,
		Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	return release
}

func TestRelease_Create(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)

	release, err := service.Create(t.Context(), userActor, CreateReleaseRequest{
		Title:       "Deploy v2",
		Description: "Second major deploy",
		Payload:     json.RawMessage(`{"artifact":"v2.0.0"}`),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, release.ID)
	assert.Equal(t, models.ReleaseStatusDraft, release.Status)
	assert.Equal(t, "Deploy v2", release.Title)
	assert.Equal(t, userActor.ID, release.CreatedBy)
	assert.True(t, release.CreatedAt.Equal(clock.Now()))

	// DRAFT carries none of the lifecycle timestamps.
	assert.Nil(t, release.ScheduledAt)
	assert.Nil(t, release.ApprovedAt)
	assert.Nil(t, release.ExecutedAt)

	fetched, err := service.FetchByID(t.Context(), release.ID)
	require.NoError(t, err)
	assert.Equal(t, release.ID, fetched.ID)
}

func TestRelease_Create_Validation(t *testing.T) {
	t.Parallel()

	service, _ := newTestRelease(t)

	tests := []struct {
		name    string
		req     CreateReleaseRequest
		wantErr error
	}{
		{"empty title", CreateReleaseRequest{Payload: json.RawMessage(`{}`)}, ErrTitleRequired},
		{"blank title", CreateReleaseRequest{Title: "   ", Payload: json.RawMessage(`{}`)}, ErrTitleRequired},
		{"missing payload", CreateReleaseRequest{Title: "R"}, ErrMalformedPayload},
		{"malformed payload", CreateReleaseRequest{Title: "R", Payload: json.RawMessage(`{not json`)}, ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			release, err := service.Create(t.Context(), userActor, tt.req)
			assert.Nil(t, release)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestRelease_RoleMatrix(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)
	release := mustCreate(t, service, userActor, "R1")

	// A USER may create but nothing else.
	_, err := service.Schedule(t.Context(), userActor, release.ID, clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = service.Approve(t.Context(), userActor, release.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = service.Execute(t.Context(), userActor, release.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = service.Cancel(t.Context(), userActor, release.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// An APPROVER may only approve.
	_, err = service.Schedule(t.Context(), approverActor, release.ID, clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = service.Create(t.Context(), approverActor, CreateReleaseRequest{
		Title:   "R2",
		Payload: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrForbidden)

	// An unknown role is denied everything.
	rogue := authz.Actor{ID: "rogue@example.com", Role: authz.Role("SUPERUSER")}
	_, err = service.Create(t.Context(), rogue, CreateReleaseRequest{Title: "R3", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRelease_FullLifecycle(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)

	// USER creates a draft.
	release := mustCreate(t, service, userActor, "R1")
	assert.Equal(t, models.ReleaseStatusDraft, release.Status)

	// ADMIN schedules it an hour out.
	scheduledFor := clock.Now().Add(time.Hour)
	release, err := service.Schedule(t.Context(), adminActor, release.ID, scheduledFor)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusScheduled, release.Status)
	require.NotNil(t, release.ScheduledAt)
	assert.True(t, release.ScheduledAt.Equal(scheduledFor))

	// APPROVER approves.
	release, err = service.Approve(t.Context(), approverActor, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusApproved, release.Status)
	require.NotNil(t, release.ApprovedAt)
	assert.Equal(t, approverActor.ID, release.ApprovedBy)

	// Execute at now+30m fails: not due yet.
	clock.Advance(30 * time.Minute)
	_, err = service.Execute(t.Context(), adminActor, release.ID)
	assert.ErrorIs(t, err, ErrNotDue)
	assert.False(t, IsInvalidTransition(err), "NotDue is distinct from InvalidTransition")

	// Execute at now+61m succeeds.
	clock.Advance(31 * time.Minute)
	release, err = service.Execute(t.Context(), adminActor, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusExecuted, release.Status)
	require.NotNil(t, release.ExecutedAt)

	// No further transition from a terminal state.
	_, err = service.Cancel(t.Context(), adminActor, release.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = service.Schedule(t.Context(), adminActor, release.ID, clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRelease_ApproveFromDraft(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)
	release := mustCreate(t, service, userActor, "R1")

	// Approval is legal straight from DRAFT, skipping scheduling.
	release, err := service.Approve(t.Context(), adminActor, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusApproved, release.Status)
	assert.Nil(t, release.ScheduledAt)

	// Without a scheduled instant the release is never due.
	_, err = service.Execute(t.Context(), adminActor, release.ID)
	assert.ErrorIs(t, err, ErrNotDue)

	// Scheduling an approved release keeps it approved.
	scheduledFor := clock.Now().Add(time.Minute)
	release, err = service.Schedule(t.Context(), adminActor, release.ID, scheduledFor)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusApproved, release.Status)
	require.NotNil(t, release.ScheduledAt)

	clock.Advance(time.Minute)

	release, err = service.Execute(t.Context(), adminActor, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusExecuted, release.Status)
}

func TestRelease_ReApprove(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)
	release := mustCreate(t, service, userActor, "R1")

	approved, err := service.Approve(t.Context(), approverActor, release.ID)
	require.NoError(t, err)

	firstApprovedAt := *approved.ApprovedAt

	clock.Advance(time.Minute)

	// A second approve is rejected and approvedAt never changes.
	_, err = service.Approve(t.Context(), adminActor, release.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	fetched, err := service.FetchByID(t.Context(), release.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.ApprovedAt)
	assert.True(t, fetched.ApprovedAt.Equal(firstApprovedAt))
	assert.Equal(t, approverActor.ID, fetched.ApprovedBy)
}

func TestRelease_Schedule_Validation(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)
	release := mustCreate(t, service, userActor, "R1")

	// Past and present instants are rejected.
	_, err := service.Schedule(t.Context(), adminActor, release.ID, clock.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrScheduleNotFuture)

	_, err = service.Schedule(t.Context(), adminActor, release.ID, clock.Now())
	assert.ErrorIs(t, err, ErrScheduleNotFuture)

	// A failed schedule leaves the record untouched.
	fetched, err := service.FetchByID(t.Context(), release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusDraft, fetched.Status)
	assert.Nil(t, fetched.ScheduledAt)
}

func TestRelease_Reschedule(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)
	release := mustCreate(t, service, userActor, "R1")

	first := clock.Now().Add(time.Hour)
	_, err := service.Schedule(t.Context(), adminActor, release.ID, first)
	require.NoError(t, err)

	// Scheduling again moves the instant.
	second := clock.Now().Add(2 * time.Hour)
	release, err = service.Schedule(t.Context(), adminActor, release.ID, second)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusScheduled, release.Status)
	assert.True(t, release.ScheduledAt.Equal(second))
}

func TestRelease_Cancel(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)

	// Cancellable from DRAFT.
	draft := mustCreate(t, service, userActor, "draft")
	cancelled, err := service.Cancel(t.Context(), adminActor, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusCancelled, cancelled.Status)

	// Cancellable from SCHEDULED.
	scheduled := mustCreate(t, service, userActor, "scheduled")
	_, err = service.Schedule(t.Context(), adminActor, scheduled.ID, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = service.Cancel(t.Context(), adminActor, scheduled.ID)
	require.NoError(t, err)

	// Cancellable from APPROVED.
	approved := mustCreate(t, service, userActor, "approved")
	_, err = service.Approve(t.Context(), approverActor, approved.ID)
	require.NoError(t, err)
	_, err = service.Cancel(t.Context(), adminActor, approved.ID)
	require.NoError(t, err)

	// Not cancellable twice.
	_, err = service.Cancel(t.Context(), adminActor, draft.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRelease_Execute_WrongState(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)
	release := mustCreate(t, service, userActor, "R1")

	_, err := service.Schedule(t.Context(), adminActor, release.ID, clock.Now().Add(time.Minute))
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	// Due but not approved: wrong state, not NotDue.
	_, err = service.Execute(t.Context(), adminActor, release.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, IsNotDue(err))

	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, authz.ActionExecute, transitionErr.Action)
	assert.Equal(t, models.ReleaseStatusScheduled, transitionErr.Status)
}

func TestRelease_Execute_ExactlyOnce(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)
	release := mustCreate(t, service, userActor, "R1")

	_, err := service.Schedule(t.Context(), adminActor, release.ID, clock.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = service.Approve(t.Context(), approverActor, release.ID)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	const racers = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	ctx := t.Context()

	for range racers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := service.Execute(ctx, adminActor, release.ID)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one concurrent execute may win")

	fetched, err := service.FetchByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusExecuted, fetched.Status)
}

func TestRelease_Execute_ExactlyOnceAcrossInstances(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	// Two service instances over one shared store, as when the API server and
	// the executor daemon point at the same data directory. They share no
	// in-memory state, so only the store's write precondition separates them.
	serviceA := NewRelease(file.NewPersistence(dir), nil, clock, nil)
	serviceB := NewRelease(file.NewPersistence(dir), nil, clock, nil)

	// A large payload widens the write window the precondition must cover.
	payload, err := json.Marshal(map[string]string{"artifact": strings.Repeat("x", 1<<20)})
	require.NoError(t, err)

	ctx := t.Context()

	for round := range 20 {
		release, err := serviceA.Create(ctx, userActor, CreateReleaseRequest{
			Title:   fmt.Sprintf("R%d", round),
			Payload: payload,
		})
		require.NoError(t, err)

		_, err = serviceA.Schedule(ctx, adminActor, release.ID, clock.Now().Add(time.Minute))
		require.NoError(t, err)
		_, err = serviceA.Approve(ctx, approverActor, release.ID)
		require.NoError(t, err)

		clock.Advance(time.Minute)

		start := make(chan struct{})
		results := make(chan error, 2)

		for _, service := range []*Release{serviceA, serviceB} {
			go func() {
				<-start

				_, err := service.Execute(ctx, adminActor, release.ID)
				results <- err
			}()
		}

		close(start)

		var succeeded int

		for range 2 {
			err := <-results
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		}

		assert.Equal(t, 1, succeeded, "exactly one instance may execute")

		final, err := serviceA.FetchByID(ctx, release.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReleaseStatusExecuted, final.Status)
	}
}

func TestRelease_NotFound(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)

	_, err := service.FetchByID(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrReleaseNotFound)

	_, err = service.Approve(t.Context(), adminActor, "missing")
	assert.ErrorIs(t, err, ErrReleaseNotFound)

	_, err = service.Schedule(t.Context(), adminActor, "missing", clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrReleaseNotFound)
}

func TestRelease_TimestampInvariant(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)
	release := mustCreate(t, service, userActor, "R1")

	states := []struct {
		apply   func() (*models.Release, error)
		status  models.ReleaseStatus
		hasTime func(r *models.Release) bool
	}{
		{
			func() (*models.Release, error) {
				return service.Schedule(t.Context(), adminActor, release.ID, clock.Now().Add(time.Minute))
			},
			models.ReleaseStatusScheduled,
			func(r *models.Release) bool { return r.ScheduledAt != nil },
		},
		{
			func() (*models.Release, error) { return service.Approve(t.Context(), approverActor, release.ID) },
			models.ReleaseStatusApproved,
			func(r *models.Release) bool { return r.ApprovedAt != nil },
		},
		{
			func() (*models.Release, error) {
				clock.Advance(time.Minute)

				return service.Execute(t.Context(), adminActor, release.ID)
			},
			models.ReleaseStatusExecuted,
			func(r *models.Release) bool { return r.ExecutedAt != nil },
		},
	}

	for _, state := range states {
		applied, err := state.apply()
		require.NoError(t, err)
		assert.Equal(t, state.status, applied.Status)
		assert.True(t, state.hasTime(applied), "status %s must carry its timestamp", state.status)
	}
}

func TestRelease_History(t *testing.T) {
	t.Parallel()

	service, clock := newTestRelease(t)
	release := mustCreate(t, service, userActor, "R1")

	clock.Advance(time.Second)
	_, err := service.Schedule(t.Context(), adminActor, release.ID, clock.Now().Add(time.Hour))
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = service.Approve(t.Context(), approverActor, release.ID)
	require.NoError(t, err)

	history, err := service.History(t.Context(), release.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, history.Entries, 3)
	assert.Equal(t, int64(3), history.TotalCount)

	// Newest first.
	assert.Equal(t, string(authz.ActionApprove), history.Entries[0].Action)
	assert.Equal(t, string(authz.ActionSchedule), history.Entries[1].Action)
	assert.Equal(t, string(authz.ActionCreate), history.Entries[2].Action)
	assert.Equal(t, approverActor.ID, history.Entries[0].PerformedBy)

	_, err = service.History(t.Context(), "missing", 0, 10)
	assert.ErrorIs(t, err, ErrReleaseNotFound)

	_, err = service.History(t.Context(), release.ID, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
