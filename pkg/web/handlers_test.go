package web_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/timelock/pkg/authz"
	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence/file"
	"github.com/dukex/timelock/pkg/services"
	"github.com/dukex/timelock/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	adminActor    = authz.Actor{ID: "admin@example.com", Role: authz.RoleAdmin}
	approverActor = authz.Actor{ID: "approver@example.com", Role: authz.RoleApprover}
	userActor     = authz.Actor{ID: "user@example.com", Role: authz.RoleUser}
)

func setupTestApp(t *testing.T) (*fiber.App, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	persistence := file.NewPersistence(t.TempDir())

	releaseService := services.NewRelease(persistence, nil, clock, nil)
	queryService := services.NewQuery(persistence)
	statisticsService := services.NewStatistics(persistence)
	templateService := services.NewTemplate(persistence, clock)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(releaseService, queryService, statisticsService, templateService, validate)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)

	releases := app.Group("/releases", web.NewIdentityMiddleware())
	releases.Get("/", handlers.ListReleases)
	releases.Post("/", handlers.CreateRelease)
	releases.Get("/statistics", handlers.GetStatistics)
	releases.Post("/from-template/:id", handlers.CreateReleaseFromTemplate)
	releases.Get("/:id", handlers.GetRelease)
	releases.Get("/:id/history", handlers.GetReleaseHistory)
	releases.Post("/:id/schedule", handlers.ScheduleRelease)
	releases.Post("/:id/approve", handlers.ApproveRelease)
	releases.Post("/:id/execute", handlers.ExecuteRelease)
	releases.Post("/:id/cancel", handlers.CancelRelease)

	templates := app.Group("/templates", web.NewIdentityMiddleware())
	templates.Get("/", handlers.ListTemplates)
	templates.Post("/", handlers.CreateTemplate)

	return app, clock
}

func doRequest(t *testing.T, app *fiber.App, method, path string, actor *authz.Actor, payload any) *http.Response {
	t.Helper()

	var body io.Reader

	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")

	if actor != nil {
		req.Header.Set(web.HeaderActorID, actor.ID)
		req.Header.Set(web.HeaderActorRole, string(actor.Role))
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, target), "body: %s", raw)
}

func createRelease(t *testing.T, app *fiber.App, title string) *models.Release {
	t.Helper()

	resp := doRequest(t, app, http.MethodPost, "/releases/", &userActor, web.CreateReleaseRequest{
		Title:   title,
		Payload: json.RawMessage(`{}`),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var release models.Release

	decodeBody(t, resp, &release)

	return &release
}

func TestAPIHandlers_CreateRelease(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		actor          *authz.Actor
		requestBody    any
		expectedStatus int
	}{
		{
			name:  "successful creation",
			actor: &userActor,
			requestBody: web.CreateReleaseRequest{
				Title:       "Deploy v2",
				Description: "ship it",
				Payload:     json.RawMessage(`{"artifact":"v2.0.0"}`),
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "validation error - missing title",
			actor:          &userActor,
			requestBody:    web.CreateReleaseRequest{Payload: json.RawMessage(`{}`)},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "validation error - missing payload",
			actor:          &userActor,
			requestBody:    web.CreateReleaseRequest{Title: "Deploy"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			actor:          &userActor,
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:  "forbidden - approver may not create",
			actor: &approverActor,
			requestBody: web.CreateReleaseRequest{
				Title:   "Deploy",
				Payload: json.RawMessage(`{}`),
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:  "unauthorized - missing identity headers",
			actor: nil,
			requestBody: web.CreateReleaseRequest{
				Title:   "Deploy",
				Payload: json.RawMessage(`{}`),
			},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp := doRequest(t, app, http.MethodPost, "/releases/", tt.actor, tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				var release models.Release

				decodeBody(t, resp, &release)
				assert.NotEmpty(t, release.ID)
				assert.Equal(t, models.ReleaseStatusDraft, release.Status)
				assert.Equal(t, tt.actor.ID, release.CreatedBy)
			}
		})
	}
}

func TestAPIHandlers_Lifecycle(t *testing.T) {
	t.Parallel()

	app, clock := setupTestApp(t)
	release := createRelease(t, app, "Deploy v2")

	// Schedule an hour out.
	scheduledAt := clock.Now().Add(time.Hour)
	resp := doRequest(t, app, http.MethodPost, "/releases/"+release.ID+"/schedule", &adminActor,
		web.ScheduleReleaseRequest{ScheduledAt: scheduledAt})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var scheduled models.Release

	decodeBody(t, resp, &scheduled)
	assert.Equal(t, models.ReleaseStatusScheduled, scheduled.Status)

	// Approve.
	resp = doRequest(t, app, http.MethodPost, "/releases/"+release.ID+"/approve", &approverActor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Execute before the scheduled instant: 409 with the not_due problem type.
	resp = doRequest(t, app, http.MethodPost, "/releases/"+release.ID+"/execute", &adminActor, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem struct {
		Type string `json:"type"`
	}

	decodeBody(t, resp, &problem)
	assert.Equal(t, "not_due", problem.Type)

	// Execute once due.
	clock.Advance(61 * time.Minute)

	resp = doRequest(t, app, http.MethodPost, "/releases/"+release.ID+"/execute", &adminActor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var executed models.Release

	decodeBody(t, resp, &executed)
	assert.Equal(t, models.ReleaseStatusExecuted, executed.Status)
	assert.NotNil(t, executed.ExecutedAt)

	// Terminal: cancel now conflicts with the invalid_transition problem type.
	resp = doRequest(t, app, http.MethodPost, "/releases/"+release.ID+"/cancel", &adminActor, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	decodeBody(t, resp, &problem)
	assert.Equal(t, "invalid_transition", problem.Type)
}

func TestAPIHandlers_GetRelease(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	release := createRelease(t, app, "Deploy v2")

	resp := doRequest(t, app, http.MethodGet, "/releases/"+release.ID, &userActor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Release

	decodeBody(t, resp, &fetched)
	assert.Equal(t, release.ID, fetched.ID)

	resp = doRequest(t, app, http.MethodGet, "/releases/does-not-exist", &userActor, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ListReleases(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	for i := range 25 {
		createRelease(t, app, fmt.Sprintf("release-%02d", i))
	}

	resp := doRequest(t, app, http.MethodGet, "/releases/?page=0&size=10", &userActor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page services.ReleasePage

	decodeBody(t, resp, &page)
	assert.Len(t, page.Content, 10)
	assert.Equal(t, int64(25), page.TotalElements)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrevious)

	resp = doRequest(t, app, http.MethodGet, "/releases/?page=2&size=10", &userActor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeBody(t, resp, &page)
	assert.Len(t, page.Content, 5)
	assert.False(t, page.HasNext)

	// Invalid paging parameters are a 400, not a 500.
	resp = doRequest(t, app, http.MethodGet, "/releases/?size=0", &userActor, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/releases/?sort_by=payload", &userActor, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_Statistics(t *testing.T) {
	t.Parallel()

	app, clock := setupTestApp(t)

	createRelease(t, app, "draft")

	scheduled := createRelease(t, app, "scheduled")
	resp := doRequest(t, app, http.MethodPost, "/releases/"+scheduled.ID+"/schedule", &adminActor,
		web.ScheduleReleaseRequest{ScheduledAt: clock.Now().Add(time.Hour)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/releases/statistics", &userActor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats services.ReleaseStatistics

	decodeBody(t, resp, &stats)
	assert.Equal(t, int64(2), stats.TotalReleases)
	assert.Equal(t, int64(1), stats.ScheduledReleases)
	assert.Equal(t, int64(1), stats.ReleasesByStatus[models.ReleaseStatusDraft])
}

func TestAPIHandlers_History(t *testing.T) {
	t.Parallel()

	app, clock := setupTestApp(t)
	release := createRelease(t, app, "Deploy v2")

	resp := doRequest(t, app, http.MethodPost, "/releases/"+release.ID+"/schedule", &adminActor,
		web.ScheduleReleaseRequest{ScheduledAt: clock.Now().Add(time.Hour)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/releases/"+release.ID+"/history", &userActor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		Entries    []*models.ReleaseAuditEntry `json:"entries"`
		TotalCount int64                       `json:"total_count"`
	}

	decodeBody(t, resp, &history)
	require.Len(t, history.Entries, 2)
	assert.Equal(t, int64(2), history.TotalCount)
	assert.Equal(t, "schedule", history.Entries[0].Action)
	assert.Equal(t, "create", history.Entries[1].Action)
}

func TestAPIHandlers_Templates(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	templateReq := web.CreateTemplateRequest{
		Name:           "hotfix",
		DefaultTitle:   "Hotfix release",
		DefaultPayload: json.RawMessage(`{"channel":"stable"}`),
	}

	// Only an ADMIN may create templates.
	resp := doRequest(t, app, http.MethodPost, "/templates/", &userActor, templateReq)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, app, http.MethodPost, "/templates/", &adminActor, templateReq)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var template models.ReleaseTemplate

	decodeBody(t, resp, &template)
	assert.NotEmpty(t, template.ID)
	assert.True(t, template.Active)

	resp = doRequest(t, app, http.MethodGet, "/templates/", &userActor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var templates []*models.ReleaseTemplate

	decodeBody(t, resp, &templates)
	require.Len(t, templates, 1)

	// Instantiate a release from the template with a title override.
	resp = doRequest(t, app, http.MethodPost, "/releases/from-template/"+template.ID, &userActor,
		web.CreateFromTemplateRequest{Title: "Hotfix 42"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var release models.Release

	decodeBody(t, resp, &release)
	assert.Equal(t, "Hotfix 42", release.Title)
	assert.JSONEq(t, `{"channel":"stable"}`, string(release.Payload))

	resp = doRequest(t, app, http.MethodPost, "/releases/from-template/missing", &userActor, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	// No identity required on the health endpoint.
	resp := doRequest(t, app, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
	}

	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
}
