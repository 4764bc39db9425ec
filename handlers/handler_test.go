package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surajsub/tenant-provisioner/db"
	"github.com/surajsub/tenant-provisioner/ingest"
	"github.com/surajsub/tenant-provisioner/models"
	"github.com/surajsub/tenant-provisioner/tenants"
)

type fakeRuns struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*db.PipelineRun
	finished map[uuid.UUID]error
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: map[uuid.UUID]*db.PipelineRun{}, finished: map[uuid.UUID]error{}}
}

func (f *fakeRuns) CreateRun(_ context.Context, run *db.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.Status = string(models.RunPending)
	run.CreatedAt = time.Now().UTC()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRuns) AttachWorkflow(_ context.Context, runID uuid.UUID, workflowID, workflowRunID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return db.ErrRunNotFound
	}
	run.WorkflowID, run.WorkflowRunID = workflowID, workflowRunID
	return nil
}

func (f *fakeRuns) FinishRun(_ context.Context, runID uuid.UUID, _ *models.PipelineResult, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[runID] = cause
	if run, ok := f.runs[runID]; ok {
		run.Status = string(models.RunFailed)
	}
	return nil
}

func (f *fakeRuns) GetRun(_ context.Context, runID uuid.UUID) (*db.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, db.ErrRunNotFound
	}
	return run, nil
}

type fakeDispatcher struct {
	err         error
	describeErr error
	requests    []models.PipelineRequest
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req models.PipelineRequest) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.requests = append(f.requests, req)
	return WorkflowID(req), "wf-run-1", nil
}

func (f *fakeDispatcher) Describe(_ context.Context, workflowID, runID string) (*WorkflowStatus, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &WorkflowStatus{WorkflowID: workflowID, RunID: runID, Status: "WORKFLOW_EXECUTION_STATUS_COMPLETED"}, nil
}

type testAPI struct {
	echo       *echo.Echo
	manager    *tenants.Manager
	runs       *fakeRuns
	dispatcher *fakeDispatcher
	scratch    string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	api := &testAPI{
		echo:       echo.New(),
		manager:    tenants.NewManager(tenants.NewMemoryStore(), logger),
		runs:       newFakeRuns(),
		dispatcher: &fakeDispatcher{},
		scratch:    t.TempDir(),
	}
	api.echo.HTTPErrorHandler = CustomHTTPErrorHandler
	api.echo.Use(RequestIDMiddleware)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "tenant_test_total", Help: "test counter"}))
	RegisterRoutes(api.echo, &Handler{
		Tenants:    api.manager,
		Runs:       api.runs,
		Dispatcher: api.dispatcher,
		Ingester:   &ingest.Ingester{BaseDir: api.scratch, Steps: []string{"configuration", "graph-store"}, Logger: logger},
		Logger:     logger,
	}, reg)
	return api
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

type part struct {
	field, fileName, body string
}

func multipartRequest(t *testing.T, fields map[string]string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(p.body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

const document = `
steps:
  configuration:
    configurations:
      billing.plan: gold
`

func TestCreateTenantDispatchesPipeline(t *testing.T) {
	api := newTestAPI(t)
	req := multipartRequest(t,
		map[string]string{"tenant_id": "acme", "document": document, "submitter": "ops"},
		part{"graph-store_p1_patches", "base.ttl", "@prefix a: <urn:a> ."},
	)

	rec := api.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp SubmissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acme", resp.TenantID)
	assert.Equal(t, models.ActionCreate, resp.Action)
	assert.Equal(t, "ops", resp.Submitter)

	require.Len(t, api.dispatcher.requests, 1)
	sent := api.dispatcher.requests[0]
	assert.Equal(t, resp.RunID, sent.RunID)
	require.Contains(t, sent.StepData, "graph-store")
	files := sent.StepData["graph-store"].FilesFor("patches")
	require.Len(t, files, 1)
	assert.Equal(t, "base.ttl", files[0].Name)
	configs, _ := sent.StepData["configuration"].Property("configurations")
	assert.Equal(t, map[string]any{"billing.plan": "gold"}, configs)

	run := api.runs.runs[uuid.MustParse(resp.RunID)]
	require.NotNil(t, run)
	assert.Equal(t, resp.WorkflowID, run.WorkflowID)
	assert.Equal(t, "wf-run-1", run.WorkflowRunID)
}

func TestCreateTenantRejectsMalformedKey(t *testing.T) {
	api := newTestAPI(t)
	req := multipartRequest(t, map[string]string{"tenant_id": "acme"}, part{"graph-store_patches", "a.ttl", "x"})

	rec := api.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, api.runs.runs)
	assert.Empty(t, api.dispatcher.requests)
}

func TestCreateTenantRejectsUnknownStep(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(multipartRequest(t, map[string]string{"tenant_id": "acme"}, part{"graph-stor_p1_patches", "a.ttl", "x"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown step")

	rec = api.do(multipartRequest(t, map[string]string{"tenant_id": "acme", "document": "steps:\n  configuraton:\n    x: 1\n"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown step")

	assert.Empty(t, api.runs.runs)
	assert.Empty(t, api.dispatcher.requests)
}

func TestCreateTenantValidation(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.manager.AddNewTenant(context.Background(), "taken")
	require.NoError(t, err)

	tests := []struct {
		name   string
		fields map[string]string
		code   int
	}{
		{"invalid id", map[string]string{"tenant_id": "Bad_ID"}, http.StatusBadRequest},
		{"missing id", map[string]string{}, http.StatusBadRequest},
		{"broken document", map[string]string{"tenant_id": "acme", "document": "steps: ["}, http.StatusBadRequest},
		{"existing tenant", map[string]string{"tenant_id": "taken"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(multipartRequest(t, tt.fields))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := api.do(httptest.NewRequest(http.MethodPost, "/v1/tenants", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTenantEngineUnavailable(t *testing.T) {
	api := newTestAPI(t)
	api.dispatcher.err = ErrEngineUnavailable
	req := multipartRequest(t, map[string]string{"tenant_id": "acme"}, part{"graph-store_p1_patches", "a.ttl", "x"})

	rec := api.do(req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Len(t, api.runs.finished, 1)
	for _, cause := range api.runs.finished {
		assert.ErrorIs(t, cause, ErrEngineUnavailable)
	}
	entries, err := os.ReadDir(api.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateTenantDispatchFailureIsInternal(t *testing.T) {
	api := newTestAPI(t)
	api.dispatcher.err = errors.New("boom")

	rec := api.do(multipartRequest(t, map[string]string{"tenant_id": "acme"}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to start pipeline")
}

func TestDeleteTenant(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.manager.AddNewTenant(context.Background(), "acme")
	require.NoError(t, err)

	rec := api.do(httptest.NewRequest(http.MethodDelete, "/v1/tenants/default", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(httptest.NewRequest(http.MethodDelete, "/v1/tenants/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/v1/tenants/acme", nil)
	req.Header.Set("X-Submitter", "ops")
	rec = api.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, api.dispatcher.requests, 1)
	assert.Equal(t, models.ActionDelete, api.dispatcher.requests[0].Action)
	assert.Equal(t, "ops", api.dispatcher.requests[0].Submitter)
}

func TestGetAndListTenants(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.manager.EnsureDefaultTenant(context.Background())
	require.NoError(t, err)
	_, err = api.manager.AddNewTenant(context.Background(), "acme")
	require.NoError(t, err)

	rec := api.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tenant models.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tenant))
	assert.Equal(t, models.StatusInactive, tenant.Status)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/v1/tenants", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "acme", list[0].ID)
	assert.Equal(t, models.DefaultTenantID, list[1].ID)
}

func TestGetRun(t *testing.T) {
	api := newTestAPI(t)
	runID := uuid.New()
	require.NoError(t, api.runs.CreateRun(context.Background(), &db.PipelineRun{
		ID:       runID,
		TenantID: "acme",
		Action:   string(models.ActionCreate),
		Steps: []db.PipelineRunStep{
			{StepID: "tenant-validation", Status: "step_succeeded"},
		},
	}))
	require.NoError(t, api.runs.AttachWorkflow(context.Background(), runID, "wf-1", "r-1"))

	rec := api.do(httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.TemporalOnline)
	require.NotNil(t, resp.Workflow)
	assert.Equal(t, "WORKFLOW_EXECUTION_STATUS_COMPLETED", resp.Workflow.Status)
	require.Len(t, resp.Steps, 1)
	assert.Equal(t, "tenant-validation", resp.Steps[0].StepID)

	api.dispatcher.describeErr = ErrEngineUnavailable
	rec = api.do(httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = RunResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.TemporalOnline)
	assert.Nil(t, resp.Workflow)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant_test_total")
}

func TestErrorHandling(t *testing.T) {
	api := newTestAPI(t)
	api.echo.GET("/boom", func(c echo.Context) error { return errors.New("database exploded") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := api.do(req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), "req-123")
	assert.NotContains(t, rec.Body.String(), "exploded")

	rec = api.do(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
