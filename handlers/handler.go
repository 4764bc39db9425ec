package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/db"
	"github.com/surajsub/tenant-provisioner/ingest"
	"github.com/surajsub/tenant-provisioner/models"
)

const (
	formTenantID  = "tenant_id"
	formDocument  = "document"
	formSubmitter = "submitter"
)

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// CreateTenant accepts a multipart submission: tenant_id, an optional
// document (field or file part) and one file part per attachment, named by
// its composite key.
func (h *Handler) CreateTenant(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "expected a multipart form")
	}
	tenantID := firstValue(form, formTenantID)
	if err := models.ValidateTenantID(tenantID); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	doc, err := readDocument(form)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	existing, err := h.Tenants.GetTenant(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	if existing != nil {
		return errorJSON(c, http.StatusConflict, "tenant "+tenantID+" already exists with status "+string(existing.Status))
	}

	data, err := h.Ingester.Ingest(doc, attachments(form))
	if err != nil {
		var keyErr *ingest.KeyError
		if errors.As(err, &keyErr) {
			return errorJSON(c, http.StatusBadRequest, keyErr.Error())
		}
		var unknownErr *ingest.UnknownStepError
		if errors.As(err, &unknownErr) {
			return errorJSON(c, http.StatusBadRequest, unknownErr.Error())
		}
		return errorJSON(c, http.StatusBadRequest, "invalid attachment: "+err.Error())
	}

	req := models.PipelineRequest{
		TenantID:  tenantID,
		Action:    models.ActionCreate,
		Submitter: submitter(c, form),
		StepData:  data,
	}
	return h.submit(c, req)
}

func (h *Handler) DeleteTenant(c echo.Context) error {
	tenantID := c.Param("tenant_id")
	if tenantID == models.DefaultTenantID {
		return errorJSON(c, http.StatusForbidden, "the default tenant cannot be deleted")
	}
	tenant, err := h.Tenants.GetTenant(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		return errorJSON(c, http.StatusNotFound, "tenant "+tenantID+" not found")
	}
	return h.submit(c, models.PipelineRequest{
		TenantID:  tenantID,
		Action:    models.ActionDelete,
		Submitter: submitter(c, nil),
	})
}

// submit records the run and starts its workflow. Scratch files are
// released here when the workflow never starts.
func (h *Handler) submit(c echo.Context, req models.PipelineRequest) error {
	ctx := c.Request().Context()
	runID := uuid.New()
	req.RunID = runID.String()
	logger := h.Logger.WithFields(logrus.Fields{
		"request_id": c.Get("requestID"),
		"run_id":     req.RunID,
		"tenant":     req.TenantID,
		"action":     req.Action,
	})

	release := func() {
		if err := req.StepData.Cleanup(); err != nil {
			logger.Warnf("Failed to remove scratch files: %v", err)
		}
	}

	run := &db.PipelineRun{
		ID:        runID,
		TenantID:  req.TenantID,
		Action:    string(req.Action),
		Submitter: req.Submitter,
	}
	if err := h.Runs.CreateRun(ctx, run); err != nil {
		release()
		return err
	}

	workflowID, workflowRunID, err := h.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		release()
		if ferr := h.Runs.FinishRun(ctx, runID, nil, err); ferr != nil {
			logger.Errorf("Failed to record dispatch failure: %v", ferr)
		}
		logger.Errorf("Failed to dispatch pipeline: %v", err)
		if errors.Is(err, ErrEngineUnavailable) {
			return errorJSON(c, http.StatusServiceUnavailable, err.Error())
		}
		return errorJSON(c, http.StatusInternalServerError, "failed to start pipeline")
	}
	if err := h.Runs.AttachWorkflow(ctx, runID, workflowID, workflowRunID); err != nil {
		logger.Errorf("Failed to attach workflow to run: %v", err)
	}
	logger.WithField("workflow_id", workflowID).Info("Pipeline submitted")

	return c.JSON(http.StatusAccepted, SubmissionResponse{
		RunID:       req.RunID,
		TenantID:    req.TenantID,
		Action:      req.Action,
		Submitter:   req.Submitter,
		WorkflowID:  workflowID,
		SubmittedAt: time.Now().UTC(),
	})
}

func (h *Handler) GetTenant(c echo.Context) error {
	tenant, err := h.Tenants.GetTenant(c.Request().Context(), c.Param("tenant_id"))
	if err != nil {
		return err
	}
	if tenant == nil {
		return errorJSON(c, http.StatusNotFound, "tenant not found")
	}
	return c.JSON(http.StatusOK, tenant)
}

func (h *Handler) ListTenants(c echo.Context) error {
	list, err := h.Tenants.ListTenants(c.Request().Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []models.Tenant{}
	}
	return c.JSON(http.StatusOK, list)
}

// GetRun returns the stored run and, when Temporal answers, its workflow
// status.
func (h *Handler) GetRun(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid run id")
	}
	run, err := h.Runs.GetRun(c.Request().Context(), runID)
	if errors.Is(err, db.ErrRunNotFound) {
		return errorJSON(c, http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}

	resp := newRunResponse(run)
	if run.WorkflowID != "" {
		status, err := h.Dispatcher.Describe(c.Request().Context(), run.WorkflowID, run.WorkflowRunID)
		if err != nil {
			h.Logger.WithField("workflow_id", run.WorkflowID).Warnf("Error describing workflow: %v", err)
		} else {
			resp.Workflow = status
			resp.TemporalOnline = true
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func firstValue(form *multipart.Form, name string) string {
	if vals := form.Value[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func submitter(c echo.Context, form *multipart.Form) string {
	if form != nil {
		if s := firstValue(form, formSubmitter); s != "" {
			return s
		}
	}
	return c.Request().Header.Get("X-Submitter")
}

// readDocument takes the document from a file part, honouring its content
// type, or from a plain field parsed as YAML.
func readDocument(form *multipart.Form) (ingest.Document, error) {
	if files := form.File[formDocument]; len(files) > 0 {
		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			return ingest.Document{}, err
		}
		defer f.Close()
		body, err := io.ReadAll(f)
		if err != nil {
			return ingest.Document{}, err
		}
		return ingest.ParseDocument(fh.Header.Get("Content-Type"), body)
	}
	return ingest.ParseDocument("application/yaml", []byte(firstValue(form, formDocument)))
}

func attachments(form *multipart.Form) []ingest.Attachment {
	keys := make([]string, 0, len(form.File))
	for key := range form.File {
		if key != formDocument {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []ingest.Attachment
	for _, key := range keys {
		for _, fh := range form.File[key] {
			fh := fh
			out = append(out, ingest.Attachment{
				Key:      key,
				FileName: fh.Filename,
				Open:     func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	return out
}

// CustomHTTPErrorHandler reports echo errors as they are and hides every
// other error behind the request id.
func CustomHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, map[string]any{"error": he.Message})
		return
	}

	requestID, _ := c.Get("requestID").(string)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	c.Logger().Errorf("Request ID: %s | Internal error: %v", requestID, err)
	_ = c.JSON(http.StatusInternalServerError, map[string]any{
		"error":      "Internal server error. Please contact support with the request ID.",
		"request_id": requestID,
	})
}

// RequestIDMiddleware propagates X-Request-ID, generating one when absent.
func RequestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("requestID", requestID)
		c.Response().Header().Set("X-Request-ID", requestID)
		return next(c)
	}
}
