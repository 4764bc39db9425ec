package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"github.com/surajsub/tenant-provisioner/workflows"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
)

// ErrEngineUnavailable is returned while no Temporal connection is up.
var ErrEngineUnavailable = errors.New("provisioning service is not available")

// ClientHolder keeps a Temporal client connected, redialing when the
// health check fails.
type ClientHolder struct {
	options client.Options
	logger  *logrus.Logger
	dial    func(client.Options) (client.Client, error)

	mu      sync.RWMutex
	current client.Client
}

func NewClientHolder(options client.Options, logger *logrus.Logger) *ClientHolder {
	return &ClientHolder{options: options, logger: logger, dial: client.Dial}
}

// Start connects in the background until ctx is done.
func (h *ClientHolder) Start(ctx context.Context) {
	go func() {
		for ctx.Err() == nil {
			c, err := h.dial(h.options)
			if err != nil {
				h.logger.Warnf("Temporal unavailable, retrying in 5s: %v", err)
				if !sleep(ctx, 5*time.Second) {
					return
				}
				continue
			}
			h.replace(c)
			h.logger.WithField("host_port", h.options.HostPort).Info("Connected to Temporal")

			for sleep(ctx, 10*time.Second) {
				if err := healthCheck(ctx, c); err != nil {
					h.logger.Warnf("Temporal connection unhealthy, reconnecting: %v", err)
					break
				}
			}
		}
		h.replace(nil)
	}()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Get returns the current client or nil.
func (h *ClientHolder) Get() client.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Set installs c as the current client.
func (h *ClientHolder) Set(c client.Client) {
	h.replace(c)
}

func (h *ClientHolder) replace(c client.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current != c {
		h.current.Close()
	}
	h.current = c
}

func healthCheck(ctx context.Context, c client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := c.WorkflowService().GetSystemInfo(ctx, &workflowservice.GetSystemInfoRequest{})
	return err
}

// TemporalDispatcher starts pipeline workflows on the platform task queue.
type TemporalDispatcher struct {
	clients   func() client.Client
	taskQueue string
}

func NewTemporalDispatcher(clients func() client.Client, taskQueue string) *TemporalDispatcher {
	return &TemporalDispatcher{clients: clients, taskQueue: taskQueue}
}

func WorkflowID(req models.PipelineRequest) string {
	return fmt.Sprintf("tenant-%s-%s-%s", req.Action, req.TenantID, req.RunID)
}

func (d *TemporalDispatcher) Dispatch(ctx context.Context, req models.PipelineRequest) (string, string, error) {
	c := d.clients()
	if c == nil {
		return "", "", ErrEngineUnavailable
	}
	we, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(req),
		TaskQueue: d.taskQueue,
	}, workflows.TenantPipelineWorkflow, req)
	if err != nil {
		return "", "", fmt.Errorf("failed to start workflow: %w", err)
	}
	return we.GetID(), we.GetRunID(), nil
}

func (d *TemporalDispatcher) Describe(ctx context.Context, workflowID, runID string) (*WorkflowStatus, error) {
	c := d.clients()
	if c == nil {
		return nil, ErrEngineUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := c.DescribeWorkflowExecution(ctx, workflowID, runID)
	if err != nil {
		return nil, err
	}

	info := resp.GetWorkflowExecutionInfo()
	status := &WorkflowStatus{
		WorkflowID: workflowID,
		RunID:      info.GetExecution().GetRunId(),
		Status:     enumspb.WorkflowExecutionStatus_name[int32(info.GetStatus())],
		StartTime:  info.GetStartTime().AsTime(),
	}
	if info.GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		status.Duration = time.Since(status.StartTime).String()
	} else if info.GetCloseTime() != nil {
		closeTime := info.GetCloseTime().AsTime()
		status.CloseTime = &closeTime
		status.Duration = closeTime.Sub(status.StartTime).String()
	}
	return status, nil
}
