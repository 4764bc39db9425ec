package workers

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surajsub/tenant-provisioner/models"
	"go.temporal.io/api/operatorservice/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"google.golang.org/grpc"
)

type fakeWorkflowService struct {
	workflowservice.WorkflowServiceClient

	registerErr  error
	describeErrs []error
	updateErr    error

	registered []*workflowservice.RegisterNamespaceRequest
	described  int
	updates    []*workflowservice.UpdateNamespaceRequest
}

func (f *fakeWorkflowService) RegisterNamespace(_ context.Context, in *workflowservice.RegisterNamespaceRequest, _ ...grpc.CallOption) (*workflowservice.RegisterNamespaceResponse, error) {
	f.registered = append(f.registered, in)
	return &workflowservice.RegisterNamespaceResponse{}, f.registerErr
}

func (f *fakeWorkflowService) DescribeNamespace(_ context.Context, _ *workflowservice.DescribeNamespaceRequest, _ ...grpc.CallOption) (*workflowservice.DescribeNamespaceResponse, error) {
	f.described++
	if len(f.describeErrs) > 0 {
		err := f.describeErrs[0]
		f.describeErrs = f.describeErrs[1:]
		return nil, err
	}
	return &workflowservice.DescribeNamespaceResponse{}, nil
}

func (f *fakeWorkflowService) UpdateNamespace(_ context.Context, in *workflowservice.UpdateNamespaceRequest, _ ...grpc.CallOption) (*workflowservice.UpdateNamespaceResponse, error) {
	f.updates = append(f.updates, in)
	return &workflowservice.UpdateNamespaceResponse{}, f.updateErr
}

type fakeOperatorService struct {
	operatorservice.OperatorServiceClient

	deleteErr error
	deleted   []string
}

func (f *fakeOperatorService) DeleteNamespace(_ context.Context, in *operatorservice.DeleteNamespaceRequest, _ ...grpc.CallOption) (*operatorservice.DeleteNamespaceResponse, error) {
	f.deleted = append(f.deleted, in.GetNamespace())
	return &operatorservice.DeleteNamespaceResponse{}, f.deleteErr
}

func newTestEngine(wf *fakeWorkflowService, op *fakeOperatorService) *NamespaceEngine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	e := NewNamespaceEngine(wf, op, logger)
	e.MaxWait = 2 * time.Second
	return e
}

func TestProvisionRegistersNamespace(t *testing.T) {
	wf := &fakeWorkflowService{}
	e := newTestEngine(wf, &fakeOperatorService{})

	ns, created, err := e.Provision(context.Background(), "acme")

	require.NoError(t, err)
	assert.Equal(t, "tenant-acme", ns)
	assert.True(t, created)
	require.Len(t, wf.registered, 1)
	assert.Equal(t, 72*time.Hour, wf.registered[0].GetWorkflowExecutionRetentionPeriod().AsDuration())
	assert.Equal(t, "acme", wf.registered[0].GetData()["tenant_id"])
}

func TestProvisionReusesExistingNamespaceAndWaits(t *testing.T) {
	wf := &fakeWorkflowService{
		registerErr:  serviceerror.NewNamespaceAlreadyExists("exists"),
		describeErrs: []error{serviceerror.NewNamespaceNotFound("tenant-acme")},
	}
	e := newTestEngine(wf, &fakeOperatorService{})

	ns, created, err := e.Provision(context.Background(), "acme")

	require.NoError(t, err)
	assert.Equal(t, "tenant-acme", ns)
	assert.False(t, created, "an existing namespace is not ours")
	assert.Equal(t, 2, wf.described)
}

func TestProvisionFailsOnRegisterError(t *testing.T) {
	wf := &fakeWorkflowService{registerErr: serviceerror.NewPermissionDenied("denied", "")}
	e := newTestEngine(wf, &fakeOperatorService{})

	_, created, err := e.Provision(context.Background(), "acme")

	assert.ErrorContains(t, err, "failed to register namespace tenant-acme")
	assert.False(t, created)
	assert.Zero(t, wf.described)
}

func TestProvisionReportsCreatedWhenNamespaceNeverServes(t *testing.T) {
	notServed := make([]error, 50)
	for i := range notServed {
		notServed[i] = serviceerror.NewNamespaceNotFound("tenant-acme")
	}
	wf := &fakeWorkflowService{describeErrs: notServed}
	e := newTestEngine(wf, &fakeOperatorService{})
	e.MaxWait = 300 * time.Millisecond

	ns, created, err := e.Provision(context.Background(), "acme")

	assert.ErrorContains(t, err, "namespace tenant-acme not available")
	assert.Equal(t, "tenant-acme", ns)
	assert.True(t, created, "registration succeeded before the wait failed")
}

func TestDeployAndUndeployDefinitions(t *testing.T) {
	wf := &fakeWorkflowService{}
	e := newTestEngine(wf, &fakeOperatorService{})
	defs := []models.ModelFile{{Name: "onboarding.bpmn"}, {Name: "billing.bpmn"}}

	require.NoError(t, e.Deploy(context.Background(), "acme", "tenant-acme", defs))
	require.NoError(t, e.Undeploy(context.Background(), "acme", "tenant-acme"))

	require.Len(t, wf.updates, 2)
	assert.Equal(t, "billing.bpmn,onboarding.bpmn", wf.updates[0].GetUpdateInfo().GetData()[DefinitionsKey])
	assert.Equal(t, "", wf.updates[1].GetUpdateInfo().GetData()[DefinitionsKey])
}

func TestUndeployMissingNamespace(t *testing.T) {
	wf := &fakeWorkflowService{updateErr: serviceerror.NewNamespaceNotFound("tenant-acme")}
	e := newTestEngine(wf, &fakeOperatorService{})

	assert.NoError(t, e.Undeploy(context.Background(), "acme", "tenant-acme"))
	assert.Error(t, e.Deploy(context.Background(), "acme", "tenant-acme", nil))
}

func TestDeprovision(t *testing.T) {
	op := &fakeOperatorService{}
	e := newTestEngine(&fakeWorkflowService{}, op)
	require.NoError(t, e.Deprovision(context.Background(), "acme"))
	assert.Equal(t, []string{"tenant-acme"}, op.deleted)

	op.deleteErr = serviceerror.NewNotFound("gone")
	assert.NoError(t, e.Deprovision(context.Background(), "acme"))

	op.deleteErr = serviceerror.NewUnavailable("down")
	assert.Error(t, e.Deprovision(context.Background(), "acme"))
}
