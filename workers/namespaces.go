package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	namespacepb "go.temporal.io/api/namespace/v1"
	"go.temporal.io/api/operatorservice/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"google.golang.org/protobuf/types/known/durationpb"
)

// DefinitionsKey is the namespace data entry listing deployed process
// definitions.
const DefinitionsKey = "process_definitions"

// NamespaceEngine gives every tenant its own Temporal namespace.
type NamespaceEngine struct {
	workflows workflowservice.WorkflowServiceClient
	operator  operatorservice.OperatorServiceClient
	logger    *logrus.Logger

	Retention time.Duration
	// MaxWait bounds how long Provision waits for the namespace to be served.
	MaxWait time.Duration
}

func NewNamespaceEngine(workflows workflowservice.WorkflowServiceClient, operator operatorservice.OperatorServiceClient, logger *logrus.Logger) *NamespaceEngine {
	return &NamespaceEngine{
		workflows: workflows,
		operator:  operator,
		logger:    logger,
		Retention: 72 * time.Hour,
		MaxWait:   30 * time.Second,
	}
}

func NamespaceFor(tenantID string) string {
	return "tenant-" + tenantID
}

// Provision registers the tenant namespace. An existing namespace is reused
// and reported as not created.
func (e *NamespaceEngine) Provision(ctx context.Context, tenantID string) (string, bool, error) {
	ns := NamespaceFor(tenantID)
	log := e.logger.WithFields(logrus.Fields{"tenant": tenantID, "namespace": ns})
	_, err := e.workflows.RegisterNamespace(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        ns,
		Description:                      "tenant " + tenantID,
		WorkflowExecutionRetentionPeriod: durationpb.New(e.Retention),
		Data:                             map[string]string{"tenant_id": tenantID},
	})
	created := err == nil
	var exists *serviceerror.NamespaceAlreadyExists
	switch {
	case errors.As(err, &exists):
		log.Warn("Namespace already registered")
	case err != nil:
		return "", false, fmt.Errorf("failed to register namespace %s: %w", ns, err)
	}
	if err := e.waitForNamespace(ctx, ns); err != nil {
		return ns, created, err
	}
	log.Info("Namespace ready")
	return ns, created, nil
}

func (e *NamespaceEngine) waitForNamespace(ctx context.Context, ns string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = e.MaxWait
	err := backoff.Retry(func() error {
		_, err := e.workflows.DescribeNamespace(ctx, &workflowservice.DescribeNamespaceRequest{Namespace: ns})
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("namespace %s not available: %w", ns, err)
	}
	return nil
}

// Deprovision deletes the namespace. A missing namespace is not an error.
func (e *NamespaceEngine) Deprovision(ctx context.Context, tenantID string) error {
	ns := NamespaceFor(tenantID)
	_, err := e.operator.DeleteNamespace(ctx, &operatorservice.DeleteNamespaceRequest{Namespace: ns})
	if err != nil && !isNamespaceMissing(err) {
		return fmt.Errorf("failed to delete namespace %s: %w", ns, err)
	}
	return nil
}

// Deploy records the process definitions on the namespace.
func (e *NamespaceEngine) Deploy(ctx context.Context, tenantID, namespace string, definitions []models.ModelFile) error {
	names := make([]string, 0, len(definitions))
	for _, d := range definitions {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	if err := e.setDefinitions(ctx, namespace, strings.Join(names, ",")); err != nil {
		return fmt.Errorf("failed to deploy definitions for %s: %w", tenantID, err)
	}
	e.logger.WithFields(logrus.Fields{"tenant": tenantID, "namespace": namespace, "definitions": len(names)}).Info("Process definitions deployed")
	return nil
}

// Undeploy clears the process definitions. A missing namespace has none.
func (e *NamespaceEngine) Undeploy(ctx context.Context, tenantID, namespace string) error {
	if err := e.setDefinitions(ctx, namespace, ""); err != nil && !isNamespaceMissing(err) {
		return fmt.Errorf("failed to undeploy definitions for %s: %w", tenantID, err)
	}
	return nil
}

func (e *NamespaceEngine) setDefinitions(ctx context.Context, namespace, value string) error {
	_, err := e.workflows.UpdateNamespace(ctx, &workflowservice.UpdateNamespaceRequest{
		Namespace: namespace,
		UpdateInfo: &namespacepb.UpdateNamespaceInfo{
			Data: map[string]string{DefinitionsKey: value},
		},
	})
	return err
}

func isNamespaceMissing(err error) bool {
	var nsNotFound *serviceerror.NamespaceNotFound
	var notFound *serviceerror.NotFound
	return errors.As(err, &nsNotFound) || errors.As(err, &notFound)
}
