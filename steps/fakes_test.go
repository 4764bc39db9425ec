package steps

import (
	"context"
	"errors"
	"io"
	"slices"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

type fakeSchemas struct {
	log         *callLog
	provisioned map[string]models.DatasourceContext
	failWith    error
	// rollbackFailures is the number of Rollback calls that fail before
	// rollbacks start succeeding.
	rollbackFailures int
}

func (f *fakeSchemas) Provision(_ context.Context, tenant models.Tenant, desired models.DatasourceContext) (models.DatasourceContext, error) {
	f.log.add("schema.provision")
	if f.failWith != nil {
		return models.DatasourceContext{}, f.failWith
	}
	f.provisioned[tenant.ID] = desired
	return desired, nil
}

func (f *fakeSchemas) Rollback(_ context.Context, actual, _ models.DatasourceContext, tenant models.Tenant, isDefault bool) error {
	f.log.add("schema.rollback")
	if f.rollbackFailures > 0 {
		f.rollbackFailures--
		return errors.New("connection reset")
	}
	if !isDefault {
		delete(f.provisioned, tenant.ID)
	}
	return nil
}

type fakeAudit struct {
	log *callLog
}

func (f *fakeAudit) Provision(context.Context, string, models.DatasourceContext) error {
	f.log.add("audit.provision")
	return nil
}

func (f *fakeAudit) Drop(context.Context, string, models.DatasourceContext) error {
	f.log.add("audit.drop")
	return nil
}

type fakeEngine struct {
	log       *callLog
	deployed  map[string]int
	deployErr error
	// existing makes Provision reuse a namespace it did not create.
	existing     bool
	provisionErr error
}

func (f *fakeEngine) Provision(_ context.Context, tenantID string) (string, bool, error) {
	f.log.add("workflow.provision")
	return "tenant-" + tenantID, !f.existing, f.provisionErr
}

func (f *fakeEngine) Deprovision(context.Context, string) error {
	f.log.add("workflow.deprovision")
	return nil
}

func (f *fakeEngine) Deploy(_ context.Context, tenantID, _ string, defs []models.ModelFile) error {
	f.log.add("workflow.deploy")
	if f.deployErr != nil {
		return f.deployErr
	}
	f.deployed[tenantID] = len(defs)
	return nil
}

func (f *fakeEngine) Undeploy(_ context.Context, tenantID, _ string) error {
	f.log.add("workflow.undeploy")
	delete(f.deployed, tenantID)
	return nil
}

type fakeGraph struct {
	log      *callLog
	failWith error
}

func (f *fakeGraph) Prefix(tenantID string) string { return "tenants/" + tenantID + "/graph/" }

func (f *fakeGraph) ApplyPatches(_ context.Context, tenantID string, files []models.ModelFile) ([]string, error) {
	f.log.add("graph.apply")
	if f.failWith != nil {
		return nil, f.failWith
	}
	keys := make([]string, 0, len(files))
	for _, file := range files {
		keys = append(keys, f.Prefix(tenantID)+file.Name)
	}
	return keys, nil
}

func (f *fakeGraph) RemovePatches(context.Context, string) error {
	f.log.add("graph.remove")
	return nil
}

type fakeConfigs struct {
	mu      sync.Mutex
	values  map[string]map[string]any
	removed []string
}

func newFakeConfigs() *fakeConfigs {
	return &fakeConfigs{values: map[string]map[string]any{}}
}

func (f *fakeConfigs) AddConfigurations(_ context.Context, tenantID string, values []models.ConfigValue) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[tenantID] == nil {
		f.values[tenantID] = map[string]any{}
	}
	var accepted []string
	for _, v := range values {
		if _, ok := f.values[tenantID][v.Name]; ok {
			continue
		}
		f.values[tenantID][v.Name] = v.Value
		accepted = append(accepted, v.Name)
	}
	return accepted, nil
}

func (f *fakeConfigs) RemoveConfiguration(_ context.Context, tenantID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[tenantID][name]; !ok {
		return errors.New("not registered: " + name)
	}
	delete(f.values[tenantID], name)
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeConfigs) RegisteredNames(_ context.Context, tenantID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.values[tenantID]))
	for n := range f.values[tenantID] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeConfigs) Values(_ context.Context, tenantID string) ([]models.ConfigValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ConfigValue
	for n, v := range f.values[tenantID] {
		out = append(out, models.ConfigValue{Name: n, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
