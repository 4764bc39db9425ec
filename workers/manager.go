package workers

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/activities"
	"github.com/surajsub/tenant-provisioner/workflows"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

type WorkerManager struct {
	client     client.Client
	activities *activities.Activities
	logger     *logrus.Logger

	mu        sync.Mutex
	workers   map[string]worker.Worker
	workerIDs map[string]string
}

func NewWorkerManager(c client.Client, acts *activities.Activities, logger *logrus.Logger) *WorkerManager {
	return &WorkerManager{
		client:     c,
		activities: acts,
		logger:     logger,
		workers:    make(map[string]worker.Worker),
		workerIDs:  make(map[string]string),
	}
}

// StartWorker starts a worker polling queueName. Starting an already
// running queue is a no-op.
func (m *WorkerManager) StartWorker(queueName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workers[queueName]; exists {
		m.logger.Infof("Worker for queue %s is already running", queueName)
		return nil
	}

	w := worker.New(m.client, queueName, worker.Options{})
	w.RegisterWorkflow(workflows.TenantPipelineWorkflow)
	w.RegisterActivity(m.activities)
	if err := w.Start(); err != nil {
		return fmt.Errorf("worker for queue %s failed to start: %w", queueName, err)
	}

	workerID := uuid.New().String()
	m.workers[queueName] = w
	m.workerIDs[queueName] = workerID
	m.logger.WithFields(logrus.Fields{"worker_id": workerID, "queue": queueName}).Info("Started worker")
	return nil
}

func (m *WorkerManager) StopWorker(queueName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, exists := m.workers[queueName]
	if !exists {
		m.logger.Infof("Worker for queue %s is not running", queueName)
		return
	}
	w.Stop()
	delete(m.workers, queueName)
	delete(m.workerIDs, queueName)
	m.logger.Infof("Stopped worker for queue %s", queueName)
}

// StopAll stops every running worker.
func (m *WorkerManager) StopAll() {
	m.mu.Lock()
	queues := make([]string, 0, len(m.workers))
	for q := range m.workers {
		queues = append(queues, q)
	}
	m.mu.Unlock()
	for _, q := range queues {
		m.StopWorker(q)
	}
}

// GetActiveWorkers returns the number of active workers.
func (m *WorkerManager) GetActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// GetWorkerID returns the worker ID for a specific task queue.
func (m *WorkerManager) GetWorkerID(queueName string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workerIDs[queueName]
}
