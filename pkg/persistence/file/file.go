// Package file provides file-based persistence for single-node deployments
// and tests. Each record is one JSON document under a per-collection
// directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/relayd/relay/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local filesystem.
type Persistence struct {
	root string
	mu   sync.RWMutex

	workflows   *WorkflowRepository
	triggers    *TriggerRepository
	webhooks    *WebhookRepository
	deployments *DeploymentRepository
	executions  *ExecutionRepository
	providers   *ProviderRepository
	runtimes    *RuntimeRepository
	jobs        *JobRepository
	revocations *RevocationRepository
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflows = &WorkflowRepository{p: p}
	p.triggers = &TriggerRepository{p: p}
	p.webhooks = &WebhookRepository{p: p}
	p.deployments = &DeploymentRepository{p: p}
	p.executions = &ExecutionRepository{p: p}
	p.providers = &ProviderRepository{p: p}
	p.runtimes = &RuntimeRepository{p: p}
	p.jobs = &JobRepository{p: p}
	p.revocations = &RevocationRepository{p: p}

	return p
}

func (p *Persistence) Workflows() persistence.WorkflowRepository     { return p.workflows }
func (p *Persistence) Triggers() persistence.TriggerRepository       { return p.triggers }
func (p *Persistence) Webhooks() persistence.WebhookRepository       { return p.webhooks }
func (p *Persistence) Deployments() persistence.DeploymentRepository { return p.deployments }
func (p *Persistence) Executions() persistence.ExecutionRepository   { return p.executions }
func (p *Persistence) Providers() persistence.ProviderRepository     { return p.providers }
func (p *Persistence) Runtimes() persistence.RuntimeRepository       { return p.runtimes }
func (p *Persistence) Jobs() persistence.JobRepository               { return p.jobs }
func (p *Persistence) Revocations() persistence.RevocationRepository { return p.revocations }

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// write persists one record as <root>/<collection>/<id>.json. Callers hold
// p.mu.
func (p *Persistence) write(collection, id string, record any) error {
	dir := filepath.Join(p.root, collection)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", collection, err)
	}

	err = os.WriteFile(filepath.Join(dir, id+".json"), payload, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write %s record: %w", collection, err)
	}

	return nil
}

// read loads one record, reporting os.ErrNotExist when absent. Callers hold
// p.mu for reading.
func (p *Persistence) read(collection, id string, record any) error {
	payload, err := os.ReadFile(filepath.Join(p.root, collection, id+".json"))
	if err != nil {
		return err
	}

	err = json.Unmarshal(payload, record)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s record: %w", collection, err)
	}

	return nil
}

func (p *Persistence) remove(collection, id string) error {
	err := os.Remove(filepath.Join(p.root, collection, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s record: %w", collection, err)
	}

	return nil
}

// ids lists the record ids in a collection.
func (p *Persistence) ids(collection string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.root, collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list %s directory: %w", collection, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}
