/*
Copyright 2023-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package manager owns the plan lifecycle: creation from live resources or
// an exported template, reads, whitelisted updates, resource graph edits
// and deletion.  All writes to a plan serialize on a per plan lock.
package manager

import (
	"context"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/mutation"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/storage"
	"github.com/eschercloudai/caravel/pkg/template"
	"github.com/eschercloudai/caravel/pkg/util/namedlock"
)

// ResourceRef names one source resource to seed a plan from.
type ResourceRef struct {
	Type plan.Kind `json:"type"`
	ID   string    `json:"id"`
}

// CreateOpts parameterizes plan creation.
type CreateOpts struct {
	Type      plan.Type     `json:"plan_type"`
	Name      string        `json:"plan_name"`
	ProjectID string        `json:"project_id"`
	UserID    string        `json:"user_id"`
	Resources []ResourceRef `json:"resources"`
}

// Manager drives the plan lifecycle against the store and the source cloud.
type Manager struct {
	store   storage.Store
	driver  *driver.Driver
	mutator *mutation.Engine
	expire  time.Duration
	locks   *namedlock.Locker
}

// New returns a manager.  Plans created by it expire after the given
// duration; expiry is advisory and only gates deletion sweeps.  The lock
// table is shared with the orchestrator so plan writes and run claims
// serialize with each other.
func New(store storage.Store, d *driver.Driver, expire time.Duration, locks *namedlock.Locker) *Manager {
	return &Manager{
		store:   store,
		driver:  d,
		mutator: mutation.New(d),
		expire:  expire,
		locks:   locks,
	}
}

// Create extracts the named resources and their transitive dependencies
// from the source cloud and persists a new plan in the available state.
func (m *Manager) Create(ctx context.Context, opts *CreateOpts) (*plan.Plan, error) {
	p, err := plan.New(opts.Type, opts.ProjectID, opts.UserID, m.expire)
	if err != nil {
		return nil, err
	}

	p.Name = opts.Name

	extractor := driver.NewExtractor(m.driver)

	for _, ref := range opts.Resources {
		if _, err := extractor.Extract(ctx, ref.Type, ref.ID); err != nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrPlanCreateFailed, err)
		}
	}

	resources := extractor.Resources()

	if err := plan.CheckReferences(resources); err != nil {
		return nil, err
	}

	if err := plan.CheckAcyclic(resources); err != nil {
		return nil, err
	}

	p.OriginalResources = resources
	p.UpdatedResources = resources.DeepCopy()
	p.OriginalDependencies = plan.BuildDependencies(p.OriginalResources)
	p.UpdatedDependencies = plan.BuildDependencies(p.UpdatedResources)
	p.Status = plan.StatusAvailable

	if err := m.store.CreatePlan(p); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanCreateFailed, err)
	}

	log.FromContext(ctx).Info("plan created", "plan", p.ID, "type", p.Type, "resources", len(resources))

	return p, nil
}

// CreateFromTemplate imports a previously exported template as a new plan.
// The template's own plan type wins unless overridden by opts.
func (m *Manager) CreateFromTemplate(ctx context.Context, opts *CreateOpts, t *template.Template) (*plan.Plan, error) {
	planType := opts.Type
	if planType == "" {
		planType = plan.Type(t.PlanType)
	}

	resources, err := t.ToResources()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanCreateFailed, err)
	}

	p, err := plan.New(planType, opts.ProjectID, opts.UserID, m.expire)
	if err != nil {
		return nil, err
	}

	p.Name = opts.Name

	// Updated starts as a copy of the original.  Migrate plans must keep
	// the two identical for their whole life.
	p.OriginalResources = resources
	p.UpdatedResources = resources.DeepCopy()
	p.OriginalDependencies = plan.BuildDependencies(p.OriginalResources)
	p.UpdatedDependencies = plan.BuildDependencies(p.UpdatedResources)
	p.Status = plan.StatusAvailable

	if err := m.store.CreatePlan(p); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanCreateFailed, err)
	}

	if err := m.store.PutTemplate(p.ID, t); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanCreateFailed, err)
	}

	log.FromContext(ctx).Info("plan imported", "plan", p.ID, "type", p.Type)

	return p, nil
}

// Get returns a plan.  Without detail the resource and dependency maps are
// stripped, which keeps list style reads small.
func (m *Manager) Get(ctx context.Context, id string, detail bool) (*plan.Plan, error) {
	p, err := m.store.GetPlan(id)
	if err != nil {
		return nil, err
	}

	if !detail {
		p.OriginalResources = nil
		p.UpdatedResources = nil
		p.OriginalDependencies = nil
		p.UpdatedDependencies = nil
	}

	return p, nil
}

// List returns all plans, stripped of their resource maps.
func (m *Manager) List(ctx context.Context) ([]*plan.Plan, error) {
	plans, err := m.store.ListPlans()
	if err != nil {
		return nil, err
	}

	for _, p := range plans {
		p.OriginalResources = nil
		p.UpdatedResources = nil
		p.OriginalDependencies = nil
		p.UpdatedDependencies = nil
	}

	return plans, nil
}

// Update applies whitelisted field writes.  A status write must follow an
// edge of the status automaton.
func (m *Manager) Update(ctx context.Context, id string, values map[string]interface{}) (*plan.Plan, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.store.GetPlan(id)
	if err != nil {
		return nil, err
	}

	if value, ok := values["plan_status"]; ok {
		next, _ := value.(string)

		if plan.Status(next) != p.Status && !p.Status.CanTransition(plan.Status(next)) {
			return nil, fmt.Errorf("%w: cannot transition from %s to %s", errors.ErrPlanUpdateError, p.Status, next)
		}
	}

	if err := p.Update(values); err != nil {
		return nil, err
	}

	if err := m.store.UpdatePlan(p); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanUpdateError, err)
	}

	return p, nil
}

// UpdateResources applies a batch of resource graph edits to a clone plan.
// The batch is atomic, either every edit lands or none do.
func (m *Manager) UpdateResources(ctx context.Context, id string, edits []mutation.Edit) (*plan.Plan, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.store.GetPlan(id)
	if err != nil {
		return nil, err
	}

	if p.Type != plan.TypeClone {
		return nil, fmt.Errorf("%w: %s plans keep their original resources", errors.ErrPlanResourcesUpdateError, p.Type)
	}

	if err := m.mutator.Apply(ctx, p, edits); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p.UpdatedAt = &now

	if err := m.store.UpdatePlan(p); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanResourcesUpdateError, err)
	}

	return p, nil
}

// ResetState forces the plan status, bypassing the automaton.  This is the
// escape hatch for plans wedged by an operator visible failure.
func (m *Manager) ResetState(ctx context.Context, id string, status plan.Status) (*plan.Plan, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.store.GetPlan(id)
	if err != nil {
		return nil, err
	}

	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid plan status %q", errors.ErrPlanUpdateError, status)
	}

	p.Status = status
	now := time.Now().UTC()
	p.UpdatedAt = &now

	if err := m.store.UpdatePlan(p); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanUpdateError, err)
	}

	log.FromContext(ctx).Info("plan state reset", "plan", id, "status", status)

	return p, nil
}

// Delete removes a plan and all rows hanging off it.  Only quiescent plans
// may be deleted; an expired plan is deletable regardless of state.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.store.GetPlan(id)
	if err != nil {
		return err
	}

	if !p.Status.Mutable() && p.Status != plan.StatusFinished && !p.Expired() {
		return fmt.Errorf("%w: plan %s is %s", errors.ErrPlanUpdateError, id, p.Status)
	}

	p.Status = plan.StatusDeleting

	if err := m.store.UpdatePlan(p); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanUpdateError, err)
	}

	return m.cascade(ctx, id)
}

// ForceDelete sweeps every row for the plan without state checks.  Missing
// rows are fine, it exists to clean up after partial failures.
func (m *Manager) ForceDelete(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	return m.cascade(ctx, id)
}

func (m *Manager) cascade(ctx context.Context, id string) error {
	if err := m.store.DeleteTemplate(id); err != nil {
		return err
	}

	if err := m.store.DeleteStack(id); err != nil {
		return err
	}

	if err := m.store.DeleteClonedResources(id); err != nil {
		return err
	}

	if err := m.store.DeleteAvailabilityZoneMap(id); err != nil {
		return err
	}

	if err := m.store.DeletePlan(id); err != nil {
		return err
	}

	log.FromContext(ctx).Info("plan deleted", "plan", id)

	return nil
}
