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

// Package orchestrate turns an available plan into a deployed workload.
// It shapes the resource graph into a stack template, submits and watches
// it, copies disk bytes through gateway agents for clones, re-homes
// network identity for migrations, and unwinds its own side effects on
// failure.  Progress is mirrored into the plan row so clients can poll.
package orchestrate

import (
	"context"
	goerrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/pflag"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/mutation"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/storage"
	"github.com/eschercloudai/caravel/pkg/template"
	"github.com/eschercloudai/caravel/pkg/undo"
	"github.com/eschercloudai/caravel/pkg/util/namedlock"
	"github.com/eschercloudai/caravel/pkg/util/retry"
	"github.com/eschercloudai/caravel/pkg/vgw"
)

const (
	// defaultPollInterval is how often stack and volume waiters poll.
	defaultPollInterval = 500 * time.Millisecond

	// existsCacheSize bounds the destination existence lookup cache.
	existsCacheSize = 512
)

// CloneMode selects which volumes get a data copy.
type CloneMode string

const (
	// CloneModeCold copies every volume through the sub-stack.
	CloneModeCold CloneMode = "cold"

	// CloneModeLive copies only system disks of flagged servers.
	CloneModeLive CloneMode = "live"
)

// Valid tells whether the mode is recognized.
func (m CloneMode) Valid() bool {
	return m == CloneModeCold || m == CloneModeLive
}

// Options configures the orchestrator.
type Options struct {
	// CloneMode selects cold or live volume handling.
	CloneMode CloneMode

	// SysImage is the bootable image substituted onto system disks in
	// the destination cloud.
	SysImage string

	// MigrateNetMap maps source availability zones to the network used
	// to reach running servers for data copy.
	MigrateNetMap map[string]string

	// PlanFilePath prefixes generated sibling template keys.
	PlanFilePath string

	// PollInterval is the waiter poll period.
	PollInterval time.Duration

	// PortCreateAttempts bounds the cut-over port re-creation retry while
	// the old binding ages out of the network backend.
	PortCreateAttempts int

	// PortCreatePeriod is the spacing of those attempts.
	PortCreatePeriod time.Duration

	// StackRollback deletes the stack when orchestration fails.  Off by
	// default so failed stacks can be inspected.
	StackRollback bool
}

// AddFlags registers orchestrator flags.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.StringVar((*string)(&o.CloneMode), "clone-migrate-type", string(CloneModeCold), "Volume copy strategy, cold or live.")
	f.StringVar(&o.SysImage, "sys-image", "", "Bootable image id substituted onto system disks.")
	f.StringToStringVar(&o.MigrateNetMap, "migrate-net-map", nil, "Availability zone to data copy network id map.")
	f.StringVar(&o.PlanFilePath, "plan-file-path", "/tmp/", "Prefix for generated sibling template keys.")
	f.DurationVar(&o.PollInterval, "stack-poll-interval", defaultPollInterval, "Stack and volume waiter poll period.")
	f.IntVar(&o.PortCreateAttempts, "port-retries", defaultPortCreateAttempts, "Cut-over port re-creation attempts.")
	f.DurationVar(&o.PortCreatePeriod, "port-retry-period", defaultPortCreatePeriod, "Cut-over port re-creation spacing.")
	f.BoolVar(&o.StackRollback, "stack-rollback", false, "Delete the stack when orchestration fails.")
}

// Orchestrator drives clone and migrate runs.
type Orchestrator struct {
	store    storage.Store
	driver   *driver.Driver
	agent    driver.Agent
	gateways *vgw.Pool
	mutator  *mutation.Engine
	options  *Options
	locks    *namedlock.Locker
	existing *lru.Cache[string, bool]
}

// New returns an orchestrator.  The lock table is the one the manager
// writes plans under, so a run's claim serializes with plan edits.
func New(store storage.Store, d *driver.Driver, agent driver.Agent, gateways *vgw.Pool, locks *namedlock.Locker, options *Options) (*Orchestrator, error) {
	if options.PollInterval == 0 {
		options.PollInterval = defaultPollInterval
	}

	if options.PortCreateAttempts == 0 {
		options.PortCreateAttempts = defaultPortCreateAttempts
	}

	if options.PortCreatePeriod == 0 {
		options.PortCreatePeriod = defaultPortCreatePeriod
	}

	if options.CloneMode == "" {
		options.CloneMode = CloneModeCold
	}

	if !options.CloneMode.Valid() {
		return nil, fmt.Errorf("%w: clone mode %q", errors.ErrPlanDeployError, options.CloneMode)
	}

	existing, err := lru.New[string, bool](existsCacheSize)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		store:    store,
		driver:   d,
		agent:    agent,
		gateways: gateways,
		mutator:  mutation.New(d),
		options:  options,
		locks:    locks,
		existing: existing,
	}, nil
}

// Export stores the plan's deployable template and returns it.  The sys
// clone and copy data flags are recorded on the plan so a later clone sees
// the same selection the template was exported with.
func (o *Orchestrator) Export(ctx context.Context, planID string, sysClone, copyData bool) (*template.Template, error) {
	p, err := o.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}

	if p.Status != plan.StatusAvailable {
		return nil, fmt.Errorf("%w: plan %s is %s", errors.ErrExportTemplateFailed, planID, p.Status)
	}

	if err := p.Update(map[string]interface{}{"sys_clone": sysClone, "copy_data": copyData}); err != nil {
		return nil, err
	}

	flagSystemCloneServers(p, sysClone)

	t := template.FromResources(p, p.UpdatedResources, true)

	if err := o.store.PutTemplate(p.ID, t); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrExportTemplateFailed, err)
	}

	if err := o.store.UpdatePlan(p); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrExportTemplateFailed, err)
	}

	return t, nil
}

// Download returns the stored template for a plan.
func (o *Orchestrator) Download(ctx context.Context, planID string) (*template.Template, error) {
	t, err := o.store.GetTemplate(planID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrDownloadTemplateFailed, err)
	}

	return t, nil
}

// CloneOpts parameterizes a clone run.
type CloneOpts struct {
	// DestinationAZ is where the workload lands.
	DestinationAZ string `json:"destination"`

	// SysClone selects live system disk cloning for the plan's servers.
	SysClone bool `json:"sys_clone"`

	// CopyData overrides the plan's copy data flag when set.
	CopyData *bool `json:"copy_data,omitempty"`

	// AvailabilityZoneMap records source to destination zone pairs.
	AvailabilityZoneMap map[string]string `json:"az_map,omitempty"`

	// Edits are applied to the plan before deployment.
	Edits []mutation.Edit `json:"resources,omitempty"`
}

// Clone runs a clone to completion, or to a rolled back error state.
func (o *Orchestrator) Clone(ctx context.Context, planID string, opts *CloneOpts) error {
	p, err := o.beginClone(ctx, planID, opts)
	if err != nil {
		return err
	}

	undoer := undo.New()

	if err := o.clone(ctx, p, opts, undoer); err != nil {
		o.fail(ctx, p, undoer, err)
		orchestrationsMetric.WithLabelValues("clone", "error").Inc()

		return err
	}

	orchestrationsMetric.WithLabelValues("clone", "finished").Inc()

	return nil
}

// beginClone claims the plan for a clone run.  The availability check and
// the move to the cloning state happen under the plan's lock so concurrent
// runs cannot both pass the gate.
func (o *Orchestrator) beginClone(ctx context.Context, planID string, opts *CloneOpts) (*plan.Plan, error) {
	unlock := o.locks.Lock(planID)
	defer unlock()

	p, err := o.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}

	if p.Type != plan.TypeClone {
		return nil, fmt.Errorf("%w: plan %s is a %s plan", errors.ErrPlanCloneFailed, planID, p.Type)
	}

	if p.Status != plan.StatusAvailable {
		return nil, fmt.Errorf("%w: plan %s is %s", errors.ErrPlanCloneFailed, planID, p.Status)
	}

	if len(opts.Edits) != 0 {
		if err := o.mutator.Apply(ctx, p, opts.Edits); err != nil {
			return nil, err
		}
	}

	values := map[string]interface{}{"sys_clone": opts.SysClone}
	if opts.CopyData != nil {
		values["copy_data"] = *opts.CopyData
	}

	if err := p.Update(values); err != nil {
		return nil, err
	}

	flagSystemCloneServers(p, opts.SysClone)

	if err := o.store.UpdatePlan(p); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	if len(opts.AvailabilityZoneMap) != 0 {
		if err := o.store.PutAvailabilityZoneMap(p.ID, opts.AvailabilityZoneMap); err != nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
		}
	}

	if err := o.transition(p, plan.StatusCloning, "deploying"); err != nil {
		return nil, err
	}

	return p, nil
}

func (o *Orchestrator) clone(ctx context.Context, p *plan.Plan, opts *CloneOpts, undoer *undo.Manager) error {
	restore := o.resetSourceStates(ctx, p, undoer)

	shaper := o.shaper(opts.DestinationAZ)

	names := template.SelectVolumeStack(p.UpdatedResources, o.options.CloneMode == CloneModeLive)

	volumeIDs := map[string]string{}

	if len(names) != 0 {
		ids, err := o.deployVolumeStack(ctx, p, shaper, names, undoer)
		if err != nil {
			return err
		}

		volumeIDs = ids
	}

	t, files, err := shaper.Shape(ctx, p, p.UpdatedResources)
	if err != nil {
		return err
	}

	if len(volumeIDs) != 0 {
		template.BindVolumeStack(t, names, volumeIDs)
	}

	stackID, err := o.submit(ctx, p, t, files)
	if err != nil {
		return err
	}

	if err := o.watch(ctx, p, stackID, plan.StatusCloning); err != nil {
		return err
	}

	relation, err := o.buildRelation(ctx, stackID, t, files)
	if err != nil {
		return err
	}

	for name, id := range volumeIDs {
		relation[name] = id
	}

	record := &storage.ClonedResources{
		Destination:  opts.DestinationAZ,
		Relation:     relation,
		Dependencies: p.UpdatedDependencies,
	}

	if err := o.store.PutClonedResources(p.ID, record); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	if p.CopyData && len(volumeIDs) != 0 {
		if err := o.copyData(ctx, p, opts.DestinationAZ, volumeIDs, undoer); err != nil {
			return err
		}

		if err := o.transition(p, plan.StatusDataTransFinished, "data transfer finished"); err != nil {
			return err
		}
	}

	// The source side survives a clone; let its resources out of their
	// cloning state now the copies have landed.
	restore(ctx)

	undoer.Clear()

	return o.transition(p, plan.StatusFinished, "finished")
}

// MigrateOpts parameterizes a migrate run.
type MigrateOpts struct {
	// DestinationAZ is where the workload lands.
	DestinationAZ string `json:"destination"`

	// AvailabilityZoneMap records source to destination zone pairs.
	AvailabilityZoneMap map[string]string `json:"az_map,omitempty"`
}

// Migrate runs a migration to completion, or to a rolled back error state.
func (o *Orchestrator) Migrate(ctx context.Context, planID string, opts *MigrateOpts) error {
	p, err := o.beginMigrate(ctx, planID, opts)
	if err != nil {
		return err
	}

	undoer := undo.New()

	if err := o.migrate(ctx, p, opts, undoer); err != nil {
		o.fail(ctx, p, undoer, err)
		orchestrationsMetric.WithLabelValues("migrate", "error").Inc()

		return err
	}

	orchestrationsMetric.WithLabelValues("migrate", "finished").Inc()

	return nil
}

// beginMigrate claims the plan for a migrate run under the plan's lock.
func (o *Orchestrator) beginMigrate(ctx context.Context, planID string, opts *MigrateOpts) (*plan.Plan, error) {
	unlock := o.locks.Lock(planID)
	defer unlock()

	p, err := o.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}

	if p.Type != plan.TypeMigrate {
		return nil, fmt.Errorf("%w: plan %s is a %s plan", errors.ErrPlanMigrateFailed, planID, p.Type)
	}

	if p.Status != plan.StatusAvailable {
		return nil, fmt.Errorf("%w: plan %s is %s", errors.ErrPlanMigrateFailed, planID, p.Status)
	}

	if len(opts.AvailabilityZoneMap) != 0 {
		if err := o.store.PutAvailabilityZoneMap(p.ID, opts.AvailabilityZoneMap); err != nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
		}
	}

	if err := o.transition(p, plan.StatusMigrating, "deploying"); err != nil {
		return nil, err
	}

	return p, nil
}

func (o *Orchestrator) migrate(ctx context.Context, p *plan.Plan, opts *MigrateOpts, undoer *undo.Manager) error {
	shaper := o.shaper(opts.DestinationAZ)

	t, files, err := shaper.Shape(ctx, p, p.UpdatedResources)
	if err != nil {
		return err
	}

	stackID, err := o.submit(ctx, p, t, files)
	if err != nil {
		return err
	}

	if err := o.watch(ctx, p, stackID, plan.StatusMigrating); err != nil {
		return err
	}

	relation, err := o.buildRelation(ctx, stackID, t, files)
	if err != nil {
		return err
	}

	record := &storage.ClonedResources{
		Destination:  opts.DestinationAZ,
		Relation:     relation,
		Dependencies: p.UpdatedDependencies,
	}

	if err := o.store.PutClonedResources(p.ID, record); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
	}

	for _, server := range serversOf(p) {
		targetID := relation[server.Name]
		if targetID == "" {
			return fmt.Errorf("%w: no migrated replacement for server %s", errors.ErrPlanMigrateFailed, server.Name)
		}

		if err := o.cutOver(ctx, p, server, targetID, undoer); err != nil {
			return err
		}
	}

	if err := o.cleanup(ctx, p); err != nil {
		return err
	}

	undoer.Clear()

	return o.transition(p, plan.StatusFinished, "finished")
}

func (o *Orchestrator) shaper(destinationAZ string) *template.Shaper {
	return &template.Shaper{
		DestinationAZ: destinationAZ,
		Exists:        o.resourceExists,
		PlanFilePath:  o.options.PlanFilePath,
	}
}

// serversOf returns the plan's source servers in name order.
func serversOf(p *plan.Plan) []*plan.Resource {
	var out []*plan.Resource

	for _, resource := range p.OriginalResources {
		if resource.Type == plan.KindServer && resource.ID != "" {
			out = append(out, resource)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

func flagSystemCloneServers(p *plan.Plan, sysClone bool) {
	if !sysClone {
		return
	}

	for _, resource := range p.UpdatedResources {
		if resource.Type == plan.KindServer {
			resource.SetExtra(plan.ExtraSysClone, true)
		}
	}
}

// transition writes a status and task update through the plan whitelist.
func (o *Orchestrator) transition(p *plan.Plan, status plan.Status, task string) error {
	if err := p.Update(map[string]interface{}{"plan_status": string(status), "task_status": task}); err != nil {
		return err
	}

	if err := o.store.UpdatePlan(p); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanUpdateError, err)
	}

	return nil
}

// fail rolls back the run's side effects and parks the plan in error with
// the cause in task_status for clients to read.
func (o *Orchestrator) fail(ctx context.Context, p *plan.Plan, undoer *undo.Manager, cause error) {
	logger := log.FromContext(ctx)

	logger.Error(cause, "orchestration failed", "plan", p.ID)

	if err := undoer.Rollback(ctx); err != nil {
		logger.Error(err, "rollback incomplete", "plan", p.ID)
	}

	if o.options.StackRollback && p.StackID != "" {
		if err := o.driver.StackEngine.DeleteStack(ctx, p.StackID); err != nil {
			logger.Error(err, "stack deletion failed", "stack", p.StackID)
		}
	}

	if err := o.transition(p, plan.StatusError, cause.Error()); err != nil {
		logger.Error(err, "plan error state not recorded", "plan", p.ID)
	}
}

// submit sends a template to the stack engine under a fresh stack name and
// records the stack against the plan.
func (o *Orchestrator) submit(ctx context.Context, p *plan.Plan, t *template.Template, files map[string]string) (string, error) {
	disable := !o.options.StackRollback
	t.DisableRollback = &disable

	stackID, err := o.driver.StackEngine.CreateStack(ctx, &driver.StackCreateOpts{
		Name:            constants.StackNamePrefix + uuid.New().String(),
		Template:        t,
		Files:           files,
		DisableRollback: disable,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
	}

	if err := p.Update(map[string]interface{}{"stack_id": stackID}); err != nil {
		return "", err
	}

	if err := o.store.UpdatePlan(p); err != nil {
		return "", fmt.Errorf("%w: %s", errors.ErrPlanUpdateError, err)
	}

	if err := o.store.PutStack(p.ID, stackID); err != nil {
		return "", fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
	}

	return stackID, nil
}

// deployVolumeStack submits the volume sub-stack and resolves the fresh
// volume ids it realized.
func (o *Orchestrator) deployVolumeStack(ctx context.Context, p *plan.Plan, shaper *template.Shaper, names []string, undoer *undo.Manager) (map[string]string, error) {
	t := shaper.BuildVolumeTemplate(p, p.UpdatedResources, names, o.options.SysImage)

	disable := !o.options.StackRollback
	t.DisableRollback = &disable

	stackID, err := o.driver.StackEngine.CreateStack(ctx, &driver.StackCreateOpts{
		Name:            constants.StackNamePrefix + uuid.New().String(),
		Template:        t,
		DisableRollback: disable,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
	}

	undoer.Push("delete volume stack "+stackID, func(ctx context.Context) error {
		return o.driver.StackEngine.DeleteStack(ctx, stackID)
	})

	if err := o.watch(ctx, p, stackID, plan.StatusCloning); err != nil {
		return nil, err
	}

	ids := map[string]string{}

	for _, name := range names {
		if _, ok := t.Resources[name]; !ok {
			continue
		}

		resource, err := o.driver.StackEngine.GetResource(ctx, stackID, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
		}

		ids[name] = resource.PhysicalID
	}

	return ids, nil
}

// watch polls a stack to a terminal state, mirroring engine status and the
// latest event into the plan.  A plan forced to error from outside aborts
// the watch on the next tick.
func (o *Orchestrator) watch(ctx context.Context, p *plan.Plan, stackID string, active plan.Status) error {
	ticker := time.NewTicker(o.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return retry.ErrAborted
		case <-ticker.C:
		}

		stack, err := o.driver.StackEngine.GetStack(ctx, stackID)
		if err != nil {
			return fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
		}

		task := stack.Status

		if events, err := o.driver.StackEngine.ListEvents(ctx, stackID); err == nil && len(events) != 0 {
			latest := events[len(events)-1]

			task = fmt.Sprintf("%s: %s", latest.ResourceName, latest.Status)
			if latest.StatusReason != "" {
				task = fmt.Sprintf("%s (%s)", task, latest.StatusReason)
			}
		}

		switch stack.Status {
		case driver.StackCreateComplete:
			return nil
		case driver.StackCreateFailed:
			return fmt.Errorf("%w: stack %s failed: %s", errors.ErrPlanDeployError, stackID, stack.StatusReason)
		case driver.StackCreateInProgress:
			if err := o.transition(p, active, task); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: stack %s in unexpected state %s", errors.ErrPlanDeployError, stackID, stack.Status)
		}

		if stored, err := o.store.GetPlan(p.ID); err == nil && stored.Status == plan.StatusError {
			return retry.ErrAborted
		}
	}
}

// buildRelation maps template local names to the physical ids the stack
// realized, descending into nested child stacks where the engine exposes
// them.
func (o *Orchestrator) buildRelation(ctx context.Context, stackID string, t *template.Template, files map[string]string) (map[string]string, error) {
	relation := map[string]string{}

	for name, entry := range t.Resources {
		resource, err := o.driver.StackEngine.GetResource(ctx, stackID, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
		}

		relation[name] = resource.PhysicalID

		if !entry.Type.Nested() {
			continue
		}

		data, ok := files[string(entry.Type)]
		if !ok {
			continue
		}

		child, err := template.Unmarshal([]byte(data))
		if err != nil {
			continue
		}

		// Child resources resolve best effort, the engine may not expose
		// them until after the parent settles.
		for childName := range child.Resources {
			if childResource, err := o.driver.StackEngine.GetResource(ctx, resource.PhysicalID, childName); err == nil {
				relation[childName] = childResource.PhysicalID
			}
		}
	}

	return relation, nil
}

// resetSourceStates parks source servers and volumes in a cloning state so
// they aren't mutated mid copy.  Reset failures are tolerated, a busy
// source is not fatal.  Each reset registers its restore with the undoer
// for the rollback path; the returned function runs the same restores on
// success, since the source outlives a clone.
func (o *Orchestrator) resetSourceStates(ctx context.Context, p *plan.Plan, undoer *undo.Manager) func(ctx context.Context) {
	logger := log.FromContext(ctx)

	var restores []undo.Func

	push := func(name string, fn undo.Func) {
		undoer.Push(name, fn)
		restores = append(restores, fn)
	}

	for _, resource := range p.OriginalResources {
		if resource.ID == "" {
			continue
		}

		id := resource.ID

		switch resource.Type {
		case plan.KindServer:
			previous, _ := resource.Extra(plan.ExtraVMState).(string)
			if previous == "" {
				previous = "active"
			}

			if err := o.driver.Compute.ResetState(ctx, id, "cloning"); err != nil {
				logger.V(1).Info("server state reset failed", "server", id, "error", err.Error())
				continue
			}

			push("restore server state "+id, func(ctx context.Context) error {
				return o.driver.Compute.ResetState(ctx, id, previous)
			})
		case plan.KindVolume:
			previous, _ := resource.Extra(plan.ExtraStatus).(string)
			if previous == "" {
				previous = "available"
			}

			if err := o.driver.BlockStorage.ResetVolumeState(ctx, id, "cloning"); err != nil {
				logger.V(1).Info("volume state reset failed", "volume", id, "error", err.Error())
				continue
			}

			push("restore volume state "+id, func(ctx context.Context) error {
				return o.driver.BlockStorage.ResetVolumeState(ctx, id, previous)
			})
		}
	}

	return func(ctx context.Context) {
		for _, restore := range restores {
			if err := restore(ctx); err != nil {
				log.FromContext(ctx).V(1).Info("source state restore failed", "plan", p.ID, "error", err.Error())
			}
		}
	}
}

// resourceExists resolves whether a live id is present in the destination
// cloud, memoized per orchestrator.
func (o *Orchestrator) resourceExists(ctx context.Context, kind plan.Kind, id string) (bool, error) {
	key := string(kind) + "/" + id

	if cached, ok := o.existing.Get(key); ok {
		return cached, nil
	}

	found, err := o.lookupResource(ctx, kind, id)
	if err != nil {
		return false, err
	}

	o.existing.Add(key, found)

	return found, nil
}

func (o *Orchestrator) lookupResource(ctx context.Context, kind plan.Kind, id string) (bool, error) {
	var err error

	switch kind {
	case plan.KindNetwork:
		_, err = o.driver.Network.GetNetwork(ctx, id)
	case plan.KindSubnet:
		_, err = o.driver.Network.GetSubnet(ctx, id)
	case plan.KindRouter:
		_, err = o.driver.Network.GetRouter(ctx, id)
	case plan.KindSecurityGroup:
		_, err = o.driver.Network.GetSecurityGroup(ctx, id)
	case plan.KindKeyPair:
		_, err = o.driver.Compute.GetKeyPair(ctx, id)
	case plan.KindFlavor:
		_, err = o.driver.Compute.GetFlavor(ctx, id)
	case plan.KindVolumeType:
		_, err = o.driver.BlockStorage.GetVolumeType(ctx, id)
	case plan.KindQos:
		_, err = o.driver.BlockStorage.GetQosSpecs(ctx, id)
	default:
		return false, nil
	}

	if err != nil {
		if goerrors.Is(err, errors.ErrResourceNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}
