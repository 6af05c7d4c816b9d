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

// Package mutation implements the plan edit protocol: ordered add, edit
// and delete operations over the resource graph, with per kind rules,
// reference preservation and transitive orphan collection.  An edit batch
// is atomic: the plan's graph is replaced only when every edit succeeded.
package mutation

import (
	"context"
	"fmt"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
)

// Action discriminates edit operations.
type Action string

const (
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Edit is one operation of a batch.
type Edit struct {
	// Action selects the operation.
	Action Action `json:"action"`

	// Name is the template local name of the target (edit, delete).
	Name string `json:"resource_id,omitempty"`

	// Type is the resource kind, required for add.
	Type plan.Kind `json:"resource_type,omitempty"`

	// ID is a live cloud identifier: the resource to extract for add,
	// or the replacement for swap style edits.
	ID string `json:"id,omitempty"`

	// Properties carries per kind fields: user_data, metadata,
	// public_key, rules, fixed_ips, copy_data.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Engine applies edit batches.  It consults the cloud adapter to extract
// replacement resources and to resolve subnets not present in the plan,
// and the stack engine for property schemas.
type Engine struct {
	driver *driver.Driver
}

// New returns an engine backed by the given adapter.
func New(d *driver.Driver) *Engine {
	return &Engine{driver: d}
}

// Apply runs the batch in order against a working copy of the plan's
// updated resources, committing only if every edit succeeds.
func (e *Engine) Apply(ctx context.Context, p *plan.Plan, edits []Edit) error {
	if !p.Status.Mutable() {
		return fmt.Errorf("%w: plan %s is %s", errors.ErrPlanResourcesUpdateError, p.ID, p.Status)
	}

	work := p.UpdatedResources.DeepCopy()

	for i := range edits {
		edit := &edits[i]

		var err error

		switch edit.Action {
		case ActionAdd:
			err = e.add(ctx, work, edit)
		case ActionEdit:
			err = e.edit(ctx, work, edit)
		case ActionDelete:
			err = e.delete(work, edit)
		default:
			err = fmt.Errorf("%w: unknown action %q", errors.ErrPlanResourcesUpdateError, edit.Action)
		}

		if err != nil {
			return err
		}
	}

	if err := plan.CheckReferences(work); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanResourcesUpdateError, err)
	}

	p.UpdatedResources = work
	p.UpdatedDependencies = plan.BuildDependencies(work)

	return nil
}

// add extracts a live resource and its transitive dependencies into the
// graph under fresh local names.
func (e *Engine) add(ctx context.Context, work plan.ResourceMap, edit *Edit) error {
	if edit.ID == "" || !edit.Type.Valid() {
		return fmt.Errorf("%w: add requires a resource type and live id", errors.ErrPlanResourcesUpdateError)
	}

	extractor := driver.NewExtractor(e.driver)
	extractor.Seed(work)

	if _, err := extractor.Extract(ctx, edit.Type, edit.ID); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanResourcesUpdateError, err)
	}

	for name, resource := range extractor.Resources() {
		work[name] = resource
	}

	return nil
}

// delete removes an unreferenced resource, then sweeps its dependencies
// that no survivor references, transitively.
func (e *Engine) delete(work plan.ResourceMap, edit *Edit) error {
	target, ok := work[edit.Name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrResourceNotFound, edit.Name)
	}

	if holders := plan.ReferencedBy(work, edit.Name); len(holders) != 0 {
		return fmt.Errorf("%w: %s is still referenced by %v", errors.ErrPlanResourcesUpdateError, edit.Name, holders)
	}

	candidates := plan.DependencyRefs(target.Properties)

	delete(work, edit.Name)

	collectOrphans(work, candidates)

	return nil
}

// collectOrphans removes each candidate nothing references any more, then
// recurses into its own dependencies.
func collectOrphans(work plan.ResourceMap, candidates []string) {
	for _, name := range candidates {
		resource, ok := work[name]
		if !ok {
			continue
		}

		if len(plan.ReferencedBy(work, name)) != 0 {
			continue
		}

		next := plan.DependencyRefs(resource.Properties)

		delete(work, name)

		collectOrphans(work, next)
	}
}

// edit dispatches on the target's kind.
func (e *Engine) edit(ctx context.Context, work plan.ResourceMap, edit *Edit) error {
	target, ok := work[edit.Name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrResourceNotFound, edit.Name)
	}

	if err := e.validateProperties(ctx, target.Type, edit.Properties); err != nil {
		return err
	}

	switch target.Type {
	case plan.KindServer:
		return editServer(target, edit)
	case plan.KindKeyPair:
		return e.editKeyPair(ctx, target, edit)
	case plan.KindSecurityGroup:
		return e.editSecurityGroup(ctx, target, edit)
	case plan.KindFloatingIP:
		return e.editFloatingIP(ctx, work, target, edit)
	case plan.KindPort:
		return e.editPort(ctx, work, target, edit)
	case plan.KindSubnet:
		return e.editSubnet(ctx, work, target, edit)
	case plan.KindNetwork:
		return e.editNetwork(ctx, work, target, edit)
	case plan.KindVolume:
		return e.editVolume(ctx, work, target, edit)
	case plan.KindVolumeType, plan.KindQos:
		return e.editVolumeShaped(ctx, work, target, edit)
	default:
		return fmt.Errorf("%w: resources of type %s are not editable", errors.ErrPlanResourcesUpdateError, target.Type)
	}
}

// replace re-extracts a live resource under the target's local name,
// keeping the name stable so references survive.
func (e *Engine) replace(ctx context.Context, work plan.ResourceMap, target *plan.Resource, id string) (*plan.Resource, error) {
	extractor := driver.NewExtractor(e.driver)

	seed := work.DeepCopy()
	delete(seed, target.Name)
	extractor.Seed(seed)

	fresh, err := extractor.Extract(ctx, target.Type, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanResourcesUpdateError, err)
	}

	for name, resource := range extractor.Resources() {
		if name == fresh.Name {
			continue
		}

		work[name] = resource
	}

	replacement := fresh.DeepCopy()
	replacement.Name = target.Name
	work[target.Name] = replacement

	// Anything extracted alongside refers to the replacement under its
	// fresh name; point those references at the stable name.
	for _, resource := range work {
		plan.RenameReference(resource.Properties, fresh.Name, target.Name)
	}

	return replacement, nil
}
