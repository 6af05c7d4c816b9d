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

// Package plan defines the plan object model: typed resources, the
// dependency graph derived from their property trees, and the plan status
// automaton.  Everything here is pure data manipulation; persistence and
// cloud access live elsewhere.
package plan

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eschercloudai/caravel/pkg/errors"
)

// Type is the plan flavor.
type Type string

const (
	// TypeClone recreates the workload and copies disk bytes.
	TypeClone Type = "clone"

	// TypeMigrate recreates the workload and re-homes network identity.
	TypeMigrate Type = "migrate"
)

// Valid tells whether the type is one the engine supports.
func (t Type) Valid() bool {
	return t == TypeClone || t == TypeMigrate
}

// Status is a plan state machine state.
type Status string

const (
	StatusCreating          Status = "creating"
	StatusInitiating        Status = "initiating"
	StatusCreated           Status = "created"
	StatusAvailable         Status = "available"
	StatusCloning           Status = "cloning"
	StatusMigrating         Status = "migrating"
	StatusDataTransFinished Status = "data_trans_finished"
	StatusFinished          Status = "finished"
	StatusDeleting          Status = "deleting"
	StatusError             Status = "error"
)

//nolint:gochecknoglobals
var statuses = map[Status]bool{
	StatusCreating:          true,
	StatusInitiating:        true,
	StatusCreated:           true,
	StatusAvailable:         true,
	StatusCloning:           true,
	StatusMigrating:         true,
	StatusDataTransFinished: true,
	StatusFinished:          true,
	StatusDeleting:          true,
	StatusError:             true,
}

// Valid tells whether the status is part of the automaton.
func (s Status) Valid() bool {
	return statuses[s]
}

// Mutable tells whether the plan may be edited or deleted in this state.
func (s Status) Mutable() bool {
	return s == StatusAvailable || s == StatusError
}

// CanTransition tells whether the edge s -> next exists in the automaton.
// Any state may fall to error; deletion starts only from a mutable state.
func (s Status) CanTransition(next Status) bool {
	if next == StatusError {
		return true
	}

	switch s {
	case StatusCreating:
		return next == StatusInitiating
	case StatusInitiating:
		return next == StatusCreated
	case StatusCreated:
		return next == StatusAvailable
	case StatusAvailable:
		return next == StatusCloning || next == StatusMigrating || next == StatusDeleting
	case StatusCloning, StatusMigrating:
		return next == StatusDataTransFinished || next == StatusFinished
	case StatusDataTransFinished:
		return next == StatusFinished
	case StatusError:
		return next == StatusDeleting
	case StatusFinished, StatusDeleting:
		return false
	}

	return false
}

// Plan is the durable record of a clone or migrate intent plus its
// resource graph.
type Plan struct {
	ID          string     `json:"plan_id"`
	Name        string     `json:"plan_name,omitempty"`
	Type        Type       `json:"plan_type"`
	ProjectID   string     `json:"project_id"`
	UserID      string     `json:"user_id"`
	StackID     string     `json:"stack_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	ExpireAt    time.Time  `json:"expire_at"`
	Deleted     bool       `json:"deleted"`
	Status      Status     `json:"plan_status"`
	TaskStatus  string     `json:"task_status,omitempty"`
	SysClone    bool       `json:"sys_clone"`
	CopyData    bool       `json:"copy_data"`

	// OriginalResources is the graph as extracted from the source cloud.
	// It is never edited after import.
	OriginalResources ResourceMap `json:"original_resources,omitempty"`

	// UpdatedResources is the graph the orchestrator deploys, shaped by
	// user edits.  Migrate plans keep it identical to the original.
	UpdatedResources ResourceMap `json:"updated_resources,omitempty"`

	OriginalDependencies DependencyMap `json:"original_dependencies,omitempty"`
	UpdatedDependencies  DependencyMap `json:"updated_dependencies,omitempty"`
}

// New allocates a plan in the creating state.
func New(planType Type, projectID, userID string, expire time.Duration) (*Plan, error) {
	if !planType.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanTypeNotSupported, planType)
	}

	now := time.Now().UTC()

	return &Plan{
		ID:                   uuid.New().String(),
		Type:                 planType,
		ProjectID:            projectID,
		UserID:               userID,
		CreatedAt:            now,
		ExpireAt:             now.Add(expire),
		Status:               StatusCreating,
		CopyData:             true,
		OriginalResources:    ResourceMap{},
		UpdatedResources:     ResourceMap{},
		OriginalDependencies: DependencyMap{},
		UpdatedDependencies:  DependencyMap{},
	}, nil
}

// UpdatableFields is the closed set of keys a plan update may write.
//nolint:gochecknoglobals
var UpdatableFields = map[string]bool{
	"task_status":       true,
	"plan_status":       true,
	"stack_id":          true,
	"updated_resources": true,
	"sys_clone":         true,
	"copy_data":         true,
}

// Update applies whitelisted field writes to the plan.  Unknown keys,
// unknown status values and wrongly typed values are rejected, nothing is
// applied on error.
func (p *Plan) Update(values map[string]interface{}) error {
	for key, value := range values {
		if !UpdatableFields[key] {
			return fmt.Errorf("%w: field %q is not updatable", errors.ErrPlanUpdateError, key)
		}

		switch key {
		case "task_status", "stack_id":
			if _, ok := value.(string); !ok {
				return fmt.Errorf("%w: field %q wants a string, got %v", errors.ErrPlanUpdateError, key, value)
			}
		case "plan_status":
			status, ok := value.(string)
			if !ok || !Status(status).Valid() {
				return fmt.Errorf("%w: invalid plan status %v", errors.ErrPlanUpdateError, value)
			}
		case "sys_clone", "copy_data":
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("%w: field %q wants a bool, got %v", errors.ErrPlanUpdateError, key, value)
			}
		case "updated_resources":
			if _, ok := value.(ResourceMap); !ok {
				return fmt.Errorf("%w: field %q wants a resource map", errors.ErrPlanUpdateError, key)
			}
		}
	}

	for key, value := range values {
		//nolint:forcetypeassert
		switch key {
		case "task_status":
			p.TaskStatus = value.(string)
		case "plan_status":
			p.Status = Status(value.(string))
		case "stack_id":
			p.StackID = value.(string)
		case "sys_clone":
			p.SysClone = value.(bool)
		case "copy_data":
			p.CopyData = value.(bool)
		case "updated_resources":
			p.UpdatedResources = value.(ResourceMap)
			p.RebuildDependencies()
		}
	}

	now := time.Now().UTC()
	p.UpdatedAt = &now

	return nil
}

// Expired tells whether the plan has outlived its expiry time.  Expiry is
// advisory, a running orchestration is never interrupted by it.
func (p *Plan) Expired() bool {
	return !p.ExpireAt.IsZero() && time.Now().UTC().After(p.ExpireAt)
}

// BuildDependencies derives the dependency view of a resource map from the
// reference nodes in each property tree.
func BuildDependencies(resources ResourceMap) DependencyMap {
	out := make(DependencyMap, len(resources))

	for name, resource := range resources {
		deps := []string{}

		for _, target := range DependencyRefs(resource.Properties) {
			if _, ok := resources[target]; ok {
				deps = append(deps, target)
			}
		}

		sort.Strings(deps)

		displayName := ""
		if v, ok := resource.Properties["name"].(string); ok {
			displayName = v
		}

		out[name] = &ResourceDependency{
			ID:             resource.ID,
			Name:           displayName,
			NameInTemplate: name,
			Type:           resource.Type,
			Dependencies:   deps,
		}
	}

	return out
}

// RebuildDependencies refreshes the updated dependency map.  When the
// resource name set is unchanged the stored map is trusted, otherwise it
// is recomputed from scratch.
func (p *Plan) RebuildDependencies() {
	if sameNameSet(p.UpdatedResources, p.UpdatedDependencies) {
		return
	}

	p.UpdatedDependencies = BuildDependencies(p.UpdatedResources)
}

func sameNameSet(resources ResourceMap, dependencies DependencyMap) bool {
	if len(resources) != len(dependencies) {
		return false
	}

	for name := range resources {
		if _, ok := dependencies[name]; !ok {
			return false
		}
	}

	return len(resources) != 0
}

// CheckReferences validates that every get_resource reference in the map
// resolves to a key of the same map.
func CheckReferences(resources ResourceMap) error {
	for name, resource := range resources {
		for _, target := range DependencyRefs(resource.Properties) {
			if _, ok := resources[target]; !ok {
				return fmt.Errorf("%w: resource %q references unknown resource %q", errors.ErrPlanCreateFailed, name, target)
			}
		}
	}

	return nil
}

// CheckAcyclic validates that the dependency graph of the map is a DAG,
// naming the resources on the first cycle found.
func CheckAcyclic(resources ResourceMap) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := make(map[string]int, len(resources))

	var visit func(name string, path []string) error

	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: dependency cycle through %v", errors.ErrPlanCreateFailed, append(path, name))
		}

		state[name] = visiting

		resource, ok := resources[name]
		if ok {
			for _, target := range DependencyRefs(resource.Properties) {
				if _, ok := resources[target]; !ok {
					continue
				}

				if err := visit(target, append(path, name)); err != nil {
					return err
				}
			}
		}

		state[name] = done

		return nil
	}

	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return err
		}
	}

	return nil
}

// ReferencedBy returns the names of resources, other than the given one,
// whose property trees reference it.
func ReferencedBy(resources ResourceMap, name string) []string {
	var out []string

	for other, resource := range resources {
		if other == name {
			continue
		}

		if ReferencesResource(resource.Properties, name) {
			out = append(out, other)
		}
	}

	sort.Strings(out)

	return out
}

// DeepCopy returns an independent copy of the plan.
func (p *Plan) DeepCopy() *Plan {
	out := *p

	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		out.UpdatedAt = &t
	}

	if p.DeletedAt != nil {
		t := *p.DeletedAt
		out.DeletedAt = &t
	}

	out.OriginalResources = p.OriginalResources.DeepCopy()
	out.UpdatedResources = p.UpdatedResources.DeepCopy()
	out.OriginalDependencies = p.OriginalDependencies.DeepCopy()
	out.UpdatedDependencies = p.UpdatedDependencies.DeepCopy()

	return &out
}
