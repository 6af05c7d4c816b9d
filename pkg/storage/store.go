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

// Package storage is the durable store facade.  The engine only ever talks
// to the Store interface; the sole production implementation is backed by
// an embedded key value database.
package storage

import (
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/template"
)

// ClonedResources records what a finished clone produced: the destination
// availability zone, the source to clone id relation, and the dependency
// view as deployed.
type ClonedResources struct {
	Destination  string             `json:"destination"`
	Relation     map[string]string  `json:"relation"`
	Dependencies plan.DependencyMap `json:"dependencies"`
}

// Store is the durable state the engine persists.  All rows are keyed by
// plan id; deletes on absent rows succeed so force deletion can sweep
// partial state.
type Store interface {
	// Plans.
	CreatePlan(p *plan.Plan) error
	GetPlan(id string) (*plan.Plan, error)
	ListPlans() ([]*plan.Plan, error)
	UpdatePlan(p *plan.Plan) error
	DeletePlan(id string) error

	// Exported templates.
	PutTemplate(planID string, t *template.Template) error
	GetTemplate(planID string) (*template.Template, error)
	DeleteTemplate(planID string) error

	// Stack linkage.
	PutStack(planID, stackID string) error
	GetStack(planID string) (string, error)
	DeleteStack(planID string) error

	// Clone output bookkeeping.
	PutClonedResources(planID string, resources *ClonedResources) error
	GetClonedResources(planID string) (*ClonedResources, error)
	DeleteClonedResources(planID string) error

	// Availability zone mapping, source zone to destination zone.
	PutAvailabilityZoneMap(planID string, azMap map[string]string) error
	GetAvailabilityZoneMap(planID string) (map[string]string, error)
	DeleteAvailabilityZoneMap(planID string) error

	Close() error
}
