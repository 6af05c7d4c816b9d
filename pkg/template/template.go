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

// Package template converts between plan resource graphs and the
// orchestration template document the stack engine consumes, and shapes
// templates for submission against a destination availability zone.
package template

import (
	"fmt"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
)

// Resource is one template body entry.  The live cloud identifier rides in
// extra_properties under the "id" key so export and import round-trip it.
type Resource struct {
	Type            plan.Kind              `json:"type"`
	Properties      map[string]interface{} `json:"properties,omitempty"`
	ExtraProperties map[string]interface{} `json:"extra_properties,omitempty"`

	// Content is the serialized child document for nested templates,
	// those whose type carries the file:// prefix.
	Content map[string]interface{} `json:"content,omitempty"`
}

// Template is the document submitted to the stack engine.  The engine
// private trailer fields (expire_time onwards) are stripped of meaning by
// the stack engine and only matter on re-import.
type Template struct {
	HeatTemplateVersion string                    `json:"heat_template_version"`
	Description         string                    `json:"description,omitempty"`
	Parameters          map[string]plan.Parameter `json:"parameters,omitempty"`
	Resources           map[string]*Resource      `json:"resources"`

	ExpireTime      *time.Time `json:"expire_time,omitempty"`
	PlanType        plan.Type  `json:"plan_type,omitempty"`
	PlanID          string     `json:"plan_id,omitempty"`
	StackID         string     `json:"stack_id,omitempty"`
	DisableRollback *bool      `json:"disable_rollback,omitempty"`
}

// New returns an empty template carrying the plan linkage trailer.
func New(p *plan.Plan) *Template {
	expire := p.ExpireAt

	return &Template{
		HeatTemplateVersion: constants.TemplateVersion,
		Description:         fmt.Sprintf("%s template for plan %s", p.Type, p.ID),
		Parameters:          map[string]plan.Parameter{},
		Resources:           map[string]*Resource{},
		ExpireTime:          &expire,
		PlanType:            p.Type,
		PlanID:              p.ID,
		StackID:             p.StackID,
	}
}

// FromResources builds a template body from a resource map.  With
// withExtras set, engine private fields and live identifiers are carried
// in extra_properties; without it the body is submission shaped.
func FromResources(p *plan.Plan, resources plan.ResourceMap, withExtras bool) *Template {
	t := New(p)

	for name, resource := range resources {
		entry := &Resource{
			Type: resource.Type,
			//nolint:forcetypeassert
			Properties: plan.CopyTree(resource.Properties).(map[string]interface{}),
		}

		// Embedded child documents ride in extra_properties on the plan
		// side; the codec surfaces them as content.
		if content, ok := resource.Extra("content").(map[string]interface{}); ok {
			//nolint:forcetypeassert
			entry.Content = plan.CopyTree(content).(map[string]interface{})
		}

		if withExtras {
			extras := map[string]interface{}{}

			if resource.ExtraProperties != nil {
				//nolint:forcetypeassert
				extras = plan.CopyTree(resource.ExtraProperties).(map[string]interface{})
			}

			delete(extras, "content")
			extras["id"] = resource.ID
			entry.ExtraProperties = extras
		}

		t.Resources[name] = entry

		for pname, parameter := range resource.Parameters {
			t.Parameters[pname] = parameter
		}
	}

	return t
}

// ToResources parses a template body back into a resource map, validating
// kinds, references and acyclicity.  Live identifiers are recovered from
// extra_properties.
func (t *Template) ToResources() (plan.ResourceMap, error) {
	out := make(plan.ResourceMap, len(t.Resources))

	for name, entry := range t.Resources {
		if !entry.Type.Valid() {
			return nil, fmt.Errorf("%w: resource %q has unsupported type %q", errors.ErrPlanCreateFailed, name, entry.Type)
		}

		resource := plan.NewResource(name, entry.Type, "")

		if entry.Properties != nil {
			//nolint:forcetypeassert
			resource.Properties = plan.CopyTree(entry.Properties).(map[string]interface{})
		}

		if entry.ExtraProperties != nil {
			//nolint:forcetypeassert
			resource.ExtraProperties = plan.CopyTree(entry.ExtraProperties).(map[string]interface{})

			if id, ok := resource.ExtraProperties["id"].(string); ok {
				resource.ID = id
				delete(resource.ExtraProperties, "id")
			}
		}

		if entry.Content != nil {
			resource.SetExtra("content", plan.CopyTree(entry.Content))
		}

		resource.RebuildParameters(t.Parameters)

		out[name] = resource
	}

	if err := plan.CheckReferences(out); err != nil {
		return nil, err
	}

	if err := plan.CheckAcyclic(out); err != nil {
		return nil, err
	}

	return out, nil
}

// Marshal serializes the template.
func (t *Template) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}

// Unmarshal parses a serialized template.
func Unmarshal(data []byte) (*Template, error) {
	t := &Template{}

	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanCreateFailed, err)
	}

	if t.HeatTemplateVersion == "" {
		t.HeatTemplateVersion = constants.TemplateVersion
	}

	if t.Resources == nil {
		t.Resources = map[string]*Resource{}
	}

	return t, nil
}

// DeepCopy returns an independent copy of the template.
func (t *Template) DeepCopy() *Template {
	out := *t

	if t.ExpireTime != nil {
		e := *t.ExpireTime
		out.ExpireTime = &e
	}

	if t.DisableRollback != nil {
		d := *t.DisableRollback
		out.DisableRollback = &d
	}

	out.Parameters = make(map[string]plan.Parameter, len(t.Parameters))
	for k, v := range t.Parameters {
		out.Parameters[k] = v
	}

	out.Resources = make(map[string]*Resource, len(t.Resources))

	for name, entry := range t.Resources {
		copied := &Resource{Type: entry.Type}

		if entry.Properties != nil {
			//nolint:forcetypeassert
			copied.Properties = plan.CopyTree(entry.Properties).(map[string]interface{})
		}

		if entry.ExtraProperties != nil {
			//nolint:forcetypeassert
			copied.ExtraProperties = plan.CopyTree(entry.ExtraProperties).(map[string]interface{})
		}

		if entry.Content != nil {
			//nolint:forcetypeassert
			copied.Content = plan.CopyTree(entry.Content).(map[string]interface{})
		}

		out.Resources[name] = copied
	}

	return &out
}
