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

package template

import (
	"context"
	"fmt"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
)

// ExistsFunc reports whether a live resource of the given kind and id is
// already present in the destination cloud.
type ExistsFunc func(ctx context.Context, kind plan.Kind, id string) (bool, error)

// FloatingIPStackName is the local name of the reference block left behind
// when floating IPs are factored into a sibling file template.
const FloatingIPStackName = "floating_ip_stack"

// Shaper prepares a resource graph for stack submission: availability zone
// pinning, pre-existing resource parameterization, port identity scrubbing,
// load balancer collapsing and floating IP factoring.
type Shaper struct {
	// DestinationAZ is the availability zone servers and volumes are
	// pinned to.
	DestinationAZ string

	// Exists resolves whether a live id is present in the destination
	// cloud.  Nil means only resources flagged as existing are bound by
	// parameter.
	Exists ExistsFunc

	// PlanFilePath prefixes generated sibling template keys.
	PlanFilePath string
}

// Shape produces a submission ready template and its files map from the
// plan's resource graph.  The input map is not modified.
func (s *Shaper) Shape(ctx context.Context, p *plan.Plan, resources plan.ResourceMap) (*Template, map[string]string, error) {
	work := resources.DeepCopy()

	existing, err := s.existingResources(ctx, work)
	if err != nil {
		return nil, nil, err
	}

	s.pinAvailabilityZones(work)
	scrubPorts(work, existing)
	collapseLoadBalancers(work)

	t := FromResources(p, work, false)

	promoteExisting(t, work, existing)

	s.pinNestedAvailabilityZones(t)

	files := map[string]string{}

	if err := s.factorFloatingIPs(t, p, files); err != nil {
		return nil, nil, err
	}

	if err := CollectNestedFiles(t, files); err != nil {
		return nil, nil, err
	}

	return t, files, nil
}

// existingResources maps local names to live ids for every resource that
// must be bound by parameter rather than rebuilt: those flagged as
// existing, and those of parameterizable kinds the destination cloud
// already holds.
func (s *Shaper) existingResources(ctx context.Context, resources plan.ResourceMap) (map[string]string, error) {
	out := map[string]string{}

	for name, resource := range resources {
		if resource.ID == "" {
			continue
		}

		if resource.ExtraBool(plan.ExtraExist) {
			out[name] = resource.ID
			continue
		}

		if !resource.Type.Parameterizable() || s.Exists == nil {
			continue
		}

		ok, err := s.Exists(ctx, resource.Type, resource.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
		}

		if ok {
			out[name] = resource.ID
		}
	}

	return out, nil
}

func (s *Shaper) pinAvailabilityZones(resources plan.ResourceMap) {
	for _, resource := range resources {
		if resource.Type.NeedsAvailabilityZone() {
			resource.Properties["availability_zone"] = s.DestinationAZ
		}
	}
}

// scrubPorts drops identity that the destination network owns: the MAC
// address when any referenced network pre-exists, and fixed IP addresses
// on pre-existing networks (the allocation pool assigns fresh ones).
func scrubPorts(resources plan.ResourceMap, existing map[string]string) {
	for _, resource := range resources {
		if resource.Type != plan.KindPort {
			continue
		}

		onExisting := false

		for _, target := range plan.DependencyRefs(resource.Properties) {
			if dep, ok := resources[target]; ok && dep.Type == plan.KindNetwork {
				if _, ok := existing[target]; ok {
					onExisting = true
				}
			}
		}

		if !onExisting {
			continue
		}

		delete(resource.Properties, "mac_address")

		if fixedIPs, ok := resource.Properties["fixed_ips"].([]interface{}); ok {
			for _, entry := range fixedIPs {
				if m, ok := entry.(map[string]interface{}); ok {
					delete(m, "ip_address")
				}
			}
		}
	}
}

// collapseLoadBalancers inlines each VIP's properties into the pools that
// reference it and drops the VIP and its listeners from the graph.  The
// stack engine creates the VIP as part of the pool.
func collapseLoadBalancers(resources plan.ResourceMap) {
	vips := []string{}

	for name, resource := range resources {
		if resource.Type == plan.KindVip {
			vips = append(vips, name)
		}
	}

	sort.Strings(vips)

	for _, name := range vips {
		vip := resources[name]

		inline := map[string]interface{}{}

		for key, value := range vip.Properties {
			if key == "pool_id" {
				continue
			}

			inline[key] = plan.CopyTree(value)
		}

		for _, pool := range resources {
			if pool.Type != plan.KindPool {
				continue
			}

			if refersTo(vip.Properties, pool.Name) || refersTo(pool.Properties, name) {
				pool.Properties["vip"] = plan.CopyTree(inline)
			}
		}

		for other, resource := range resources {
			if resource.Type == plan.KindListener && refersTo(resource.Properties, name) {
				delete(resources, other)
			}
		}

		delete(resources, name)
	}
}

func refersTo(props map[string]interface{}, name string) bool {
	return plan.ReferencesResource(props, name)
}

// promoteExisting binds each pre-existing resource by template parameter:
// a string parameter defaulting to the live id replaces the resource body,
// and every get_resource reference to it is rewritten to get_param.
func promoteExisting(t *Template, resources plan.ResourceMap, existing map[string]string) {
	names := make([]string, 0, len(existing))
	for name := range existing {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if _, ok := t.Resources[name]; !ok {
			continue
		}

		Parameterize(t, name, existing[name], fmt.Sprintf("existing %s", resources[name].Type))
	}
}

// Parameterize replaces a resource body with a string parameter defaulting
// to the given live id, rewriting every reference to it.
func Parameterize(t *Template, name, id, description string) {
	t.Parameters[name] = plan.Parameter{
		Type:        "string",
		Description: description,
		Default:     id,
	}

	for _, entry := range t.Resources {
		plan.RewriteResourceToParam(entry.Properties, name)
	}

	delete(t.Resources, name)
}

// pinNestedAvailabilityZones rewrites the availability zone of servers and
// volumes inside embedded child documents, recursively.
func (s *Shaper) pinNestedAvailabilityZones(t *Template) {
	for _, entry := range t.Resources {
		if entry.Content == nil {
			continue
		}

		pinContent(entry.Content, s.DestinationAZ)
	}
}

func pinContent(content map[string]interface{}, az string) {
	resources, ok := content["resources"].(map[string]interface{})
	if !ok {
		return
	}

	for _, value := range resources {
		entry, ok := value.(map[string]interface{})
		if !ok {
			continue
		}

		if kind, ok := entry["type"].(string); ok && plan.Kind(kind).NeedsAvailabilityZone() {
			if properties, ok := entry["properties"].(map[string]interface{}); ok {
				properties["availability_zone"] = az
			}
		}

		if child, ok := entry["content"].(map[string]interface{}); ok {
			pinContent(child, az)
		}
	}
}

// factorFloatingIPs moves floating IP resources into a sibling file
// template, leaving a single reference block behind.  A template with no
// floating IPs is left untouched.
func (s *Shaper) factorFloatingIPs(t *Template, p *plan.Plan, files map[string]string) error {
	names := []string{}

	for name, entry := range t.Resources {
		if entry.Type == plan.KindFloatingIP {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return nil
	}

	sort.Strings(names)

	key := fmt.Sprintf("%s%s%s.floatingIp.template", plan.NestedTemplatePrefix, s.PlanFilePath, p.ID)

	child := &Template{
		HeatTemplateVersion: t.HeatTemplateVersion,
		Description:         fmt.Sprintf("floating IPs for plan %s", p.ID),
		Parameters:          map[string]plan.Parameter{},
		Resources:           map[string]*Resource{},
	}

	// References out of the floating IPs into the main template become
	// parameters of the child, fed by the reference block.
	blockProperties := map[string]interface{}{}

	for _, name := range names {
		entry := t.Resources[name]

		for _, target := range plan.DependencyRefs(entry.Properties) {
			if _, stays := t.Resources[target]; !stays {
				continue
			}

			if _, done := child.Parameters[target]; done {
				continue
			}

			child.Parameters[target] = plan.Parameter{Type: "string"}
			blockProperties[target] = map[string]interface{}{plan.RefResource: target}
		}

		for _, target := range plan.ParameterRefs(entry.Properties) {
			if parameter, ok := t.Parameters[target]; ok {
				child.Parameters[target] = parameter
			}
		}

		child.Resources[name] = entry

		delete(t.Resources, name)
	}

	for _, entry := range child.Resources {
		for target := range child.Parameters {
			plan.RewriteResourceToParam(entry.Properties, target)
		}
	}

	data, err := child.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
	}

	files[key] = string(data)

	t.Resources[FloatingIPStackName] = &Resource{
		Type:       plan.Kind(key),
		Properties: blockProperties,
	}

	return nil
}

// CollectNestedFiles serializes embedded child documents into the files
// map, recursively, keyed by their file:// type.
func CollectNestedFiles(t *Template, files map[string]string) error {
	for name, entry := range t.Resources {
		if !entry.Type.Nested() || entry.Content == nil {
			continue
		}

		data, err := yaml.Marshal(entry.Content)
		if err != nil {
			return fmt.Errorf("%w: nested template %q: %s", errors.ErrPlanDeployError, name, err)
		}

		files[string(entry.Type)] = string(data)

		if nested, ok := entry.Content["resources"].(map[string]interface{}); ok {
			if err := collectNestedFromRaw(nested, files); err != nil {
				return err
			}
		}

		entry.Content = nil
	}

	return nil
}

func collectNestedFromRaw(resources map[string]interface{}, files map[string]string) error {
	for _, value := range resources {
		entry, ok := value.(map[string]interface{})
		if !ok {
			continue
		}

		kind, ok := entry["type"].(string)
		if !ok || !plan.Kind(kind).Nested() {
			continue
		}

		content, ok := entry["content"].(map[string]interface{})
		if !ok {
			continue
		}

		data, err := yaml.Marshal(content)
		if err != nil {
			return fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
		}

		files[kind] = string(data)

		if nested, ok := content["resources"].(map[string]interface{}); ok {
			if err := collectNestedFromRaw(nested, files); err != nil {
				return err
			}
		}

		delete(entry, "content")
	}

	return nil
}
