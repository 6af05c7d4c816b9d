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

package plan

// Engine private extra property keys.  These ride alongside resources in
// the store but never reach the stack engine.
const (
	ExtraGatewayURL    = "gw_url"
	ExtraGatewayID     = "gw_id"
	ExtraSysClone      = "sys_clone"
	ExtraCopyData      = "copy_data"
	ExtraDeacidized    = "is_deacidized"
	ExtraMigratePortID = "migrate_port_id"
	ExtraVMState       = "vm_state"
	ExtraGuestFormat   = "guest_format"
	ExtraMountPoint    = "mount_point"
	ExtraSysDevName    = "sys_dev_name"
	ExtraExist         = "exist"
	ExtraSetShareable  = "set_shareable"
	ExtraStatus        = "status"
)

// Parameter describes a template parameter binding.
type Parameter struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Resource is a typed template element denoting one cloud object.  Other
// resources refer to it by Name through reference nodes in their property
// trees, never by pointer.
type Resource struct {
	// Name is the template local identifier, unique within a plan.
	Name string `json:"name"`

	// Type is the resource kind tag.
	Type Kind `json:"type"`

	// ID is the live cloud identifier, empty until realized.
	ID string `json:"id"`

	// Properties is the property tree.  Leaves are literals or reference
	// nodes ({get_resource}, {get_param}, {get_attr}).
	Properties map[string]interface{} `json:"properties"`

	// ExtraProperties are engine private fields, stripped before the
	// template is submitted.
	ExtraProperties map[string]interface{} `json:"extra_properties,omitempty"`

	// Parameters are the parameter declarations this resource
	// contributes to the template.
	Parameters map[string]Parameter `json:"parameters,omitempty"`
}

// NewResource returns an initialized resource.
func NewResource(name string, kind Kind, id string) *Resource {
	return &Resource{
		Name:            name,
		Type:            kind,
		ID:              id,
		Properties:      map[string]interface{}{},
		ExtraProperties: map[string]interface{}{},
		Parameters:      map[string]Parameter{},
	}
}

// SetExtra records an engine private field, allocating the map on first
// use for resources decoded from storage.
func (r *Resource) SetExtra(key string, value interface{}) {
	if r.ExtraProperties == nil {
		r.ExtraProperties = map[string]interface{}{}
	}

	r.ExtraProperties[key] = value
}

// Extra returns an engine private field, nil when unset.
func (r *Resource) Extra(key string) interface{} {
	if r.ExtraProperties == nil {
		return nil
	}

	return r.ExtraProperties[key]
}

// ExtraBool interprets an engine private field as a boolean.  The store
// round-trips through JSON so both bool and "true"/"false" strings occur.
func (r *Resource) ExtraBool(key string) bool {
	switch v := r.Extra(key).(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// AddParameter declares a template parameter on the resource.
func (r *Resource) AddParameter(name string, parameter Parameter) {
	if r.Parameters == nil {
		r.Parameters = map[string]Parameter{}
	}

	r.Parameters[name] = parameter
}

// RebuildParameters re-derives the resource's parameter declarations from
// the get_param references in its property tree, resolving against the
// template level declarations.
func (r *Resource) RebuildParameters(declared map[string]Parameter) {
	r.Parameters = map[string]Parameter{}

	for _, name := range ParameterRefs(r.Properties) {
		if parameter, ok := declared[name]; ok {
			r.Parameters[name] = parameter
		}
	}
}

// DeepCopy returns an independent copy of the resource.
func (r *Resource) DeepCopy() *Resource {
	out := &Resource{
		Name: r.Name,
		Type: r.Type,
		ID:   r.ID,
	}

	if r.Properties != nil {
		//nolint:forcetypeassert
		out.Properties = CopyTree(r.Properties).(map[string]interface{})
	}

	if r.ExtraProperties != nil {
		//nolint:forcetypeassert
		out.ExtraProperties = CopyTree(r.ExtraProperties).(map[string]interface{})
	}

	if r.Parameters != nil {
		out.Parameters = make(map[string]Parameter, len(r.Parameters))

		for k, v := range r.Parameters {
			out.Parameters[k] = v
		}
	}

	return out
}

// ResourceDependency is the dependency view of one resource, derived from
// its property tree.
type ResourceDependency struct {
	// ID is the live cloud identifier of the resource.
	ID string `json:"id"`

	// Name is the cloud-side display name, may be empty.
	Name string `json:"name"`

	// NameInTemplate is the template local identifier.
	NameInTemplate string `json:"name_in_template"`

	// Type is the resource kind tag.
	Type Kind `json:"type"`

	// Dependencies are the template local names this resource refers to.
	Dependencies []string `json:"dependencies"`
}

// DependsOn tells whether the dependency list contains the given name.
func (d *ResourceDependency) DependsOn(name string) bool {
	for _, dep := range d.Dependencies {
		if dep == name {
			return true
		}
	}

	return false
}

// ResourceMap maps template local names to resources.
type ResourceMap map[string]*Resource

// DeepCopy returns an independent copy of the map and every resource in it.
func (m ResourceMap) DeepCopy() ResourceMap {
	out := make(ResourceMap, len(m))

	for k, v := range m {
		out[k] = v.DeepCopy()
	}

	return out
}

// DependencyMap maps template local names to their dependency views.
type DependencyMap map[string]*ResourceDependency

// DeepCopy returns an independent copy of the map.
func (m DependencyMap) DeepCopy() DependencyMap {
	out := make(DependencyMap, len(m))

	for k, v := range m {
		deps := make([]string, len(v.Dependencies))
		copy(deps, v.Dependencies)

		out[k] = &ResourceDependency{
			ID:             v.ID,
			Name:           v.Name,
			NameInTemplate: v.NameInTemplate,
			Type:           v.Type,
			Dependencies:   deps,
		}
	}

	return out
}

// CopyTree deep copies a JSON-shaped value (maps, slices, scalars).
func CopyTree(node interface{}) interface{} {
	switch node := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))

		for k, v := range node {
			out[k] = CopyTree(v)
		}

		return out
	case []interface{}:
		out := make([]interface{}, len(node))

		for i, v := range node {
			out[i] = CopyTree(v)
		}

		return out
	default:
		return node
	}
}
