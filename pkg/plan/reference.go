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

// Reference node keys.  A property tree node is a reference when it is a
// single key mapping with one of these keys.
const (
	RefResource = "get_resource"
	RefParam    = "get_param"
	RefAttr     = "get_attr"
)

// Reference is a parsed reference node.
type Reference struct {
	// Key is one of RefResource, RefParam, RefAttr.
	Key string

	// Target is the referenced local name (get_resource, get_attr[0]) or
	// parameter name (get_param).
	Target string
}

// AsReference parses a node into a reference, nil when it isn't one.
func AsReference(node interface{}) *Reference {
	mapping, ok := node.(map[string]interface{})
	if !ok || len(mapping) != 1 {
		return nil
	}

	for key, value := range mapping {
		switch key {
		case RefResource, RefParam:
			if target, ok := value.(string); ok {
				return &Reference{Key: key, Target: target}
			}
		case RefAttr:
			list, ok := value.([]interface{})
			if !ok || len(list) == 0 {
				return nil
			}

			if target, ok := list[0].(string); ok {
				return &Reference{Key: key, Target: target}
			}
		}

		return nil
	}

	return nil
}

// WalkReferences visits every reference node in a property tree depth
// first.  Non-reference mappings and lists are descended into; reference
// nodes are not (their payload is the target, not properties).
func WalkReferences(node interface{}, visit func(*Reference)) {
	if ref := AsReference(node); ref != nil {
		visit(ref)
		return
	}

	switch node := node.(type) {
	case map[string]interface{}:
		for _, value := range node {
			WalkReferences(value, visit)
		}
	case []interface{}:
		for _, value := range node {
			WalkReferences(value, visit)
		}
	}
}

// DependencyRefs returns the local names a property tree depends on, i.e.
// the targets of its get_resource and get_attr references, deduplicated in
// first-seen order.
func DependencyRefs(node interface{}) []string {
	var out []string

	seen := map[string]bool{}

	WalkReferences(node, func(ref *Reference) {
		if ref.Key == RefParam {
			return
		}

		if !seen[ref.Target] {
			seen[ref.Target] = true

			out = append(out, ref.Target)
		}
	})

	return out
}

// ParameterRefs returns the parameter names a property tree binds through
// get_param references, deduplicated in first-seen order.
func ParameterRefs(node interface{}) []string {
	var out []string

	seen := map[string]bool{}

	WalkReferences(node, func(ref *Reference) {
		if ref.Key != RefParam {
			return
		}

		if !seen[ref.Target] {
			seen[ref.Target] = true

			out = append(out, ref.Target)
		}
	})

	return out
}

// RewriteResourceToParam rewrites every {get_resource: name} node in the
// tree to {get_param: name} in place.  Used when a resource is promoted to
// a template parameter.
func RewriteResourceToParam(node interface{}, name string) {
	switch node := node.(type) {
	case map[string]interface{}:
		if target, ok := node[RefResource]; ok && len(node) == 1 {
			if target == name {
				delete(node, RefResource)
				node[RefParam] = name
			}

			return
		}

		for _, value := range node {
			RewriteResourceToParam(value, name)
		}
	case []interface{}:
		for _, value := range node {
			RewriteResourceToParam(value, name)
		}
	}
}

// RenameReference rewrites every dependency reference to oldName so it
// points at newName instead, in place.
func RenameReference(node interface{}, oldName, newName string) {
	switch node := node.(type) {
	case map[string]interface{}:
		if len(node) == 1 {
			if target, ok := node[RefResource]; ok && target == oldName {
				node[RefResource] = newName
				return
			}

			if list, ok := node[RefAttr].([]interface{}); ok && len(list) > 0 && list[0] == oldName {
				list[0] = newName
				return
			}
		}

		for _, value := range node {
			RenameReference(value, oldName, newName)
		}
	case []interface{}:
		for _, value := range node {
			RenameReference(value, oldName, newName)
		}
	}
}

// ReferencesResource tells whether the property tree contains a dependency
// reference to the given local name.
func ReferencesResource(node interface{}, name string) bool {
	found := false

	WalkReferences(node, func(ref *Reference) {
		if ref.Key != RefParam && ref.Target == name {
			found = true
		}
	})

	return found
}
