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
	"fmt"
	"sort"

	"github.com/eschercloudai/caravel/pkg/plan"
)

// IsSystemDisk tells whether a volume backs the root device of some server.
// Exported bootable state survives either as a property or as the source
// device name ending in the first disk letter.
func IsSystemDisk(volume *plan.Resource) bool {
	switch v := volume.Properties["bootable"].(type) {
	case bool:
		if v {
			return true
		}
	case string:
		if v == "true" {
			return true
		}
	}

	if dev, ok := volume.Extra(plan.ExtraSysDevName).(string); ok && dev != "" {
		return dev[len(dev)-1] == 'a'
	}

	return false
}

// SelectVolumeStack picks the resources to isolate into a volume sub-stack
// deployed ahead of the main template.  A cold clone takes every volume
// shaped resource; a live clone takes only the system disks of servers
// flagged for system cloning, plus their volume shaped dependencies.
func SelectVolumeStack(resources plan.ResourceMap, live bool) []string {
	selected := map[string]bool{}

	if !live {
		for name, resource := range resources {
			if resource.Type.VolumeShaped() {
				selected[name] = true
			}
		}
	} else {
		for _, server := range resources {
			if server.Type != plan.KindServer || !server.ExtraBool(plan.ExtraSysClone) {
				continue
			}

			for _, target := range plan.DependencyRefs(server.Properties) {
				volume, ok := resources[target]
				if !ok || volume.Type != plan.KindVolume || !IsSystemDisk(volume) {
					continue
				}

				selected[target] = true
			}
		}
	}

	// Pull in volume shaped dependencies (volume types, QoS) of the
	// selection, transitively.
	for {
		grew := false

		for name := range selected {
			for _, target := range plan.DependencyRefs(resources[name].Properties) {
				if dep, ok := resources[target]; ok && dep.Type.VolumeShaped() && !selected[target] {
					selected[target] = true
					grew = true
				}
			}
		}

		if !grew {
			break
		}
	}

	out := make([]string, 0, len(selected))
	for name := range selected {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// BuildVolumeTemplate builds the sub-stack template for the selected
// resources.  System disk volumes have their source image replaced with the
// configured bootable image so the destination cloud can build them without
// the original image being present.  References out of the selection are
// bound by parameter to the live source ids.
func (s *Shaper) BuildVolumeTemplate(p *plan.Plan, resources plan.ResourceMap, names []string, sysImage string) *Template {
	subset := plan.ResourceMap{}

	for _, name := range names {
		if resource, ok := resources[name]; ok {
			subset[name] = resource.DeepCopy()
		}
	}

	for _, resource := range subset {
		if resource.Type == plan.KindVolume && IsSystemDisk(resource) {
			if _, ok := resource.Properties["image"]; ok && sysImage != "" {
				resource.Properties["image"] = sysImage
			}
		}
	}

	s.pinAvailabilityZones(subset)

	t := FromResources(p, subset, false)
	t.Description = fmt.Sprintf("volume sub-stack for plan %s", p.ID)

	// Bind references that escape the selection to their live ids.
	escaped := map[string]string{}

	for _, resource := range subset {
		for _, target := range plan.DependencyRefs(resource.Properties) {
			if _, inside := subset[target]; inside {
				continue
			}

			if outside, ok := resources[target]; ok && outside.ID != "" {
				escaped[target] = outside.ID
			}
		}
	}

	targets := make([]string, 0, len(escaped))
	for target := range escaped {
		targets = append(targets, target)
	}

	sort.Strings(targets)

	for _, target := range targets {
		Parameterize(t, target, escaped[target], "bound source resource")
	}

	return t
}

// BindVolumeStack rewrites the main template after the volume sub-stack has
// deployed: each selected resource becomes a parameter defaulting to the
// fresh id the sub-stack produced.
func BindVolumeStack(t *Template, names []string, ids map[string]string) {
	for _, name := range names {
		if _, ok := t.Resources[name]; !ok {
			continue
		}

		Parameterize(t, name, ids[name], "volume sub-stack output")
	}
}
