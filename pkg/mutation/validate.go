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

package mutation

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/plan"
)

// validateProperties checks edited simple properties against the schema
// the stack engine publishes for the resource type.  Reference shapes are
// accepted as substitutes for any scalar or map.  A type without a
// published schema is validated by the per kind rules alone.
func (e *Engine) validateProperties(ctx context.Context, kind plan.Kind, properties map[string]interface{}) error {
	if len(properties) == 0 {
		return nil
	}

	schema, err := e.driver.StackEngine.GetResourceType(ctx, string(kind))
	if err != nil {
		return nil
	}

	for key, value := range properties {
		entry, ok := schema[key]
		if !ok {
			return rejectf("%s has no property %q", kind, key)
		}

		if plan.AsReference(value) != nil {
			continue
		}

		if !valueMatches(entry.Type, value) {
			return rejectf("property %q of %s must be a %s", key, kind, entry.Type)
		}
	}

	return nil
}

func valueMatches(schemaType string, value interface{}) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer", "number":
		switch value.(type) {
		case int, int64, float64:
			return true
		default:
			return false
		}
	case "map":
		_, ok := value.(map[string]interface{})
		return ok
	case "list":
		_, ok := value.([]interface{})
		return ok
	default:
		return true
	}
}

// allocationPools resolves the pools of the subnet a fixed IP entry names,
// preferring the plan local copy and falling back to the network driver.
func (e *Engine) allocationPools(ctx context.Context, work plan.ResourceMap, subnetRef interface{}) ([]driver.AllocationPool, error) {
	if ref := plan.AsReference(subnetRef); ref != nil {
		if subnet, ok := work[ref.Target]; ok {
			if pools, ok := localPools(subnet); ok {
				return pools, nil
			}

			if subnet.ID != "" {
				return e.driverPools(ctx, subnet.ID)
			}
		}

		return nil, rejectf("cannot resolve subnet %v", ref.Target)
	}

	if id, ok := subnetRef.(string); ok && id != "" {
		return e.driverPools(ctx, id)
	}

	return nil, rejectf("fixed ip entry names no subnet")
}

func localPools(subnet *plan.Resource) ([]driver.AllocationPool, bool) {
	raw, ok := subnet.Properties["allocation_pools"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, false
	}

	pools := make([]driver.AllocationPool, 0, len(raw))

	for _, entry := range raw {
		mapping, ok := entry.(map[string]interface{})
		if !ok {
			return nil, false
		}

		start, _ := mapping["start"].(string)
		end, _ := mapping["end"].(string)

		if start == "" || end == "" {
			return nil, false
		}

		pools = append(pools, driver.AllocationPool{Start: start, End: end})
	}

	return pools, true
}

func (e *Engine) driverPools(ctx context.Context, id string) ([]driver.AllocationPool, error) {
	subnet, err := e.driver.Network.GetSubnet(ctx, id)
	if err != nil {
		return nil, rejectf("subnet %s: %s", id, err)
	}

	return subnet.AllocationPools, nil
}

// addressInPools verifies the address lies inside one of the pools.
func addressInPools(address string, pools []driver.AllocationPool) error {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return rejectf("invalid ip address %q", address)
	}

	for _, pool := range pools {
		start, err := netip.ParseAddr(pool.Start)
		if err != nil {
			continue
		}

		end, err := netip.ParseAddr(pool.End)
		if err != nil {
			continue
		}

		if addr.Compare(start) >= 0 && addr.Compare(end) <= 0 {
			return nil
		}
	}

	return rejectf("address %s is outside the allocation pools %s", address, formatPools(pools))
}

func formatPools(pools []driver.AllocationPool) string {
	out := ""

	for i, pool := range pools {
		if i > 0 {
			out += ", "
		}

		out += fmt.Sprintf("%s-%s", pool.Start, pool.End)
	}

	return out
}
