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
	"math/rand"
	"sort"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
)

func rejectf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{errors.ErrPlanResourcesUpdateError}, args...)...)
}

// editServer allows only user_data and metadata changes.
func editServer(target *plan.Resource, edit *Edit) error {
	for key, value := range edit.Properties {
		switch key {
		case "user_data", "metadata":
			target.Properties[key] = plan.CopyTree(value)
		default:
			return rejectf("server property %q is immutable", key)
		}
	}

	return nil
}

// editKeyPair accepts either a replacement id or a public key override.
func (e *Engine) editKeyPair(ctx context.Context, target *plan.Resource, edit *Edit) error {
	if edit.ID != "" {
		keypair, err := e.driver.Compute.GetKeyPair(ctx, edit.ID)
		if err != nil {
			return rejectf("keypair %s: %s", edit.ID, err)
		}

		target.ID = keypair.Name
		target.Properties["name"] = keypair.Name
		target.Properties["public_key"] = keypair.PublicKey

		return nil
	}

	publicKey, ok := edit.Properties["public_key"].(string)
	if !ok || publicKey == "" {
		return rejectf("keypair edit requires an id or a public_key")
	}

	target.Properties["public_key"] = publicKey

	return nil
}

// editSecurityGroup accepts either a replacement id or an explicit rules
// list.
func (e *Engine) editSecurityGroup(ctx context.Context, target *plan.Resource, edit *Edit) error {
	if edit.ID != "" {
		group, err := e.driver.Network.GetSecurityGroup(ctx, edit.ID)
		if err != nil {
			return rejectf("security group %s: %s", edit.ID, err)
		}

		target.ID = group.ID
		target.Properties["name"] = group.Name
		target.Properties["rules"] = driver.NormalizeSecurityGroupRules(group.ID, group.Rules)

		return nil
	}

	rules, ok := edit.Properties["rules"].([]interface{})
	if !ok {
		return rejectf("security group edit requires an id or a rules list")
	}

	target.Properties["rules"] = plan.CopyTree(rules)

	return nil
}

// editFloatingIP swaps in an unbound floating IP, preserving the plan side
// port binding of the one it replaces.
func (e *Engine) editFloatingIP(ctx context.Context, work plan.ResourceMap, target *plan.Resource, edit *Edit) error {
	if edit.ID == "" {
		return rejectf("floating ip edit requires a replacement id")
	}

	fip, err := e.driver.Network.GetFloatingIP(ctx, edit.ID)
	if err != nil {
		return rejectf("floating ip %s: %s", edit.ID, err)
	}

	if fip.PortID != "" {
		return rejectf("floating ip %s is already bound to port %s", edit.ID, fip.PortID)
	}

	binding := target.Properties["port_id"]

	replacement, err := e.replace(ctx, work, target, edit.ID)
	if err != nil {
		return err
	}

	if binding != nil {
		replacement.Properties["port_id"] = binding
	}

	return nil
}

// editPort changes fixed IPs only: same count, every address inside the
// corresponding subnet's allocation pools, and the port is recreated on
// deploy.
func (e *Engine) editPort(ctx context.Context, work plan.ResourceMap, target *plan.Resource, edit *Edit) error {
	for key := range edit.Properties {
		if key != "fixed_ips" {
			return rejectf("port property %q is immutable", key)
		}
	}

	requested, ok := edit.Properties["fixed_ips"].([]interface{})
	if !ok {
		return rejectf("port edit requires a fixed_ips list")
	}

	current, _ := target.Properties["fixed_ips"].([]interface{})
	if len(requested) != len(current) {
		return rejectf("fixed ip count must stay %d", len(current))
	}

	fresh := make([]interface{}, 0, len(requested))

	for i, raw := range requested {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return rejectf("fixed_ips[%d] is not a mapping", i)
		}

		address, _ := entry["ip_address"].(string)
		if address == "" {
			return rejectf("fixed_ips[%d] has no ip_address", i)
		}

		subnetRef := entry["subnet_id"]
		if subnetRef == nil {
			if existing, ok := current[i].(map[string]interface{}); ok {
				subnetRef = existing["subnet_id"]
			}
		}

		pools, err := e.allocationPools(ctx, work, subnetRef)
		if err != nil {
			return err
		}

		if err := addressInPools(address, pools); err != nil {
			return err
		}

		fresh = append(fresh, map[string]interface{}{
			"subnet_id":  plan.CopyTree(subnetRef),
			"ip_address": address,
		})
	}

	target.Properties["fixed_ips"] = fresh

	// Force recreation so the stack engine allocates the new addresses.
	target.ID = ""

	return nil
}

// editSubnet swaps the subnet's live id, dragging the parent network along
// when the replacement belongs to a different one, and invalidating every
// port that sits on it.
func (e *Engine) editSubnet(ctx context.Context, work plan.ResourceMap, target *plan.Resource, edit *Edit) error {
	if edit.ID == "" {
		return rejectf("subnet edit requires a replacement id")
	}

	oldNetworkRef := target.Properties["network_id"]

	replacement, err := e.replace(ctx, work, target, edit.ID)
	if err != nil {
		return err
	}

	// The replacement subnet's extraction may have pulled in a new parent
	// network; rebind the old network's referents when it changed.
	if oldRef := plan.AsReference(oldNetworkRef); oldRef != nil {
		newRef := plan.AsReference(replacement.Properties["network_id"])

		if newRef != nil && newRef.Target != oldRef.Target {
			if old, ok := work[oldRef.Target]; ok && old.Type == plan.KindNetwork {
				for _, resource := range work {
					plan.RenameReference(resource.Properties, oldRef.Target, newRef.Target)
				}

				delete(work, oldRef.Target)
			}
		}
	}

	invalidatePortsOnSubnet(work, target.Name)

	return nil
}

// invalidatePortsOnSubnet clears the live id of every port with a fixed IP
// on the subnet and drops addresses that would now conflict.
func invalidatePortsOnSubnet(work plan.ResourceMap, subnetName string) {
	for _, resource := range work {
		if resource.Type != plan.KindPort {
			continue
		}

		fixedIPs, ok := resource.Properties["fixed_ips"].([]interface{})
		if !ok {
			continue
		}

		touched := false

		for _, raw := range fixedIPs {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}

			if ref := plan.AsReference(entry["subnet_id"]); ref != nil && ref.Target == subnetName {
				delete(entry, "ip_address")

				touched = true
			}
		}

		if touched {
			resource.ID = ""
		}
	}
}

// editNetwork swaps the network's live id.  The replacement must carry at
// least one subnet, no server in the plan may already sit on it through
// another port, and every dependent port is re-pointed at a subnet of the
// replacement.
func (e *Engine) editNetwork(ctx context.Context, work plan.ResourceMap, target *plan.Resource, edit *Edit) error {
	if edit.ID == "" {
		return rejectf("network edit requires a replacement id")
	}

	network, err := e.driver.Network.GetNetwork(ctx, edit.ID)
	if err != nil {
		return rejectf("network %s: %s", edit.ID, err)
	}

	if len(network.SubnetIDs) == 0 {
		return rejectf("network %s has no subnets", edit.ID)
	}

	if err := checkDuplicateNetworks(work, target.Name, edit.ID); err != nil {
		return err
	}

	oldSubnets := subnetsOfNetwork(work, target.Name)

	if _, err := e.replace(ctx, work, target, edit.ID); err != nil {
		return err
	}

	replacements := []string{}

	for _, name := range subnetsOfNetwork(work, target.Name) {
		if !contains(oldSubnets, name) {
			replacements = append(replacements, name)
		}
	}

	if len(replacements) == 0 {
		return rejectf("network %s extracted no usable subnets", edit.ID)
	}

	// Re-point each port that sat on a subnet of the old network.
	for _, resource := range work {
		if resource.Type != plan.KindPort {
			continue
		}

		for _, old := range oldSubnets {
			if plan.ReferencesResource(resource.Properties, old) {
				//nolint:gosec
				chosen := replacements[rand.Intn(len(replacements))]

				plan.RenameReference(resource.Properties, old, chosen)

				resource.ID = ""
			}
		}
	}

	// Old subnets nothing references any more are garbage.
	collectOrphans(work, oldSubnets)

	return nil
}

// checkDuplicateNetworks refuses the swap when a server already owns a
// port on the target network through any of the three attachment shapes.
func checkDuplicateNetworks(work plan.ResourceMap, networkName, newNetworkID string) error {
	for _, server := range work {
		if server.Type != plan.KindServer {
			continue
		}

		networks, ok := server.Properties["networks"].([]interface{})
		if !ok {
			continue
		}

		onTarget := 0

		for _, raw := range networks {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}

			if uuid, ok := entry["uuid"].(string); ok && uuid == newNetworkID {
				onTarget++
				continue
			}

			if id, ok := entry["network"].(string); ok && id == newNetworkID {
				onTarget++
				continue
			}

			if ref := plan.AsReference(entry["port"]); ref != nil {
				port, ok := work[ref.Target]
				if !ok {
					continue
				}

				if port.ID != "" && portOnNetwork(work, port, networkName, newNetworkID) {
					onTarget++
				}
			}
		}

		if onTarget > 0 {
			return rejectf("duplicate networks: server %s already has a port on network %s", server.Name, newNetworkID)
		}
	}

	return nil
}

func portOnNetwork(work plan.ResourceMap, port *plan.Resource, networkName, newNetworkID string) bool {
	ref := plan.AsReference(port.Properties["network_id"])
	if ref == nil {
		id, _ := port.Properties["network_id"].(string)

		return id == newNetworkID
	}

	if ref.Target == networkName {
		return false
	}

	if network, ok := work[ref.Target]; ok {
		return network.ID == newNetworkID
	}

	return false
}

func subnetsOfNetwork(work plan.ResourceMap, networkName string) []string {
	var out []string

	for name, resource := range work {
		if resource.Type != plan.KindSubnet {
			continue
		}

		if ref := plan.AsReference(resource.Properties["network_id"]); ref != nil && ref.Target == networkName {
			out = append(out, name)
		}
	}

	sort.Strings(out)

	return out
}

func contains(list []string, name string) bool {
	for _, entry := range list {
		if entry == name {
			return true
		}
	}

	return false
}

// editVolume swaps in an existing volume, which is then bound by
// parameter instead of being rebuilt, or toggles data copying.
func (e *Engine) editVolume(ctx context.Context, work plan.ResourceMap, target *plan.Resource, edit *Edit) error {
	copyData, hasCopyData := edit.Properties["copy_data"].(bool)
	if _, ok := edit.Properties["copy_data"]; ok && !hasCopyData {
		return rejectf("copy_data must be a boolean")
	}

	final := target

	if edit.ID != "" {
		predecessors := plan.DependencyRefs(target.Properties)

		replacement, err := e.replace(ctx, work, target, edit.ID)
		if err != nil {
			return err
		}

		replacement.SetExtra(plan.ExtraExist, true)

		collectOrphans(work, predecessors)

		final = replacement
	}

	if hasCopyData {
		final.SetExtra(plan.ExtraCopyData, copyData)
	}

	return nil
}

// editVolumeShaped swaps a volume type or QoS specs, collecting orphaned
// predecessors.
func (e *Engine) editVolumeShaped(ctx context.Context, work plan.ResourceMap, target *plan.Resource, edit *Edit) error {
	if edit.ID == "" {
		return rejectf("%s edit requires a replacement id", target.Type)
	}

	predecessors := plan.DependencyRefs(target.Properties)

	if _, err := e.replace(ctx, work, target, edit.ID); err != nil {
		return err
	}

	collectOrphans(work, predecessors)

	return nil
}
