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

package driver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
)

// Extractor walks live cloud objects and renders them as plan resources,
// pulling in transitive dependencies.  Each live id is extracted once and
// given a stable local name; repeated extraction returns the cached
// resource.
type Extractor struct {
	driver    *Driver
	resources plan.ResourceMap
	names     map[string]string
	counters  map[string]int
}

// NewExtractor returns an extractor accumulating into an empty graph.
func NewExtractor(d *Driver) *Extractor {
	return &Extractor{
		driver:    d,
		resources: plan.ResourceMap{},
		names:     map[string]string{},
		counters:  map[string]int{},
	}
}

// Resources returns the accumulated graph.
func (e *Extractor) Resources() plan.ResourceMap {
	return e.resources
}

// Seed primes the extractor with an existing graph: established ids keep
// their local names and fresh allocations start past the highest suffix in
// use for each prefix.
func (e *Extractor) Seed(resources plan.ResourceMap) {
	for name, resource := range resources {
		e.resources[name] = resource

		if resource.ID != "" {
			key := resource.ID
			if resource.Type == plan.KindKeyPair {
				key = "keypair/" + resource.ID
			}

			e.names[key] = name
		}

		if i := strings.LastIndexByte(name, '_'); i > 0 {
			if suffix, err := strconv.Atoi(name[i+1:]); err == nil {
				if prefix := name[:i]; suffix >= e.counters[prefix] {
					e.counters[prefix] = suffix + 1
				}
			}
		}
	}
}

func (e *Extractor) allocate(prefix, id string) (string, bool) {
	if name, ok := e.names[id]; ok {
		return name, true
	}

	name := fmt.Sprintf("%s_%d", prefix, e.counters[prefix])
	e.counters[prefix]++
	e.names[id] = name

	return name, false
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{plan.RefResource: name}
}

// ExtractServer renders a server, its ports, volumes, keypair, flavor and
// security groups.
func (e *Extractor) ExtractServer(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	server, err := e.driver.Compute.GetServer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: server %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("server", id)

	resource := plan.NewResource(name, plan.KindServer, id)
	resource.Properties["name"] = server.Name
	resource.SetExtra(plan.ExtraVMState, server.VMState)

	if server.AvailabilityZone != "" {
		resource.Properties["availability_zone"] = server.AvailabilityZone
	}

	if len(server.Metadata) > 0 {
		metadata := map[string]interface{}{}
		for k, v := range server.Metadata {
			metadata[k] = v
		}

		resource.Properties["metadata"] = metadata
	}

	if server.UserData != "" {
		resource.Properties["user_data"] = server.UserData
	}

	e.resources[name] = resource

	if server.FlavorID != "" {
		flavor, err := e.ExtractFlavor(ctx, server.FlavorID)
		if err != nil {
			return nil, err
		}

		resource.Properties["flavor"] = ref(flavor.Name)
	}

	if server.KeyName != "" {
		keypair, err := e.ExtractKeyPair(ctx, server.KeyName)
		if err != nil {
			return nil, err
		}

		resource.Properties["key_name"] = ref(keypair.Name)
	}

	groups := make([]interface{}, 0, len(server.SecurityGroupIDs))

	for _, groupID := range server.SecurityGroupIDs {
		group, err := e.ExtractSecurityGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}

		groups = append(groups, ref(group.Name))
	}

	if len(groups) > 0 {
		resource.Properties["security_groups"] = groups
	}

	ports, err := e.driver.Network.ListPorts(ctx, &PortListOpts{DeviceID: id})
	if err != nil {
		return nil, fmt.Errorf("%w: ports of server %s: %s", errors.ErrResourceNotFound, id, err)
	}

	networks := make([]interface{}, 0, len(ports))

	for _, port := range ports {
		extracted, err := e.extractPort(ctx, port)
		if err != nil {
			return nil, err
		}

		networks = append(networks, map[string]interface{}{"port": ref(extracted.Name)})
	}

	if len(networks) > 0 {
		resource.Properties["networks"] = networks
	}

	mappings := make([]interface{}, 0, len(server.Volumes))

	for _, attachment := range server.Volumes {
		volume, err := e.ExtractVolume(ctx, attachment.ID)
		if err != nil {
			return nil, err
		}

		volume.SetExtra(plan.ExtraSysDevName, attachment.Device)

		mappings = append(mappings, map[string]interface{}{
			"volume_id":   ref(volume.Name),
			"device_name": attachment.Device,
		})
	}

	if len(mappings) > 0 {
		resource.Properties["block_device_mapping_v2"] = mappings
	}

	return resource, nil
}

// ExtractVolume renders a volume and its volume type chain.
func (e *Extractor) ExtractVolume(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	volume, err := e.driver.BlockStorage.GetVolume(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: volume %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("volume", id)

	resource := plan.NewResource(name, plan.KindVolume, id)
	resource.Properties["size"] = volume.Size

	if volume.Name != "" {
		resource.Properties["name"] = volume.Name
	}

	if volume.Bootable {
		resource.Properties["bootable"] = true

		if image, ok := volume.Metadata["image_id"]; ok {
			resource.Properties["image"] = image
		}
	}

	resource.SetExtra(plan.ExtraStatus, volume.Status)

	e.resources[name] = resource

	if volume.VolumeTypeID != "" {
		volumeType, err := e.ExtractVolumeType(ctx, volume.VolumeTypeID)
		if err != nil {
			return nil, err
		}

		resource.Properties["volume_type"] = ref(volumeType.Name)
	}

	return resource, nil
}

// ExtractVolumeType renders a volume type and its QoS specs.
func (e *Extractor) ExtractVolumeType(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	volumeType, err := e.driver.BlockStorage.GetVolumeType(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: volume type %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("volume_type", id)

	resource := plan.NewResource(name, plan.KindVolumeType, id)
	resource.Properties["name"] = volumeType.Name

	e.resources[name] = resource

	if volumeType.QosSpecsID != "" {
		qos, err := e.ExtractQosSpecs(ctx, volumeType.QosSpecsID)
		if err != nil {
			return nil, err
		}

		resource.Properties["qos_specs_id"] = ref(qos.Name)
	}

	return resource, nil
}

// ExtractQosSpecs renders volume QoS specs.
func (e *Extractor) ExtractQosSpecs(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	qos, err := e.driver.BlockStorage.GetQosSpecs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: qos specs %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("qos", id)

	resource := plan.NewResource(name, plan.KindQos, id)

	specs := map[string]interface{}{}
	for k, v := range qos.Specs {
		specs[k] = v
	}

	resource.Properties["specs"] = specs

	e.resources[name] = resource

	return resource, nil
}

// ExtractNetwork renders a network and its subnets.  Provider segmentation
// attributes are deliberately dropped: they are not portable across clouds
// and require admin rights to set.
func (e *Extractor) ExtractNetwork(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	network, err := e.driver.Network.GetNetwork(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: network %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("net", id)

	resource := plan.NewResource(name, plan.KindNetwork, id)
	resource.Properties["name"] = network.Name

	if network.Shared {
		resource.Properties["shared"] = true
	}

	e.resources[name] = resource

	for _, subnetID := range network.SubnetIDs {
		if _, err := e.ExtractSubnet(ctx, subnetID); err != nil {
			return nil, err
		}
	}

	return resource, nil
}

// ExtractSubnet renders a subnet and its parent network.
func (e *Extractor) ExtractSubnet(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	subnet, err := e.driver.Network.GetSubnet(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: subnet %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("subnet", id)

	resource := plan.NewResource(name, plan.KindSubnet, id)
	resource.Properties["name"] = subnet.Name
	resource.Properties["cidr"] = subnet.CIDR
	resource.Properties["enable_dhcp"] = subnet.EnableDHCP

	if subnet.GatewayIP != "" {
		resource.Properties["gateway_ip"] = subnet.GatewayIP
	}

	pools := make([]interface{}, 0, len(subnet.AllocationPools))
	for _, pool := range subnet.AllocationPools {
		pools = append(pools, map[string]interface{}{"start": pool.Start, "end": pool.End})
	}

	if len(pools) > 0 {
		resource.Properties["allocation_pools"] = pools
	}

	e.resources[name] = resource

	network, err := e.ExtractNetwork(ctx, subnet.NetworkID)
	if err != nil {
		return nil, err
	}

	resource.Properties["network_id"] = ref(network.Name)

	return resource, nil
}

// ExtractPort renders a port, its network, subnets and security groups.
func (e *Extractor) ExtractPort(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	port, err := e.driver.Network.GetPort(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: port %s: %s", errors.ErrResourceNotFound, id, err)
	}

	return e.extractPort(ctx, port)
}

func (e *Extractor) extractPort(ctx context.Context, port *Port) (*plan.Resource, error) {
	if name, ok := e.names[port.ID]; ok {
		return e.resources[name], nil
	}

	name, _ := e.allocate("port", port.ID)

	resource := plan.NewResource(name, plan.KindPort, port.ID)

	if port.Name != "" {
		resource.Properties["name"] = port.Name
	}

	if port.MACAddress != "" {
		resource.Properties["mac_address"] = port.MACAddress
	}

	e.resources[name] = resource

	network, err := e.ExtractNetwork(ctx, port.NetworkID)
	if err != nil {
		return nil, err
	}

	resource.Properties["network_id"] = ref(network.Name)

	fixedIPs := make([]interface{}, 0, len(port.FixedIPs))

	for _, fixedIP := range port.FixedIPs {
		subnet, err := e.ExtractSubnet(ctx, fixedIP.SubnetID)
		if err != nil {
			return nil, err
		}

		fixedIPs = append(fixedIPs, map[string]interface{}{
			"subnet_id":  ref(subnet.Name),
			"ip_address": fixedIP.IPAddress,
		})
	}

	if len(fixedIPs) > 0 {
		resource.Properties["fixed_ips"] = fixedIPs
	}

	groups := make([]interface{}, 0, len(port.SecurityGroups))

	for _, groupID := range port.SecurityGroups {
		group, err := e.ExtractSecurityGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}

		groups = append(groups, ref(group.Name))
	}

	if len(groups) > 0 {
		resource.Properties["security_groups"] = groups
	}

	return resource, nil
}

// ExtractSecurityGroup renders a security group with normalized rules.
func (e *Extractor) ExtractSecurityGroup(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	group, err := e.driver.Network.GetSecurityGroup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: security group %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("security_group", id)

	resource := plan.NewResource(name, plan.KindSecurityGroup, id)
	resource.Properties["name"] = group.Name
	resource.Properties["rules"] = NormalizeSecurityGroupRules(group.ID, group.Rules)

	e.resources[name] = resource

	return resource, nil
}

// NormalizeSecurityGroupRules renders rules in template shape, dropping
// empty fields so equal rule sets compare equal regardless of source.
// A protocol of "any" means unset and is dropped.  A rule whose remote
// group is the group itself becomes remote_mode, so the cloned group can
// point the rule at its own fresh id instead of the source cloud's.
func NormalizeSecurityGroupRules(groupID string, rules []SecurityGroupRule) []interface{} {
	out := make([]interface{}, 0, len(rules))

	for _, rule := range rules {
		entry := map[string]interface{}{
			"direction": rule.Direction,
			"ethertype": rule.EtherType,
		}

		if rule.Protocol != "" && rule.Protocol != "any" {
			entry["protocol"] = rule.Protocol
		}

		if rule.PortRangeMin != 0 {
			entry["port_range_min"] = rule.PortRangeMin
		}

		if rule.PortRangeMax != 0 {
			entry["port_range_max"] = rule.PortRangeMax
		}

		if rule.RemoteIPPrefix != "" {
			entry["remote_ip_prefix"] = rule.RemoteIPPrefix
		}

		switch rule.RemoteGroupID {
		case "":
		case groupID:
			entry["remote_mode"] = "remote_group_id"
		default:
			entry["remote_group_id"] = rule.RemoteGroupID
		}

		out = append(out, entry)
	}

	return out
}

// ExtractKeyPair renders a keypair.
func (e *Extractor) ExtractKeyPair(ctx context.Context, name string) (*plan.Resource, error) {
	if local, ok := e.names["keypair/"+name]; ok {
		return e.resources[local], nil
	}

	keypair, err := e.driver.Compute.GetKeyPair(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: keypair %s: %s", errors.ErrResourceNotFound, name, err)
	}

	local, _ := e.allocate("keypair", "keypair/"+name)

	resource := plan.NewResource(local, plan.KindKeyPair, keypair.Name)
	resource.Properties["name"] = keypair.Name
	resource.Properties["public_key"] = keypair.PublicKey

	e.resources[local] = resource

	return resource, nil
}

// ExtractFlavor renders a flavor.
func (e *Extractor) ExtractFlavor(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	flavor, err := e.driver.Compute.GetFlavor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: flavor %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("flavor", id)

	resource := plan.NewResource(name, plan.KindFlavor, id)
	resource.Properties["name"] = flavor.Name
	resource.Properties["vcpus"] = flavor.VCPUs
	resource.Properties["ram"] = flavor.RAM
	resource.Properties["disk"] = flavor.Disk

	e.resources[name] = resource

	return resource, nil
}

// ExtractFloatingIP renders a floating IP and, when bound, its port.
func (e *Extractor) ExtractFloatingIP(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	fip, err := e.driver.Network.GetFloatingIP(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: floating ip %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("floatingip", id)

	resource := plan.NewResource(name, plan.KindFloatingIP, id)
	resource.Properties["floating_network_id"] = fip.FloatingNetworkID

	e.resources[name] = resource

	if fip.PortID != "" {
		port, err := e.ExtractPort(ctx, fip.PortID)
		if err != nil {
			return nil, err
		}

		resource.Properties["port_id"] = ref(port.Name)
	}

	return resource, nil
}

// ExtractRouter renders a router.
func (e *Extractor) ExtractRouter(ctx context.Context, id string) (*plan.Resource, error) {
	if name, ok := e.names[id]; ok {
		return e.resources[name], nil
	}

	router, err := e.driver.Network.GetRouter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: router %s: %s", errors.ErrResourceNotFound, id, err)
	}

	name, _ := e.allocate("router", id)

	resource := plan.NewResource(name, plan.KindRouter, id)
	resource.Properties["name"] = router.Name

	if router.ExternalNetworkID != "" {
		resource.Properties["external_gateway_info"] = map[string]interface{}{
			"network": router.ExternalNetworkID,
		}
	}

	e.resources[name] = resource

	return resource, nil
}

// Extract dispatches on kind for the mutation engine's re-extraction path.
func (e *Extractor) Extract(ctx context.Context, kind plan.Kind, id string) (*plan.Resource, error) {
	switch kind {
	case plan.KindServer:
		return e.ExtractServer(ctx, id)
	case plan.KindVolume:
		return e.ExtractVolume(ctx, id)
	case plan.KindVolumeType:
		return e.ExtractVolumeType(ctx, id)
	case plan.KindQos:
		return e.ExtractQosSpecs(ctx, id)
	case plan.KindNetwork:
		return e.ExtractNetwork(ctx, id)
	case plan.KindSubnet:
		return e.ExtractSubnet(ctx, id)
	case plan.KindPort:
		return e.ExtractPort(ctx, id)
	case plan.KindSecurityGroup:
		return e.ExtractSecurityGroup(ctx, id)
	case plan.KindKeyPair:
		return e.ExtractKeyPair(ctx, id)
	case plan.KindFlavor:
		return e.ExtractFlavor(ctx, id)
	case plan.KindFloatingIP:
		return e.ExtractFloatingIP(ctx, id)
	case plan.KindRouter:
		return e.ExtractRouter(ctx, id)
	default:
		return nil, fmt.Errorf("%w: cannot extract %s", errors.ErrPlanResourcesUpdateError, kind)
	}
}
