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

package mutation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/driver/fake"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/mutation"
	"github.com/eschercloudai/caravel/pkg/plan"
)

func newCloud() *fake.Cloud {
	cloud := fake.New()

	cloud.Networks["net-1"] = &driver.Network{ID: "net-1", Name: "private", SubnetIDs: []string{"subnet-1"}}
	cloud.Subnets["subnet-1"] = &driver.Subnet{
		ID:        "subnet-1",
		NetworkID: "net-1",
		CIDR:      "10.0.0.0/24",
		AllocationPools: []driver.AllocationPool{
			{Start: "10.0.0.10", End: "10.0.0.200"},
		},
	}
	cloud.Networks["net-2"] = &driver.Network{ID: "net-2", Name: "other", SubnetIDs: []string{"subnet-2"}}
	cloud.Subnets["subnet-2"] = &driver.Subnet{
		ID:        "subnet-2",
		NetworkID: "net-2",
		CIDR:      "10.1.0.0/24",
		AllocationPools: []driver.AllocationPool{
			{Start: "10.1.0.10", End: "10.1.0.200"},
		},
	}

	return cloud
}

// newTestPlan builds an available plan holding a server on one port plus a
// system volume, mirroring what import-from-template produces.
func newTestPlan(t *testing.T) *plan.Plan {
	t.Helper()

	p, err := plan.New(plan.TypeClone, "project", "user", time.Hour)
	require.NoError(t, err)

	p.Status = plan.StatusAvailable

	server := plan.NewResource("server_0", plan.KindServer, "vm-1")
	server.Properties = map[string]interface{}{
		"name": "web",
		"networks": []interface{}{
			map[string]interface{}{"port": map[string]interface{}{"get_resource": "port_0"}},
		},
	}

	port := plan.NewResource("port_0", plan.KindPort, "port-1")
	port.Properties = map[string]interface{}{
		"network_id": map[string]interface{}{"get_resource": "net_0"},
		"fixed_ips": []interface{}{
			map[string]interface{}{
				"subnet_id":  map[string]interface{}{"get_resource": "subnet_0"},
				"ip_address": "10.0.0.5",
			},
		},
	}

	subnet := plan.NewResource("subnet_0", plan.KindSubnet, "subnet-1")
	subnet.Properties = map[string]interface{}{
		"network_id": map[string]interface{}{"get_resource": "net_0"},
		"cidr":       "10.0.0.0/24",
		"allocation_pools": []interface{}{
			map[string]interface{}{"start": "10.0.0.10", "end": "10.0.0.200"},
		},
	}

	network := plan.NewResource("net_0", plan.KindNetwork, "net-1")
	network.Properties = map[string]interface{}{"name": "private"}

	volume := plan.NewResource("volume_0", plan.KindVolume, "vol-1")
	volume.Properties = map[string]interface{}{
		"size":        float64(20),
		"volume_type": map[string]interface{}{"get_resource": "volume_type_0"},
	}

	volumeType := plan.NewResource("volume_type_0", plan.KindVolumeType, "vt-1")
	volumeType.Properties = map[string]interface{}{"name": "gold"}

	server.Properties["block_device_mapping_v2"] = []interface{}{
		map[string]interface{}{"volume_id": map[string]interface{}{"get_resource": "volume_0"}},
	}

	p.UpdatedResources = plan.ResourceMap{
		"server_0":      server,
		"port_0":        port,
		"subnet_0":      subnet,
		"net_0":         network,
		"volume_0":      volume,
		"volume_type_0": volumeType,
	}
	p.RebuildDependencies()

	return p
}

func apply(t *testing.T, cloud *fake.Cloud, p *plan.Plan, edits ...mutation.Edit) error {
	t.Helper()

	return mutation.New(cloud.Driver()).Apply(context.Background(), p, edits)
}

func TestDeleteReferencedRejected(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	err := apply(t, newCloud(), p, mutation.Edit{Action: mutation.ActionDelete, Name: "port_0"})
	require.ErrorIs(t, err, errors.ErrPlanResourcesUpdateError)
	assert.Contains(t, err.Error(), "server_0")

	// Nothing was applied.
	assert.Contains(t, p.UpdatedResources, "port_0")
}

func TestDeleteCascadesToOrphans(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	require.NoError(t, apply(t, newCloud(), p, mutation.Edit{Action: mutation.ActionDelete, Name: "server_0"}))

	// The server's exclusive dependency chain is swept; nothing else.
	for _, name := range []string{"server_0", "port_0", "subnet_0", "net_0", "volume_0", "volume_type_0"} {
		assert.NotContains(t, p.UpdatedResources, name)
	}
}

func TestDeleteKeepsSharedDependencies(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	// A second port pins the network and subnet.
	other := plan.NewResource("port_1", plan.KindPort, "port-2")
	other.Properties = map[string]interface{}{
		"network_id": map[string]interface{}{"get_resource": "net_0"},
		"fixed_ips": []interface{}{
			map[string]interface{}{"subnet_id": map[string]interface{}{"get_resource": "subnet_0"}},
		},
	}
	p.UpdatedResources["port_1"] = other
	p.RebuildDependencies()

	require.NoError(t, apply(t, newCloud(), p, mutation.Edit{Action: mutation.ActionDelete, Name: "server_0"}))

	assert.NotContains(t, p.UpdatedResources, "server_0")
	assert.NotContains(t, p.UpdatedResources, "port_0")
	assert.Contains(t, p.UpdatedResources, "net_0")
	assert.Contains(t, p.UpdatedResources, "subnet_0")
	assert.Contains(t, p.UpdatedResources, "port_1")
}

func TestDependenciesTrackEdits(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	require.NoError(t, apply(t, newCloud(), p, mutation.Edit{Action: mutation.ActionDelete, Name: "server_0"}))

	assert.Equal(t, plan.BuildDependencies(p.UpdatedResources), p.UpdatedDependencies)
}

func TestEditRejectedOnImmutablePlan(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)
	p.Status = plan.StatusCloning

	err := apply(t, newCloud(), p, mutation.Edit{Action: mutation.ActionDelete, Name: "server_0"})
	require.ErrorIs(t, err, errors.ErrPlanResourcesUpdateError)
}

func TestServerEditWhitelist(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	require.NoError(t, apply(t, newCloud(), p, mutation.Edit{
		Action:     mutation.ActionEdit,
		Name:       "server_0",
		Properties: map[string]interface{}{"user_data": "#!/bin/sh", "metadata": map[string]interface{}{"role": "web"}},
	}))

	assert.Equal(t, "#!/bin/sh", p.UpdatedResources["server_0"].Properties["user_data"])

	err := apply(t, newCloud(), p, mutation.Edit{
		Action:     mutation.ActionEdit,
		Name:       "server_0",
		Properties: map[string]interface{}{"flavor": "bigger"},
	})
	require.ErrorIs(t, err, errors.ErrPlanResourcesUpdateError)
}

func TestPortFixedIPOutsidePool(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	err := apply(t, newCloud(), p, mutation.Edit{
		Action: mutation.ActionEdit,
		Name:   "port_0",
		Properties: map[string]interface{}{
			"fixed_ips": []interface{}{
				map[string]interface{}{
					"subnet_id":  map[string]interface{}{"get_resource": "subnet_0"},
					"ip_address": "10.0.0.250",
				},
			},
		},
	})

	require.ErrorIs(t, err, errors.ErrPlanResourcesUpdateError)
	assert.Contains(t, err.Error(), "10.0.0.10-10.0.0.200")
}

func TestPortFixedIPEdit(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	require.NoError(t, apply(t, newCloud(), p, mutation.Edit{
		Action: mutation.ActionEdit,
		Name:   "port_0",
		Properties: map[string]interface{}{
			"fixed_ips": []interface{}{
				map[string]interface{}{
					"subnet_id":  map[string]interface{}{"get_resource": "subnet_0"},
					"ip_address": "10.0.0.42",
				},
			},
		},
	}))

	port := p.UpdatedResources["port_0"]

	fixedIPs, ok := port.Properties["fixed_ips"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "10.0.0.42", fixedIPs[0].(map[string]interface{})["ip_address"])

	// The port is recreated on deploy.
	assert.Empty(t, port.ID)
}

func TestPortFixedIPCountMustMatch(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	err := apply(t, newCloud(), p, mutation.Edit{
		Action:     mutation.ActionEdit,
		Name:       "port_0",
		Properties: map[string]interface{}{"fixed_ips": []interface{}{}},
	})
	require.ErrorIs(t, err, errors.ErrPlanResourcesUpdateError)
}

func TestNetworkSwap(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	require.NoError(t, apply(t, newCloud(), p, mutation.Edit{
		Action: mutation.ActionEdit,
		Name:   "net_0",
		ID:     "net-2",
	}))

	network := p.UpdatedResources["net_0"]
	assert.Equal(t, "net-2", network.ID)

	// The port was re-pointed at a subnet of the replacement network and
	// invalidated.
	port := p.UpdatedResources["port_0"]
	assert.Empty(t, port.ID)

	deps := plan.BuildDependencies(p.UpdatedResources)

	var subnetName string

	for _, name := range deps["port_0"].Dependencies {
		if p.UpdatedResources[name].Type == plan.KindSubnet {
			subnetName = name
		}
	}

	require.NotEmpty(t, subnetName)
	assert.Equal(t, "subnet-2", p.UpdatedResources[subnetName].ID)

	require.NoError(t, plan.CheckReferences(p.UpdatedResources))
}

func TestNetworkSwapDuplicateRejected(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	// A second port already on the target network.
	other := plan.NewResource("port_1", plan.KindPort, "port-2")
	other.Properties = map[string]interface{}{
		"network_id": map[string]interface{}{"get_resource": "net_1"},
	}

	otherNet := plan.NewResource("net_1", plan.KindNetwork, "net-2")
	otherNet.Properties = map[string]interface{}{"name": "other"}

	p.UpdatedResources["port_1"] = other
	p.UpdatedResources["net_1"] = otherNet

	networks, ok := p.UpdatedResources["server_0"].Properties["networks"].([]interface{})
	require.True(t, ok)
	p.UpdatedResources["server_0"].Properties["networks"] = append(networks,
		map[string]interface{}{"port": map[string]interface{}{"get_resource": "port_1"}})

	p.RebuildDependencies()

	err := apply(t, newCloud(), p, mutation.Edit{
		Action: mutation.ActionEdit,
		Name:   "net_0",
		ID:     "net-2",
	})

	require.ErrorIs(t, err, errors.ErrPlanResourcesUpdateError)
	assert.Contains(t, err.Error(), "uplicate networks")
}

func TestVolumeSwapMarksExisting(t *testing.T) {
	t.Parallel()

	cloud := newCloud()
	cloud.Volumes["vol-9"] = &driver.Volume{ID: "vol-9", Name: "golden", Status: "available", Size: 20}

	p := newTestPlan(t)

	require.NoError(t, apply(t, cloud, p, mutation.Edit{
		Action:     mutation.ActionEdit,
		Name:       "volume_0",
		ID:         "vol-9",
		Properties: map[string]interface{}{"copy_data": false},
	}))

	volume := p.UpdatedResources["volume_0"]
	assert.Equal(t, "vol-9", volume.ID)
	assert.True(t, volume.ExtraBool(plan.ExtraExist))
	assert.False(t, volume.ExtraBool(plan.ExtraCopyData))

	// The orphaned predecessor volume type is collected.
	assert.NotContains(t, p.UpdatedResources, "volume_type_0")
}

func TestSecurityGroupRulesOverride(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	group := plan.NewResource("security_group_0", plan.KindSecurityGroup, "sg-1")
	group.Properties = map[string]interface{}{"name": "default", "rules": []interface{}{}}
	p.UpdatedResources["security_group_0"] = group
	p.RebuildDependencies()

	rules := []interface{}{
		map[string]interface{}{"direction": "ingress", "ethertype": "IPv4", "protocol": "tcp"},
	}

	require.NoError(t, apply(t, newCloud(), p, mutation.Edit{
		Action:     mutation.ActionEdit,
		Name:       "security_group_0",
		Properties: map[string]interface{}{"rules": rules},
	}))

	assert.Equal(t, rules, p.UpdatedResources["security_group_0"].Properties["rules"])
}

func TestFloatingIPSwapRejectsBound(t *testing.T) {
	t.Parallel()

	cloud := newCloud()
	cloud.FloatingIPs["fip-2"] = &driver.FloatingIP{ID: "fip-2", PortID: "someone-elses-port"}

	p := newTestPlan(t)

	fip := plan.NewResource("floatingip_0", plan.KindFloatingIP, "fip-1")
	fip.Properties = map[string]interface{}{"floating_network_id": "public"}
	p.UpdatedResources["floatingip_0"] = fip
	p.RebuildDependencies()

	err := apply(t, cloud, p, mutation.Edit{
		Action: mutation.ActionEdit,
		Name:   "floatingip_0",
		ID:     "fip-2",
	})

	require.ErrorIs(t, err, errors.ErrPlanResourcesUpdateError)
	assert.Contains(t, err.Error(), "already bound")
}

func TestFloatingIPSwapPreservesBinding(t *testing.T) {
	t.Parallel()

	cloud := newCloud()
	cloud.FloatingIPs["fip-2"] = &driver.FloatingIP{ID: "fip-2", FloatingNetworkID: "public"}

	p := newTestPlan(t)

	fip := plan.NewResource("floatingip_0", plan.KindFloatingIP, "fip-1")
	fip.Properties = map[string]interface{}{
		"floating_network_id": "public",
		"port_id":             map[string]interface{}{"get_resource": "port_0"},
	}
	p.UpdatedResources["floatingip_0"] = fip
	p.RebuildDependencies()

	require.NoError(t, apply(t, cloud, p, mutation.Edit{
		Action: mutation.ActionEdit,
		Name:   "floatingip_0",
		ID:     "fip-2",
	}))

	swapped := p.UpdatedResources["floatingip_0"]
	assert.Equal(t, "fip-2", swapped.ID)
	assert.Equal(t, map[string]interface{}{"get_resource": "port_0"}, swapped.Properties["port_id"])
}

func TestAddExtractsTransitively(t *testing.T) {
	t.Parallel()

	cloud := newCloud()
	cloud.SecurityGroups["sg-9"] = &driver.SecurityGroup{ID: "sg-9", Name: "extra"}

	p := newTestPlan(t)

	require.NoError(t, apply(t, cloud, p, mutation.Edit{
		Action: mutation.ActionAdd,
		Type:   plan.KindSecurityGroup,
		ID:     "sg-9",
	}))

	assert.Contains(t, p.UpdatedResources, "security_group_0")
	assert.Equal(t, "sg-9", p.UpdatedResources["security_group_0"].ID)
}

func TestBatchIsAtomic(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	err := apply(t, newCloud(), p,
		mutation.Edit{Action: mutation.ActionEdit, Name: "server_0", Properties: map[string]interface{}{"user_data": "x"}},
		mutation.Edit{Action: mutation.ActionDelete, Name: "port_0"},
	)

	require.Error(t, err)

	// The first edit of the failed batch did not leak.
	assert.NotContains(t, p.UpdatedResources["server_0"].Properties, "user_data")
}

func TestSchemaValidation(t *testing.T) {
	t.Parallel()

	cloud := newCloud()
	cloud.Schemas[string(plan.KindServer)] = map[string]driver.PropertySchema{
		"user_data": {Type: "string"},
		"metadata":  {Type: "map"},
	}

	p := newTestPlan(t)

	err := apply(t, cloud, p, mutation.Edit{
		Action:     mutation.ActionEdit,
		Name:       "server_0",
		Properties: map[string]interface{}{"user_data": 42},
	})

	require.ErrorIs(t, err, errors.ErrPlanResourcesUpdateError)
	assert.Contains(t, err.Error(), "must be a string")
}
