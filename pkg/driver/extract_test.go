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

package driver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/driver/fake"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
)

func newCloud() *fake.Cloud {
	cloud := fake.New()

	cloud.Networks["net-1"] = &driver.Network{ID: "net-1", Name: "private", SubnetIDs: []string{"subnet-1"}}
	cloud.Subnets["subnet-1"] = &driver.Subnet{
		ID:        "subnet-1",
		Name:      "private-a",
		NetworkID: "net-1",
		CIDR:      "10.0.0.0/24",
		AllocationPools: []driver.AllocationPool{
			{Start: "10.0.0.10", End: "10.0.0.200"},
		},
	}
	cloud.Ports["port-1"] = &driver.Port{
		ID:         "port-1",
		NetworkID:  "net-1",
		MACAddress: "fa:16:3e:00:00:01",
		DeviceID:   "vm-1",
		FixedIPs:   []driver.FixedIP{{SubnetID: "subnet-1", IPAddress: "10.0.0.5"}},
	}
	cloud.SecurityGroups["sg-1"] = &driver.SecurityGroup{
		ID:   "sg-1",
		Name: "default",
		Rules: []driver.SecurityGroupRule{
			{Direction: "ingress", EtherType: "IPv4", Protocol: "tcp", PortRangeMin: 22, PortRangeMax: 22},
		},
	}
	cloud.Flavors["flavor-1"] = &driver.Flavor{ID: "flavor-1", Name: "m1.small", VCPUs: 2, RAM: 2048, Disk: 20}
	cloud.KeyPairs["deploy"] = &driver.KeyPair{Name: "deploy", PublicKey: "ssh-rsa AAAA"}
	cloud.QosSpecs["qos-1"] = &driver.QosSpecs{ID: "qos-1", Name: "gold-qos", Specs: map[string]string{"total_iops_sec": "1000"}}
	cloud.VolumeTypes["vt-1"] = &driver.VolumeType{ID: "vt-1", Name: "gold", QosSpecsID: "qos-1"}
	cloud.Volumes["vol-1"] = &driver.Volume{
		ID:           "vol-1",
		Name:         "root",
		Status:       "in-use",
		Size:         20,
		VolumeTypeID: "vt-1",
		Bootable:     true,
		Metadata:     map[string]string{"image_id": "image-1"},
	}
	cloud.Servers["vm-1"] = &driver.Server{
		ID:               "vm-1",
		Name:             "web",
		Status:           "ACTIVE",
		VMState:          "active",
		AvailabilityZone: "az-east",
		KeyName:          "deploy",
		FlavorID:         "flavor-1",
		SecurityGroupIDs: []string{"sg-1"},
		Volumes:          []driver.AttachedVolume{{ID: "vol-1", Device: "/dev/vda"}},
	}

	return cloud
}

func TestExtractServer(t *testing.T) {
	t.Parallel()

	cloud := newCloud()
	extractor := driver.NewExtractor(cloud.Driver())

	server, err := extractor.ExtractServer(context.Background(), "vm-1")
	require.NoError(t, err)

	resources := extractor.Resources()

	assert.Equal(t, "server_0", server.Name)
	assert.Equal(t, "active", server.Extra(plan.ExtraVMState))

	// The transitive closure came along.
	for _, name := range []string{"server_0", "port_0", "net_0", "subnet_0", "volume_0", "volume_type_0", "qos_0", "security_group_0", "keypair_0", "flavor_0"} {
		assert.Contains(t, resources, name)
	}

	// Every reference resolves and the graph is well formed.
	require.NoError(t, plan.CheckReferences(resources))
	require.NoError(t, plan.CheckAcyclic(resources))

	// The system disk remembers its source device.
	assert.Equal(t, "/dev/vda", resources["volume_0"].Extra(plan.ExtraSysDevName))
	assert.Equal(t, true, resources["volume_0"].Properties["bootable"])
	assert.Equal(t, "image-1", resources["volume_0"].Properties["image"])
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()

	cloud := newCloud()
	extractor := driver.NewExtractor(cloud.Driver())

	first, err := extractor.ExtractNetwork(context.Background(), "net-1")
	require.NoError(t, err)

	second, err := extractor.ExtractNetwork(context.Background(), "net-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, extractor.Resources(), 2)
}

func TestExtractSeedAvoidsNameCollisions(t *testing.T) {
	t.Parallel()

	cloud := newCloud()
	cloud.Networks["net-2"] = &driver.Network{ID: "net-2", Name: "other"}

	existing := plan.ResourceMap{
		"net_0": plan.NewResource("net_0", plan.KindNetwork, "net-1"),
	}

	extractor := driver.NewExtractor(cloud.Driver())
	extractor.Seed(existing)

	// The seeded id resolves to its established name.
	seeded, err := extractor.ExtractNetwork(context.Background(), "net-1")
	require.NoError(t, err)
	assert.Equal(t, "net_0", seeded.Name)

	// A fresh id allocates past the seeded suffix.
	fresh, err := extractor.ExtractNetwork(context.Background(), "net-2")
	require.NoError(t, err)
	assert.Equal(t, "net_1", fresh.Name)
}

func TestExtractUnknownResource(t *testing.T) {
	t.Parallel()

	cloud := newCloud()
	extractor := driver.NewExtractor(cloud.Driver())

	_, err := extractor.ExtractServer(context.Background(), "missing")
	require.ErrorIs(t, err, errors.ErrResourceNotFound)
}

func TestNormalizeSecurityGroupRules(t *testing.T) {
	t.Parallel()

	rules := driver.NormalizeSecurityGroupRules("sg-1", []driver.SecurityGroupRule{
		{Direction: "egress", EtherType: "IPv4"},
		{Direction: "ingress", EtherType: "IPv6", Protocol: "tcp", PortRangeMin: 80, PortRangeMax: 80, RemoteIPPrefix: "::/0"},
		{Direction: "ingress", EtherType: "IPv4", Protocol: "any", RemoteGroupID: "sg-1"},
		{Direction: "ingress", EtherType: "IPv4", Protocol: "udp", RemoteGroupID: "sg-2"},
	})

	require.Len(t, rules, 4)

	first, ok := rules[0].(map[string]interface{})
	require.True(t, ok)
	assert.NotContains(t, first, "protocol")

	second, ok := rules[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 80, second["port_range_min"])
	assert.Equal(t, "::/0", second["remote_ip_prefix"])

	// "any" means unset, and a self reference must not leak the source
	// cloud's group id into the cloned rules.
	third, ok := rules[2].(map[string]interface{})
	require.True(t, ok)
	assert.NotContains(t, third, "protocol")
	assert.NotContains(t, third, "remote_group_id")
	assert.Equal(t, "remote_group_id", third["remote_mode"])

	// A reference to another group is kept verbatim.
	fourth, ok := rules[3].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "sg-2", fourth["remote_group_id"])
	assert.NotContains(t, fourth, "remote_mode")
}
