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

package template_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/template"
)

func newTestPlan(t *testing.T) *plan.Plan {
	t.Helper()

	p, err := plan.New(plan.TypeClone, "project", "user", time.Hour)
	require.NoError(t, err)

	return p
}

func newTestGraph() plan.ResourceMap {
	server := plan.NewResource("server_0", plan.KindServer, "vm-1")
	server.Properties = map[string]interface{}{
		"name": "web",
		"networks": []interface{}{
			map[string]interface{}{
				"port": map[string]interface{}{"get_resource": "port_0"},
			},
		},
	}

	port := plan.NewResource("port_0", plan.KindPort, "port-1")
	port.Properties = map[string]interface{}{
		"network_id":  map[string]interface{}{"get_resource": "net_0"},
		"mac_address": "fa:16:3e:00:00:01",
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
	}

	network := plan.NewResource("net_0", plan.KindNetwork, "net-1")
	network.Properties = map[string]interface{}{"name": "private"}

	volume := plan.NewResource("volume_0", plan.KindVolume, "vol-1")
	volume.Properties = map[string]interface{}{"size": float64(10)}

	return plan.ResourceMap{
		"server_0": server,
		"port_0":   port,
		"subnet_0": subnet,
		"net_0":    network,
		"volume_0": volume,
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)
	resources := newTestGraph()

	exported := template.FromResources(p, resources, true)

	data, err := exported.Marshal()
	require.NoError(t, err)

	imported, err := template.Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, constants.TemplateVersion, imported.HeatTemplateVersion)
	assert.Equal(t, p.ID, imported.PlanID)

	back, err := imported.ToResources()
	require.NoError(t, err)
	require.Len(t, back, len(resources))

	for name, resource := range resources {
		require.Contains(t, back, name)
		assert.Equal(t, resource.Type, back[name].Type)
		assert.Equal(t, resource.ID, back[name].ID)
	}

	assert.Equal(t, plan.BuildDependencies(resources), plan.BuildDependencies(back))
}

func TestToResourcesRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)

	exported := template.FromResources(p, newTestGraph(), false)
	exported.Resources["rogue"] = &template.Resource{Type: plan.Kind("OS::Nova::Teleporter")}

	_, err := exported.ToResources()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Teleporter")
}

func TestToResourcesRejectsDanglingReference(t *testing.T) {
	t.Parallel()

	p := newTestPlan(t)
	resources := newTestGraph()
	delete(resources, "net_0")

	exported := template.FromResources(p, resources, false)

	_, err := exported.ToResources()
	require.Error(t, err)
}

func TestShapePinsAvailabilityZone(t *testing.T) {
	t.Parallel()

	shaper := &template.Shaper{DestinationAZ: "az-west"}

	shaped, files, err := shaper.Shape(context.Background(), newTestPlan(t), newTestGraph())
	require.NoError(t, err)
	assert.Empty(t, files)

	assert.Equal(t, "az-west", shaped.Resources["server_0"].Properties["availability_zone"])
	assert.Equal(t, "az-west", shaped.Resources["volume_0"].Properties["availability_zone"])
	assert.NotContains(t, shaped.Resources["port_0"].Properties, "availability_zone")

	// Submission shaping strips engine private fields.
	for _, entry := range shaped.Resources {
		assert.Nil(t, entry.ExtraProperties)
	}
}

func TestShapePromotesExistingNetwork(t *testing.T) {
	t.Parallel()

	resources := newTestGraph()

	shaper := &template.Shaper{
		DestinationAZ: "az-west",
		Exists: func(_ context.Context, kind plan.Kind, id string) (bool, error) {
			return kind == plan.KindNetwork && id == "net-1", nil
		},
	}

	shaped, _, err := shaper.Shape(context.Background(), newTestPlan(t), resources)
	require.NoError(t, err)

	assert.NotContains(t, shaped.Resources, "net_0")
	require.Contains(t, shaped.Parameters, "net_0")
	assert.Equal(t, "net-1", shaped.Parameters["net_0"].Default)

	// References rewritten to parameters, identity scrubbed.
	port := shaped.Resources["port_0"]
	assert.Equal(t, map[string]interface{}{"get_param": "net_0"}, port.Properties["network_id"])
	assert.NotContains(t, port.Properties, "mac_address")

	fixedIPs, ok := port.Properties["fixed_ips"].([]interface{})
	require.True(t, ok)
	assert.NotContains(t, fixedIPs[0].(map[string]interface{}), "ip_address")

	// The shaper works on a copy, the plan graph keeps its identity.
	assert.Contains(t, resources["port_0"].Properties, "mac_address")
}

func TestShapePromotesFlaggedVolume(t *testing.T) {
	t.Parallel()

	resources := newTestGraph()
	resources["volume_0"].SetExtra(plan.ExtraExist, true)

	shaper := &template.Shaper{DestinationAZ: "az-west"}

	shaped, _, err := shaper.Shape(context.Background(), newTestPlan(t), resources)
	require.NoError(t, err)

	assert.NotContains(t, shaped.Resources, "volume_0")
	require.Contains(t, shaped.Parameters, "volume_0")
	assert.Equal(t, "vol-1", shaped.Parameters["volume_0"].Default)
}

func TestShapeCollapsesLoadBalancer(t *testing.T) {
	t.Parallel()

	resources := newTestGraph()

	pool := plan.NewResource("pool_0", plan.KindPool, "pool-1")
	pool.Properties = map[string]interface{}{
		"protocol":  "HTTP",
		"subnet_id": map[string]interface{}{"get_resource": "subnet_0"},
	}

	vip := plan.NewResource("vip_0", plan.KindVip, "vip-1")
	vip.Properties = map[string]interface{}{
		"protocol_port": float64(80),
		"pool_id":       map[string]interface{}{"get_resource": "pool_0"},
	}

	listener := plan.NewResource("listener_0", plan.KindListener, "listener-1")
	listener.Properties = map[string]interface{}{
		"vip_id": map[string]interface{}{"get_resource": "vip_0"},
	}

	resources["pool_0"] = pool
	resources["vip_0"] = vip
	resources["listener_0"] = listener

	shaper := &template.Shaper{DestinationAZ: "az-west"}

	shaped, _, err := shaper.Shape(context.Background(), newTestPlan(t), resources)
	require.NoError(t, err)

	assert.NotContains(t, shaped.Resources, "vip_0")
	assert.NotContains(t, shaped.Resources, "listener_0")

	inlined, ok := shaped.Resources["pool_0"].Properties["vip"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(80), inlined["protocol_port"])
	assert.NotContains(t, inlined, "pool_id")
}

func TestShapeFactorsFloatingIPs(t *testing.T) {
	t.Parallel()

	resources := newTestGraph()

	fip := plan.NewResource("fip_0", plan.KindFloatingIP, "fip-1")
	fip.Properties = map[string]interface{}{
		"floating_network_id": "public-net",
		"port_id":             map[string]interface{}{"get_resource": "port_0"},
	}
	resources["fip_0"] = fip

	p := newTestPlan(t)

	shaper := &template.Shaper{DestinationAZ: "az-west", PlanFilePath: "/var/lib/caravel/"}

	shaped, files, err := shaper.Shape(context.Background(), p, resources)
	require.NoError(t, err)

	assert.NotContains(t, shaped.Resources, "fip_0")
	require.Contains(t, shaped.Resources, template.FloatingIPStackName)

	key := "file:///var/lib/caravel/" + p.ID + ".floatingIp.template"
	assert.Equal(t, plan.Kind(key), shaped.Resources[template.FloatingIPStackName].Type)
	require.Contains(t, files, key)

	child, err := template.Unmarshal([]byte(files[key]))
	require.NoError(t, err)
	require.Contains(t, child.Resources, "fip_0")

	// The child receives the port by parameter, fed by the block.
	assert.Equal(t, map[string]interface{}{"get_param": "port_0"}, child.Resources["fip_0"].Properties["port_id"])
	assert.Contains(t, child.Parameters, "port_0")

	block := shaped.Resources[template.FloatingIPStackName]
	assert.Equal(t, map[string]interface{}{"get_resource": "port_0"}, block.Properties["port_0"])
}

func TestShapeFloatingIPFactoringIdempotent(t *testing.T) {
	t.Parallel()

	shaper := &template.Shaper{DestinationAZ: "az-west", PlanFilePath: "/var/lib/caravel/"}

	shaped, files, err := shaper.Shape(context.Background(), newTestPlan(t), newTestGraph())
	require.NoError(t, err)

	assert.NotContains(t, shaped.Resources, template.FloatingIPStackName)
	assert.Empty(t, files)
}

func TestShapeCollectsNestedFiles(t *testing.T) {
	t.Parallel()

	resources := newTestGraph()

	p := newTestPlan(t)
	shaper := &template.Shaper{DestinationAZ: "az-west"}

	shaped, files, err := shaper.Shape(context.Background(), p, resources)
	require.NoError(t, err)
	require.Empty(t, files)

	shaped.Resources["nested_0"] = &template.Resource{
		Type: plan.Kind("file://nested_0.template"),
		Content: map[string]interface{}{
			"heat_template_version": constants.TemplateVersion,
			"resources":             map[string]interface{}{},
		},
	}

	files = map[string]string{}
	require.NoError(t, template.CollectNestedFiles(shaped, files))

	require.Contains(t, files, "file://nested_0.template")
	assert.Nil(t, shaped.Resources["nested_0"].Content)
}
