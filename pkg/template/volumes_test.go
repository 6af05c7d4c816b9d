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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/template"
)

func newVolumeGraph() plan.ResourceMap {
	resources := newTestGraph()

	resources["volume_0"].Properties["bootable"] = true
	resources["volume_0"].Properties["image"] = "original-image"
	resources["volume_0"].Properties["volume_type"] = map[string]interface{}{"get_resource": "volume_type_0"}
	resources["server_0"].Properties["block_device_mapping_v2"] = []interface{}{
		map[string]interface{}{
			"volume_id": map[string]interface{}{"get_resource": "volume_0"},
		},
	}

	volumeType := plan.NewResource("volume_type_0", plan.KindVolumeType, "vt-1")
	volumeType.Properties = map[string]interface{}{
		"qos_specs_id": map[string]interface{}{"get_resource": "qos_0"},
	}

	qos := plan.NewResource("qos_0", plan.KindQos, "qos-1")
	qos.Properties = map[string]interface{}{"specs": map[string]interface{}{"total_iops_sec": "1000"}}

	dataVolume := plan.NewResource("volume_1", plan.KindVolume, "vol-2")
	dataVolume.Properties = map[string]interface{}{"size": float64(100)}

	resources["volume_type_0"] = volumeType
	resources["qos_0"] = qos
	resources["volume_1"] = dataVolume

	return resources
}

func TestIsSystemDisk(t *testing.T) {
	t.Parallel()

	v := plan.NewResource("v", plan.KindVolume, "vol")
	assert.False(t, template.IsSystemDisk(v))

	v.Properties["bootable"] = "true"
	assert.True(t, template.IsSystemDisk(v))

	w := plan.NewResource("w", plan.KindVolume, "vol")
	w.SetExtra(plan.ExtraSysDevName, "/dev/vda")
	assert.True(t, template.IsSystemDisk(w))

	w.SetExtra(plan.ExtraSysDevName, "/dev/vdb")
	assert.False(t, template.IsSystemDisk(w))
}

func TestSelectVolumeStackCold(t *testing.T) {
	t.Parallel()

	names := template.SelectVolumeStack(newVolumeGraph(), false)

	assert.Equal(t, []string{"qos_0", "volume_0", "volume_1", "volume_type_0"}, names)
}

func TestSelectVolumeStackLive(t *testing.T) {
	t.Parallel()

	resources := newVolumeGraph()

	// No server flagged: nothing to isolate.
	assert.Empty(t, template.SelectVolumeStack(resources, true))

	resources["server_0"].SetExtra(plan.ExtraSysClone, true)

	names := template.SelectVolumeStack(resources, true)
	assert.Equal(t, []string{"qos_0", "volume_0", "volume_type_0"}, names)
}

func TestBuildVolumeTemplate(t *testing.T) {
	t.Parallel()

	resources := newVolumeGraph()
	resources["server_0"].SetExtra(plan.ExtraSysClone, true)

	p := newTestPlan(t)
	shaper := &template.Shaper{DestinationAZ: "az-west"}

	names := template.SelectVolumeStack(resources, true)
	sub := shaper.BuildVolumeTemplate(p, resources, names, "bootable-image")

	require.Contains(t, sub.Resources, "volume_0")
	assert.Equal(t, "bootable-image", sub.Resources["volume_0"].Properties["image"])
	assert.Equal(t, "az-west", sub.Resources["volume_0"].Properties["availability_zone"])
	assert.NotContains(t, sub.Resources, "server_0")
	assert.NotContains(t, sub.Resources, "volume_1")
}

func TestBindVolumeStack(t *testing.T) {
	t.Parallel()

	resources := newVolumeGraph()
	p := newTestPlan(t)

	main := template.FromResources(p, resources, false)
	names := []string{"qos_0", "volume_0", "volume_1", "volume_type_0"}

	template.BindVolumeStack(main, names, map[string]string{
		"qos_0":         "new-qos",
		"volume_0":      "new-vol-0",
		"volume_1":      "new-vol-1",
		"volume_type_0": "new-vt",
	})

	for _, name := range names {
		assert.NotContains(t, main.Resources, name)
		require.Contains(t, main.Parameters, name)
	}

	assert.Equal(t, "new-vol-0", main.Parameters["volume_0"].Default)

	bdm, ok := main.Resources["server_0"].Properties["block_device_mapping_v2"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"get_param": "volume_0"}, bdm[0].(map[string]interface{})["volume_id"])
}
