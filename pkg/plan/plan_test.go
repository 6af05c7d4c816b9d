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

package plan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
)

func newTestGraph() plan.ResourceMap {
	server := plan.NewResource("server_0", plan.KindServer, "vm-1")
	server.Properties = map[string]interface{}{
		"name": "web",
		"networks": []interface{}{
			map[string]interface{}{
				"port": map[string]interface{}{"get_resource": "port_0"},
			},
		},
		"block_device_mapping_v2": []interface{}{
			map[string]interface{}{
				"volume_id": map[string]interface{}{"get_resource": "volume_0"},
			},
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
	}

	network := plan.NewResource("net_0", plan.KindNetwork, "net-1")
	network.Properties = map[string]interface{}{
		"name": "private",
	}

	volume := plan.NewResource("volume_0", plan.KindVolume, "vol-1")
	volume.Properties = map[string]interface{}{
		"size": float64(10),
	}

	return plan.ResourceMap{
		"server_0": server,
		"port_0":   port,
		"subnet_0": subnet,
		"net_0":    network,
		"volume_0": volume,
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, plan.StatusCreating.CanTransition(plan.StatusInitiating))
	assert.True(t, plan.StatusInitiating.CanTransition(plan.StatusCreated))
	assert.True(t, plan.StatusCreated.CanTransition(plan.StatusAvailable))
	assert.True(t, plan.StatusAvailable.CanTransition(plan.StatusCloning))
	assert.True(t, plan.StatusAvailable.CanTransition(plan.StatusMigrating))
	assert.True(t, plan.StatusCloning.CanTransition(plan.StatusDataTransFinished))
	assert.True(t, plan.StatusDataTransFinished.CanTransition(plan.StatusFinished))
	assert.True(t, plan.StatusAvailable.CanTransition(plan.StatusDeleting))
	assert.True(t, plan.StatusError.CanTransition(plan.StatusDeleting))

	// Error is reachable from everywhere.
	assert.True(t, plan.StatusCloning.CanTransition(plan.StatusError))
	assert.True(t, plan.StatusCreating.CanTransition(plan.StatusError))

	assert.False(t, plan.StatusCreating.CanTransition(plan.StatusAvailable))
	assert.False(t, plan.StatusFinished.CanTransition(plan.StatusCloning))
	assert.False(t, plan.StatusCloning.CanTransition(plan.StatusDeleting))
}

func TestStatusMutable(t *testing.T) {
	t.Parallel()

	assert.True(t, plan.StatusAvailable.Mutable())
	assert.True(t, plan.StatusError.Mutable())
	assert.False(t, plan.StatusCloning.Mutable())
	assert.False(t, plan.StatusFinished.Mutable())
}

func TestNewPlan(t *testing.T) {
	t.Parallel()

	p, err := plan.New(plan.TypeClone, "project", "user", time.Hour)
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, plan.StatusCreating, p.Status)
	assert.True(t, p.CopyData)
	assert.False(t, p.Expired())

	_, err = plan.New(plan.Type("teleport"), "project", "user", time.Hour)
	require.ErrorIs(t, err, errors.ErrPlanTypeNotSupported)
}

func TestPlanUpdateWhitelist(t *testing.T) {
	t.Parallel()

	p, err := plan.New(plan.TypeClone, "project", "user", time.Hour)
	require.NoError(t, err)

	require.NoError(t, p.Update(map[string]interface{}{
		"plan_status": "available",
		"task_status": "ready",
		"stack_id":    "stack-1",
		"sys_clone":   true,
	}))

	assert.Equal(t, plan.StatusAvailable, p.Status)
	assert.Equal(t, "ready", p.TaskStatus)
	assert.Equal(t, "stack-1", p.StackID)
	assert.True(t, p.SysClone)
	assert.NotNil(t, p.UpdatedAt)

	err = p.Update(map[string]interface{}{"project_id": "other"})
	require.ErrorIs(t, err, errors.ErrPlanUpdateError)

	err = p.Update(map[string]interface{}{"plan_status": "levitating"})
	require.ErrorIs(t, err, errors.ErrPlanUpdateError)
}

func TestPlanUpdateRejectsWrongTypes(t *testing.T) {
	t.Parallel()

	p, err := plan.New(plan.TypeClone, "project", "user", time.Hour)
	require.NoError(t, err)

	// A whitelisted key with a wrongly typed value is an error, not a
	// silently dropped write.
	err = p.Update(map[string]interface{}{"stack_id": 42})
	require.ErrorIs(t, err, errors.ErrPlanUpdateError)
	assert.Empty(t, p.StackID)

	err = p.Update(map[string]interface{}{"sys_clone": "yes"})
	require.ErrorIs(t, err, errors.ErrPlanUpdateError)
	assert.False(t, p.SysClone)

	err = p.Update(map[string]interface{}{"updated_resources": map[string]interface{}{}})
	require.ErrorIs(t, err, errors.ErrPlanUpdateError)
	assert.Nil(t, p.UpdatedAt)
}

func TestPlanUpdateRejectsAtomically(t *testing.T) {
	t.Parallel()

	p, err := plan.New(plan.TypeClone, "project", "user", time.Hour)
	require.NoError(t, err)

	err = p.Update(map[string]interface{}{
		"task_status": "half-applied",
		"plan_status": "levitating",
	})
	require.ErrorIs(t, err, errors.ErrPlanUpdateError)
	assert.Empty(t, p.TaskStatus)
}

func TestBuildDependencies(t *testing.T) {
	t.Parallel()

	deps := plan.BuildDependencies(newTestGraph())
	require.Len(t, deps, 5)

	assert.Equal(t, []string{"port_0", "volume_0"}, deps["server_0"].Dependencies)
	assert.Equal(t, []string{"net_0", "subnet_0"}, deps["port_0"].Dependencies)
	assert.Equal(t, []string{"net_0"}, deps["subnet_0"].Dependencies)
	assert.Empty(t, deps["net_0"].Dependencies)
	assert.Equal(t, "web", deps["server_0"].Name)
	assert.Equal(t, plan.KindServer, deps["server_0"].Type)
}

func TestRebuildDependenciesIdempotence(t *testing.T) {
	t.Parallel()

	p, err := plan.New(plan.TypeClone, "project", "user", time.Hour)
	require.NoError(t, err)

	p.UpdatedResources = newTestGraph()
	p.RebuildDependencies()
	require.Len(t, p.UpdatedDependencies, 5)

	// Same name set: the stored map is trusted, even when stale.
	p.UpdatedDependencies["server_0"].Dependencies = []string{"sentinel"}
	p.RebuildDependencies()
	assert.Equal(t, []string{"sentinel"}, p.UpdatedDependencies["server_0"].Dependencies)

	// Changed name set: recomputed from scratch.
	delete(p.UpdatedResources, "volume_0")
	p.RebuildDependencies()
	require.Len(t, p.UpdatedDependencies, 4)
	assert.Equal(t, []string{"port_0"}, p.UpdatedDependencies["server_0"].Dependencies)
}

func TestCheckReferences(t *testing.T) {
	t.Parallel()

	resources := newTestGraph()
	require.NoError(t, plan.CheckReferences(resources))

	delete(resources, "net_0")
	err := plan.CheckReferences(resources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "net_0")
}

func TestCheckAcyclic(t *testing.T) {
	t.Parallel()

	resources := newTestGraph()
	require.NoError(t, plan.CheckAcyclic(resources))

	resources["net_0"].Properties["loop"] = map[string]interface{}{"get_resource": "server_0"}
	err := plan.CheckAcyclic(resources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestReferencedBy(t *testing.T) {
	t.Parallel()

	resources := newTestGraph()

	assert.Equal(t, []string{"port_0", "subnet_0"}, plan.ReferencedBy(resources, "net_0"))
	assert.Empty(t, plan.ReferencedBy(resources, "server_0"))
}

func TestReferenceWalkers(t *testing.T) {
	t.Parallel()

	props := map[string]interface{}{
		"image": map[string]interface{}{"get_param": "image_0"},
		"nested": []interface{}{
			map[string]interface{}{"get_attr": []interface{}{"volume_0", "show"}},
			map[string]interface{}{"get_resource": "port_0"},
		},
		"plain": "literal",
	}

	assert.ElementsMatch(t, []string{"volume_0", "port_0"}, plan.DependencyRefs(props))
	assert.Equal(t, []string{"image_0"}, plan.ParameterRefs(props))

	// A mapping with extra keys is not a reference.
	assert.Nil(t, plan.AsReference(map[string]interface{}{"get_resource": "x", "other": 1}))
}

func TestRewriteResourceToParam(t *testing.T) {
	t.Parallel()

	props := map[string]interface{}{
		"network_id": map[string]interface{}{"get_resource": "net_0"},
		"other":      map[string]interface{}{"get_resource": "subnet_0"},
	}

	plan.RewriteResourceToParam(props, "net_0")

	assert.Equal(t, map[string]interface{}{"get_param": "net_0"}, props["network_id"])
	assert.Equal(t, map[string]interface{}{"get_resource": "subnet_0"}, props["other"])
}

func TestResourceExtraBool(t *testing.T) {
	t.Parallel()

	r := plan.NewResource("volume_0", plan.KindVolume, "vol-1")

	assert.False(t, r.ExtraBool(plan.ExtraExist))

	r.SetExtra(plan.ExtraExist, true)
	assert.True(t, r.ExtraBool(plan.ExtraExist))

	// Store round-trips booleans through JSON strings in places.
	r.SetExtra(plan.ExtraSysClone, "true")
	assert.True(t, r.ExtraBool(plan.ExtraSysClone))
}

func TestDeepCopyIsolation(t *testing.T) {
	t.Parallel()

	p, err := plan.New(plan.TypeMigrate, "project", "user", time.Hour)
	require.NoError(t, err)

	p.UpdatedResources = newTestGraph()
	p.RebuildDependencies()

	clone := p.DeepCopy()
	clone.UpdatedResources["server_0"].Properties["name"] = "changed"
	clone.UpdatedDependencies["server_0"].Dependencies[0] = "changed"

	assert.Equal(t, "web", p.UpdatedResources["server_0"].Properties["name"])
	assert.Equal(t, "port_0", p.UpdatedDependencies["server_0"].Dependencies[0])
}
