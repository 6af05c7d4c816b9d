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

package manager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/driver/fake"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/manager"
	"github.com/eschercloudai/caravel/pkg/mutation"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/storage"
	"github.com/eschercloudai/caravel/pkg/template"
	"github.com/eschercloudai/caravel/pkg/util/namedlock"
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
		ID:        "port-1",
		NetworkID: "net-1",
		DeviceID:  "vm-1",
		FixedIPs:  []driver.FixedIP{{SubnetID: "subnet-1", IPAddress: "10.0.0.5"}},
	}
	cloud.Flavors["flavor-1"] = &driver.Flavor{ID: "flavor-1", Name: "m1.small", VCPUs: 2, RAM: 2048, Disk: 20}
	cloud.Servers["vm-1"] = &driver.Server{
		ID:               "vm-1",
		Name:             "web",
		Status:           "SHUTOFF",
		VMState:          "stopped",
		AvailabilityZone: "az-east",
		FlavorID:         "flavor-1",
	}

	return cloud
}

func newManager(t *testing.T) (*manager.Manager, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return manager.New(store, newCloud().Driver(), time.Hour, namedlock.New()), store
}

func TestCreate(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)

	p, err := m.Create(context.Background(), &manager.CreateOpts{
		Type:      plan.TypeClone,
		Name:      "web-clone",
		ProjectID: "project-1",
		UserID:    "user-1",
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, plan.StatusAvailable, p.Status)
	assert.Equal(t, "web-clone", p.Name)
	assert.Contains(t, p.OriginalResources, "server_0")
	assert.Contains(t, p.UpdatedResources, "port_0")
	assert.Equal(t, len(p.UpdatedResources), len(p.UpdatedDependencies))

	stored, err := store.GetPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusAvailable, stored.Status)
}

func TestCreateUnknownResource(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)

	_, err := m.Create(context.Background(), &manager.CreateOpts{
		Type:      plan.TypeClone,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "missing"}},
	})
	require.ErrorIs(t, err, errors.ErrPlanCreateFailed)
}

func TestCreateFromTemplate(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	ctx := context.Background()

	seed, err := m.Create(ctx, &manager.CreateOpts{
		Type:      plan.TypeClone,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	exported := template.FromResources(seed, seed.UpdatedResources, true)

	imported, err := m.CreateFromTemplate(ctx, &manager.CreateOpts{ProjectID: "project-2"}, exported)
	require.NoError(t, err)

	assert.Equal(t, plan.TypeClone, imported.Type)
	assert.Equal(t, plan.StatusAvailable, imported.Status)
	assert.Equal(t, len(seed.UpdatedResources), len(imported.OriginalResources))

	_, err = store.GetTemplate(imported.ID)
	require.NoError(t, err)
}

func TestGetStripsDetail(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, &manager.CreateOpts{
		Type:      plan.TypeClone,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	summary, err := m.Get(ctx, p.ID, false)
	require.NoError(t, err)
	assert.Nil(t, summary.UpdatedResources)

	detail, err := m.Get(ctx, p.ID, true)
	require.NoError(t, err)
	assert.NotEmpty(t, detail.UpdatedResources)

	plans, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Nil(t, plans[0].OriginalResources)
}

func TestUpdateEnforcesTransitions(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, &manager.CreateOpts{
		Type:      plan.TypeClone,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	// available -> cloning follows an automaton edge.
	updated, err := m.Update(ctx, p.ID, map[string]interface{}{"plan_status": "cloning", "task_status": "deploying"})
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCloning, updated.Status)
	assert.Equal(t, "deploying", updated.TaskStatus)

	// cloning -> available does not.
	_, err = m.Update(ctx, p.ID, map[string]interface{}{"plan_status": "available"})
	require.ErrorIs(t, err, errors.ErrPlanUpdateError)

	// Unknown fields are rejected.
	_, err = m.Update(ctx, p.ID, map[string]interface{}{"plan_name": "nope"})
	require.ErrorIs(t, err, errors.ErrPlanUpdateError)
}

func TestUpdateResources(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, &manager.CreateOpts{
		Type:      plan.TypeClone,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	edits := []mutation.Edit{
		{Action: mutation.ActionEdit, Name: "server_0", Type: plan.KindServer, Properties: map[string]interface{}{"metadata": map[string]interface{}{"tier": "web"}}},
	}

	updated, err := m.UpdateResources(ctx, p.ID, edits)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"tier": "web"}, updated.UpdatedResources["server_0"].Properties["metadata"])

	stored, err := store.GetPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"tier": "web"}, stored.UpdatedResources["server_0"].Properties["metadata"])
}

func TestUpdateResourcesConcurrentEdits(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, &manager.CreateOpts{
		Type:      plan.TypeClone,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	// Two clients editing different properties of the same resource, each
	// read-modify-write runs under the plan's lock so neither edit is lost.
	batches := [][]mutation.Edit{
		{{Action: mutation.ActionEdit, Name: "server_0", Type: plan.KindServer, Properties: map[string]interface{}{"metadata": map[string]interface{}{"tier": "web"}}}},
		{{Action: mutation.ActionEdit, Name: "server_0", Type: plan.KindServer, Properties: map[string]interface{}{"user_data": "#cloud-config"}}},
	}

	var wg sync.WaitGroup

	for i := range batches {
		wg.Add(1)

		go func(edits []mutation.Edit) {
			defer wg.Done()

			_, err := m.UpdateResources(ctx, p.ID, edits)
			assert.NoError(t, err)
		}(batches[i])
	}

	wg.Wait()

	stored, err := store.GetPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"tier": "web"}, stored.UpdatedResources["server_0"].Properties["metadata"])
	assert.Equal(t, "#cloud-config", stored.UpdatedResources["server_0"].Properties["user_data"])
}

func TestUpdateResourcesMigrateRejected(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, &manager.CreateOpts{
		Type:      plan.TypeMigrate,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	_, err = m.UpdateResources(ctx, p.ID, nil)
	require.ErrorIs(t, err, errors.ErrPlanResourcesUpdateError)
}

func TestResetState(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, &manager.CreateOpts{
		Type:      plan.TypeClone,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	_, err = m.Update(ctx, p.ID, map[string]interface{}{"plan_status": "error"})
	require.NoError(t, err)

	// Reset bypasses the automaton.
	reset, err := m.ResetState(ctx, p.ID, plan.StatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusAvailable, reset.Status)

	_, err = m.ResetState(ctx, p.ID, plan.Status("bogus"))
	require.ErrorIs(t, err, errors.ErrPlanUpdateError)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, &manager.CreateOpts{
		Type:      plan.TypeClone,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	require.NoError(t, store.PutStack(p.ID, "stack-1"))

	require.NoError(t, m.Delete(ctx, p.ID))

	_, err = store.GetPlan(p.ID)
	require.ErrorIs(t, err, errors.ErrPlanNotFound)

	_, err = store.GetStack(p.ID)
	require.Error(t, err)
}

func TestDeleteBusyPlan(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, &manager.CreateOpts{
		Type:      plan.TypeClone,
		Resources: []manager.ResourceRef{{Type: plan.KindServer, ID: "vm-1"}},
	})
	require.NoError(t, err)

	_, err = m.Update(ctx, p.ID, map[string]interface{}{"plan_status": "cloning"})
	require.NoError(t, err)

	require.ErrorIs(t, m.Delete(ctx, p.ID), errors.ErrPlanUpdateError)

	// Force delete sweeps regardless.
	require.NoError(t, m.ForceDelete(ctx, p.ID))

	_, err = m.Get(ctx, p.ID, false)
	require.ErrorIs(t, err, errors.ErrPlanNotFound)
}
