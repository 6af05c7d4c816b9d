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

package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/storage"
	"github.com/eschercloudai/caravel/pkg/template"
)

func newStore(t *testing.T) *storage.BoltStore {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestPlanRoundTrip(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	p, err := plan.New(plan.TypeClone, "project", "user", time.Hour)
	require.NoError(t, err)

	server := plan.NewResource("server_0", plan.KindServer, "vm-1")
	server.SetExtra(plan.ExtraSysClone, true)
	p.UpdatedResources["server_0"] = server
	p.RebuildDependencies()

	require.NoError(t, store.CreatePlan(p))

	got, err := store.GetPlan(p.ID)
	require.NoError(t, err)

	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, plan.StatusCreating, got.Status)
	require.Contains(t, got.UpdatedResources, "server_0")
	assert.True(t, got.UpdatedResources["server_0"].ExtraBool(plan.ExtraSysClone))
	require.Contains(t, got.UpdatedDependencies, "server_0")

	got.Status = plan.StatusAvailable
	require.NoError(t, store.UpdatePlan(got))

	again, err := store.GetPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusAvailable, again.Status)

	plans, err := store.ListPlans()
	require.NoError(t, err)
	assert.Len(t, plans, 1)

	require.NoError(t, store.DeletePlan(p.ID))

	_, err = store.GetPlan(p.ID)
	require.ErrorIs(t, err, errors.ErrPlanNotFound)
}

func TestGetPlanNotFound(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	_, err := store.GetPlan("missing")
	require.ErrorIs(t, err, errors.ErrPlanNotFound)
}

func TestTemplateRows(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	p, err := plan.New(plan.TypeMigrate, "project", "user", time.Hour)
	require.NoError(t, err)

	doc := template.New(p)
	doc.Resources["net_0"] = &template.Resource{Type: plan.KindNetwork}

	require.NoError(t, store.PutTemplate(p.ID, doc))

	got, err := store.GetTemplate(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.PlanID)
	assert.Contains(t, got.Resources, "net_0")

	require.NoError(t, store.DeleteTemplate(p.ID))

	_, err = store.GetTemplate(p.ID)
	require.ErrorIs(t, err, errors.ErrPlanNotFound)

	// Deleting an absent row succeeds, force deletion relies on it.
	require.NoError(t, store.DeleteTemplate(p.ID))
}

func TestStackLinkage(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	require.NoError(t, store.PutStack("plan-1", "stack-1"))

	stackID, err := store.GetStack("plan-1")
	require.NoError(t, err)
	assert.Equal(t, "stack-1", stackID)

	require.NoError(t, store.DeleteStack("plan-1"))

	_, err = store.GetStack("plan-1")
	require.ErrorIs(t, err, errors.ErrPlanNotFound)
}

func TestClonedResourcesAndAZMap(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	cloned := &storage.ClonedResources{
		Destination: "az-west",
		Relation:    map[string]string{"vm-1": "vm-2"},
		Dependencies: plan.DependencyMap{
			"server_0": {ID: "vm-2", NameInTemplate: "server_0", Type: plan.KindServer, Dependencies: []string{}},
		},
	}

	require.NoError(t, store.PutClonedResources("plan-1", cloned))

	gotCloned, err := store.GetClonedResources("plan-1")
	require.NoError(t, err)
	assert.Equal(t, cloned, gotCloned)

	require.NoError(t, store.PutAvailabilityZoneMap("plan-1", map[string]string{"az-east": "az-west"}))

	azMap, err := store.GetAvailabilityZoneMap("plan-1")
	require.NoError(t, err)
	assert.Equal(t, "az-west", azMap["az-east"])

	require.NoError(t, store.DeleteClonedResources("plan-1"))
	require.NoError(t, store.DeleteAvailabilityZoneMap("plan-1"))
}
