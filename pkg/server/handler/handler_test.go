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

package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/driver/fake"
	"github.com/eschercloudai/caravel/pkg/manager"
	"github.com/eschercloudai/caravel/pkg/orchestrate"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/server/handler"
	"github.com/eschercloudai/caravel/pkg/storage"
	"github.com/eschercloudai/caravel/pkg/util/namedlock"
	"github.com/eschercloudai/caravel/pkg/vgw"
)

type fixture struct {
	cloud  *fake.Cloud
	store  storage.Store
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

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
	cloud.Servers["gwvm-1"] = &driver.Server{ID: "gwvm-1", Name: "gw-east", AvailabilityZone: "az-east", VMState: "active"}
	cloud.Servers["gwvm-2"] = &driver.Server{ID: "gwvm-2", Name: "gw-west", AvailabilityZone: "az-west", VMState: "active"}

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pool := vgw.NewPool(9998)
	pool.Add("az-east", vgw.Gateway{ID: "gwvm-1", Host: "192.168.1.1"})
	pool.Add("az-west", vgw.Gateway{ID: "gwvm-2", Host: "192.168.2.1"})

	locks := namedlock.New()

	orch, err := orchestrate.New(store, cloud.Driver(), cloud, pool, locks, &orchestrate.Options{PollInterval: time.Millisecond})
	require.NoError(t, err)

	router := chi.NewRouter()
	handler.New(manager.New(store, cloud.Driver(), time.Hour, locks), orch).Router(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &fixture{
		cloud:  cloud,
		store:  store,
		server: server,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader bytes.Buffer

	if body != nil {
		require.NoError(t, json.NewEncoder(&reader).Encode(body))
	}

	request, err := http.NewRequest(method, f.server.URL+path, &reader)
	require.NoError(t, err)

	response, err := f.server.Client().Do(request)
	require.NoError(t, err)

	defer response.Body.Close()

	out := map[string]interface{}{}

	if response.ContentLength != 0 {
		_ = json.NewDecoder(response.Body).Decode(&out)
	}

	return response, out
}

func (f *fixture) createPlan(t *testing.T, planType string) string {
	t.Helper()

	response, body := f.do(t, http.MethodPost, "/v1/plans", map[string]interface{}{
		"plan": map[string]interface{}{
			"plan_type": planType,
			"resources": []map[string]string{{"type": "OS::Nova::Server", "id": "vm-1"}},
		},
	})
	require.Equal(t, http.StatusCreated, response.StatusCode)

	p, ok := body["plan"].(map[string]interface{})
	require.True(t, ok)

	id, ok := p["plan_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	return id
}

func TestPlanLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.createPlan(t, "clone")

	// Listing does not leak resource maps.
	response, body := f.do(t, http.MethodGet, "/v1/plans", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	plans, ok := body["plans"].([]interface{})
	require.True(t, ok)
	require.Len(t, plans, 1)
	assert.NotContains(t, plans[0].(map[string]interface{}), "original_resources")

	// Detail does.
	response, body = f.do(t, http.MethodGet, "/v1/plans/"+id+"?detail=true", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	p, ok := body["plan"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, p, "original_resources")

	// Whitelisted field update.
	response, _ = f.do(t, http.MethodPut, "/v1/plans/"+id, map[string]interface{}{
		"plan": map[string]interface{}{"task_status": "inspected"},
	})
	require.Equal(t, http.StatusOK, response.StatusCode)

	response, _ = f.do(t, http.MethodDelete, "/v1/plans/"+id, nil)
	require.Equal(t, http.StatusNoContent, response.StatusCode)

	response, _ = f.do(t, http.MethodGet, "/v1/plans/"+id, nil)
	require.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestPlanNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	response, _ := f.do(t, http.MethodGet, "/v1/plans/missing", nil)
	require.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestPlanInvalidUpdateRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.createPlan(t, "clone")

	// cloning cannot be entered by a client update once rejected,
	// non whitelisted fields are a conflict.
	response, _ := f.do(t, http.MethodPut, "/v1/plans/"+id, map[string]interface{}{
		"plan": map[string]interface{}{"project_id": "evil"},
	})
	require.Equal(t, http.StatusConflict, response.StatusCode)
}

func TestPlanResetStateAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.createPlan(t, "clone")

	response, body := f.do(t, http.MethodPost, "/v1/plans/"+id+"/action", map[string]interface{}{
		"os-reset_state": map[string]interface{}{"plan_status": "error"},
	})
	require.Equal(t, http.StatusOK, response.StatusCode)

	p, ok := body["plan"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "error", p["plan_status"])
}

func TestPlanResourceEditAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.createPlan(t, "clone")

	response, _ := f.do(t, http.MethodPost, "/v1/plans/"+id+"/action", map[string]interface{}{
		"update_plan_resources": map[string]interface{}{
			"resources": []map[string]interface{}{
				{
					"action":      "edit",
					"resource_id": "server_0",
					"properties": map[string]interface{}{
						"metadata": map[string]string{"tier": "web"},
					},
				},
			},
		},
	})
	require.Equal(t, http.StatusOK, response.StatusCode)

	p, err := f.store.GetPlan(id)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"tier": "web"}, p.UpdatedResources["server_0"].Properties["metadata"])
}

func TestDownloadTemplateAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.createPlan(t, "clone")

	// Nothing exported yet.
	response, _ := f.do(t, http.MethodPost, "/v1/plans/"+id+"/action", map[string]interface{}{
		"download_template": map[string]interface{}{},
	})
	require.Equal(t, http.StatusInternalServerError, response.StatusCode)

	response, _ = f.do(t, http.MethodPost, "/v1/clones", map[string]interface{}{
		"export_clone_template": map[string]interface{}{"plan_id": id},
	})
	require.Equal(t, http.StatusAccepted, response.StatusCode)

	require.Eventually(t, func() bool {
		response, _ := f.do(t, http.MethodPost, "/v1/plans/"+id+"/action", map[string]interface{}{
			"download_template": map[string]interface{}{},
		})

		return response.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCloneAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.createPlan(t, "clone")

	copyData := false

	response, body := f.do(t, http.MethodPost, "/v1/clones", map[string]interface{}{
		"clone": map[string]interface{}{
			"plan_id":     id,
			"destination": "az-west",
			"copy_data":   copyData,
		},
	})
	require.Equal(t, http.StatusAccepted, response.StatusCode)
	assert.Equal(t, id, body["plan_id"])

	require.Eventually(t, func() bool {
		p, err := f.store.GetPlan(id)

		return err == nil && p.Status == plan.StatusFinished
	}, 10*time.Second, 10*time.Millisecond)
}

func TestCloneUnknownPlanRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	response, _ := f.do(t, http.MethodPost, "/v1/clones", map[string]interface{}{
		"clone": map[string]interface{}{"plan_id": "missing", "destination": "az-west"},
	})
	require.Equal(t, http.StatusNotFound, response.StatusCode)
}
