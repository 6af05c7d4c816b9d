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

package vgw_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/vgw"
)

func TestPoolRoundRobin(t *testing.T) {
	t.Parallel()

	pool := vgw.NewPool(9998)
	pool.Add("az1", vgw.Gateway{ID: "gw-1", Host: "10.0.0.1"})
	pool.Add("az1", vgw.Gateway{ID: "gw-2", Host: "10.0.0.2"})
	pool.Add("az2", vgw.Gateway{ID: "gw-3", Host: "10.0.1.1"})

	first, err := pool.Next("az1")
	require.NoError(t, err)
	assert.Equal(t, "gw-1", first.ID)

	second, err := pool.Next("az1")
	require.NoError(t, err)
	assert.Equal(t, "gw-2", second.ID)

	third, err := pool.Next("az1")
	require.NoError(t, err)
	assert.Equal(t, "gw-1", third.ID)

	other, err := pool.Next("az2")
	require.NoError(t, err)
	assert.Equal(t, "gw-3", other.ID)
	assert.Equal(t, "http://10.0.1.1:9998", other.URL(pool.Port()))
}

func TestPoolUnknownZone(t *testing.T) {
	t.Parallel()

	pool := vgw.NewPool(9998)

	_, err := pool.Next("nowhere")
	require.ErrorIs(t, err, errors.ErrAvailabilityZoneNotFound)
}

func TestParseSpec(t *testing.T) {
	t.Parallel()

	zone, gateway, err := vgw.ParseSpec("az1=gw-1:192.168.1.5")
	require.NoError(t, err)
	assert.Equal(t, "az1", zone)
	assert.Equal(t, vgw.Gateway{ID: "gw-1", Host: "192.168.1.5"}, gateway)

	_, _, err = vgw.ParseSpec("az1")
	require.Error(t, err)

	_, _, err = vgw.ParseSpec("az1=gw-1")
	require.Error(t, err)
}
