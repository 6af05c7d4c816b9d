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

package undo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/undo"
)

func TestRollbackIsLIFO(t *testing.T) {
	t.Parallel()

	m := undo.New()

	var order []string

	for _, name := range []string{"first", "second", "third"} {
		name := name

		m.Push(name, func(_ context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, m.Rollback(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Zero(t, m.Len())
}

func TestRollbackContinuesPastFailures(t *testing.T) {
	t.Parallel()

	m := undo.New()

	var order []string

	m.Push("first", func(_ context.Context) error {
		order = append(order, "first")
		return nil
	})

	m.Push("second", func(_ context.Context) error {
		return errors.New("second failed")
	})

	m.Push("third", func(_ context.Context) error {
		order = append(order, "third")
		return nil
	})

	err := m.Rollback(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second failed")

	// Both surviving compensations ran despite the failure between them.
	assert.Equal(t, []string{"third", "first"}, order)
}

func TestClear(t *testing.T) {
	t.Parallel()

	m := undo.New()

	ran := false

	m.Push("noop", func(_ context.Context) error {
		ran = true
		return nil
	})

	m.Clear()

	require.NoError(t, m.Rollback(context.Background()))
	assert.False(t, ran)
}
