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

package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/caravel/pkg/util/retry"
)

func TestRetrySucceeds(t *testing.T) {
	t.Parallel()

	calls := 0

	err := retry.Forever().WithPeriod(time.Millisecond).Do(func() error {
		calls++

		if calls < 3 {
			return errors.New("not yet")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryAttemptsExceeded(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("still broken")

	calls := 0

	err := retry.Forever().WithPeriod(time.Millisecond).WithAttempts(5).Do(func() error {
		calls++
		return sentinel
	})

	require.ErrorIs(t, err, retry.ErrAttemptsExceeded)
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 5, calls)
}

func TestRetryAborted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)

	go func() {
		done <- retry.WithContext(ctx).WithPeriod(time.Millisecond).Do(func() error {
			return errors.New("not yet")
		})
	}()

	cancel()

	require.ErrorIs(t, <-done, retry.ErrAborted)
}

func TestRetryTimeout(t *testing.T) {
	t.Parallel()

	err := retry.WithTimeout(10 * time.Millisecond).WithPeriod(time.Millisecond).Do(func() error {
		return errors.New("not yet")
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, retry.ErrAborted)
}
