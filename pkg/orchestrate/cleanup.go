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

package orchestrate

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/util/retry"
)

// cleanup retires the source side after a successful deploy: data copy
// ports are detached, then each source server is deleted, awaited, and its
// volumes removed.
func (o *Orchestrator) cleanup(ctx context.Context, p *plan.Plan) error {
	logger := log.FromContext(ctx)

	for _, server := range serversOf(p) {
		if portID, ok := server.Extra(plan.ExtraMigratePortID).(string); ok && portID != "" {
			if err := o.driver.Compute.InterfaceDetach(ctx, server.ID, portID); err != nil {
				logger.V(1).Info("data copy port detach failed", "port", portID, "error", err.Error())
			}
		}

		live, err := o.driver.Compute.GetServer(ctx, server.ID)
		if err != nil {
			if goerrors.Is(err, errors.ErrResourceNotFound) {
				continue
			}

			return fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
		}

		volumes := make([]string, 0, len(live.Volumes))
		for _, attachment := range live.Volumes {
			volumes = append(volumes, attachment.ID)
		}

		if err := o.driver.Compute.DeleteServer(ctx, server.ID); err != nil {
			return fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
		}

		if err := o.awaitServerGone(ctx, p, server.ID); err != nil {
			return err
		}

		for _, volumeID := range volumes {
			if err := o.driver.BlockStorage.DeleteVolume(ctx, volumeID); err != nil && !goerrors.Is(err, errors.ErrResourceNotFound) {
				logger.V(1).Info("source volume deletion failed", "volume", volumeID, "error", err.Error())
			}
		}

		logger.Info("source server retired", "plan", p.ID, "server", server.ID)
	}

	return nil
}

// awaitServerGone polls until the server no longer resolves.  The wait is
// unbounded but yields when the plan is forced to error from outside.
func (o *Orchestrator) awaitServerGone(ctx context.Context, p *plan.Plan, id string) error {
	ticker := time.NewTicker(o.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return retry.ErrAborted
		case <-ticker.C:
		}

		if _, err := o.driver.Compute.GetServer(ctx, id); err != nil {
			if goerrors.Is(err, errors.ErrResourceNotFound) {
				return nil
			}

			return fmt.Errorf("%w: %s", errors.ErrPlanDeployError, err)
		}

		if stored, err := o.store.GetPlan(p.ID); err == nil && stored.Status == plan.StatusError {
			return retry.ErrAborted
		}
	}
}
