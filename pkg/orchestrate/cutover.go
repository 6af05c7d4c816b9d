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

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/undo"
	"github.com/eschercloudai/caravel/pkg/util/retry"
)

const (
	// defaultPortCreateAttempts bounds the re-creation retry while the
	// old binding ages out of the network backend.
	defaultPortCreateAttempts = 150

	// defaultPortCreatePeriod is the spacing of those attempts.
	defaultPortCreatePeriod = time.Second
)

// cutOver re-homes a source server's network identity onto its migrated
// replacement: floating IPs are unbound, each port is recreated with the
// same MAC and addresses, swapped onto the target, and the floating IPs
// follow.
func (o *Orchestrator) cutOver(ctx context.Context, p *plan.Plan, server *plan.Resource, targetID string, undoer *undo.Manager) error {
	ports, err := o.driver.Network.ListPorts(ctx, &driver.PortListOpts{DeviceID: server.ID})
	if err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
	}

	floating, err := o.floatingIPsByPort(ctx, p, server)
	if err != nil {
		return err
	}

	migratePortID, _ := server.Extra(plan.ExtraMigratePortID).(string)

	for _, port := range ports {
		if port.ID == migratePortID {
			continue
		}

		if err := o.cutOverPort(ctx, server, targetID, port, floating[port.ID], undoer); err != nil {
			return err
		}
	}

	return nil
}

// floatingIPsByPort reads the current bindings of the floating IPs the
// server's plan graph knows about.  Addresses that were never associated
// have nothing to move and are skipped.
func (o *Orchestrator) floatingIPsByPort(ctx context.Context, p *plan.Plan, server *plan.Resource) (map[string][]*driver.FloatingIP, error) {
	out := map[string][]*driver.FloatingIP{}

	ports, err := o.driver.Network.ListPorts(ctx, &driver.PortListOpts{DeviceID: server.ID})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
	}

	bound := map[string]bool{}
	for _, port := range ports {
		bound[port.ID] = true
	}

	for _, resource := range p.OriginalResources {
		if resource.Type != plan.KindFloatingIP || resource.ID == "" {
			continue
		}

		live, err := o.driver.Network.GetFloatingIP(ctx, resource.ID)
		if err != nil {
			if goerrors.Is(err, errors.ErrResourceNotFound) {
				continue
			}

			return nil, fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
		}

		if live.PortID == "" || !bound[live.PortID] {
			continue
		}

		out[live.PortID] = append(out[live.PortID], live)
	}

	return out, nil
}

// fipBinding snapshots a floating IP's association before it is undone.
type fipBinding struct {
	id    string
	fixed string
}

func (o *Orchestrator) cutOverPort(ctx context.Context, server *plan.Resource, targetID string, port *driver.Port, fips []*driver.FloatingIP, undoer *undo.Manager) error {
	logger := log.FromContext(ctx)

	// Disassociation clears the live binding, capture the fixed addresses
	// first so the re-associations have something to restore.
	bindings := make([]fipBinding, 0, len(fips))

	for _, fip := range fips {
		bindings = append(bindings, fipBinding{id: fip.ID, fixed: fip.FixedIPAddress})
	}

	for _, binding := range bindings {
		binding := binding
		portID := port.ID

		if err := o.driver.Network.DisassociateFloatingIP(ctx, binding.id); err != nil {
			return fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
		}

		undoer.Push("re-associate floating ip "+binding.id, func(ctx context.Context) error {
			return o.driver.Network.AssociateFloatingIP(ctx, binding.id, portID, binding.fixed)
		})
	}

	if err := o.driver.Compute.InterfaceDetach(ctx, server.ID, port.ID); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
	}

	if err := o.driver.Network.DeletePort(ctx, port.ID); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
	}

	recreate := &driver.PortCreateOpts{
		Name:           port.Name,
		NetworkID:      port.NetworkID,
		MACAddress:     port.MACAddress,
		FixedIPs:       port.FixedIPs,
		SecurityGroups: port.SecurityGroups,
	}

	sourceID := server.ID

	undoer.Push("restore port on server "+sourceID, func(ctx context.Context) error {
		restored, err := o.driver.Network.CreatePort(ctx, recreate)
		if err != nil {
			return err
		}

		_, err = o.driver.Compute.InterfaceAttach(ctx, sourceID, restored.ID, "")

		return err
	})

	// The deleted port's addresses linger in the backend for a while;
	// keep trying until they free up.
	var created *driver.Port

	err := retry.WithContext(ctx).WithAttempts(o.options.PortCreateAttempts).WithPeriod(o.options.PortCreatePeriod).Do(func() error {
		fresh, err := o.driver.Network.CreatePort(ctx, recreate)
		if err != nil {
			return err
		}

		created = fresh

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: recreate port: %s", errors.ErrPlanMigrateFailed, err)
	}

	logger.Info("port recreated", "port", created.ID, "mac", created.MACAddress)

	// Swap the stack provisioned port on the target for the identity
	// bearing one.
	stale, err := o.driver.Network.ListPorts(ctx, &driver.PortListOpts{DeviceID: targetID, NetworkID: port.NetworkID})
	if err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
	}

	for _, victim := range stale {
		if err := o.driver.Compute.InterfaceDetach(ctx, targetID, victim.ID); err != nil {
			return fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
		}
	}

	if _, err := o.driver.Compute.InterfaceAttach(ctx, targetID, created.ID, ""); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
	}

	for _, binding := range bindings {
		if err := o.driver.Network.AssociateFloatingIP(ctx, binding.id, created.ID, binding.fixed); err != nil {
			return fmt.Errorf("%w: %s", errors.ErrPlanMigrateFailed, err)
		}
	}

	return nil
}
