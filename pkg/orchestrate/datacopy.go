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
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/template"
	"github.com/eschercloudai/caravel/pkg/undo"
	"github.com/eschercloudai/caravel/pkg/util/retry"
)

// attachTimeout bounds how long a volume may take to reach in-use after
// attachment.
const attachTimeout = 5 * time.Minute

// gatewayEndpoint is where the agent serving a source server's disks can
// be reached.
type gatewayEndpoint struct {
	// url is the agent endpoint.
	url string

	// serverID hosts the disks the agent sees.
	serverID string

	// attach is set when source volumes must be attached to the gateway
	// before they are visible, i.e. the source server is stopped.
	attach bool
}

// copyItem is one volume transfer.
type copyItem struct {
	name       string
	sourceID   string
	destID     string
	systemDisk bool
}

// copyData transfers disk bytes for every freshly built volume, one worker
// per source server.
func (o *Orchestrator) copyData(ctx context.Context, p *plan.Plan, destinationAZ string, volumeIDs map[string]string, undoer *undo.Manager) error {
	group, gctx := errgroup.WithContext(ctx)

	for _, server := range serversOf(p) {
		server := server

		group.Go(func() error {
			return o.copyServerVolumes(gctx, p, server, destinationAZ, volumeIDs, undoer)
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	return nil
}

func (o *Orchestrator) copyServerVolumes(ctx context.Context, p *plan.Plan, server *plan.Resource, destinationAZ string, volumeIDs map[string]string, undoer *undo.Manager) error {
	items := collectCopyItems(p, server, volumeIDs)
	if len(items) == 0 {
		return nil
	}

	source, err := o.sourceGateway(ctx, server, undoer)
	if err != nil {
		return err
	}

	destination, err := o.gateways.Next(destinationAZ)
	if err != nil {
		return err
	}

	destinationURL := destination.URL(o.gateways.Port())

	for _, item := range items {
		if err := o.copyVolume(ctx, p, server, source, destination.ID, destinationURL, item, undoer); err != nil {
			return err
		}

		volumeCopiesMetric.Inc()
	}

	return nil
}

// collectCopyItems pairs the server's volumes with the fresh ids the
// volume sub-stack produced.
func collectCopyItems(p *plan.Plan, server *plan.Resource, volumeIDs map[string]string) []copyItem {
	var items []copyItem

	for _, target := range plan.DependencyRefs(server.Properties) {
		volume, ok := p.UpdatedResources[target]
		if !ok || volume.Type != plan.KindVolume || volume.ID == "" {
			continue
		}

		destID, ok := volumeIDs[target]
		if !ok {
			continue
		}

		items = append(items, copyItem{
			name:       target,
			sourceID:   volume.ID,
			destID:     destID,
			systemDisk: template.IsSystemDisk(volume),
		})
	}

	return items
}

// sourceGateway resolves the agent endpoint for a source server, by one of
// three strategies: a pool gateway for stopped servers, a port on the
// configured data copy network for running ones, or the binding profile of
// an already attached port.
func (o *Orchestrator) sourceGateway(ctx context.Context, server *plan.Resource, undoer *undo.Manager) (*gatewayEndpoint, error) {
	live, err := o.driver.Compute.GetServer(ctx, server.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	if live.VMState == "stopped" || live.VMState == "cloning" && server.Extra(plan.ExtraVMState) == "stopped" {
		gateway, err := o.gateways.Next(live.AvailabilityZone)
		if err != nil {
			return nil, err
		}

		url := gateway.URL(o.gateways.Port())

		server.SetExtra(plan.ExtraGatewayURL, url)
		server.SetExtra(plan.ExtraGatewayID, gateway.ID)

		return &gatewayEndpoint{url: url, serverID: gateway.ID, attach: true}, nil
	}

	if networkID, ok := o.options.MigrateNetMap[live.AvailabilityZone]; ok {
		return o.attachCopyPort(ctx, server, networkID, undoer)
	}

	// Last resort, the hypervisor address recorded on an attached port.
	ports, err := o.driver.Network.ListPorts(ctx, &driver.PortListOpts{DeviceID: server.ID})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	for _, port := range ports {
		if hostIP, ok := port.BindingProfile["host_ip"].(string); ok && hostIP != "" {
			url := fmt.Sprintf("http://%s:%d", hostIP, o.gateways.Port())

			server.SetExtra(plan.ExtraGatewayURL, url)

			return &gatewayEndpoint{url: url, serverID: server.ID}, nil
		}
	}

	return nil, fmt.Errorf("%w: server %s is running and no data copy network is configured", errors.ErrNoMigrateNetProvided, server.ID)
}

// attachCopyPort puts a port on the data copy network onto the server and
// waits for the agent behind it to answer.
func (o *Orchestrator) attachCopyPort(ctx context.Context, server *plan.Resource, networkID string, undoer *undo.Manager) (*gatewayEndpoint, error) {
	port, err := o.driver.Compute.InterfaceAttach(ctx, server.ID, "", networkID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	serverID := server.ID
	portID := port.ID

	undoer.Push("detach data copy port "+portID, func(ctx context.Context) error {
		return o.driver.Compute.InterfaceDetach(ctx, serverID, portID)
	})

	server.SetExtra(plan.ExtraMigratePortID, portID)

	if len(port.FixedIPs) == 0 {
		return nil, fmt.Errorf("%w: data copy port %s has no address", errors.ErrPlanCloneFailed, portID)
	}

	url := fmt.Sprintf("http://%s:%d", port.FixedIPs[0].IPAddress, o.gateways.Port())

	err = retry.WithContext(ctx).WithTimeout(attachTimeout).WithPeriod(o.options.PollInterval).Do(func() error {
		_, err := o.agent.GetDiskName(ctx, url)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: agent at %s unreachable: %s", errors.ErrPlanCloneFailed, url, err)
	}

	server.SetExtra(plan.ExtraGatewayURL, url)

	return &gatewayEndpoint{url: url, serverID: server.ID}, nil
}

func (o *Orchestrator) copyVolume(ctx context.Context, p *plan.Plan, server *plan.Resource, source *gatewayEndpoint, destinationID, destinationURL string, item copyItem, undoer *undo.Manager) error {
	srcDev, format, mountPoint, err := o.sourceDevice(ctx, p, server, source, item, undoer)
	if err != nil {
		return err
	}

	destDev, err := o.attachToGateway(ctx, destinationID, destinationURL, item.destID, undoer)
	if err != nil {
		return err
	}

	taskID, err := o.agent.CloneVolume(ctx, destinationURL, &driver.CloneVolumeOpts{
		SrcDev:        srcDev,
		DestDev:       destDev,
		SrcGatewayURL: source.url,
		Format:        format,
		MountPoint:    mountPoint,
	})
	if err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	log.FromContext(ctx).Info("volume transfer started", "plan", p.ID, "volume", item.name, "task", taskID)

	var terminal error

	err = retry.WithContext(ctx).WithPeriod(o.options.PollInterval).Do(func() error {
		status, err := o.agent.GetDataTransStatus(ctx, destinationURL, taskID)
		if err != nil {
			return err
		}

		switch status {
		case driver.DataTransFinished:
			return nil
		case driver.DataTransFailed:
			terminal = fmt.Errorf("%w: transfer task %s failed", errors.ErrPlanCloneFailed, taskID)

			return nil
		default:
			return fmt.Errorf("transfer task %s is %s", taskID, status)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	return terminal
}

// sourceDevice resolves the device, filesystem format and mount point the
// transfer reads from.  Stopped servers have the volume attached to the
// source gateway first; running ones expose it on the server itself.
func (o *Orchestrator) sourceDevice(ctx context.Context, p *plan.Plan, server *plan.Resource, source *gatewayEndpoint, item copyItem, undoer *undo.Manager) (string, string, string, error) {
	if source.attach {
		if item.systemDisk && p.SysClone {
			if err := o.setShareable(ctx, p, item, undoer); err != nil {
				return "", "", "", err
			}
		}

		device, err := o.attachToGateway(ctx, source.serverID, source.url, item.sourceID, undoer)
		if err != nil {
			return "", "", "", err
		}

		format, err := o.agent.GetDiskFormat(ctx, source.url, device)
		if err != nil {
			return "", "", "", fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
		}

		mountPoint, err := o.agent.GetDiskMountPoint(ctx, source.url, device)
		if err != nil {
			return "", "", "", fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
		}

		if mountPoint == "" {
			mountPoint = "/opt/" + item.sourceID

			if err := o.agent.ForceMountDisk(ctx, source.url, device, mountPoint); err != nil {
				return "", "", "", fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
			}
		}

		volume := p.UpdatedResources[item.name]
		volume.SetExtra(plan.ExtraGuestFormat, format)
		volume.SetExtra(plan.ExtraMountPoint, mountPoint)

		return device, format, mountPoint, nil
	}

	// Running server, the volume is already attached to it.
	live, err := o.driver.Compute.GetServer(ctx, server.ID)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	for _, attachment := range live.Volumes {
		if attachment.ID != item.sourceID {
			continue
		}

		format, _ := p.UpdatedResources[item.name].Extra(plan.ExtraGuestFormat).(string)
		mountPoint, _ := p.UpdatedResources[item.name].Extra(plan.ExtraMountPoint).(string)

		return attachment.Device, format, mountPoint, nil
	}

	return "", "", "", fmt.Errorf("%w: volume %s is not attached to server %s", errors.ErrPlanCloneFailed, item.sourceID, server.ID)
}

// setShareable marks a system disk multi-attach so the gateway can mount
// it alongside the stopped owner, recording that we did.
func (o *Orchestrator) setShareable(ctx context.Context, p *plan.Plan, item copyItem, undoer *undo.Manager) error {
	if err := o.driver.BlockStorage.SetVolumeShareable(ctx, item.sourceID, true); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	volumeID := item.sourceID

	undoer.Push("clear shareable on volume "+volumeID, func(ctx context.Context) error {
		return o.driver.BlockStorage.SetVolumeShareable(ctx, volumeID, false)
	})

	p.UpdatedResources[item.name].SetExtra(plan.ExtraSetShareable, true)

	return nil
}

// attachToGateway attaches a volume to a gateway VM, waits for in-use, and
// returns the block device it surfaced as, found by set difference on the
// gateway's device listing.
func (o *Orchestrator) attachToGateway(ctx context.Context, gatewayServerID, gatewayURL, volumeID string, undoer *undo.Manager) (string, error) {
	before, err := o.agent.GetDiskName(ctx, gatewayURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	if _, err := o.driver.Compute.AttachVolume(ctx, gatewayServerID, volumeID); err != nil {
		return "", fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	undoer.Push("detach volume "+volumeID, func(ctx context.Context) error {
		return o.driver.Compute.DetachVolume(ctx, gatewayServerID, volumeID)
	})

	err = retry.WithContext(ctx).WithTimeout(attachTimeout).WithPeriod(o.options.PollInterval).Do(func() error {
		volume, err := o.driver.BlockStorage.GetVolume(ctx, volumeID)
		if err != nil {
			return err
		}

		if volume.Status != "in-use" {
			return fmt.Errorf("volume %s is %s", volumeID, volume.Status)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: volume %s never reached in-use: %s", errors.ErrPlanCloneFailed, volumeID, err)
	}

	after, err := o.agent.GetDiskName(ctx, gatewayURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s", errors.ErrPlanCloneFailed, err)
	}

	device := newDevice(before, after)
	if device == "" {
		return "", fmt.Errorf("%w: volume %s surfaced no device on %s", errors.ErrPlanCloneFailed, volumeID, gatewayURL)
	}

	return device, nil
}

func newDevice(before, after []string) string {
	known := make(map[string]bool, len(before))
	for _, device := range before {
		known[device] = true
	}

	for _, device := range after {
		if !known[device] {
			return device
		}
	}

	return ""
}
