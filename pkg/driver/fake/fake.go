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

// Package fake is an in-memory cloud for tests: one Cloud value implements
// every adapter slice plus the data copy agent, with knobs for failure
// injection and stack progression.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/errors"
)

// Cloud is an in-memory cloud.  All maps are keyed by id.  The zero knobs
// give the happy path: stacks complete on the second poll, port creation
// succeeds, transfers finish immediately.
type Cloud struct {
	mu sync.Mutex

	Servers        map[string]*driver.Server
	Flavors        map[string]*driver.Flavor
	KeyPairs       map[string]*driver.KeyPair
	Volumes        map[string]*driver.Volume
	VolumeTypes    map[string]*driver.VolumeType
	QosSpecs       map[string]*driver.QosSpecs
	Networks       map[string]*driver.Network
	Subnets        map[string]*driver.Subnet
	Ports          map[string]*driver.Port
	Routers        map[string]*driver.Router
	SecurityGroups map[string]*driver.SecurityGroup
	FloatingIPs    map[string]*driver.FloatingIP
	Stacks         map[string]*driver.Stack

	// StackResources maps stack id to local name to physical id.
	StackResources map[string]map[string]string

	// Schemas backs GetResourceType.
	Schemas map[string]map[string]driver.PropertySchema

	// StackPollsToComplete is how many GetStack calls a stack spends in
	// progress before completing.
	StackPollsToComplete int

	// FailStacks makes every submitted stack end CREATE_FAILED.
	FailStacks bool

	// PortCreateFailures fails that many CreatePort calls before
	// succeeding.
	PortCreateFailures int

	// TransferFailures fails that many transfer tasks.
	TransferFailures int

	// GatewayDisks maps gateway URL to its visible block devices,
	// mutated by volume attachment so device set-difference works.
	GatewayDisks map[string][]string

	// GatewayServers maps gateway URL to the server hosting it, so
	// attachments to that server surface on the gateway's disk listing.
	GatewayServers map[string]string

	stackPolls map[string]int
	tasks      map[string]string
	deviceSeq  int
}

// New returns an empty cloud.
func New() *Cloud {
	return &Cloud{
		Servers:              map[string]*driver.Server{},
		Flavors:              map[string]*driver.Flavor{},
		KeyPairs:             map[string]*driver.KeyPair{},
		Volumes:              map[string]*driver.Volume{},
		VolumeTypes:          map[string]*driver.VolumeType{},
		QosSpecs:             map[string]*driver.QosSpecs{},
		Networks:             map[string]*driver.Network{},
		Subnets:              map[string]*driver.Subnet{},
		Ports:                map[string]*driver.Port{},
		Routers:              map[string]*driver.Router{},
		SecurityGroups:       map[string]*driver.SecurityGroup{},
		FloatingIPs:          map[string]*driver.FloatingIP{},
		Stacks:               map[string]*driver.Stack{},
		StackResources:       map[string]map[string]string{},
		Schemas:              map[string]map[string]driver.PropertySchema{},
		GatewayDisks:         map[string][]string{},
		GatewayServers:       map[string]string{},
		StackPollsToComplete: 1,
		stackPolls:           map[string]int{},
		tasks:                map[string]string{},
	}
}

// Driver wraps the cloud as an adapter.
func (c *Cloud) Driver() *driver.Driver {
	return &driver.Driver{
		Compute:      c,
		BlockStorage: c,
		Network:      c,
		StackEngine:  c,
	}
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", errors.ErrResourceNotFound, what, id)
}

// Getters hand out copies, like a real API serving snapshots.  A caller
// holding a result must not see later mutations of the stored record.
func copyServer(server *driver.Server) *driver.Server {
	out := *server
	out.Volumes = append([]driver.AttachedVolume(nil), server.Volumes...)
	out.SecurityGroupIDs = append([]string(nil), server.SecurityGroupIDs...)

	return &out
}

func copyVolume(volume *driver.Volume) *driver.Volume {
	out := *volume
	out.Attachments = append([]driver.VolumeAttachment(nil), volume.Attachments...)

	return &out
}

func copyPort(port *driver.Port) *driver.Port {
	out := *port
	out.FixedIPs = append([]driver.FixedIP(nil), port.FixedIPs...)
	out.SecurityGroups = append([]string(nil), port.SecurityGroups...)

	return &out
}

// GetServer implements driver.Compute.
func (c *Cloud) GetServer(_ context.Context, id string) (*driver.Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.Servers[id]
	if !ok {
		return nil, notFound("server", id)
	}

	return copyServer(server), nil
}

// GetFlavor implements driver.Compute.
func (c *Cloud) GetFlavor(_ context.Context, id string) (*driver.Flavor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	flavor, ok := c.Flavors[id]
	if !ok {
		return nil, notFound("flavor", id)
	}

	return flavor, nil
}

// GetKeyPair implements driver.Compute.
func (c *Cloud) GetKeyPair(_ context.Context, name string) (*driver.KeyPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keypair, ok := c.KeyPairs[name]
	if !ok {
		return nil, notFound("keypair", name)
	}

	return keypair, nil
}

// ResetState implements driver.Compute.
func (c *Cloud) ResetState(_ context.Context, id, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.Servers[id]
	if !ok {
		return notFound("server", id)
	}

	server.VMState = state

	return nil
}

// AttachVolume implements driver.Compute.  The attachment surfaces as a
// fresh device on every gateway disk listing for the server.
func (c *Cloud) AttachVolume(_ context.Context, serverID, volumeID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.Servers[serverID]
	if !ok {
		return "", notFound("server", serverID)
	}

	volume, ok := c.Volumes[volumeID]
	if !ok {
		return "", notFound("volume", volumeID)
	}

	device := fmt.Sprintf("/dev/vd%c", 'b'+c.deviceSeq)
	c.deviceSeq++

	server.Volumes = append(server.Volumes, driver.AttachedVolume{ID: volumeID, Device: device})
	volume.Status = "in-use"
	volume.Attachments = append(volume.Attachments, driver.VolumeAttachment{ServerID: serverID, Device: device})

	for url, gatewayServerID := range c.GatewayServers {
		if gatewayServerID == serverID {
			c.GatewayDisks[url] = append(c.GatewayDisks[url], device)
		}
	}

	return device, nil
}

// DetachVolume implements driver.Compute.
func (c *Cloud) DetachVolume(_ context.Context, serverID, volumeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.Servers[serverID]
	if !ok {
		return notFound("server", serverID)
	}

	kept := server.Volumes[:0]

	for _, attachment := range server.Volumes {
		if attachment.ID != volumeID {
			kept = append(kept, attachment)
		}
	}

	server.Volumes = kept

	if volume, ok := c.Volumes[volumeID]; ok {
		volume.Status = "available"
		volume.Attachments = nil
	}

	return nil
}

// InterfaceAttach implements driver.Compute.
func (c *Cloud) InterfaceAttach(_ context.Context, serverID, portID, networkID string) (*driver.Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.Servers[serverID]; !ok {
		return nil, notFound("server", serverID)
	}

	if portID != "" {
		port, ok := c.Ports[portID]
		if !ok {
			return nil, notFound("port", portID)
		}

		port.DeviceID = serverID

		return port, nil
	}

	port := &driver.Port{
		ID:        uuid.New().String(),
		NetworkID: networkID,
		DeviceID:  serverID,
		FixedIPs:  []driver.FixedIP{{IPAddress: fmt.Sprintf("192.168.0.%d", len(c.Ports)+10)}},
	}

	c.Ports[port.ID] = port

	return port, nil
}

// InterfaceDetach implements driver.Compute.
func (c *Cloud) InterfaceDetach(_ context.Context, serverID, portID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	port, ok := c.Ports[portID]
	if !ok {
		return notFound("port", portID)
	}

	if port.DeviceID == serverID {
		port.DeviceID = ""
	}

	return nil
}

// DeleteServer implements driver.Compute.
func (c *Cloud) DeleteServer(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.Servers[id]; !ok {
		return notFound("server", id)
	}

	delete(c.Servers, id)

	return nil
}

// GetVolume implements driver.BlockStorage.
func (c *Cloud) GetVolume(_ context.Context, id string) (*driver.Volume, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	volume, ok := c.Volumes[id]
	if !ok {
		return nil, notFound("volume", id)
	}

	return copyVolume(volume), nil
}

// GetVolumeType implements driver.BlockStorage.
func (c *Cloud) GetVolumeType(_ context.Context, id string) (*driver.VolumeType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	volumeType, ok := c.VolumeTypes[id]
	if !ok {
		return nil, notFound("volume type", id)
	}

	return volumeType, nil
}

// GetQosSpecs implements driver.BlockStorage.
func (c *Cloud) GetQosSpecs(_ context.Context, id string) (*driver.QosSpecs, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	qos, ok := c.QosSpecs[id]
	if !ok {
		return nil, notFound("qos specs", id)
	}

	return qos, nil
}

// SetVolumeShareable implements driver.BlockStorage.
func (c *Cloud) SetVolumeShareable(_ context.Context, id string, shareable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	volume, ok := c.Volumes[id]
	if !ok {
		return notFound("volume", id)
	}

	volume.Shareable = shareable

	return nil
}

// SetVolumeBootable implements driver.BlockStorage.
func (c *Cloud) SetVolumeBootable(_ context.Context, id string, bootable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	volume, ok := c.Volumes[id]
	if !ok {
		return notFound("volume", id)
	}

	volume.Bootable = bootable

	return nil
}

// DeleteVolume implements driver.BlockStorage.
func (c *Cloud) DeleteVolume(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.Volumes[id]; !ok {
		return notFound("volume", id)
	}

	delete(c.Volumes, id)

	return nil
}

// ResetVolumeState implements driver.BlockStorage.
func (c *Cloud) ResetVolumeState(_ context.Context, id, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	volume, ok := c.Volumes[id]
	if !ok {
		return notFound("volume", id)
	}

	volume.Status = status

	return nil
}

// GetNetwork implements driver.Networking.
func (c *Cloud) GetNetwork(_ context.Context, id string) (*driver.Network, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	network, ok := c.Networks[id]
	if !ok {
		return nil, notFound("network", id)
	}

	return network, nil
}

// GetSubnet implements driver.Networking.
func (c *Cloud) GetSubnet(_ context.Context, id string) (*driver.Subnet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subnet, ok := c.Subnets[id]
	if !ok {
		return nil, notFound("subnet", id)
	}

	return subnet, nil
}

// GetPort implements driver.Networking.
func (c *Cloud) GetPort(_ context.Context, id string) (*driver.Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	port, ok := c.Ports[id]
	if !ok {
		return nil, notFound("port", id)
	}

	return copyPort(port), nil
}

// GetRouter implements driver.Networking.
func (c *Cloud) GetRouter(_ context.Context, id string) (*driver.Router, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	router, ok := c.Routers[id]
	if !ok {
		return nil, notFound("router", id)
	}

	return router, nil
}

// GetSecurityGroup implements driver.Networking.
func (c *Cloud) GetSecurityGroup(_ context.Context, id string) (*driver.SecurityGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	group, ok := c.SecurityGroups[id]
	if !ok {
		return nil, notFound("security group", id)
	}

	return group, nil
}

// GetFloatingIP implements driver.Networking.
func (c *Cloud) GetFloatingIP(_ context.Context, id string) (*driver.FloatingIP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fip, ok := c.FloatingIPs[id]
	if !ok {
		return nil, notFound("floating ip", id)
	}

	out := *fip

	return &out, nil
}

// ListPorts implements driver.Networking.
func (c *Cloud) ListPorts(_ context.Context, opts *driver.PortListOpts) ([]*driver.Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*driver.Port

	for _, port := range c.Ports {
		if opts != nil {
			if opts.DeviceID != "" && port.DeviceID != opts.DeviceID {
				continue
			}

			if opts.NetworkID != "" && port.NetworkID != opts.NetworkID {
				continue
			}
		}

		out = append(out, copyPort(port))
	}

	return out, nil
}

// CreatePort implements driver.Networking, honoring the failure budget.
func (c *Cloud) CreatePort(_ context.Context, opts *driver.PortCreateOpts) (*driver.Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PortCreateFailures > 0 {
		c.PortCreateFailures--

		return nil, fmt.Errorf("%w: address conflict", errors.ErrPlanMigrateFailed)
	}

	port := &driver.Port{
		ID:             uuid.New().String(),
		Name:           opts.Name,
		NetworkID:      opts.NetworkID,
		MACAddress:     opts.MACAddress,
		FixedIPs:       opts.FixedIPs,
		SecurityGroups: opts.SecurityGroups,
	}

	c.Ports[port.ID] = port

	return port, nil
}

// DeletePort implements driver.Networking.
func (c *Cloud) DeletePort(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.Ports[id]; !ok {
		return notFound("port", id)
	}

	delete(c.Ports, id)

	return nil
}

// AssociateFloatingIP implements driver.Networking.
func (c *Cloud) AssociateFloatingIP(_ context.Context, id, portID, fixedIP string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fip, ok := c.FloatingIPs[id]
	if !ok {
		return notFound("floating ip", id)
	}

	fip.PortID = portID
	fip.FixedIPAddress = fixedIP

	return nil
}

// DisassociateFloatingIP implements driver.Networking.
func (c *Cloud) DisassociateFloatingIP(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fip, ok := c.FloatingIPs[id]
	if !ok {
		return notFound("floating ip", id)
	}

	fip.PortID = ""
	fip.FixedIPAddress = ""

	return nil
}

// CreateStack implements driver.StackEngine.  Every template resource
// realizes a physical id of the form phys-<name> unless the test has
// preloaded StackResources for the new stack.
func (c *Cloud) CreateStack(_ context.Context, opts *driver.StackCreateOpts) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()

	c.Stacks[id] = &driver.Stack{
		ID:     id,
		Name:   opts.Name,
		Status: driver.StackCreateInProgress,
	}

	if _, ok := c.StackResources[id]; !ok {
		realized := map[string]string{}

		for name := range opts.Template.Resources {
			realized[name] = "phys-" + name
		}

		c.StackResources[id] = realized
	}

	return id, nil
}

// GetStack implements driver.StackEngine, progressing the stack through
// its configured lifecycle.
func (c *Cloud) GetStack(_ context.Context, id string) (*driver.Stack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stack, ok := c.Stacks[id]
	if !ok {
		return nil, notFound("stack", id)
	}

	if stack.Status == driver.StackCreateInProgress {
		c.stackPolls[id]++

		if c.stackPolls[id] > c.StackPollsToComplete {
			if c.FailStacks {
				stack.Status = driver.StackCreateFailed
				stack.StatusReason = "resource creation failed"
			} else {
				stack.Status = driver.StackCreateComplete
			}
		}
	}

	return stack, nil
}

// DeleteStack implements driver.StackEngine.
func (c *Cloud) DeleteStack(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.Stacks[id]; !ok {
		return notFound("stack", id)
	}

	delete(c.Stacks, id)
	delete(c.StackResources, id)

	return nil
}

// GetResource implements driver.StackEngine.
func (c *Cloud) GetResource(_ context.Context, stackID, name string) (*driver.StackResource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	realized, ok := c.StackResources[stackID]
	if !ok {
		return nil, notFound("stack", stackID)
	}

	physical, ok := realized[name]
	if !ok {
		return nil, notFound("stack resource", name)
	}

	return &driver.StackResource{Name: name, PhysicalID: physical, Status: driver.StackCreateComplete}, nil
}

// GetResourceType implements driver.StackEngine.
func (c *Cloud) GetResourceType(_ context.Context, name string) (map[string]driver.PropertySchema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	schema, ok := c.Schemas[name]
	if !ok {
		return nil, notFound("resource type", name)
	}

	return schema, nil
}

// ListEvents implements driver.StackEngine.
func (c *Cloud) ListEvents(_ context.Context, stackID string) ([]*driver.StackEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stack, ok := c.Stacks[stackID]
	if !ok {
		return nil, notFound("stack", stackID)
	}

	return []*driver.StackEvent{
		{ResourceName: stack.Name, Status: stack.Status, StatusReason: stack.StatusReason},
	}, nil
}

// GetDiskName implements driver.Agent.
func (c *Cloud) GetDiskName(_ context.Context, gatewayURL string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	disks := make([]string, len(c.GatewayDisks[gatewayURL]))
	copy(disks, c.GatewayDisks[gatewayURL])

	return disks, nil
}

// AddGatewayDisk makes a device visible on a gateway's listing.
func (c *Cloud) AddGatewayDisk(gatewayURL, device string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.GatewayDisks[gatewayURL] = append(c.GatewayDisks[gatewayURL], device)
}

// GetDiskFormat implements driver.Agent.
func (c *Cloud) GetDiskFormat(_ context.Context, _, _ string) (string, error) {
	return "ext4", nil
}

// GetDiskMountPoint implements driver.Agent.
func (c *Cloud) GetDiskMountPoint(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

// ForceMountDisk implements driver.Agent.
func (c *Cloud) ForceMountDisk(_ context.Context, _, _, _ string) error {
	return nil
}

// CloneVolume implements driver.Agent.
func (c *Cloud) CloneVolume(_ context.Context, _ string, _ *driver.CloneVolumeOpts) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	taskID := uuid.New().String()

	if c.TransferFailures > 0 {
		c.TransferFailures--
		c.tasks[taskID] = driver.DataTransFailed
	} else {
		c.tasks[taskID] = driver.DataTransFinished
	}

	return taskID, nil
}

// GetDataTransStatus implements driver.Agent.
func (c *Cloud) GetDataTransStatus(_ context.Context, _, taskID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.tasks[taskID]
	if !ok {
		return "", notFound("transfer task", taskID)
	}

	return status, nil
}
