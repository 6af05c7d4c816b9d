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

// Package driver declares the narrow contract every cloud adapter
// implements.  The engine consumes these interfaces only; the OpenStack
// implementation lives under pkg/providers/openstack.
package driver

import (
	"context"

	"github.com/eschercloudai/caravel/pkg/template"
)

// Compute is the server facing slice of the adapter.
type Compute interface {
	// GetServer looks up a server by id.
	GetServer(ctx context.Context, id string) (*Server, error)

	// GetFlavor looks up a flavor by id.
	GetFlavor(ctx context.Context, id string) (*Flavor, error)

	// GetKeyPair looks up a keypair by name.
	GetKeyPair(ctx context.Context, name string) (*KeyPair, error)

	// ResetState forces a server's state, bypassing the scheduler.
	ResetState(ctx context.Context, id, state string) error

	// AttachVolume attaches a volume to a server and returns the device
	// name the cloud assigned.
	AttachVolume(ctx context.Context, serverID, volumeID string) (string, error)

	// DetachVolume detaches a volume from a server.
	DetachVolume(ctx context.Context, serverID, volumeID string) error

	// InterfaceAttach attaches a port (by id, or a fresh one on the
	// given network) to a server.
	InterfaceAttach(ctx context.Context, serverID, portID, networkID string) (*Port, error)

	// InterfaceDetach detaches a port from a server.
	InterfaceDetach(ctx context.Context, serverID, portID string) error

	// DeleteServer deletes a server.
	DeleteServer(ctx context.Context, id string) error
}

// BlockStorage is the volume facing slice of the adapter.
type BlockStorage interface {
	// GetVolume looks up a volume by id.
	GetVolume(ctx context.Context, id string) (*Volume, error)

	// GetVolumeType looks up a volume type by id.
	GetVolumeType(ctx context.Context, id string) (*VolumeType, error)

	// GetQosSpecs looks up QoS specs by id.
	GetQosSpecs(ctx context.Context, id string) (*QosSpecs, error)

	// SetVolumeShareable toggles multi-attach on a volume.
	SetVolumeShareable(ctx context.Context, id string, shareable bool) error

	// SetVolumeBootable toggles the bootable flag on a volume.
	SetVolumeBootable(ctx context.Context, id string, bootable bool) error

	// DeleteVolume deletes a volume.
	DeleteVolume(ctx context.Context, id string) error

	// ResetVolumeState forces a volume's status.
	ResetVolumeState(ctx context.Context, id, status string) error
}

// Networking is the network facing slice of the adapter.
type Networking interface {
	// GetNetwork looks up a network by id.
	GetNetwork(ctx context.Context, id string) (*Network, error)

	// GetSubnet looks up a subnet by id.
	GetSubnet(ctx context.Context, id string) (*Subnet, error)

	// GetPort looks up a port by id.
	GetPort(ctx context.Context, id string) (*Port, error)

	// GetRouter looks up a router by id.
	GetRouter(ctx context.Context, id string) (*Router, error)

	// GetSecurityGroup looks up a security group by id.
	GetSecurityGroup(ctx context.Context, id string) (*SecurityGroup, error)

	// GetFloatingIP looks up a floating IP by id.
	GetFloatingIP(ctx context.Context, id string) (*FloatingIP, error)

	// ListPorts lists ports matching the filter.
	ListPorts(ctx context.Context, opts *PortListOpts) ([]*Port, error)

	// CreatePort creates a port.
	CreatePort(ctx context.Context, opts *PortCreateOpts) (*Port, error)

	// DeletePort deletes a port.
	DeletePort(ctx context.Context, id string) error

	// AssociateFloatingIP binds a floating IP to a port, optionally at
	// a specific fixed address.
	AssociateFloatingIP(ctx context.Context, id, portID, fixedIP string) error

	// DisassociateFloatingIP unbinds a floating IP.
	DisassociateFloatingIP(ctx context.Context, id string) error
}

// StackEngine is the orchestration back end that instantiates templates.
type StackEngine interface {
	// CreateStack submits a template and returns the new stack id.
	CreateStack(ctx context.Context, opts *StackCreateOpts) (string, error)

	// GetStack reads a stack's status.
	GetStack(ctx context.Context, id string) (*Stack, error)

	// DeleteStack deletes a stack.
	DeleteStack(ctx context.Context, id string) error

	// GetResource reads one stack resource, mapping the template local
	// name to the physical id it realized.
	GetResource(ctx context.Context, stackID, name string) (*StackResource, error)

	// GetResourceType returns the property schema for a resource type.
	GetResourceType(ctx context.Context, name string) (map[string]PropertySchema, error)

	// ListEvents lists a stack's events, newest last.
	ListEvents(ctx context.Context, stackID string) ([]*StackEvent, error)
}

// StackCreateOpts parameterizes stack submission.
type StackCreateOpts struct {
	Name            string
	Template        *template.Template
	Files           map[string]string
	DisableRollback bool
}

// Driver aggregates the per-service slices of one cloud adapter.
type Driver struct {
	Compute      Compute
	BlockStorage BlockStorage
	Network      Networking
	StackEngine  StackEngine
}
