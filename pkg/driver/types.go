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

package driver

// Server is the adapter view of a compute instance.
type Server struct {
	ID               string
	Name             string
	Status           string
	VMState          string
	AvailabilityZone string
	KeyName          string
	FlavorID         string
	Metadata         map[string]string
	UserData         string
	SecurityGroupIDs []string
	Volumes          []AttachedVolume
}

// AttachedVolume is one volume attachment on a server.
type AttachedVolume struct {
	ID     string
	Device string
}

// Flavor is the adapter view of a machine flavor.
type Flavor struct {
	ID    string
	Name  string
	VCPUs int
	RAM   int
	Disk  int
}

// KeyPair is the adapter view of an SSH keypair.
type KeyPair struct {
	Name      string
	PublicKey string
}

// Volume is the adapter view of a block volume.
type Volume struct {
	ID               string
	Name             string
	Status           string
	Size             int
	AvailabilityZone string
	VolumeTypeID     string
	Bootable         bool
	Shareable        bool
	Attachments      []VolumeAttachment
	Metadata         map[string]string
}

// VolumeAttachment is one server attachment on a volume.
type VolumeAttachment struct {
	ServerID string
	Device   string
}

// VolumeType is the adapter view of a volume type.
type VolumeType struct {
	ID         string
	Name       string
	QosSpecsID string
}

// QosSpecs is the adapter view of volume QoS specs.
type QosSpecs struct {
	ID    string
	Name  string
	Specs map[string]string
}

// Network is the adapter view of a network.
type Network struct {
	ID             string
	Name           string
	Shared         bool
	SubnetIDs      []string
	SegmentationID int
	PhysicalNet    string
	NetType        string
}

// AllocationPool is one assignable address range on a subnet.
type AllocationPool struct {
	Start string
	End   string
}

// Subnet is the adapter view of a subnet.
type Subnet struct {
	ID              string
	Name            string
	NetworkID       string
	CIDR            string
	GatewayIP       string
	EnableDHCP      bool
	AllocationPools []AllocationPool
}

// FixedIP is one address assignment on a port.
type FixedIP struct {
	SubnetID  string
	IPAddress string
}

// Port is the adapter view of a port.
type Port struct {
	ID             string
	Name           string
	NetworkID      string
	MACAddress     string
	DeviceID       string
	DeviceOwner    string
	FixedIPs       []FixedIP
	SecurityGroups []string
	BindingProfile map[string]interface{}
}

// PortListOpts filters a port listing.
type PortListOpts struct {
	DeviceID  string
	NetworkID string
}

// PortCreateOpts parameterizes port creation.
type PortCreateOpts struct {
	Name           string
	NetworkID      string
	MACAddress     string
	FixedIPs       []FixedIP
	SecurityGroups []string
}

// Router is the adapter view of a router.
type Router struct {
	ID                string
	Name              string
	ExternalNetworkID string
}

// SecurityGroupRule is one rule on a security group.
type SecurityGroupRule struct {
	Direction      string
	EtherType      string
	Protocol       string
	PortRangeMin   int
	PortRangeMax   int
	RemoteIPPrefix string
	RemoteGroupID  string
}

// SecurityGroup is the adapter view of a security group.
type SecurityGroup struct {
	ID    string
	Name  string
	Rules []SecurityGroupRule
}

// FloatingIP is the adapter view of a floating IP.
type FloatingIP struct {
	ID                string
	FloatingIPAddress string
	FloatingNetworkID string
	FixedIPAddress    string
	PortID            string
}

// Stack status values the watcher recognizes.
const (
	StackCreateInProgress = "CREATE_IN_PROGRESS"
	StackCreateComplete   = "CREATE_COMPLETE"
	StackCreateFailed     = "CREATE_FAILED"
)

// Stack is the engine view of a deployed stack.
type Stack struct {
	ID           string
	Name         string
	Status       string
	StatusReason string
}

// StackResource is one realized resource of a stack.
type StackResource struct {
	Name       string
	PhysicalID string
	Type       string
	Status     string
}

// StackEvent is one entry in a stack's event log.
type StackEvent struct {
	ResourceName string
	Status       string
	StatusReason string
}

// PropertySchema describes one property of a resource type as reported by
// the stack engine, used to validate mutation input.
type PropertySchema struct {
	// Type is the property type: string, integer, boolean, number, map
	// or list.
	Type string

	// Schema describes nested entries for map and list types.
	Schema map[string]PropertySchema

	// Required tells whether the property must be present.
	Required bool

	// UpdateAllowed tells whether edits may change the property.
	UpdateAllowed bool
}
