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

package plan

import (
	"strings"
)

// Kind enumerates the resource kinds the engine understands.  The set is
// closed: mutation and orchestration dispatch exhaustively over it, and
// anything else is rejected at import time.
type Kind string

const (
	KindServer           Kind = "OS::Nova::Server"
	KindKeyPair          Kind = "OS::Nova::KeyPair"
	KindFlavor           Kind = "OS::Nova::Flavor"
	KindVolume           Kind = "OS::Cinder::Volume"
	KindVolumeType       Kind = "OS::Cinder::VolumeType"
	KindQos              Kind = "OS::Cinder::Qos"
	KindConsistencyGroup Kind = "OS::Cinder::ConsistencyGroup"
	KindNetwork          Kind = "OS::Neutron::Net"
	KindSubnet           Kind = "OS::Neutron::Subnet"
	KindPort             Kind = "OS::Neutron::Port"
	KindRouter           Kind = "OS::Neutron::Router"
	KindRouterInterface  Kind = "OS::Neutron::RouterInterface"
	KindFloatingIP       Kind = "OS::Neutron::FloatingIP"
	KindSecurityGroup    Kind = "OS::Neutron::SecurityGroup"
	KindVip              Kind = "OS::Neutron::Vip"
	KindPool             Kind = "OS::Neutron::Pool"
	KindListener         Kind = "OS::Neutron::Listener"
	KindPoolMember       Kind = "OS::Neutron::PoolMember"
	KindHealthMonitor    Kind = "OS::Neutron::HealthMonitor"
	KindStack            Kind = "OS::Heat::Stack"
)

// NestedTemplatePrefix marks resource types whose body is an embedded
// template referenced through the files map.
const NestedTemplatePrefix = "file://"

//nolint:gochecknoglobals
var kinds = map[Kind]bool{
	KindServer:           true,
	KindKeyPair:          true,
	KindFlavor:           true,
	KindVolume:           true,
	KindVolumeType:       true,
	KindQos:              true,
	KindConsistencyGroup: true,
	KindNetwork:          true,
	KindSubnet:           true,
	KindPort:             true,
	KindRouter:           true,
	KindRouterInterface:  true,
	KindFloatingIP:       true,
	KindSecurityGroup:    true,
	KindVip:              true,
	KindPool:             true,
	KindListener:         true,
	KindPoolMember:       true,
	KindHealthMonitor:    true,
	KindStack:            true,
}

// Valid tells whether the kind is part of the closed enumeration.  Nested
// template references are valid too, they dispatch on the prefix.
func (k Kind) Valid() bool {
	return kinds[k] || k.Nested()
}

// Nested tells whether the kind denotes an embedded template.
func (k Kind) Nested() bool {
	return strings.HasPrefix(string(k), NestedTemplatePrefix)
}

// VolumeShaped tells whether the resource belongs in a volume sub-stack
// during a cold clone.
func (k Kind) VolumeShaped() bool {
	switch k {
	case KindVolume, KindVolumeType, KindQos, KindConsistencyGroup:
		return true
	default:
		return false
	}
}

// NeedsAvailabilityZone tells whether deployment must pin the resource to
// the destination availability zone.
func (k Kind) NeedsAvailabilityZone() bool {
	return k == KindServer || k == KindVolume
}

// Parameterizable tells whether a live instance of the kind may be bound
// by template parameter instead of being rebuilt.  Workload kinds (servers,
// volumes, ports) are always rebuilt unless explicitly flagged as existing.
func (k Kind) Parameterizable() bool {
	switch k {
	case KindNetwork, KindSubnet, KindRouter, KindSecurityGroup, KindKeyPair, KindFlavor, KindVolumeType, KindQos:
		return true
	default:
		return false
	}
}
