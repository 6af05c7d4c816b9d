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

package openstack

import (
	"context"
	"encoding/json"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/attachinterfaces"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/resetstate"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/secgroups"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/volumeattach"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	utilflavors "github.com/gophercloud/utils/openstack/compute/v2/flavors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/driver"
)

// ComputeClient wraps the generic client because gophercloud is unsafe.
type ComputeClient struct {
	client *gophercloud.ServiceClient
}

// Ensure the driver contract is implemented.
var _ driver.Compute = &ComputeClient{}

// NewComputeClient provides a simple one-liner to start computing.
func NewComputeClient(provider Provider) (*ComputeClient, error) {
	providerClient, err := provider.Client()
	if err != nil {
		return nil, err
	}

	client, err := openstack.NewComputeV2(providerClient, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}

	// Need at least 2.60 to attach multi-attach volumes.
	client.Microversion = "2.60"

	c := &ComputeClient{
		client: client,
	}

	return c, nil
}

// Server defines an extended set of server information not included
// by default in gophercloud.
type Server struct {
	servers.Server

	AvailabilityZone string
	VMState          string
	UserData         string
}

// UnmarshalJSON is required because "servers.Server" already defines
// this, and it will undergo method promotion.
func (s *Server) UnmarshalJSON(b []byte) error {
	// Unmarshal the native type using its UnmarshalJSON.
	if err := json.Unmarshal(b, &s.Server); err != nil {
		return err
	}

	// Create a new anonymous structure, and unmarshal the custom fields
	// into that, so we don't end up in an infinite loop.
	var t struct {
		//nolint:tagliatelle
		AvailabilityZone string `json:"OS-EXT-AZ:availability_zone"`
		//nolint:tagliatelle
		VMState string `json:"OS-EXT-STS:vm_state"`
		//nolint:tagliatelle
		UserData string `json:"OS-EXT-SRV-ATTR:user_data"`
	}

	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}

	// Copy from the anonymous struct to our server definition.
	s.AvailabilityZone = t.AvailabilityZone
	s.VMState = t.VMState
	s.UserData = t.UserData

	return nil
}

// flavorID digs the flavor out of a server body.  From microversion 2.47
// the embedded flavor carries no id, only the name it had at boot, so
// fall back to a name lookup.
func (c *ComputeClient) flavorID(flavor map[string]interface{}) (string, error) {
	if id, ok := flavor["id"].(string); ok && id != "" {
		return id, nil
	}

	name, ok := flavor["original_name"].(string)
	if !ok {
		return "", nil
	}

	return utilflavors.IDFromName(c.client, name)
}

// GetServer looks up a server by id.
func (c *ComputeClient) GetServer(ctx context.Context, id string) (*driver.Server, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var result Server

	if err := servers.Get(c.client, id).ExtractInto(&result); err != nil {
		return nil, translate(err)
	}

	flavorID, err := c.flavorID(result.Flavor)
	if err != nil {
		return nil, translate(err)
	}

	attachments, err := c.volumeAttachments(id)
	if err != nil {
		return nil, translate(err)
	}

	groups, err := c.securityGroupIDs(id)
	if err != nil {
		return nil, translate(err)
	}

	out := &driver.Server{
		ID:               result.ID,
		Name:             result.Name,
		Status:           result.Status,
		VMState:          result.VMState,
		AvailabilityZone: result.AvailabilityZone,
		KeyName:          result.KeyName,
		FlavorID:         flavorID,
		Metadata:         result.Metadata,
		UserData:         result.UserData,
		SecurityGroupIDs: groups,
		Volumes:          attachments,
	}

	return out, nil
}

func (c *ComputeClient) volumeAttachments(serverID string) ([]driver.AttachedVolume, error) {
	page, err := volumeattach.List(c.client, serverID).AllPages()
	if err != nil {
		return nil, err
	}

	attachments, err := volumeattach.ExtractVolumeAttachments(page)
	if err != nil {
		return nil, err
	}

	out := make([]driver.AttachedVolume, 0, len(attachments))

	for _, attachment := range attachments {
		out = append(out, driver.AttachedVolume{
			ID:     attachment.VolumeID,
			Device: attachment.Device,
		})
	}

	return out, nil
}

func (c *ComputeClient) securityGroupIDs(serverID string) ([]string, error) {
	page, err := secgroups.ListByServer(c.client, serverID).AllPages()
	if err != nil {
		return nil, err
	}

	groups, err := secgroups.ExtractSecurityGroups(page)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(groups))

	for _, group := range groups {
		out = append(out, group.ID)
	}

	return out, nil
}

// GetFlavor looks up a flavor by id.
func (c *ComputeClient) GetFlavor(ctx context.Context, id string) (*driver.Flavor, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/flavors/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, err := flavors.Get(c.client, id).Extract()
	if err != nil {
		return nil, translate(err)
	}

	out := &driver.Flavor{
		ID:    result.ID,
		Name:  result.Name,
		VCPUs: result.VCPUs,
		RAM:   result.RAM,
		Disk:  result.Disk,
	}

	return out, nil
}

// GetKeyPair looks up a keypair by name.
func (c *ComputeClient) GetKeyPair(ctx context.Context, name string) (*driver.KeyPair, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/os-keypairs/"+name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, err := keypairs.Get(c.client, name, nil).Extract()
	if err != nil {
		return nil, translate(err)
	}

	out := &driver.KeyPair{
		Name:      result.Name,
		PublicKey: result.PublicKey,
	}

	return out, nil
}

// ResetState forces a server's state, bypassing the scheduler.
func (c *ComputeClient) ResetState(ctx context.Context, id, state string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+id+"/action", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return translate(resetstate.ResetState(c.client, id, resetstate.ServerState(state)).ExtractErr())
}

// AttachVolume attaches a volume to a server and returns the device name
// the cloud assigned.
func (c *ComputeClient) AttachVolume(ctx context.Context, serverID, volumeID string) (string, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+serverID+"/os-volume_attachments", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &volumeattach.CreateOpts{
		VolumeID: volumeID,
	}

	attachment, err := volumeattach.Create(c.client, serverID, opts).Extract()
	if err != nil {
		return "", translate(err)
	}

	return attachment.Device, nil
}

// DetachVolume detaches a volume from a server.
func (c *ComputeClient) DetachVolume(ctx context.Context, serverID, volumeID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+serverID+"/os-volume_attachments/"+volumeID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	// The attachment id is the volume id in this API.
	return translate(volumeattach.Delete(c.client, serverID, volumeID).ExtractErr())
}

// InterfaceAttach attaches a port (by id, or a fresh one on the given
// network) to a server.
func (c *ComputeClient) InterfaceAttach(ctx context.Context, serverID, portID, networkID string) (*driver.Port, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+serverID+"/os-interface", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := attachinterfaces.CreateOpts{
		PortID:    portID,
		NetworkID: networkID,
	}

	result, err := attachinterfaces.Create(c.client, serverID, opts).Extract()
	if err != nil {
		return nil, translate(err)
	}

	fixedIPs := make([]driver.FixedIP, 0, len(result.FixedIPs))

	for _, ip := range result.FixedIPs {
		fixedIPs = append(fixedIPs, driver.FixedIP{
			SubnetID:  ip.SubnetID,
			IPAddress: ip.IPAddress,
		})
	}

	out := &driver.Port{
		ID:         result.PortID,
		NetworkID:  result.NetID,
		MACAddress: result.MACAddr,
		DeviceID:   serverID,
		FixedIPs:   fixedIPs,
	}

	return out, nil
}

// InterfaceDetach detaches a port from a server.
func (c *ComputeClient) InterfaceDetach(ctx context.Context, serverID, portID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+serverID+"/os-interface/"+portID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return translate(attachinterfaces.Delete(c.client, serverID, portID).ExtractErr())
}

// DeleteServer deletes a server.
func (c *ComputeClient) DeleteServer(ctx context.Context, id string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return translate(servers.Delete(c.client, id).ExtractErr())
}
