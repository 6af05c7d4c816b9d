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
	"strconv"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/layer3/routers"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/portsbinding"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/provider"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/ports"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/subnets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/driver"
)

// NetworkClient wraps the generic client because gophercloud is unsafe.
type NetworkClient struct {
	client *gophercloud.ServiceClient
}

// Ensure the driver contract is implemented.
var _ driver.Networking = &NetworkClient{}

// NewNetworkClient provides a simple one-liner to start networking.
func NewNetworkClient(p Provider) (*NetworkClient, error) {
	providerClient, err := p.Client()
	if err != nil {
		return nil, err
	}

	client, err := openstack.NewNetworkV2(providerClient, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}

	c := &NetworkClient{
		client: client,
	}

	return c, nil
}

// network carries the provider extension fields alongside the core ones.
type network struct {
	networks.Network
	provider.NetworkProviderExt
}

// GetNetwork looks up a network by id.
func (c *NetworkClient) GetNetwork(ctx context.Context, id string) (*driver.Network, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/networks/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var result network

	if err := networks.Get(c.client, id).ExtractInto(&result); err != nil {
		return nil, translate(err)
	}

	// The extension reports the segmentation id as a string.
	segmentationID, _ := strconv.Atoi(result.SegmentationID)

	out := &driver.Network{
		ID:             result.ID,
		Name:           result.Name,
		Shared:         result.Shared,
		SubnetIDs:      result.Subnets,
		SegmentationID: segmentationID,
		PhysicalNet:    result.PhysicalNetwork,
		NetType:        result.NetworkType,
	}

	return out, nil
}

// GetSubnet looks up a subnet by id.
func (c *NetworkClient) GetSubnet(ctx context.Context, id string) (*driver.Subnet, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/subnets/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, err := subnets.Get(c.client, id).Extract()
	if err != nil {
		return nil, translate(err)
	}

	pools := make([]driver.AllocationPool, 0, len(result.AllocationPools))

	for _, pool := range result.AllocationPools {
		pools = append(pools, driver.AllocationPool{
			Start: pool.Start,
			End:   pool.End,
		})
	}

	out := &driver.Subnet{
		ID:              result.ID,
		Name:            result.Name,
		NetworkID:       result.NetworkID,
		CIDR:            result.CIDR,
		GatewayIP:       result.GatewayIP,
		EnableDHCP:      result.EnableDHCP,
		AllocationPools: pools,
	}

	return out, nil
}

// port carries the binding extension fields alongside the core ones.
type port struct {
	ports.Port
	portsbinding.PortsBindingExt
}

func convertPort(in *port) *driver.Port {
	fixedIPs := make([]driver.FixedIP, 0, len(in.FixedIPs))

	for _, ip := range in.FixedIPs {
		fixedIPs = append(fixedIPs, driver.FixedIP{
			SubnetID:  ip.SubnetID,
			IPAddress: ip.IPAddress,
		})
	}

	return &driver.Port{
		ID:             in.ID,
		Name:           in.Name,
		NetworkID:      in.NetworkID,
		MACAddress:     in.MACAddress,
		DeviceID:       in.DeviceID,
		DeviceOwner:    in.DeviceOwner,
		FixedIPs:       fixedIPs,
		SecurityGroups: in.SecurityGroups,
		BindingProfile: in.Profile,
	}
}

// GetPort looks up a port by id.
func (c *NetworkClient) GetPort(ctx context.Context, id string) (*driver.Port, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/ports/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var result port

	if err := ports.Get(c.client, id).ExtractInto(&result); err != nil {
		return nil, translate(err)
	}

	return convertPort(&result), nil
}

// ListPorts lists ports matching the filter.
func (c *NetworkClient) ListPorts(ctx context.Context, opts *driver.PortListOpts) ([]*driver.Port, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/ports", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	listOpts := ports.ListOpts{}

	if opts != nil {
		listOpts.DeviceID = opts.DeviceID
		listOpts.NetworkID = opts.NetworkID
	}

	page, err := ports.List(c.client, listOpts).AllPages()
	if err != nil {
		return nil, translate(err)
	}

	var results []port

	if err := ports.ExtractPortsInto(page, &results); err != nil {
		return nil, err
	}

	out := make([]*driver.Port, 0, len(results))

	for i := range results {
		out = append(out, convertPort(&results[i]))
	}

	return out, nil
}

// CreatePort creates a port.
func (c *NetworkClient) CreatePort(ctx context.Context, opts *driver.PortCreateOpts) (*driver.Port, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/ports", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	fixedIPs := make([]ports.IP, 0, len(opts.FixedIPs))

	for _, ip := range opts.FixedIPs {
		fixedIPs = append(fixedIPs, ports.IP{
			SubnetID:  ip.SubnetID,
			IPAddress: ip.IPAddress,
		})
	}

	createOpts := ports.CreateOpts{
		Name:       opts.Name,
		NetworkID:  opts.NetworkID,
		MACAddress: opts.MACAddress,
		FixedIPs:   fixedIPs,
	}

	if len(opts.SecurityGroups) != 0 {
		sgs := opts.SecurityGroups
		createOpts.SecurityGroups = &sgs
	}

	var result port

	if err := ports.Create(c.client, createOpts).ExtractInto(&result); err != nil {
		return nil, translate(err)
	}

	return convertPort(&result), nil
}

// DeletePort deletes a port.
func (c *NetworkClient) DeletePort(ctx context.Context, id string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/ports/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return translate(ports.Delete(c.client, id).ExtractErr())
}

// GetRouter looks up a router by id.
func (c *NetworkClient) GetRouter(ctx context.Context, id string) (*driver.Router, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/routers/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, err := routers.Get(c.client, id).Extract()
	if err != nil {
		return nil, translate(err)
	}

	out := &driver.Router{
		ID:                result.ID,
		Name:              result.Name,
		ExternalNetworkID: result.GatewayInfo.NetworkID,
	}

	return out, nil
}

// GetSecurityGroup looks up a security group by id.
func (c *NetworkClient) GetSecurityGroup(ctx context.Context, id string) (*driver.SecurityGroup, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/security-groups/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, err := groups.Get(c.client, id).Extract()
	if err != nil {
		return nil, translate(err)
	}

	rules := make([]driver.SecurityGroupRule, 0, len(result.Rules))

	for _, rule := range result.Rules {
		rules = append(rules, driver.SecurityGroupRule{
			Direction:      rule.Direction,
			EtherType:      rule.EtherType,
			Protocol:       rule.Protocol,
			PortRangeMin:   rule.PortRangeMin,
			PortRangeMax:   rule.PortRangeMax,
			RemoteIPPrefix: rule.RemoteIPPrefix,
			RemoteGroupID:  rule.RemoteGroupID,
		})
	}

	out := &driver.SecurityGroup{
		ID:    result.ID,
		Name:  result.Name,
		Rules: rules,
	}

	return out, nil
}

// GetFloatingIP looks up a floating IP by id.
func (c *NetworkClient) GetFloatingIP(ctx context.Context, id string) (*driver.FloatingIP, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/floatingips/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, err := floatingips.Get(c.client, id).Extract()
	if err != nil {
		return nil, translate(err)
	}

	out := &driver.FloatingIP{
		ID:                result.ID,
		FloatingIPAddress: result.FloatingIP,
		FloatingNetworkID: result.FloatingNetworkID,
		FixedIPAddress:    result.FixedIP,
		PortID:            result.PortID,
	}

	return out, nil
}

// AssociateFloatingIP binds a floating IP to a port, optionally at a
// specific fixed address.
func (c *NetworkClient) AssociateFloatingIP(ctx context.Context, id, portID, fixedIP string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/floatingips/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := floatingips.UpdateOpts{
		PortID:  &portID,
		FixedIP: fixedIP,
	}

	_, err := floatingips.Update(c.client, id, opts).Extract()

	return translate(err)
}

// DisassociateFloatingIP unbinds a floating IP.  A nil port id marshals
// as null, which is how the API spells disassociation.
func (c *NetworkClient) DisassociateFloatingIP(ctx context.Context, id string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/floatingips/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	_, err := floatingips.Update(c.client, id, floatingips.UpdateOpts{}).Extract()

	return translate(err)
}
