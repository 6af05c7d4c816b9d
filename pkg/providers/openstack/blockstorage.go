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

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/extensions/volumeactions"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/qos"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/volumetypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/driver"
)

// BlockStorageClient wraps the generic client because gophercloud is unsafe.
type BlockStorageClient struct {
	client *gophercloud.ServiceClient
}

// Ensure the driver contract is implemented.
var _ driver.BlockStorage = &BlockStorageClient{}

// NewBlockStorageClient provides a simple one-liner to start voluming.
func NewBlockStorageClient(provider Provider) (*BlockStorageClient, error) {
	providerClient, err := provider.Client()
	if err != nil {
		return nil, err
	}

	client, err := openstack.NewBlockStorageV3(providerClient, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}

	c := &BlockStorageClient{
		client: client,
	}

	return c, nil
}

// volumeTypeID resolves a volume type name to its id.  Volume bodies only
// carry the name, everything else in the system keys on ids.
func (c *BlockStorageClient) volumeTypeID(name string) (string, error) {
	if name == "" {
		return "", nil
	}

	page, err := volumetypes.List(c.client, &volumetypes.ListOpts{}).AllPages()
	if err != nil {
		return "", err
	}

	types, err := volumetypes.ExtractVolumeTypes(page)
	if err != nil {
		return "", err
	}

	for _, t := range types {
		if t.Name == name {
			return t.ID, nil
		}
	}

	return "", nil
}

// GetVolume looks up a volume by id.
func (c *BlockStorageClient) GetVolume(ctx context.Context, id string) (*driver.Volume, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/blockstorage/v3/volumes/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, err := volumes.Get(c.client, id).Extract()
	if err != nil {
		return nil, translate(err)
	}

	volumeTypeID, err := c.volumeTypeID(result.VolumeType)
	if err != nil {
		return nil, translate(err)
	}

	attachments := make([]driver.VolumeAttachment, 0, len(result.Attachments))

	for _, attachment := range result.Attachments {
		attachments = append(attachments, driver.VolumeAttachment{
			ServerID: attachment.ServerID,
			Device:   attachment.Device,
		})
	}

	out := &driver.Volume{
		ID:               result.ID,
		Name:             result.Name,
		Status:           result.Status,
		Size:             result.Size,
		AvailabilityZone: result.AvailabilityZone,
		VolumeTypeID:     volumeTypeID,
		Bootable:         result.Bootable == "true",
		Shareable:        result.Multiattach,
		Attachments:      attachments,
		Metadata:         result.Metadata,
	}

	return out, nil
}

// GetVolumeType looks up a volume type by id.
func (c *BlockStorageClient) GetVolumeType(ctx context.Context, id string) (*driver.VolumeType, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/blockstorage/v3/types/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, err := volumetypes.Get(c.client, id).Extract()
	if err != nil {
		return nil, translate(err)
	}

	out := &driver.VolumeType{
		ID:         result.ID,
		Name:       result.Name,
		QosSpecsID: result.QosSpecID,
	}

	return out, nil
}

// GetQosSpecs looks up QoS specs by id.
func (c *BlockStorageClient) GetQosSpecs(ctx context.Context, id string) (*driver.QosSpecs, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/blockstorage/v3/qos-specs/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, err := qos.Get(c.client, id).Extract()
	if err != nil {
		return nil, translate(err)
	}

	specs := make(map[string]string, len(result.Specs))

	for k, v := range result.Specs {
		specs[k] = v
	}

	out := &driver.QosSpecs{
		ID:    result.ID,
		Name:  result.Name,
		Specs: specs,
	}

	return out, nil
}

// SetVolumeShareable toggles multi-attach on an existing volume.  Upstream
// only honors the flag at creation time, the clouds this targets carry a
// vendor action for flipping it later, and gophercloud obviously has no
// binding, so we have to do it ourselves.
func (c *BlockStorageClient) SetVolumeShareable(ctx context.Context, id string, shareable bool) error {
	url := c.client.ServiceURL("volumes", id, "action")

	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, url, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body := map[string]interface{}{
		"os-update_shareable": map[string]interface{}{
			"shareable": shareable,
		},
	}

	//nolint:bodyclose
	_, err := c.client.Post(url, body, nil, &gophercloud.RequestOpts{
		OkCodes: []int{200, 202},
	})

	return translate(err)
}

// SetVolumeBootable toggles the bootable flag on a volume.
func (c *BlockStorageClient) SetVolumeBootable(ctx context.Context, id string, bootable bool) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/blockstorage/v3/volumes/"+id+"/action", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := volumeactions.BootableOpts{
		Bootable: bootable,
	}

	return translate(volumeactions.SetBootable(c.client, id, opts).ExtractErr())
}

// DeleteVolume deletes a volume.
func (c *BlockStorageClient) DeleteVolume(ctx context.Context, id string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/blockstorage/v3/volumes/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return translate(volumes.Delete(c.client, id, volumes.DeleteOpts{}).ExtractErr())
}

// ResetVolumeState forces a volume's status.
func (c *BlockStorageClient) ResetVolumeState(ctx context.Context, id, status string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/blockstorage/v3/volumes/"+id+"/action", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &volumeactions.ResetStatusOpts{
		Status: status,
	}

	return translate(volumeactions.ResetStatus(c.client, id, opts).ExtractErr())
}
