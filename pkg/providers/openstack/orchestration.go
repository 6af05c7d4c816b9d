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
	"sort"
	"strings"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stackevents"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stackresources"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/driver"
)

// OrchestrationClient wraps the generic client because gophercloud is unsafe.
type OrchestrationClient struct {
	client *gophercloud.ServiceClient
}

// Ensure the driver contract is implemented.
var _ driver.StackEngine = &OrchestrationClient{}

// NewOrchestrationClient provides a simple one-liner to start stacking.
func NewOrchestrationClient(provider Provider) (*OrchestrationClient, error) {
	providerClient, err := provider.Client()
	if err != nil {
		return nil, err
	}

	client, err := openstack.NewOrchestrationV1(providerClient, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}

	c := &OrchestrationClient{
		client: client,
	}

	return c, nil
}

// CreateStack submits a template and returns the new stack id.  We post
// the body ourselves because gophercloud's template options insist on
// resolving file references from local disk or the network, and the
// sibling documents only exist in the files map we already carry.
func (c *OrchestrationClient) CreateStack(ctx context.Context, opts *driver.StackCreateOpts) (string, error) {
	url := c.client.ServiceURL("stacks")

	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, url, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	raw, err := json.Marshal(opts.Template)
	if err != nil {
		return "", err
	}

	body := map[string]interface{}{
		"stack_name":       opts.Name,
		"template":         string(raw),
		"disable_rollback": opts.DisableRollback,
	}

	if len(opts.Files) != 0 {
		body["files"] = opts.Files
	}

	var result struct {
		Stack struct {
			ID string `json:"id"`
		} `json:"stack"`
	}

	//nolint:bodyclose
	_, err = c.client.Post(url, body, &result, &gophercloud.RequestOpts{
		OkCodes: []int{201},
	})
	if err != nil {
		return "", translate(err)
	}

	return result.Stack.ID, nil
}

// find resolves a bare stack id to the name and id pair the rest of the
// API insists on.
func (c *OrchestrationClient) find(id string) (*stacks.RetrievedStack, error) {
	stack, err := stacks.Find(c.client, id).Extract()
	if err != nil {
		return nil, translate(err)
	}

	return stack, nil
}

// GetStack reads a stack's status.
func (c *OrchestrationClient) GetStack(ctx context.Context, id string) (*driver.Stack, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/orchestration/v1/stacks/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	stack, err := c.find(id)
	if err != nil {
		return nil, err
	}

	out := &driver.Stack{
		ID:           stack.ID,
		Name:         stack.Name,
		Status:       stack.Status,
		StatusReason: stack.StatusReason,
	}

	return out, nil
}

// DeleteStack deletes a stack.
func (c *OrchestrationClient) DeleteStack(ctx context.Context, id string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/orchestration/v1/stacks/"+id, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	stack, err := c.find(id)
	if err != nil {
		return err
	}

	return translate(stacks.Delete(c.client, stack.Name, stack.ID).ExtractErr())
}

// GetResource reads one stack resource, mapping the template local name to
// the physical id it realized.
func (c *OrchestrationClient) GetResource(ctx context.Context, stackID, name string) (*driver.StackResource, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/orchestration/v1/stacks/"+stackID+"/resources/"+name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	stack, err := c.find(stackID)
	if err != nil {
		return nil, err
	}

	resource, err := stackresources.Get(c.client, stack.Name, stack.ID, name).Extract()
	if err != nil {
		return nil, translate(err)
	}

	out := &driver.StackResource{
		Name:       resource.Name,
		PhysicalID: resource.PhysicalID,
		Type:       resource.Type,
		Status:     resource.Status,
	}

	return out, nil
}

// GetResourceType returns the property schema for a resource type.  The
// engine capitalizes type names, the validator keys on lower case.
func (c *OrchestrationClient) GetResourceType(ctx context.Context, name string) (map[string]driver.PropertySchema, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/orchestration/v1/resource_types/"+name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	schema, err := stackresources.Schema(c.client, name).Extract()
	if err != nil {
		return nil, translate(err)
	}

	return convertSchema(schema.Properties), nil
}

func convertSchema(in map[string]interface{}) map[string]driver.PropertySchema {
	out := make(map[string]driver.PropertySchema, len(in))

	for name, raw := range in {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		entry := driver.PropertySchema{}

		if t, ok := prop["type"].(string); ok {
			entry.Type = strings.ToLower(t)
		}

		entry.Required, _ = prop["required"].(bool)
		entry.UpdateAllowed, _ = prop["update_allowed"].(bool)

		if nested, ok := prop["schema"].(map[string]interface{}); ok {
			entry.Schema = convertSchema(nested)
		}

		out[name] = entry
	}

	return out
}

// ListEvents lists a stack's events, newest last.
func (c *OrchestrationClient) ListEvents(ctx context.Context, stackID string) ([]*driver.StackEvent, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/orchestration/v1/stacks/"+stackID+"/events", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	stack, err := c.find(stackID)
	if err != nil {
		return nil, err
	}

	page, err := stackevents.List(c.client, stack.Name, stack.ID, nil).AllPages()
	if err != nil {
		return nil, translate(err)
	}

	events, err := stackevents.ExtractEvents(page)
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})

	out := make([]*driver.StackEvent, 0, len(events))

	for _, event := range events {
		out = append(out, &driver.StackEvent{
			ResourceName: event.ResourceName,
			Status:       event.ResourceStatus,
			StatusReason: event.ResourceStatusReason,
		})
	}

	return out, nil
}
