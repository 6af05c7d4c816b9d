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

// Package client is the HTTP client for the caravel API, used by the
// command line tooling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/manager"
	"github.com/eschercloudai/caravel/pkg/mutation"
	"github.com/eschercloudai/caravel/pkg/orchestrate"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/template"
)

// ErrAPI is raised when the API reports a failure.
var ErrAPI = errors.New("api error")

// Client talks to a caravel server.
type Client struct {
	client   *retryablehttp.Client
	endpoint string
}

// New returns a client for the given endpoint.  Only connection level
// failures retry, the API's verbs are not all idempotent.
func New(endpoint string) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.CheckRetry = retryablehttp.DefaultRetryPolicy

	return &Client{
		client:   client,
		endpoint: endpoint,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrAPI, err)
		}

		payload = bytes.NewReader(data)
	}

	request, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint+path, payload)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAPI, err)
	}

	request.Header.Set("User-Agent", constants.VersionString())

	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAPI, err)
	}

	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		// Failures carry a description in the body.
		var detail struct {
			Description string `json:"description"`
		}

		if err := json.NewDecoder(response.Body).Decode(&detail); err != nil || detail.Description == "" {
			return fmt.Errorf("%w: %s %s returned %d", ErrAPI, method, path, response.StatusCode)
		}

		return fmt.Errorf("%w: %s", ErrAPI, detail.Description)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s", ErrAPI, err)
	}

	return nil
}

type planEnvelope struct {
	Plan *plan.Plan `json:"plan"`
}

// CreatePlan extracts a new plan from live cloud resources.
func (c *Client) CreatePlan(ctx context.Context, opts *manager.CreateOpts) (*plan.Plan, error) {
	return c.createPlan(ctx, opts, nil)
}

// CreatePlanFromTemplate imports a plan from a previously exported template.
func (c *Client) CreatePlanFromTemplate(ctx context.Context, opts *manager.CreateOpts, t *template.Template) (*plan.Plan, error) {
	return c.createPlan(ctx, opts, t)
}

func (c *Client) createPlan(ctx context.Context, opts *manager.CreateOpts, t *template.Template) (*plan.Plan, error) {
	body := map[string]interface{}{
		"plan": struct {
			*manager.CreateOpts
			Template *template.Template `json:"template,omitempty"`
		}{
			CreateOpts: opts,
			Template:   t,
		},
	}

	var out planEnvelope

	if err := c.do(ctx, http.MethodPost, "/v1/plans", body, &out); err != nil {
		return nil, err
	}

	return out.Plan, nil
}

// ListPlans returns every live plan, in summary form.
func (c *Client) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	var out struct {
		Plans []*plan.Plan `json:"plans"`
	}

	if err := c.do(ctx, http.MethodGet, "/v1/plans", nil, &out); err != nil {
		return nil, err
	}

	return out.Plans, nil
}

// GetPlan returns a single plan, with resource graphs when detail is set.
func (c *Client) GetPlan(ctx context.Context, planID string, detail bool) (*plan.Plan, error) {
	path := "/v1/plans/" + planID
	if detail {
		path += "?detail=true"
	}

	var out planEnvelope

	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	return out.Plan, nil
}

// UpdatePlan updates whitelisted plan fields.
func (c *Client) UpdatePlan(ctx context.Context, planID string, fields map[string]interface{}) (*plan.Plan, error) {
	var out planEnvelope

	if err := c.do(ctx, http.MethodPut, "/v1/plans/"+planID, map[string]interface{}{"plan": fields}, &out); err != nil {
		return nil, err
	}

	return out.Plan, nil
}

// DeletePlan soft deletes a plan, cascading to its stack.
func (c *Client) DeletePlan(ctx context.Context, planID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/plans/"+planID, nil, nil)
}

// ForceDeletePlan removes a plan outright, skipping the stack cascade.
func (c *Client) ForceDeletePlan(ctx context.Context, planID string) error {
	body := map[string]interface{}{
		"plan-delete-resource": map[string]interface{}{},
	}

	return c.do(ctx, http.MethodPost, "/v1/plans/"+planID+"/action", body, nil)
}

// ResetState forces the plan status, clearing a stuck orchestration.
func (c *Client) ResetState(ctx context.Context, planID string, status plan.Status) (*plan.Plan, error) {
	body := map[string]interface{}{
		"os-reset_state": map[string]interface{}{"plan_status": status},
	}

	var out planEnvelope

	if err := c.do(ctx, http.MethodPost, "/v1/plans/"+planID+"/action", body, &out); err != nil {
		return nil, err
	}

	return out.Plan, nil
}

// DownloadTemplate returns the plan's exported template.
func (c *Client) DownloadTemplate(ctx context.Context, planID string) (*template.Template, error) {
	body := map[string]interface{}{
		"download_template": map[string]interface{}{},
	}

	var out struct {
		Template *template.Template `json:"template"`
	}

	if err := c.do(ctx, http.MethodPost, "/v1/plans/"+planID+"/action", body, &out); err != nil {
		return nil, err
	}

	return out.Template, nil
}

// UpdateResources applies resource edits to the plan.
func (c *Client) UpdateResources(ctx context.Context, planID string, edits []mutation.Edit) (*plan.Plan, error) {
	body := map[string]interface{}{
		"update_plan_resources": map[string]interface{}{"resources": edits},
	}

	var out planEnvelope

	if err := c.do(ctx, http.MethodPost, "/v1/plans/"+planID+"/action", body, &out); err != nil {
		return nil, err
	}

	return out.Plan, nil
}

type execution struct {
	orchestrate.CloneOpts

	PlanID string `json:"plan_id"`
}

// Clone kicks off a clone run.  The call returns as soon as the server
// accepts it; failures land on the plan status.
func (c *Client) Clone(ctx context.Context, planID string, opts *orchestrate.CloneOpts, export bool) error {
	operation := "clone"
	if export {
		operation = "export_template_and_clone"
	}

	body := map[string]interface{}{
		operation: &execution{CloneOpts: *opts, PlanID: planID},
	}

	return c.do(ctx, http.MethodPost, "/v1/clones", body, nil)
}

// Migrate kicks off a migrate run.
func (c *Client) Migrate(ctx context.Context, planID string, opts *orchestrate.MigrateOpts) error {
	body := map[string]interface{}{
		"migrate": struct {
			orchestrate.MigrateOpts

			PlanID string `json:"plan_id"`
		}{
			MigrateOpts: *opts,
			PlanID:      planID,
		},
	}

	return c.do(ctx, http.MethodPost, "/v1/migrates", body, nil)
}

// Export builds and stores the plan's template without deploying it.
func (c *Client) Export(ctx context.Context, planID string, sysClone, copyData, migrate bool) error {
	path, operation := "/v1/clones", "export_clone_template"
	if migrate {
		path, operation = "/v1/migrates", "export_migrate_template"
	}

	body := map[string]interface{}{
		operation: map[string]interface{}{
			"plan_id":   planID,
			"sys_clone": sysClone,
			"copy_data": copyData,
		},
	}

	return c.do(ctx, http.MethodPost, path, body, nil)
}
