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

// Package agent is the HTTP client for the in-guest data copy service
// hosted on gateway VMs.  Requests retry with backoff; the gateway sits
// at the far end of a freshly attached network path and the first probes
// routinely fail.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/errors"
)

// Client talks to gateway agents.  One client serves every gateway, the
// endpoint URL is supplied per call.
type Client struct {
	client *retryablehttp.Client
}

// New returns a client with sane retry defaults.
func New() *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	return &Client{client: client}
}

func (c *Client) do(ctx context.Context, method, gatewayURL, path string, query url.Values, body, out interface{}) error {
	endpoint := gatewayURL + path
	if len(query) != 0 {
		endpoint += "?" + query.Encode()
	}

	var payload io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %s", errors.ErrGateway, err)
		}

		payload = bytes.NewReader(data)
	}

	request, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("%w: %s", errors.ErrGateway, err)
	}

	request.Header.Set("User-Agent", constants.VersionString())

	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %s", errors.ErrGateway, err)
	}

	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s %s returned %d", errors.ErrGateway, method, path, response.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrGateway, err)
	}

	return nil
}

// GetDiskName implements driver.Agent.
func (c *Client) GetDiskName(ctx context.Context, gatewayURL string) ([]string, error) {
	var out struct {
		Devices []string `json:"devices"`
	}

	if err := c.do(ctx, http.MethodGet, gatewayURL, "/v1/disks", nil, nil, &out); err != nil {
		return nil, err
	}

	return out.Devices, nil
}

// GetDiskFormat implements driver.Agent.
func (c *Client) GetDiskFormat(ctx context.Context, gatewayURL, device string) (string, error) {
	var out struct {
		Format string `json:"format"`
	}

	query := url.Values{"device": []string{device}}

	if err := c.do(ctx, http.MethodGet, gatewayURL, "/v1/disks/format", query, nil, &out); err != nil {
		return "", err
	}

	return out.Format, nil
}

// GetDiskMountPoint implements driver.Agent.
func (c *Client) GetDiskMountPoint(ctx context.Context, gatewayURL, device string) (string, error) {
	var out struct {
		MountPoint string `json:"mount_point"`
	}

	query := url.Values{"device": []string{device}}

	if err := c.do(ctx, http.MethodGet, gatewayURL, "/v1/disks/mount_point", query, nil, &out); err != nil {
		return "", err
	}

	return out.MountPoint, nil
}

// ForceMountDisk implements driver.Agent.
func (c *Client) ForceMountDisk(ctx context.Context, gatewayURL, device, mountPoint string) error {
	body := map[string]string{
		"device":      device,
		"mount_point": mountPoint,
	}

	return c.do(ctx, http.MethodPost, gatewayURL, "/v1/disks/mount", nil, body, nil)
}

// CloneVolume implements driver.Agent.
func (c *Client) CloneVolume(ctx context.Context, gatewayURL string, opts *driver.CloneVolumeOpts) (string, error) {
	body := map[string]string{
		"src_dev":     opts.SrcDev,
		"dest_dev":    opts.DestDev,
		"src_gw_url":  opts.SrcGatewayURL,
		"format":      opts.Format,
		"mount_point": opts.MountPoint,
	}

	var out struct {
		TaskID string `json:"task_id"`
	}

	if err := c.do(ctx, http.MethodPost, gatewayURL, "/v1/clone_volume", nil, body, &out); err != nil {
		return "", err
	}

	return out.TaskID, nil
}

// GetDataTransStatus implements driver.Agent.
func (c *Client) GetDataTransStatus(ctx context.Context, gatewayURL, taskID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}

	if err := c.do(ctx, http.MethodGet, gatewayURL, "/v1/clone_volume/"+taskID, nil, nil, &out); err != nil {
		return "", err
	}

	return out.Status, nil
}
