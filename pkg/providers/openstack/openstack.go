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

// Package openstack adapts an OpenStack cloud to the driver contract.
// Each service gets its own wrapped client because gophercloud is unsafe.
package openstack

import (
	goerrors "errors"
	"fmt"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/utils/openstack/clientconfig"

	"github.com/eschercloudai/caravel/pkg/driver"
	"github.com/eschercloudai/caravel/pkg/errors"
)

// authenticatedClient returns a provider client used to initialize service clients.
func authenticatedClient(options gophercloud.AuthOptions) (*gophercloud.ProviderClient, error) {
	client, err := openstack.AuthenticatedClient(options)
	if err != nil {
		return nil, err
	}

	return client, nil
}

// Provider abstracts authentication methods.
type Provider interface {
	// Client returns a new provider client.
	Client() (*gophercloud.ProviderClient, error)
}

// BasicProvider allows use of username and password.
// Think long and hard before you use this from a security perspective.
type BasicProvider struct {
	// endpoint is the Keystone endpoint to hit to get access to tokens
	// and the service catalog.
	endpoint string

	userID    string
	password  string
	projectID string
}

// Ensure the interface is implemented.
var _ Provider = &BasicProvider{}

func NewBasicProvider(endpoint, userID, password, projectID string) *BasicProvider {
	return &BasicProvider{
		endpoint:  endpoint,
		userID:    userID,
		password:  password,
		projectID: projectID,
	}
}

func (p *BasicProvider) Client() (*gophercloud.ProviderClient, error) {
	options := gophercloud.AuthOptions{
		IdentityEndpoint: p.endpoint,
		UserID:           p.userID,
		Password:         p.password,
		Scope: &gophercloud.AuthScope{
			ProjectID: p.projectID,
		},
	}

	return authenticatedClient(options)
}

// ApplicationCredentialProvider allows use of an application credential,
// the preferred way to run a long lived service.
type ApplicationCredentialProvider struct {
	// endpoint is the Keystone endpoint to hit to get access to tokens
	// and the service catalog.
	endpoint string

	id     string
	secret string
}

// Ensure the interface is implemented.
var _ Provider = &ApplicationCredentialProvider{}

func NewApplicationCredentialProvider(endpoint, id, secret string) *ApplicationCredentialProvider {
	return &ApplicationCredentialProvider{
		endpoint: endpoint,
		id:       id,
		secret:   secret,
	}
}

func (p *ApplicationCredentialProvider) Client() (*gophercloud.ProviderClient, error) {
	options := gophercloud.AuthOptions{
		IdentityEndpoint:            p.endpoint,
		ApplicationCredentialID:     p.id,
		ApplicationCredentialSecret: p.secret,
	}

	return authenticatedClient(options)
}

// CloudsProvider creates a client from clouds.yaml.
type CloudsProvider struct {
	// cloud is the key to lookup in clouds.yaml.
	cloud string
}

// Ensure the interface is implemented.
var _ Provider = &CloudsProvider{}

func NewCloudsProvider(cloud string) *CloudsProvider {
	return &CloudsProvider{
		cloud: cloud,
	}
}

// Client implements the Provider interface.
func (p *CloudsProvider) Client() (*gophercloud.ProviderClient, error) {
	clientOpts := &clientconfig.ClientOpts{
		Cloud: p.cloud,
	}

	options, err := clientconfig.AuthOptions(clientOpts)
	if err != nil {
		return nil, err
	}

	return authenticatedClient(*options)
}

// translate folds gophercloud's error zoo into the driver's sentinels so
// callers can react to a missing resource without knowing the transport.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var notFound gophercloud.ErrDefault404

	if goerrors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", errors.ErrResourceNotFound, err)
	}

	return err
}

// NewDriver assembles the per-service clients into a driver.
func NewDriver(provider Provider) (*driver.Driver, error) {
	compute, err := NewComputeClient(provider)
	if err != nil {
		return nil, err
	}

	blockStorage, err := NewBlockStorageClient(provider)
	if err != nil {
		return nil, err
	}

	network, err := NewNetworkClient(provider)
	if err != nil {
		return nil, err
	}

	heat, err := NewOrchestrationClient(provider)
	if err != nil {
		return nil, err
	}

	return &driver.Driver{
		Compute:      compute,
		BlockStorage: blockStorage,
		Network:      network,
		StackEngine:  heat,
	}, nil
}
