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

// Package vgw allocates gateway VMs, the helpers that attach source
// volumes and host the data copy agent.  Allocation is round robin per
// availability zone within one process; multi instance deployments shard
// plans across processes so no distributed allocation is needed.
package vgw

import (
	"fmt"
	"strings"
	"sync"

	"github.com/eschercloudai/caravel/pkg/errors"
)

// Gateway is one registered gateway VM.
type Gateway struct {
	// ID is the server id of the gateway VM.
	ID string

	// Host is the address the agent listens on.
	Host string
}

// URL renders the agent endpoint for the given listen port.
func (g *Gateway) URL(port int) string {
	return fmt.Sprintf("http://%s:%d", g.Host, port)
}

// Pool hands out gateways per availability zone.
type Pool struct {
	mu       sync.Mutex
	gateways map[string][]Gateway
	cursor   map[string]int
	port     int
}

// NewPool returns an empty pool whose gateways listen on the given port.
func NewPool(port int) *Pool {
	return &Pool{
		gateways: map[string][]Gateway{},
		cursor:   map[string]int{},
		port:     port,
	}
}

// Add registers a gateway in an availability zone.
func (p *Pool) Add(az string, gateway Gateway) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gateways[az] = append(p.gateways[az], gateway)
}

// Next returns the next gateway for the zone, round robin.
func (p *Pool) Next(az string) (*Gateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	gateways := p.gateways[az]
	if len(gateways) == 0 {
		return nil, fmt.Errorf("%w: no gateway registered in zone %q", errors.ErrAvailabilityZoneNotFound, az)
	}

	gateway := gateways[p.cursor[az]%len(gateways)]
	p.cursor[az]++

	return &gateway, nil
}

// Port returns the agent listen port.
func (p *Pool) Port() int {
	return p.port
}

// ParseSpec parses a gateway registration of the form
// "zone=server-id:host" as accepted on the command line.
func ParseSpec(spec string) (string, Gateway, error) {
	zone, endpoint, ok := strings.Cut(spec, "=")
	if !ok {
		return "", Gateway{}, fmt.Errorf("%w: gateway spec %q has no zone", errors.ErrGateway, spec)
	}

	id, host, ok := strings.Cut(endpoint, ":")
	if !ok || id == "" || host == "" {
		return "", Gateway{}, fmt.Errorf("%w: gateway spec %q needs server-id:host", errors.ErrGateway, spec)
	}

	return zone, Gateway{ID: id, Host: host}, nil
}
