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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eschercloudai/caravel/pkg/agent"
	"github.com/eschercloudai/caravel/pkg/constants"
	"github.com/eschercloudai/caravel/pkg/manager"
	"github.com/eschercloudai/caravel/pkg/orchestrate"
	"github.com/eschercloudai/caravel/pkg/providers/openstack"
	"github.com/eschercloudai/caravel/pkg/server"
	"github.com/eschercloudai/caravel/pkg/storage"
	"github.com/eschercloudai/caravel/pkg/util/namedlock"
	"github.com/eschercloudai/caravel/pkg/vgw"
)

// options collects everything main needs that isn't owned by the server.
type options struct {
	// cloud selects an entry in clouds.yaml.  When set it wins over the
	// application credential flags.
	cloud string

	// endpoint, applicationCredentialID and applicationCredentialSecret
	// authenticate directly against Keystone when no clouds.yaml is
	// available e.g. in a container.
	endpoint                    string
	applicationCredentialID     string
	applicationCredentialSecret string

	// dataDir is where the plan database lives.
	dataDir string

	// planExpireTime ages out finished plans.
	planExpireTime time.Duration

	// gateways are "zone=server-id:host" registrations of the data copy
	// gateway VMs, repeatable.
	gateways []string

	// gatewayPort is the port the gateway agents listen on.
	gatewayPort int
}

func (o *options) addFlags(f *pflag.FlagSet) {
	f.StringVar(&o.cloud, "cloud", "", "Cloud config to use from clouds.yaml.")
	f.StringVar(&o.endpoint, "os-endpoint", "", "Keystone endpoint, used with application credentials.")
	f.StringVar(&o.applicationCredentialID, "os-application-credential-id", "", "Application credential id.")
	f.StringVar(&o.applicationCredentialSecret, "os-application-credential-secret", "", "Application credential secret.")
	f.StringVar(&o.dataDir, "data-dir", "/var/lib/caravel", "Directory holding the plan database.")
	f.DurationVar(&o.planExpireTime, "plan-expire-time", time.Hour, "How long plans are retained, advisory.")
	f.StringArrayVar(&o.gateways, "vgw", nil, "Gateway VM registration as zone=server-id:host, repeatable.")
	f.IntVar(&o.gatewayPort, "vgw-api-port", 9998, "Port the gateway agents listen on.")
}

func (o *options) provider() (openstack.Provider, error) {
	if o.cloud != "" {
		return openstack.NewCloudsProvider(o.cloud), nil
	}

	if o.endpoint != "" && o.applicationCredentialID != "" {
		return openstack.NewApplicationCredentialProvider(o.endpoint, o.applicationCredentialID, o.applicationCredentialSecret), nil
	}

	return nil, errors.New("no cloud credentials provided, see --cloud and --os-endpoint")
}

// main is the entry point to server.
func main() {
	// Initialize components with flags, then parse them.
	s := &server.Server{}
	s.AddFlags(pflag.CommandLine)

	o := &options{}
	o.addFlags(pflag.CommandLine)

	pflag.Parse()

	// Get logging going first, log sinks will expect JSON formatted output for everything.
	s.SetupLogging()

	logger := log.Log.WithName(constants.Application)

	// Hello World!
	logger.Info("service starting", "application", constants.Application, "version", constants.Version, "revision", constants.Revision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.SetupOpenTelemetry(ctx); err != nil {
		logger.Error(err, "failed to setup tracing")

		return
	}

	provider, err := o.provider()
	if err != nil {
		logger.Error(err, "failed to select a cloud provider")

		return
	}

	driver, err := openstack.NewDriver(provider)
	if err != nil {
		logger.Error(err, "failed to authenticate against the cloud")

		return
	}

	store, err := storage.NewBoltStore(o.dataDir)
	if err != nil {
		logger.Error(err, "failed to open the plan database")

		return
	}

	defer store.Close()

	gateways := vgw.NewPool(o.gatewayPort)

	for _, spec := range o.gateways {
		zone, gateway, err := vgw.ParseSpec(spec)
		if err != nil {
			logger.Error(err, "failed to parse gateway registration", "spec", spec)

			return
		}

		gateways.Add(zone, gateway)
	}

	// Plan writes and run claims serialize on a shared lock table.
	locks := namedlock.New()

	orchestrator, err := orchestrate.New(store, driver, agent.New(), gateways, locks, &s.OrchestratorOptions)
	if err != nil {
		logger.Error(err, "failed to create the orchestrator")

		return
	}

	httpServer, err := s.GetServer(manager.New(store, driver, o.planExpireTime, locks), orchestrator)
	if err != nil {
		logger.Error(err, "failed to create the server")

		return
	}

	// Register a signal handler to trigger a graceful shutdown.
	stop := make(chan os.Signal, 1)

	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-stop

		// In flight requests get until the write timeout to complete.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.Options.WriteTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "server shutdown failed")
		}

		cancel()
	}()

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err, "server died unexpectedly")
	}
}
