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

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eschercloudai/caravel/pkg/cmd/errors"
	"github.com/eschercloudai/caravel/pkg/cmd/util"
	"github.com/eschercloudai/caravel/pkg/orchestrate"
)

type migrateOptions struct {
	// planID identifies the plan to deploy.
	planID string

	// destination is the availability zone the workload moves to.
	destination string

	// azMap maps further source zones onto destination zones for multi
	// zone workloads.
	azMap map[string]string

	// factory builds the API client.
	factory *util.ClientFactory
}

// addFlags registers migrate options flags with the specified cobra command.
func (o *migrateOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.destination, "destination", "", "Destination availability zone.")
	cmd.Flags().StringToStringVar(&o.azMap, "az-map", nil, "Source to destination availability zone map.")

	if err := cmd.MarkFlagRequired("destination"); err != nil {
		panic(err)
	}
}

// complete fills in any options not does automatically by flag parsing.
func (o *migrateOptions) complete(factory *util.ClientFactory, args []string) error {
	o.factory = factory

	if len(args) != 1 {
		return errors.ErrIncorrectArgumentNum
	}

	o.planID = args[0]

	return nil
}

// run executes the command.
func (o *migrateOptions) run(cmd *cobra.Command) error {
	opts := &orchestrate.MigrateOpts{
		DestinationAZ:       o.destination,
		AvailabilityZoneMap: o.azMap,
	}

	if err := o.factory.Client().Migrate(cmd.Context(), o.planID, opts); err != nil {
		return err
	}

	fmt.Printf("migration of plan %s accepted\n", o.planID)

	return nil
}

var (
	//nolint:gochecknoglobals
	migrateExample = util.TemplatedExample(`
	# Move a workload to the az-west zone.  The source is retired once
	# the copy is up.
	{{.Application}} migrate my-plan-id --destination az-west`)
)

// newMigrateCommand returns a command that deploys a migrate plan.
func newMigrateCommand(factory *util.ClientFactory) *cobra.Command {
	o := &migrateOptions{}

	cmd := &cobra.Command{
		Use:     "migrate [flags] plan-id",
		Short:   "Migrate a captured workload.",
		Long:    "Migrate a captured workload.",
		Example: migrateExample,
		Run: func(cmd *cobra.Command, args []string) {
			util.AssertNilError(o.complete(factory, args))
			util.AssertNilError(o.run(cmd))
		},
	}

	o.addFlags(cmd)

	return cmd
}
