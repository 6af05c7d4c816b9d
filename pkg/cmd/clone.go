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

type cloneOptions struct {
	// planID identifies the plan to deploy.
	planID string

	// destination is the availability zone the copy lands in.
	destination string

	// azMap maps further source zones onto destination zones for multi
	// zone workloads.
	azMap map[string]string

	// sysClone clones system disks live instead of substituting a stock
	// image.
	sysClone bool

	// noCopyData skips the block level data copy.
	noCopyData bool

	// export builds the template as part of the run, for plans that have
	// not been exported yet.
	export bool

	// factory builds the API client.
	factory *util.ClientFactory
}

// addFlags registers clone options flags with the specified cobra command.
func (o *cloneOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.destination, "destination", "", "Destination availability zone.")
	cmd.Flags().StringToStringVar(&o.azMap, "az-map", nil, "Source to destination availability zone map.")
	cmd.Flags().BoolVar(&o.sysClone, "sys-clone", false, "Clone system disks live.")
	cmd.Flags().BoolVar(&o.noCopyData, "no-copy-data", false, "Skip the block level data copy.")
	cmd.Flags().BoolVar(&o.export, "export", false, "Export the template before cloning.")

	if err := cmd.MarkFlagRequired("destination"); err != nil {
		panic(err)
	}
}

// complete fills in any options not does automatically by flag parsing.
func (o *cloneOptions) complete(factory *util.ClientFactory, args []string) error {
	o.factory = factory

	if len(args) != 1 {
		return errors.ErrIncorrectArgumentNum
	}

	o.planID = args[0]

	return nil
}

// run executes the command.
func (o *cloneOptions) run(cmd *cobra.Command) error {
	opts := &orchestrate.CloneOpts{
		DestinationAZ:       o.destination,
		SysClone:            o.sysClone,
		AvailabilityZoneMap: o.azMap,
	}

	if o.noCopyData {
		copyData := false
		opts.CopyData = &copyData
	}

	if err := o.factory.Client().Clone(cmd.Context(), o.planID, opts, o.export); err != nil {
		return err
	}

	fmt.Printf("clone of plan %s accepted\n", o.planID)

	return nil
}

var (
	//nolint:gochecknoglobals
	cloneExample = util.TemplatedExample(`
	# Clone a previously exported plan into the az-west zone.
	{{.Application}} clone my-plan-id --destination az-west

	# Export and clone in one shot, without copying volume data.
	{{.Application}} clone my-plan-id --destination az-west --export --no-copy-data`)
)

// newCloneCommand returns a command that deploys a clone plan.  The server
// accepts the run and continues in the background, poll the plan status
// to follow it.
func newCloneCommand(factory *util.ClientFactory) *cobra.Command {
	o := &cloneOptions{}

	cmd := &cobra.Command{
		Use:     "clone [flags] plan-id",
		Short:   "Clone a captured workload.",
		Long:    "Clone a captured workload.",
		Example: cloneExample,
		Run: func(cmd *cobra.Command, args []string) {
			util.AssertNilError(o.complete(factory, args))
			util.AssertNilError(o.run(cmd))
		},
	}

	o.addFlags(cmd)

	return cmd
}
