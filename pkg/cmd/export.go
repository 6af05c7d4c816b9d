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
)

type exportOptions struct {
	// planID identifies the plan to export.
	planID string

	// sysClone marks system disks for live cloning in the template.
	sysClone bool

	// noCopyData disables the data copy annotations.
	noCopyData bool

	// migrate exports through the migrate surface for migrate plans.
	migrate bool

	// factory builds the API client.
	factory *util.ClientFactory
}

// addFlags registers export options flags with the specified cobra command.
func (o *exportOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.sysClone, "sys-clone", false, "Mark system disks for live cloning.")
	cmd.Flags().BoolVar(&o.noCopyData, "no-copy-data", false, "Skip the block level data copy.")
	cmd.Flags().BoolVar(&o.migrate, "migrate", false, "Export a migrate plan.")
}

// complete fills in any options not does automatically by flag parsing.
func (o *exportOptions) complete(factory *util.ClientFactory, args []string) error {
	o.factory = factory

	if len(args) != 1 {
		return errors.ErrIncorrectArgumentNum
	}

	o.planID = args[0]

	return nil
}

// run executes the command.
func (o *exportOptions) run(cmd *cobra.Command) error {
	if err := o.factory.Client().Export(cmd.Context(), o.planID, o.sysClone, !o.noCopyData, o.migrate); err != nil {
		return err
	}

	fmt.Printf("export of plan %s accepted\n", o.planID)

	return nil
}

var (
	//nolint:gochecknoglobals
	exportExample = util.TemplatedExample(`
	# Build and store a plan's template without deploying anything.
	{{.Application}} export my-plan-id

	# Fetch it once the plan reports available.
	{{.Application}} get template my-plan-id`)
)

// newExportCommand returns a command that builds a plan's template.
func newExportCommand(factory *util.ClientFactory) *cobra.Command {
	o := &exportOptions{}

	cmd := &cobra.Command{
		Use:     "export [flags] plan-id",
		Short:   "Export a plan's deployment template.",
		Long:    "Export a plan's deployment template.",
		Example: exportExample,
		Run: func(cmd *cobra.Command, args []string) {
			util.AssertNilError(o.complete(factory, args))
			util.AssertNilError(o.run(cmd))
		},
	}

	o.addFlags(cmd)

	return cmd
}
