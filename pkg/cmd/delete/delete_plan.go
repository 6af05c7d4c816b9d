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

package delete

import (
	"github.com/spf13/cobra"

	"github.com/eschercloudai/caravel/pkg/cmd/errors"
	"github.com/eschercloudai/caravel/pkg/cmd/util"
)

type deletePlanOptions struct {
	// planIDs are the plans to delete.
	planIDs []string

	// force removes the plan record without cascading to its stack,
	// for plans whose cloud resources are already gone.
	force bool

	// factory builds the API client.
	factory *util.ClientFactory
}

// addFlags registers delete plan options flags with the specified cobra command.
func (o *deletePlanOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.force, "force", false, "Remove the plan record without touching the cloud.")
}

// complete fills in any options not does automatically by flag parsing.
func (o *deletePlanOptions) complete(factory *util.ClientFactory, args []string) error {
	o.factory = factory

	if len(args) == 0 {
		return errors.ErrIncorrectArgumentNum
	}

	o.planIDs = args

	return nil
}

// run executes the command.
func (o *deletePlanOptions) run(cmd *cobra.Command) error {
	client := o.factory.Client()

	for _, planID := range o.planIDs {
		var err error

		if o.force {
			err = client.ForceDeletePlan(cmd.Context(), planID)
		} else {
			err = client.DeletePlan(cmd.Context(), planID)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

var (
	//nolint:gochecknoglobals
	deletePlanExample = util.TemplatedExample(`
	# Delete a plan and its deployed stack.
	{{.Application}} delete plan my-plan-id

	# Drop a stuck plan record, leaving the cloud alone.
	{{.Application}} delete plan my-plan-id --force`)
)

// newDeletePlanCommand creates a command that can delete plans.
func newDeletePlanCommand(factory *util.ClientFactory) *cobra.Command {
	o := &deletePlanOptions{}

	cmd := &cobra.Command{
		Use:     "plan [flags] plan-id...",
		Short:   "Delete a plan.",
		Long:    "Delete a plan.",
		Example: deletePlanExample,
		Aliases: []string{
			"plans",
		},
		Run: func(cmd *cobra.Command, args []string) {
			util.AssertNilError(o.complete(factory, args))
			util.AssertNilError(o.run(cmd))
		},
	}

	o.addFlags(cmd)

	return cmd
}
