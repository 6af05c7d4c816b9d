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

package get

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eschercloudai/caravel/pkg/cmd/util"
	"github.com/eschercloudai/caravel/pkg/plan"
)

type getPlanOptions struct {
	// planIDs allows explicit filtering, empty lists everything.
	planIDs []string

	// detail includes the resource graphs in the output.
	detail bool

	// getPrintFlags is a generic and reduced set of printing options.
	getPrintFlags *getPrintFlags

	// factory builds the API client.
	factory *util.ClientFactory
}

// newGetPlanOptions returns a correctly initialized set of options.
func newGetPlanOptions() *getPlanOptions {
	return &getPlanOptions{
		getPrintFlags: &getPrintFlags{},
	}
}

func (o *getPlanOptions) addFlags(cmd *cobra.Command) {
	o.getPrintFlags.addFlags(cmd)

	cmd.Flags().BoolVar(&o.detail, "detail", false, "Include the plan's resource graphs.")
}

// complete fills in any options not does automatically by flag parsing.
func (o *getPlanOptions) complete(factory *util.ClientFactory, args []string) error {
	o.factory = factory
	o.planIDs = args

	return nil
}

// validate validates any tainted input not handled by complete() or flags
// processing.
func (o *getPlanOptions) validate() error {
	return o.getPrintFlags.validate()
}

// run executes the command.
func (o *getPlanOptions) run(cmd *cobra.Command) error {
	client := o.factory.Client()

	var plans []*plan.Plan

	if len(o.planIDs) == 0 {
		var err error

		if plans, err = client.ListPlans(cmd.Context()); err != nil {
			return err
		}
	} else {
		for _, planID := range o.planIDs {
			p, err := client.GetPlan(cmd.Context(), planID, o.detail)
			if err != nil {
				return err
			}

			plans = append(plans, p)
		}
	}

	var object interface{} = plans

	if len(o.planIDs) == 1 {
		object = plans[0]
	}

	if done, err := o.getPrintFlags.print(object); done {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)

	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tTASK\tCREATED")

	for _, p := range plans {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Type, p.Status, p.TaskStatus, p.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	return w.Flush()
}

var (
	//nolint:gochecknoglobals
	getPlanExample = util.TemplatedExample(`
	# List all plans.
	{{.Application}} get plan

	# Get a single plan with its resource graphs, as YAML.
	{{.Application}} get plan my-plan-id --detail -o yaml`)
)

// newGetPlanCommand returns a command that is able to get or list plans.
func newGetPlanCommand(factory *util.ClientFactory) *cobra.Command {
	o := newGetPlanOptions()

	cmd := &cobra.Command{
		Use:     "plan [plan-id...]",
		Short:   "Get or list plans.",
		Long:    "Get or list plans.",
		Example: getPlanExample,
		Aliases: []string{
			"plans",
		},
		Run: func(cmd *cobra.Command, args []string) {
			util.AssertNilError(o.complete(factory, args))
			util.AssertNilError(o.validate())
			util.AssertNilError(o.run(cmd))
		},
	}

	o.addFlags(cmd)

	return cmd
}
