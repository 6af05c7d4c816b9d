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

package create

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/eschercloudai/caravel/pkg/cmd/errors"
	"github.com/eschercloudai/caravel/pkg/cmd/util"
	"github.com/eschercloudai/caravel/pkg/manager"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/template"
)

type createPlanOptions struct {
	// name is an optional display name for the plan.
	name string

	// planType selects clone or migrate.
	planType string

	// projectID and userID attribute the plan.
	projectID string
	userID    string

	// resources are "type=id" references to live cloud resources, e.g.
	// "OS::Nova::Server=<uuid>".
	resources []string

	// templatePath imports a previously exported template instead of
	// extracting from the cloud.
	templatePath string

	// factory builds the API client.
	factory *util.ClientFactory
}

// addFlags registers create plan options flags with the specified cobra command.
func (o *createPlanOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.planType, "type", "clone", "Plan type, clone or migrate.")
	cmd.Flags().StringVar(&o.projectID, "project", "", "Project the plan belongs to.")
	cmd.Flags().StringVar(&o.userID, "user", "", "User the plan belongs to.")
	cmd.Flags().StringArrayVar(&o.resources, "resource", nil, "Root resource as type=id, repeatable.")
	cmd.Flags().StringVar(&o.templatePath, "template", "", "Import from an exported template file.")
}

// complete fills in any options not does automatically by flag parsing.
func (o *createPlanOptions) complete(factory *util.ClientFactory, args []string) error {
	o.factory = factory

	if len(args) > 1 {
		return errors.ErrIncorrectArgumentNum
	}

	if len(args) == 1 {
		o.name = args[0]
	}

	return nil
}

// validate validates any tainted input not handled by complete() or flags
// processing.
func (o *createPlanOptions) validate() error {
	if len(o.resources) == 0 && o.templatePath == "" {
		return fmt.Errorf("%w: a plan needs --resource or --template", errors.ErrInvalidResource)
	}

	for _, resource := range o.resources {
		kind, id, ok := strings.Cut(resource, "=")
		if !ok || id == "" || !plan.Kind(kind).Valid() {
			return fmt.Errorf("%w: %q", errors.ErrInvalidResource, resource)
		}
	}

	return nil
}

// run executes the command.
func (o *createPlanOptions) run(cmd *cobra.Command) error {
	opts := &manager.CreateOpts{
		Type:      plan.Type(o.planType),
		Name:      o.name,
		ProjectID: o.projectID,
		UserID:    o.userID,
	}

	for _, resource := range o.resources {
		kind, id, _ := strings.Cut(resource, "=")

		opts.Resources = append(opts.Resources, manager.ResourceRef{
			Type: plan.Kind(kind),
			ID:   id,
		})
	}

	var p *plan.Plan

	var err error

	if o.templatePath != "" {
		data, err := os.ReadFile(o.templatePath)
		if err != nil {
			return fmt.Errorf("%w: %s", errors.ErrInvalidPath, err)
		}

		t := &template.Template{}

		if err := yaml.Unmarshal(data, t); err != nil {
			return err
		}

		p, err = o.factory.Client().CreatePlanFromTemplate(cmd.Context(), opts, t)
		if err != nil {
			return err
		}
	} else {
		p, err = o.factory.Client().CreatePlan(cmd.Context(), opts)
		if err != nil {
			return err
		}
	}

	fmt.Println(p.ID)

	return nil
}

var (
	//nolint:gochecknoglobals
	createPlanLong = `Create a plan.

A plan captures a workload's resource graph from the source cloud.
Root resources are walked for their dependencies, so naming a server
pulls in its volumes, ports, networks and security groups.  The plan
can then be edited and deployed with the clone and migrate commands.`

	//nolint:gochecknoglobals
	createPlanExample = util.TemplatedExample(`
	# Capture a server and everything it depends on.
	{{.Application}} create plan --resource OS::Nova::Server=6eaa2d95-8b9c-4b34-8250-9a1f37ba0d27

	# Import a plan from an exported template.
	{{.Application}} create plan --type migrate --template plan.yaml`)
)

// newCreatePlanCommand creates a command that can create plans.
func newCreatePlanCommand(factory *util.ClientFactory) *cobra.Command {
	o := &createPlanOptions{}

	cmd := &cobra.Command{
		Use:     "plan [flags] [my-plan-name]",
		Short:   "Create a plan.",
		Long:    createPlanLong,
		Example: createPlanExample,
		Run: func(cmd *cobra.Command, args []string) {
			util.AssertNilError(o.complete(factory, args))
			util.AssertNilError(o.validate())
			util.AssertNilError(o.run(cmd))
		},
	}

	o.addFlags(cmd)

	return cmd
}
