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
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/eschercloudai/caravel/pkg/cmd/errors"
	"github.com/eschercloudai/caravel/pkg/cmd/util"
)

type getTemplateOptions struct {
	// planID identifies the plan whose template to fetch.
	planID string

	// getPrintFlags is a generic and reduced set of printing options.
	getPrintFlags *getPrintFlags

	// factory builds the API client.
	factory *util.ClientFactory
}

// newGetTemplateOptions returns a correctly initialized set of options.
func newGetTemplateOptions() *getTemplateOptions {
	return &getTemplateOptions{
		getPrintFlags: &getPrintFlags{},
	}
}

func (o *getTemplateOptions) addFlags(cmd *cobra.Command) {
	o.getPrintFlags.addFlags(cmd)
}

// complete fills in any options not does automatically by flag parsing.
func (o *getTemplateOptions) complete(factory *util.ClientFactory, args []string) error {
	o.factory = factory

	if len(args) != 1 {
		return errors.ErrIncorrectArgumentNum
	}

	o.planID = args[0]

	return nil
}

// validate validates any tainted input not handled by complete() or flags
// processing.
func (o *getTemplateOptions) validate() error {
	return o.getPrintFlags.validate()
}

// run executes the command.  Templates default to YAML, which is what the
// deployment engine consumes.
func (o *getTemplateOptions) run(cmd *cobra.Command) error {
	t, err := o.factory.Client().DownloadTemplate(cmd.Context(), o.planID)
	if err != nil {
		return err
	}

	if done, err := o.getPrintFlags.print(t); done {
		return err
	}

	data, err := yaml.Marshal(t)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(data)

	return err
}

var (
	//nolint:gochecknoglobals
	getTemplateExample = util.TemplatedExample(`
	# Download a plan's exported template, redirect to reuse it.
	{{.Application}} get template my-plan-id > plan.yaml`)
)

// newGetTemplateCommand returns a command that downloads exported templates.
func newGetTemplateCommand(factory *util.ClientFactory) *cobra.Command {
	o := newGetTemplateOptions()

	cmd := &cobra.Command{
		Use:     "template plan-id",
		Short:   "Download a plan's exported template.",
		Long:    "Download a plan's exported template.",
		Example: getTemplateExample,
		Run: func(cmd *cobra.Command, args []string) {
			util.AssertNilError(o.complete(factory, args))
			util.AssertNilError(o.validate())
			util.AssertNilError(o.run(cmd))
		},
	}

	o.addFlags(cmd)

	return cmd
}
