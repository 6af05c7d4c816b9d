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
	"github.com/spf13/cobra"

	"github.com/eschercloudai/caravel/pkg/cmd/create"
	"github.com/eschercloudai/caravel/pkg/cmd/delete"
	"github.com/eschercloudai/caravel/pkg/cmd/get"
	"github.com/eschercloudai/caravel/pkg/cmd/util"
	"github.com/eschercloudai/caravel/pkg/constants"
)

var (
	//nolint:gochecknoglobals
	rootLongDesc = `EscherCloudAI workload cloning and migration.

This CLI toolset drives the caravel API to capture running workloads
into portable plans, edit them, and redeploy them into another
availability zone or cloud.  A plan records the workload's resource
graph; clone leaves the source running and builds a copy, migrate
moves the workload and retires the source.  For additional details
see the individual 'create' and 'clone' help topics.`
)

// newRootCommand returns the root command and all its subordinates.
// This sets the global API endpoint flag.
func newRootCommand() *cobra.Command {
	factory := &util.ClientFactory{}

	cmd := &cobra.Command{
		Use:   constants.Application,
		Short: "EscherCloudAI workload cloning and migration.",
		Long:  rootLongDesc,
	}

	factory.AddFlags(cmd.PersistentFlags())

	commands := []*cobra.Command{
		newVersionCommand(),
		create.NewCreateCommand(factory),
		delete.NewDeleteCommand(factory),
		get.NewGetCommand(factory),
		newCloneCommand(factory),
		newMigrateCommand(factory),
		newExportCommand(factory),
	}

	cmd.AddCommand(commands...)

	return cmd
}

// Generate creates a hierarchy of cobra commands for the application.  It can
// also be used to walk the structure and generate HTML documentation for example.
func Generate() *cobra.Command {
	return newRootCommand()
}
