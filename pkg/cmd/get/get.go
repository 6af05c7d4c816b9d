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
	"github.com/spf13/cobra"

	"github.com/eschercloudai/caravel/pkg/cmd/util"
)

// NewGetCommand creates a command that lists and inspects resources.
func NewGetCommand(factory *util.ClientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get or list plans and templates.",
		Long:  "Get or list plans and templates.",
	}

	commands := []*cobra.Command{
		newGetPlanCommand(factory),
		newGetTemplateCommand(factory),
	}

	cmd.AddCommand(commands...)

	return cmd
}
