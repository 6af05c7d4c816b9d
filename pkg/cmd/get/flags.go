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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/eschercloudai/caravel/pkg/cmd/errors"
)

// getPrintFlags is a generic and reduced set of printing options.
type getPrintFlags struct {
	// output selects the serialization, empty means human readable.
	output string
}

func (o *getPrintFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Output format, one of json or yaml.")
}

func (o *getPrintFlags) validate() error {
	switch o.output {
	case "", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("%w: %q", errors.ErrInvalidFormat, o.output)
	}
}

// print serializes the object when a format was selected and reports
// whether it did.
func (o *getPrintFlags) print(object interface{}) (bool, error) {
	switch o.output {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")

		return true, encoder.Encode(object)
	case "yaml":
		data, err := yaml.Marshal(object)
		if err != nil {
			return true, err
		}

		_, err = os.Stdout.Write(data)

		return true, err
	default:
		return false, nil
	}
}
