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

package util

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/eschercloudai/caravel/pkg/client"
)

// ClientFactory carries the API endpoint from the root command's
// persistent flags down to the subcommands.
type ClientFactory struct {
	endpoint string
}

// AddFlags registers the endpoint flag, typically on the root command.
func (f *ClientFactory) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.endpoint, "endpoint", "http://localhost:9449", "Caravel API endpoint.")
}

// Client returns a client for the configured endpoint.
func (f *ClientFactory) Client() *client.Client {
	return client.New(f.endpoint)
}

// AssertNilError is a terse way of crapping out of a command on error.
func AssertNilError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
