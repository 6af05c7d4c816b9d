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

package orchestrate

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	//nolint:gochecknoglobals
	orchestrationsMetric = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caravel_orchestrations_total",
		Help: "Orchestration runs by plan type and outcome.",
	}, []string{"type", "outcome"})

	//nolint:gochecknoglobals
	volumeCopiesMetric = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "caravel_volume_copies_total",
		Help: "Completed volume data copies.",
	})
)

//nolint:gochecknoinits
func init() {
	prometheus.MustRegister(orchestrationsMetric)
	prometheus.MustRegister(volumeCopiesMetric)
}
