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

// Package errors defines the error vocabulary shared by the plan engine.
// Each sentinel maps to a distinct user visible condition; callers wrap
// them with fmt.Errorf("%w: ...") to add detail and match with errors.Is.
package errors

import (
	"errors"
)

var (
	// ErrPlanNotFound is raised when a plan id doesn't resolve against
	// the store.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrPlanTypeNotSupported is raised for plan types other than clone
	// and migrate.
	ErrPlanTypeNotSupported = errors.New("plan type not supported")

	// ErrPlanCreateFailed is raised when plan creation or template import
	// cannot complete.
	ErrPlanCreateFailed = errors.New("plan create failed")

	// ErrPlanUpdateError is raised for illegal plan field updates.
	ErrPlanUpdateError = errors.New("plan update error")

	// ErrPlanResourcesUpdateError is raised when a resource edit is
	// rejected by the mutation engine.
	ErrPlanResourcesUpdateError = errors.New("plan resources update error")

	// ErrPlanDeployError is raised when stack submission fails.
	ErrPlanDeployError = errors.New("plan deploy error")

	// ErrPlanCloneFailed is raised when a clone run fails after deploy.
	ErrPlanCloneFailed = errors.New("plan clone failed")

	// ErrPlanMigrateFailed is raised when a migrate run fails after deploy.
	ErrPlanMigrateFailed = errors.New("plan migrate failed")

	// ErrExportTemplateFailed is raised when template export fails.
	ErrExportTemplateFailed = errors.New("export template failed")

	// ErrDownloadTemplateFailed is raised when a stored template cannot
	// be returned.
	ErrDownloadTemplateFailed = errors.New("download template failed")

	// ErrResourceNotFound is raised when a named resource isn't in the
	// plan, or a live resource isn't in the cloud.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrAvailabilityZoneNotFound is raised when a server has no
	// availability zone to key gateway selection from.
	ErrAvailabilityZoneNotFound = errors.New("availability zone not found")

	// ErrNoMigrateNetProvided is raised when no data path to a running
	// server can be established.
	ErrNoMigrateNetProvided = errors.New("no migrate network provided")

	// ErrServiceCatalog is raised when a cloud service endpoint cannot
	// be resolved.
	ErrServiceCatalog = errors.New("service catalog error")

	// ErrGateway is raised for gateway allocation and data copy agent
	// failures.
	ErrGateway = errors.New("gateway error")
)
