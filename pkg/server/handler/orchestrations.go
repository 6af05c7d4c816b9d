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

package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eschercloudai/caravel/pkg/orchestrate"
	"github.com/eschercloudai/caravel/pkg/server/errors"
	"github.com/eschercloudai/caravel/pkg/server/util"
)

// cloneRequest is the clone execution body.
type cloneRequest struct {
	orchestrate.CloneOpts

	PlanID string `json:"plan_id"`
}

// migrateRequest is the migrate execution body.
type migrateRequest struct {
	orchestrate.MigrateOpts

	PlanID string `json:"plan_id"`
}

// exportRequest is the template export body.
type exportRequest struct {
	PlanID   string `json:"plan_id"`
	SysClone bool   `json:"sys_clone"`
	CopyData bool   `json:"copy_data"`
}

type acceptedResponse struct {
	PlanID string `json:"plan_id"`
}

// accept validates the plan exists, hands the work to the orchestrator on
// a fresh context, and returns 202.  Later failures land on the plan's
// status for clients to poll.
func (h *Handler) accept(w http.ResponseWriter, r *http.Request, planID string, run func(ctx context.Context) error) {
	if _, err := h.manager.Get(r.Context(), planID, false); err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	logger := log.FromContext(r.Context())

	go func() {
		ctx := log.IntoContext(context.Background(), logger)

		if err := run(ctx); err != nil {
			logger.Error(err, "orchestration failed", "plan", planID)
		}
	}()

	util.WriteJSONResponse(w, r, http.StatusAccepted, &acceptedResponse{PlanID: planID})
}

// clone services the clone execution endpoints.  The body is a single key
// map naming the operation.
func (h *Handler) clone(w http.ResponseWriter, r *http.Request) {
	var actions map[string]json.RawMessage

	if err := util.ReadJSONBody(r, &actions); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	switch {
	case actions["clone"] != nil:
		h.runClone(w, r, actions["clone"], false)
	case actions["export_template_and_clone"] != nil:
		h.runClone(w, r, actions["export_template_and_clone"], true)
	case actions["export_clone_template"] != nil:
		h.runExport(w, r, actions["export_clone_template"])
	default:
		errors.HTTPBadRequest("unrecognized clone operation").Write(w, r)
	}
}

func (h *Handler) runClone(w http.ResponseWriter, r *http.Request, body json.RawMessage, export bool) {
	var request cloneRequest

	if err := json.Unmarshal(body, &request); err != nil {
		errors.HTTPBadRequest("unable to unmarshal clone body").WithError(err).Write(w, r)

		return
	}

	h.accept(w, r, request.PlanID, func(ctx context.Context) error {
		if export {
			copyData := request.CopyData == nil || *request.CopyData

			if _, err := h.orchestrator.Export(ctx, request.PlanID, request.SysClone, copyData); err != nil {
				return err
			}
		}

		return h.orchestrator.Clone(ctx, request.PlanID, &request.CloneOpts)
	})
}

func (h *Handler) runExport(w http.ResponseWriter, r *http.Request, body json.RawMessage) {
	var request exportRequest

	if err := json.Unmarshal(body, &request); err != nil {
		errors.HTTPBadRequest("unable to unmarshal export body").WithError(err).Write(w, r)

		return
	}

	h.accept(w, r, request.PlanID, func(ctx context.Context) error {
		_, err := h.orchestrator.Export(ctx, request.PlanID, request.SysClone, request.CopyData)

		return err
	})
}

// migrate services the migrate execution endpoints.
func (h *Handler) migrate(w http.ResponseWriter, r *http.Request) {
	var actions map[string]json.RawMessage

	if err := util.ReadJSONBody(r, &actions); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	switch {
	case actions["migrate"] != nil:
		h.runMigrate(w, r, actions["migrate"])
	case actions["export_migrate_template"] != nil:
		h.runExport(w, r, actions["export_migrate_template"])
	default:
		errors.HTTPBadRequest("unrecognized migrate operation").Write(w, r)
	}
}

func (h *Handler) runMigrate(w http.ResponseWriter, r *http.Request, body json.RawMessage) {
	var request migrateRequest

	if err := json.Unmarshal(body, &request); err != nil {
		errors.HTTPBadRequest("unable to unmarshal migrate body").WithError(err).Write(w, r)

		return
	}

	h.accept(w, r, request.PlanID, func(ctx context.Context) error {
		return h.orchestrator.Migrate(ctx, request.PlanID, &request.MigrateOpts)
	})
}
