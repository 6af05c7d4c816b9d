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
	"encoding/json"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/eschercloudai/caravel/pkg/manager"
	"github.com/eschercloudai/caravel/pkg/mutation"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/server/errors"
	"github.com/eschercloudai/caravel/pkg/server/util"
	"github.com/eschercloudai/caravel/pkg/template"
)

// planRequest is the create body.  A template makes this an import, a
// resource list makes it an extraction.
type planRequest struct {
	manager.CreateOpts

	Template *template.Template `json:"template,omitempty"`
}

type planResponse struct {
	Plan *plan.Plan `json:"plan"`
}

type plansResponse struct {
	Plans []*plan.Plan `json:"plans"`
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Plan *planRequest `json:"plan"`
	}

	if err := util.ReadJSONBody(r, &request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	if request.Plan == nil {
		errors.HandleError(w, r, errors.HTTPBadRequest("request body requires a plan"))

		return
	}

	var p *plan.Plan

	var err error

	if request.Plan.Template != nil {
		p, err = h.manager.CreateFromTemplate(r.Context(), &request.Plan.CreateOpts, request.Plan.Template)
	} else {
		p, err = h.manager.Create(r.Context(), &request.Plan.CreateOpts)
	}

	if err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusCreated, &planResponse{Plan: p})
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.manager.List(r.Context())
	if err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, &plansResponse{Plans: plans})
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	detail := r.URL.Query().Get("detail") == "true"

	p, err := h.manager.Get(r.Context(), chi.URLParam(r, "planID"), detail)
	if err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, &planResponse{Plan: p})
}

func (h *Handler) updatePlan(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Plan map[string]interface{} `json:"plan"`
	}

	if err := util.ReadJSONBody(r, &request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	p, err := h.manager.Update(r.Context(), chi.URLParam(r, "planID"), request.Plan)
	if err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, &planResponse{Plan: p})
}

func (h *Handler) deletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "planID")); err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// planAction dispatches the action sub-resource.  The body is a single
// key map naming the action.
func (h *Handler) planAction(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")

	var actions map[string]json.RawMessage

	if err := util.ReadJSONBody(r, &actions); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	switch {
	case actions["os-reset_state"] != nil:
		h.resetState(w, r, planID, actions["os-reset_state"])
	case actions["download_template"] != nil:
		h.downloadTemplate(w, r, planID)
	case actions["update_plan_resources"] != nil:
		h.updatePlanResources(w, r, planID, actions["update_plan_resources"])
	case actions["plan-delete-resource"] != nil:
		h.forceDelete(w, r, planID)
	default:
		errors.HTTPBadRequest("unrecognized plan action").Write(w, r)
	}
}

func (h *Handler) resetState(w http.ResponseWriter, r *http.Request, planID string, body json.RawMessage) {
	var opts struct {
		PlanStatus plan.Status `json:"plan_status"`
	}

	if err := json.Unmarshal(body, &opts); err != nil {
		errors.HTTPBadRequest("unable to unmarshal reset state body").WithError(err).Write(w, r)

		return
	}

	p, err := h.manager.ResetState(r.Context(), planID, opts.PlanStatus)
	if err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, &planResponse{Plan: p})
}

func (h *Handler) downloadTemplate(w http.ResponseWriter, r *http.Request, planID string) {
	t, err := h.orchestrator.Download(r.Context(), planID)
	if err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"template": t})
}

func (h *Handler) updatePlanResources(w http.ResponseWriter, r *http.Request, planID string, body json.RawMessage) {
	var opts struct {
		Resources []mutation.Edit `json:"resources"`
	}

	if err := json.Unmarshal(body, &opts); err != nil {
		errors.HTTPBadRequest("unable to unmarshal resource edits").WithError(err).Write(w, r)

		return
	}

	p, err := h.manager.UpdateResources(r.Context(), planID, opts.Resources)
	if err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, &planResponse{Plan: p})
}

func (h *Handler) forceDelete(w http.ResponseWriter, r *http.Request, planID string) {
	if err := h.manager.ForceDelete(r.Context(), planID); err != nil {
		errors.FromDomain(err).Write(w, r)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
