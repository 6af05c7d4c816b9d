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

// Package handler services the HTTP surface: plan CRUD, the action
// sub-resource, and the asynchronous clone and migrate entry points.
package handler

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/eschercloudai/caravel/pkg/manager"
	"github.com/eschercloudai/caravel/pkg/orchestrate"
	"github.com/eschercloudai/caravel/pkg/server/errors"
)

type Handler struct {
	manager      *manager.Manager
	orchestrator *orchestrate.Orchestrator
}

func New(m *manager.Manager, o *orchestrate.Orchestrator) *Handler {
	return &Handler{
		manager:      m,
		orchestrator: o,
	}
}

// Router mounts the API.
func (h *Handler) Router(r chi.Router) {
	r.Route("/v1/plans", func(r chi.Router) {
		r.Post("/", h.createPlan)
		r.Get("/", h.listPlans)
		r.Get("/{planID}", h.getPlan)
		r.Put("/{planID}", h.updatePlan)
		r.Delete("/{planID}", h.deletePlan)
		r.Post("/{planID}/action", h.planAction)
	})

	r.Post("/v1/clones", h.clone)
	r.Post("/v1/migrates", h.migrate)
}

// NotFound is called from the router when a path is not found.
func NotFound(w http.ResponseWriter, r *http.Request) {
	errors.HTTPNotFound("resource not found").Write(w, r)
}

// MethodNotAllowed is called from the router when a method is not found for a path.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	errors.HTTPMethodNotAllowed().Write(w, r)
}
