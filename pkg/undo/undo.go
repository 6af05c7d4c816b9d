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

// Package undo implements compensating rollback: each committed side
// effect pushes an inverse action, and on failure the stack is unwound
// last in first out.  A manager is scoped to a single orchestration call;
// pushes may come from that call's worker goroutines.
package undo

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Func reverses one committed side effect.
type Func func(ctx context.Context) error

type step struct {
	name string
	fn   Func
}

// Manager is a LIFO stack of compensating actions.
type Manager struct {
	mu    sync.Mutex
	steps []step
}

// New returns an empty manager.
func New() *Manager {
	return &Manager{}
}

// Push records a compensating action for a side effect that just
// committed.  The name identifies the action in rollback logs.
func (m *Manager) Push(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Len returns the number of pending compensations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.steps)
}

// Clear drops all pending compensations, called once the protected
// sequence has fully succeeded.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = nil
}

// Rollback unwinds the stack.  Secondary failures are collected and
// logged but never stop the unwind, every compensation gets its chance
// to run.  The stack is empty afterwards.
func (m *Manager) Rollback(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := log.FromContext(ctx)

	var result *multierror.Error

	for i := len(m.steps) - 1; i >= 0; i-- {
		s := m.steps[i]

		logger.Info("rolling back", "action", s.name)

		if err := s.fn(ctx); err != nil {
			logger.Error(err, "rollback step failed", "action", s.name)

			result = multierror.Append(result, err)
		}
	}

	m.steps = nil

	return result.ErrorOrNil()
}
