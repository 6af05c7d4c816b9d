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

// Package namedlock provides a table of named mutexes.  The manager and
// the orchestrator share one table so every read-modify-write of a plan,
// whether an edit or the claim at the start of a run, serializes on the
// plan's name.
package namedlock

import (
	"sync"
)

// Locker is a table of named mutexes.  Entries are reference counted and
// reaped when the last holder releases, so the table stays bounded by the
// number of names with in flight holders.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty table.
func New() *Locker {
	return &Locker{
		entries: map[string]*entry{},
	}
}

// Lock acquires the named mutex and returns its release function.
func (l *Locker) Lock(name string) func() {
	l.mu.Lock()

	e, ok := l.entries[name]
	if !ok {
		e = &entry{}
		l.entries[name] = e
	}

	e.refs++

	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()

		e.refs--
		if e.refs == 0 {
			delete(l.entries, name)
		}

		l.mu.Unlock()
	}
}
