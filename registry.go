// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfork

import (
	"sort"
	"time"
)

// WorkerRecord is what the supervisor remembers about a spawned process.
type WorkerRecord struct {
	Handle        Handle
	Settings      SpawnSettings
	Env           map[string]string
	Kind          Kind
	DisableRefork bool
	State         WorkerState
	Address       string
	Spawned       time.Time
	Respawn       bool
}

// SlaveIndex returns the slave index from the environment, or "" for
// pool workers.
func (wr *WorkerRecord) SlaveIndex() string {
	return wr.Env[EnvSlaveIndex]
}

// Registry associates handles with the settings and environment they were
// spawned with, so that a replacement can be spawned identically.  It is
// a side table keyed by Handle.ID; handles themselves are never modified.
//
// Registry is not safe for concurrent use.
type Registry struct {
	records map[int]*WorkerRecord
	now     func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		records: make(map[int]*WorkerRecord),
		now:     now,
	}
}

// Register stores the settings and environment for h.  Both are copied.
func (r *Registry) Register(h Handle, settings SpawnSettings, env map[string]string, kind Kind) *WorkerRecord {
	wr := &WorkerRecord{
		Handle:   h,
		Settings: settings.Clone(),
		Env:      mergeEnv(env),
		Kind:     kind,
		State:    StateSpawned,
		Spawned:  r.now(),
	}
	r.records[h.ID()] = wr
	return wr
}

// Lookup returns copies of the settings and environment h was registered
// with.
func (r *Registry) Lookup(h Handle) (SpawnSettings, map[string]string, bool) {
	wr, ok := r.records[h.ID()]
	if !ok {
		return SpawnSettings{}, nil, false
	}
	return wr.Settings.Clone(), mergeEnv(wr.Env), true
}

// Record returns the live record for the given handle id.
func (r *Registry) Record(id int) (*WorkerRecord, bool) {
	wr, ok := r.records[id]
	return wr, ok
}

// Remove forgets h.
func (r *Registry) Remove(h Handle) {
	delete(r.records, h.ID())
}

// SetState records the lifecycle state of a worker.  Unknown ids are
// ignored.
func (r *Registry) SetState(id int, state WorkerState) {
	if wr, ok := r.records[id]; ok {
		wr.State = state
	}
}

// SetDisableRefork marks (or unmarks) a worker so that it will never be
// replaced.
func (r *Registry) SetDisableRefork(id int, disable bool) error {
	wr, ok := r.records[id]
	if !ok {
		return ErrNoWorker
	}
	wr.DisableRefork = disable
	return nil
}

// DisableRefork returns false for unknown workers.
func (r *Registry) DisableRefork(id int) bool {
	if wr, ok := r.records[id]; ok {
		return wr.DisableRefork
	}
	return false
}

func (r *Registry) Len() int {
	return len(r.records)
}

// Records returns the records ordered by handle id.  The returned values
// are shallow copies; the Handle is shared.
func (r *Registry) Records() []WorkerRecord {
	rv := make([]WorkerRecord, 0, len(r.records))
	for _, wr := range r.records {
		rv = append(rv, *wr)
	}
	sort.Slice(rv, func(i, j int) bool {
		return rv[i].Handle.ID() < rv[j].Handle.ID()
	})
	return rv
}
