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

// MetricsCollector receives counts from the supervisor.  Calls are made
// with the supervisor lock held, so implementations must not call back
// into the Supervisor.
type MetricsCollector interface {
	// WorkerSpawned records a successful spawn.  Respawn is false for
	// the initial pool and slave groups.
	WorkerSpawned(kind Kind, respawn bool)

	// SpawnFailed records a spawn that returned an error.
	SpawnFailed(kind Kind)

	// WorkerDisconnected records a control channel going away.
	WorkerDisconnected(kind Kind)

	// WorkerExited records an exit and how it was classified.
	WorkerExited(kind Kind, termination Termination)

	// ReforkDenied records a respawn refused by the limiter.
	ReforkDenied()

	// ReforkWindow records the number of entries in the limiter window.
	ReforkWindow(size int)

	// LiveWorkers records the number of registered processes of a kind.
	LiveWorkers(kind Kind, n int)
}

type noopMetricsCollector struct{}

func (noopMetricsCollector) WorkerSpawned(Kind, bool)       {}
func (noopMetricsCollector) SpawnFailed(Kind)               {}
func (noopMetricsCollector) WorkerDisconnected(Kind)        {}
func (noopMetricsCollector) WorkerExited(Kind, Termination) {}
func (noopMetricsCollector) ReforkDenied()                  {}
func (noopMetricsCollector) ReforkWindow(int)               {}
func (noopMetricsCollector) LiveWorkers(Kind, int)          {}

// NewNoopMetricsCollector returns a collector that discards everything.
func NewNoopMetricsCollector() MetricsCollector {
	return noopMetricsCollector{}
}
