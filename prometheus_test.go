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
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetricsCollectorSpawns(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.WorkerSpawned(KindWorker, false)
	pmc.WorkerSpawned(KindWorker, false)
	pmc.WorkerSpawned(KindWorker, true)
	pmc.WorkerSpawned(KindSlave, false)
	pmc.SpawnFailed(KindSlave)

	expected := `
		# HELP test_spawns_total Total number of processes spawned
		# TYPE test_spawns_total counter
		test_spawns_total{kind="slave",respawn="false"} 1
		test_spawns_total{kind="worker",respawn="false"} 2
		test_spawns_total{kind="worker",respawn="true"} 1
	`
	err := testutil.GatherAndCompare(pmc.Registry(), strings.NewReader(expected), "test_spawns_total")
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.spawnErrors.WithLabelValues("slave")))
}

func TestPrometheusMetricsCollectorExits(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.WorkerDisconnected(KindWorker)
	pmc.WorkerExited(KindWorker, TerminationExpected)
	pmc.WorkerExited(KindWorker, TerminationUnexpected)
	pmc.WorkerExited(KindWorker, TerminationUnexpected)
	pmc.WorkerExited(KindSlave, TerminationSuppressed)
	pmc.ReforkDenied()
	pmc.ReforkWindow(7)
	pmc.LiveWorkers(KindWorker, 3)

	count, err := testutil.GatherAndCount(pmc.Registry(), "test_exits_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.Equal(t, 2.0, testutil.ToFloat64(pmc.exits.WithLabelValues("worker", "unexpected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.disconnects.WithLabelValues("worker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.denials))
	assert.Equal(t, 7.0, testutil.ToFloat64(pmc.windowSize))
	assert.Equal(t, 3.0, testutil.ToFloat64(pmc.live.WithLabelValues("worker")))
}

func TestPrometheusMetricsCollectorDefaultNamespace(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("")
	pmc.ReforkDenied()

	count, err := testutil.GatherAndCount(pmc.Registry(), "cfork_refork_denied_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSupervisorMetrics(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")
	s, fs := newTestSupervisor(t, Config{Count: 2},
		WithMetricsCollector(pmc))
	rec := newRecorder()
	rec.attach(s)

	require.NoError(t, s.Start(context.Background()))
	require.True(t, rec.Wait(EventFork, 2))

	fs.exit(fs.Handles()[0], 1, "")
	require.True(t, rec.Wait(EventUnexpectedExit, 1))

	assert.Equal(t, 2.0, testutil.ToFloat64(pmc.spawns.WithLabelValues("worker", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.spawns.WithLabelValues("worker", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.exits.WithLabelValues("worker", "unexpected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pmc.live.WithLabelValues("worker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.windowSize))

	require.NoError(t, s.Shutdown(context.Background()))
}
