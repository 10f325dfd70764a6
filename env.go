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
	"strconv"

	"github.com/gdamore/cfork/internal/ipc"
)

// Environment variable names injected into spawned processes.  Pool workers
// and slaves use distinct names, so that a process can tell "pool worker N
// of M" apart from "slave N of M".
const (
	EnvWorkerIndex   = ipc.EnvWorkerIndex   // Zero based pool index
	EnvWorkerCount   = ipc.EnvWorkerCount   // Pool size
	EnvSlaveIndex    = ipc.EnvSlaveIndex    // Zero based slave index
	EnvSlaveCount    = ipc.EnvSlaveCount    // Slave group size
	EnvChannelFD     = ipc.EnvChannelFD     // Channel descriptors
	EnvSerialization = ipc.EnvSerialization // Channel codec
	EnvCoverageDir   = "GOCOVERDIR"         // Coverage output dir
)

func workerEnv(index, count int) map[string]string {
	return map[string]string{
		EnvWorkerIndex: strconv.Itoa(index),
		EnvWorkerCount: strconv.Itoa(count),
	}
}

func slaveEnv(index, count int) map[string]string {
	return map[string]string{
		EnvSlaveIndex: strconv.Itoa(index),
		EnvSlaveCount: strconv.Itoa(count),
	}
}

// mergeEnv returns a new map holding base overlaid with each of the extras
// in order.  None of the arguments are modified.
func mergeEnv(base map[string]string, extras ...map[string]string) map[string]string {
	rv := make(map[string]string, len(base))
	for k, v := range base {
		rv[k] = v
	}
	for _, x := range extras {
		for k, v := range x {
			rv[k] = v
		}
	}
	return rv
}

// envList renders the map as KEY=VALUE strings, sorted so that the result
// is stable.
func envList(env map[string]string) []string {
	rv := make([]string, 0, len(env))
	for k, v := range env {
		rv = append(rv, k+"="+v)
	}
	sort.Strings(rv)
	return rv
}
