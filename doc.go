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

// Package cfork provides a supervisor for a pool of long-running worker
// processes.  It is similar in spirit to a cluster "fork" helper: a primary
// process starts a number of workers (and optionally groups of auxiliary
// "slave" processes), and replaces any of them that disconnect or die.
//
// Replacement workers are started with exactly the settings and environment
// of the worker they replace.  Each pool worker learns its position from
// the CFORK_WORKER_INDEX and CFORK_WORKER_COUNT environment variables, and
// each slave from CFORK_SLAVE_WORKER_INDEX and CFORK_SLAVE_WORKER_COUNT.
//
// To guard against crash loops, respawns are rate limited by a sliding
// window: at most Limit respawns are permitted within any Duration.  When
// the limit is hit the supervisor emits EventReachReforkLimit and keeps
// running with a reduced pool until the window drains.
//
// Termination is classified as follows.  A worker that disconnects its
// control channel before exiting is an expected termination, and the
// replacement is started as soon as the disconnect is seen.  A worker that
// exits without disconnecting first is an unexpected termination; it is
// replaced and EventUnexpectedExit is emitted.  Workers that an operator
// has marked with SetDisableRefork are never replaced.
//
// A typical primary looks like this:
//
//	cfg := cfork.DefaultConfig()
//	cfg.Exec = "/usr/local/bin/myserver"
//	cfg.Count = 4
//	sup, e := cfork.New(cfg)
//	if e != nil {
//		log.Fatal(e)
//	}
//	sup.On(cfork.EventListening, func(ev cfork.Event) {
//		log.Printf("worker %d listening on %s", ev.Worker.Pid(), ev.Address)
//	})
//	if e := sup.Start(context.Background()); e != nil {
//		log.Fatal(e)
//	}
//
// The process creation primitive is pluggable through the Spawner
// interface.  ExecSpawner, the default, uses os/exec and a pipe based
// control channel; the worker package implements the child side of it.
//
package cfork
