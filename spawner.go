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
	"os"
)

// WorkerState is the lifecycle state of a spawned process, as reported by
// the Spawner.
type WorkerState int

const (
	StateSpawned WorkerState = iota
	StateListening
	StateDisconnecting
	StateTerminated
)

func (s WorkerState) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateListening:
		return "listening"
	case StateDisconnecting:
		return "disconnecting"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Kind tells pool workers apart from slave group members.
type Kind int

const (
	KindWorker Kind = iota
	KindSlave
)

func (k Kind) String() string {
	if k == KindSlave {
		return "slave"
	}
	return "worker"
}

// Handle is the Spawner's view of a single spawned process.  Handles are
// owned by the Spawner; the supervisor never attaches anything to them,
// and keeps its own bookkeeping keyed by ID instead.
type Handle interface {
	// ID returns an identifier that is unique among the handles returned
	// by a given Spawner.  Unlike the pid, it is never reused.
	ID() int

	// Pid returns the operating system process id.
	Pid() int

	// IsDead returns true once the process has been observed to exit.
	IsDead() bool

	// ExitedAfterDisconnect returns true if the channel was closed at the
	// request of the primary (via Disconnect), rather than by the worker
	// going away on its own.  Spawners that know this fact by different
	// names must resolve them into this one value.
	ExitedAfterDisconnect() bool

	// State returns the current lifecycle state.
	State() WorkerState

	// Disconnect closes the control channel.  A well behaved worker
	// exits when it sees this.
	Disconnect() error

	// Kill delivers a signal to the process.
	Kill(sig os.Signal) error

	// Send delivers an opaque message over the control channel.
	Send(data []byte) error
}

// ProcessEventType is the type of a ProcessEvent.
type ProcessEventType int

const (
	ProcessListening ProcessEventType = iota
	ProcessMessage
	ProcessDisconnect
	ProcessExit
)

// ProcessEvent is what a Spawner reports about a Handle.  Code and Signal
// are only meaningful for ProcessExit, Address for ProcessListening, and
// Data for ProcessMessage.
type ProcessEvent struct {
	Type    ProcessEventType
	Handle  Handle
	Code    int
	Signal  string
	Address string
	Data    []byte
}

// Spawner is the process creation primitive.  The supervisor calls Spawn
// and then learns everything else about the new process from the events
// delivered on the sink.
//
// Spawn must not block on the sink; events have to be delivered from
// other goroutines.  A disconnect and an exit for the same handle may be
// delivered in either order.
type Spawner interface {
	Spawn(settings SpawnSettings, env map[string]string, sink chan<- ProcessEvent) (Handle, error)
}
