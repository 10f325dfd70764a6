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
	"errors"
	"fmt"
)

var (
	ErrNoExec           = errors.New("No exec path configured")
	ErrBadCount         = errors.New("Bad worker count")
	ErrBadLimit         = errors.New("Bad refork limit")
	ErrBadDuration      = errors.New("Bad refork duration")
	ErrBadSerialization = errors.New("Bad serialization mode")
	ErrNotStarted       = errors.New("Supervisor not started")
	ErrAlreadyStarted   = errors.New("Supervisor already started")
	ErrShutdown         = errors.New("Supervisor is shut down")
	ErrNoWorker         = errors.New("No such worker")
	ErrRateLimited      = errors.New("Worker died too fast")
	ErrDisconnected     = errors.New("Channel disconnected")
	ErrWorkerDead       = errors.New("Worker is dead")
)

// WorkerDiedError describes a worker that terminated without first
// disconnecting its control channel.  It is what the default
// EventUnexpectedExit handler logs.
type WorkerDiedError struct {
	Pid         int
	Code        int
	Signal      string
	Kind        Kind
	SlaveIndex  string
	Termination Termination
}

func (e *WorkerDiedError) Error() string {
	return fmt.Sprintf("worker:%d died unexpected (code: %d, signal: %s, "+
		"termination: %s, isSlave: %v, slaveIndex: %s)",
		e.Pid, e.Code, e.Signal, e.Termination, e.Kind == KindSlave,
		e.SlaveIndex)
}

// FaultError wraps a panic recovered while the supervisor was processing
// an event.
type FaultError struct {
	Value interface{}
	Stack []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("supervisor fault: %v", e.Value)
}
