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
	"sync"
	"time"
)

// EventType names the events a Supervisor emits.
type EventType int

const (
	EventFork             EventType = iota // A process was spawned
	EventListening                         // Forwarded from the worker
	EventMessage                           // Opaque message from a worker
	EventDisconnect                        // Control channel closed
	EventExit                              // Process exited
	EventUnexpectedExit                    // Exit with no prior disconnect
	EventReachReforkLimit                  // Respawn denied by the limiter
	EventError                             // Supervisor fault
)

var eventNames = map[EventType]string{
	EventFork:             "fork",
	EventListening:        "listening",
	EventMessage:          "message",
	EventDisconnect:       "disconnect",
	EventExit:             "exit",
	EventUnexpectedExit:   "unexpectedExit",
	EventReachReforkLimit: "reachReforkLimit",
	EventError:            "error",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// EventTypes returns every event type, in declaration order.
func EventTypes() []EventType {
	return []EventType{
		EventFork,
		EventListening,
		EventMessage,
		EventDisconnect,
		EventExit,
		EventUnexpectedExit,
		EventReachReforkLimit,
		EventError,
	}
}

// Termination classifies why a worker went away.
type Termination int

const (
	TerminationNone       Termination = iota
	TerminationExpected               // Disconnected, then exited
	TerminationUnexpected             // Exited without disconnecting
	TerminationSuppressed             // DisableRefork was set
)

func (t Termination) String() string {
	switch t {
	case TerminationExpected:
		return "expected"
	case TerminationUnexpected:
		return "unexpected"
	case TerminationSuppressed:
		return "suppressed"
	}
	return "none"
}

// Event is delivered to subscribers.  Which fields are set depends on the
// Type: Worker and Kind for everything except EventReachReforkLimit and
// EventError; Code and Signal for exits; Address for EventListening; Data
// for EventMessage; Err for EventError.
//
// For EventDisconnect and EventExit, Termination carries the
// classification made by the supervisor, and Replacement the handle of the
// worker spawned in its place, if any.
type Event struct {
	Type        EventType
	Time        time.Time
	Worker      Handle
	Kind        Kind
	Code        int
	Signal      string
	Address     string
	Data        []byte
	Termination Termination
	Replacement Handle
	Err         error
}

// Handler receives events.  Handlers run on the supervisor's event loop,
// one at a time, and may call back into the Supervisor.
type Handler func(Event)

type subscribers struct {
	handlers map[EventType][]Handler
	mx       sync.Mutex
}

func (s *subscribers) add(t EventType, h Handler) {
	s.mx.Lock()
	if s.handlers == nil {
		s.handlers = make(map[EventType][]Handler)
	}
	s.handlers[t] = append(s.handlers[t], h)
	s.mx.Unlock()
}

func (s *subscribers) count(t EventType) int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.handlers[t])
}

func (s *subscribers) get(t EventType) []Handler {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]Handler{}, s.handlers[t]...)
}
