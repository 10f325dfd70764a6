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

// installDefaults subscribes the fallback handlers for EventError,
// EventUnexpectedExit and EventReachReforkLimit, each only if nobody has
// subscribed to it yet.  Start calls it once, after the initial spawn.
func (s *Supervisor) installDefaults() {
	if s.subs.count(EventError) == 0 {
		s.subs.add(EventError, s.onError)
	}
	if s.subs.count(EventUnexpectedExit) == 0 {
		s.subs.add(EventUnexpectedExit, s.onUnexpected)
	}
	if s.subs.count(EventReachReforkLimit) == 0 {
		s.subs.add(EventReachReforkLimit, s.onReachReforkLimit)
	}
}

func (s *Supervisor) totals() (int64, int64) {
	s.lock()
	defer s.unlock()
	return s.counters.Disconnects, s.counters.UnexpectedExits
}

func (s *Supervisor) onError(ev Event) {
	if ev.Err == nil {
		return
	}
	d, u := s.totals()
	s.logf("master uncaughtException: %v", ev.Err)
	if fe, ok := ev.Err.(*FaultError); ok && len(fe.Stack) > 0 {
		s.logf("%s", fe.Stack)
	}
	s.logf("(total %d disconnect, %d unexpected exit)", d, u)
}

func (s *Supervisor) onUnexpected(ev Event) {
	d, u := s.totals()
	e := ev.Err
	if e == nil {
		e = &WorkerDiedError{
			Pid:         ev.Worker.Pid(),
			Code:        ev.Code,
			Signal:      ev.Signal,
			Kind:        ev.Kind,
			Termination: ev.Termination,
		}
	}
	s.logf("(total %d disconnect, %d unexpected exit) %v", d, u, e)
}

func (s *Supervisor) onReachReforkLimit(Event) {
	d, u := s.totals()
	s.logf("worker died too fast (total %d disconnect, %d unexpected exit)",
		d, u)
}
