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
	"fmt"
	"runtime/debug"
)

// process runs one ProcessEvent through the router.  The whole decision
// is made with the lock held, so nothing can interleave between noting a
// disconnect and consulting the limiter.
func (s *Supervisor) process(pe ProcessEvent) {
	s.lock()
	defer func() {
		if r := recover(); r != nil {
			s.fault(r)
		}
		s.unlock()
	}()

	switch pe.Type {
	case ProcessListening:
		s.onListening(pe.Handle, pe.Address)
	case ProcessMessage:
		s.onMessage(pe.Handle, pe.Data)
	case ProcessDisconnect:
		s.onDisconnect(pe.Handle)
	case ProcessExit:
		s.onExit(pe.Handle, pe.Code, pe.Signal)
	default:
		panic(fmt.Sprintf("unknown process event type %d", pe.Type))
	}
}

// fault records a recovered panic and reports it as an EventError.  Call
// with lock held.
func (s *Supervisor) fault(r interface{}) {
	s.counters.Faults++
	e := &FaultError{Value: r, Stack: debug.Stack()}
	s.logf("%v", e)
	s.queue(Event{Type: EventError, Time: s.now(), Err: e})
}

func (s *Supervisor) onListening(h Handle, addr string) {
	ev := Event{Type: EventListening, Time: s.now(), Worker: h, Address: addr}
	if wr, ok := s.registry.Record(h.ID()); ok {
		ev.Kind = wr.Kind
		wr.Address = addr
		s.registry.SetState(h.ID(), StateListening)
		s.bumpSerial()
	}
	s.queue(ev)
}

func (s *Supervisor) onMessage(h Handle, data []byte) {
	ev := Event{Type: EventMessage, Time: s.now(), Worker: h, Data: data}
	if wr, ok := s.registry.Record(h.ID()); ok {
		ev.Kind = wr.Kind
	}
	s.queue(ev)
}

func (s *Supervisor) onDisconnect(h Handle) {
	ev := Event{Type: EventDisconnect, Time: s.now(), Worker: h}
	wr, ok := s.registry.Record(h.ID())
	if !ok {
		// The exit was processed first and the record is gone.
		s.logf("don't fork, because worker:%d exit event emit before disconnect",
			h.Pid())
		s.queue(ev)
		return
	}
	ev.Kind = wr.Kind
	s.counters.Disconnects++
	s.metrics.WorkerDisconnected(wr.Kind)

	// The record outlives the process until its exit is routed, so the
	// handle may already report dead here.  That still counts as a
	// disconnect ahead of the exit.
	s.logf("worker:%d disconnect (exitedAfterDisconnect: %v, state: %s, "+
		"isDead: %v, worker.disableRefork: %v, isSlave: %v, slaveIndex: %s)",
		h.Pid(), h.ExitedAfterDisconnect(), wr.State, h.IsDead(),
		wr.DisableRefork, wr.Kind == KindSlave, wr.SlaveIndex())

	switch {
	case wr.DisableRefork:
		s.logf("don't fork, because worker:%d will be kill soon", h.Pid())
		ev.Termination = TerminationSuppressed
		s.registry.SetState(h.ID(), StateDisconnecting)
	default:
		s.pending[h.ID()] = s.now()
		ev.Termination = TerminationExpected
		s.registry.SetState(h.ID(), StateDisconnecting)
		if !s.stopped {
			ev.Replacement = s.respawn(wr)
		}
	}
	s.bumpSerial()
	s.queue(ev)
	if ev.Replacement != nil {
		s.queue(s.forkEvent(ev.Replacement, wr.Kind))
	}
}

func (s *Supervisor) onExit(h Handle, code int, sig string) {
	ev := Event{Type: EventExit, Time: s.now(), Worker: h, Code: code,
		Signal: sig}
	wr, ok := s.registry.Record(h.ID())
	if !ok {
		s.logf("worker:%d exit (unknown)", h.Pid())
		s.queue(ev)
		return
	}
	ev.Kind = wr.Kind
	s.registry.SetState(h.ID(), StateTerminated)

	_, expected := s.pending[h.ID()]
	s.logf("worker:%d exit (code: %d, signal: %s, exitedAfterDisconnect: %v, "+
		"state: %s, isDead: %v, isExpected: %v, worker.disableRefork: %v, "+
		"isSlave: %v, slaveIndex: %s)",
		h.Pid(), code, sig, h.ExitedAfterDisconnect(), wr.State,
		h.IsDead(), expected, wr.DisableRefork, wr.Kind == KindSlave,
		wr.SlaveIndex())

	var died *WorkerDiedError
	switch {
	case expected:
		delete(s.pending, h.ID())
		ev.Termination = TerminationExpected
	case wr.DisableRefork:
		ev.Termination = TerminationSuppressed
	default:
		ev.Termination = TerminationUnexpected
		s.counters.UnexpectedExits++
		if !s.stopped {
			ev.Replacement = s.respawn(wr)
		}
		died = &WorkerDiedError{
			Pid:         h.Pid(),
			Code:        code,
			Signal:      sig,
			Kind:        wr.Kind,
			SlaveIndex:  wr.SlaveIndex(),
			Termination: ev.Termination,
		}
	}

	s.metrics.WorkerExited(wr.Kind, ev.Termination)
	s.registry.Remove(h)
	s.updateLive()
	s.bumpSerial()

	s.queue(ev)
	if ev.Replacement != nil {
		s.queue(s.forkEvent(ev.Replacement, wr.Kind))
	}
	if died != nil {
		s.queue(Event{
			Type:        EventUnexpectedExit,
			Time:        ev.Time,
			Worker:      h,
			Kind:        wr.Kind,
			Code:        code,
			Signal:      sig,
			Termination: TerminationUnexpected,
			Replacement: ev.Replacement,
			Err:         died,
		})
	}
}

// allow consults the limiter.  When refork is off nothing is recorded.
// Every denial emits EventReachReforkLimit.  Call with lock held.
func (s *Supervisor) allow() bool {
	if !s.refork {
		return false
	}
	ok := s.limiter.Allow()
	s.metrics.ReforkWindow(s.limiter.Len())
	if !ok {
		s.counters.Denials++
		s.metrics.ReforkDenied()
		s.queue(Event{
			Type: EventReachReforkLimit,
			Time: s.now(),
			Err:  ErrRateLimited,
		})
	}
	return ok
}

// respawn replaces wr with a process spawned from the same settings and
// environment, if the limiter allows it.  It returns nil if nothing was
// spawned.  Call with lock held.
func (s *Supervisor) respawn(wr *WorkerRecord) Handle {
	if !s.allow() {
		s.logf("don't fork new work (refork: %v, reforkCount: %d)",
			s.refork, s.limiter.Len())
		return nil
	}
	settings, env, ok := s.registry.Lookup(wr.Handle)
	if !ok {
		return nil
	}
	h, e := s.spawn(settings, env, wr.Kind, true)
	if e != nil {
		s.logf("Respawn failed: %v", e)
		s.queue(Event{Type: EventError, Time: s.now(), Kind: wr.Kind,
			Worker: wr.Handle, Err: e})
		return nil
	}
	s.logf("new worker:%d fork (state: %s, reforkCount: %d)",
		h.Pid(), h.State(), s.limiter.Len())
	return h
}
