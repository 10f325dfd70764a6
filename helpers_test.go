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
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

type fakeClock struct {
	now time.Time
	sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Lock()
	c.now = c.now.Add(d)
	c.Unlock()
}

type fakeHandle struct {
	id        int
	pid       int
	dead      bool
	requested bool
	state     WorkerState
	settings  SpawnSettings
	env       map[string]string
	sent      [][]byte
	fs        *fakeSpawner
	sync.Mutex
}

func (h *fakeHandle) ID() int  { return h.id }
func (h *fakeHandle) Pid() int { return h.pid }

func (h *fakeHandle) IsDead() bool {
	h.Lock()
	defer h.Unlock()
	return h.dead
}

func (h *fakeHandle) ExitedAfterDisconnect() bool {
	h.Lock()
	defer h.Unlock()
	return h.requested
}

func (h *fakeHandle) State() WorkerState {
	h.Lock()
	defer h.Unlock()
	return h.state
}

// Disconnect behaves like a well behaved worker: the channel closes, and
// the process exits cleanly.
func (h *fakeHandle) Disconnect() error {
	h.Lock()
	if h.dead {
		h.Unlock()
		return ErrWorkerDead
	}
	h.requested = true
	h.Unlock()
	if h.fs.isStubborn() {
		return nil
	}
	go func() {
		h.fs.disconnect(h)
		h.fs.exit(h, 0, "")
	}()
	return nil
}

func (h *fakeHandle) Kill(sig os.Signal) error {
	h.Lock()
	if h.dead {
		h.Unlock()
		return ErrWorkerDead
	}
	h.requested = true
	h.Unlock()
	go h.fs.exit(h, -1, "SIGKILL")
	return nil
}

func (h *fakeHandle) Send(data []byte) error {
	h.Lock()
	defer h.Unlock()
	h.sent = append(h.sent, data)
	return nil
}

var errInjected = errors.New("Injected failure")

// fakeSpawner hands out fakeHandles and lets tests inject process events.
type fakeSpawner struct {
	handles  []*fakeHandle
	sink     chan<- ProcessEvent
	failAt   int  // fail the Nth spawn (1 based), 0 for never
	stubborn bool // handles ignore Disconnect
	nspawn   int
	sync.Mutex
}

func (fs *fakeSpawner) isStubborn() bool {
	fs.Lock()
	defer fs.Unlock()
	return fs.stubborn
}

func (fs *fakeSpawner) setStubborn(b bool) {
	fs.Lock()
	fs.stubborn = b
	fs.Unlock()
}

func (fs *fakeSpawner) setFailAt(n int) {
	fs.Lock()
	fs.failAt = n
	fs.Unlock()
}

func (fs *fakeSpawner) Spawn(settings SpawnSettings, env map[string]string, sink chan<- ProcessEvent) (Handle, error) {
	fs.Lock()
	defer fs.Unlock()
	fs.nspawn++
	if fs.failAt == fs.nspawn {
		return nil, errInjected
	}
	fs.sink = sink
	h := &fakeHandle{
		id:       fs.nspawn,
		pid:      1000 + fs.nspawn,
		state:    StateSpawned,
		settings: settings,
		env:      env,
		fs:       fs,
	}
	fs.handles = append(fs.handles, h)
	return h, nil
}

func (fs *fakeSpawner) Handles() []*fakeHandle {
	fs.Lock()
	defer fs.Unlock()
	return append([]*fakeHandle{}, fs.handles...)
}

func (fs *fakeSpawner) Count() int {
	fs.Lock()
	defer fs.Unlock()
	return len(fs.handles)
}

func (fs *fakeSpawner) send(ev ProcessEvent) {
	fs.Lock()
	sink := fs.sink
	fs.Unlock()
	sink <- ev
}

func (fs *fakeSpawner) exit(h *fakeHandle, code int, sig string) {
	h.Lock()
	h.dead = true
	h.state = StateTerminated
	h.Unlock()
	fs.send(ProcessEvent{Type: ProcessExit, Handle: h, Code: code, Signal: sig})
}

func (fs *fakeSpawner) disconnect(h *fakeHandle) {
	h.Lock()
	if !h.dead {
		h.state = StateDisconnecting
	}
	h.Unlock()
	fs.send(ProcessEvent{Type: ProcessDisconnect, Handle: h})
}

func (fs *fakeSpawner) listening(h *fakeHandle, addr string) {
	h.Lock()
	h.state = StateListening
	h.Unlock()
	fs.send(ProcessEvent{Type: ProcessListening, Handle: h, Address: addr})
}

// recorder collects delivered events.
type recorder struct {
	events []Event
	cv     *sync.Cond
	mx     sync.Mutex
}

func newRecorder() *recorder {
	r := &recorder{}
	r.cv = sync.NewCond(&r.mx)
	return r
}

func (r *recorder) handle(ev Event) {
	r.mx.Lock()
	r.events = append(r.events, ev)
	r.cv.Broadcast()
	r.mx.Unlock()
}

// attach subscribes to the given types, or every type if none are given.
func (r *recorder) attach(s *Supervisor, types ...EventType) {
	if len(types) == 0 {
		types = EventTypes()
	}
	for _, t := range types {
		s.On(t, r.handle)
	}
}

func (r *recorder) countLocked(t EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) Count(t EventType) int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.countLocked(t)
}

func (r *recorder) Events(t EventType) []Event {
	r.mx.Lock()
	defer r.mx.Unlock()
	var rv []Event
	for _, ev := range r.events {
		if ev.Type == t {
			rv = append(rv, ev)
		}
	}
	return rv
}

// Wait waits up to two seconds for at least n events of type t, and
// reports whether they arrived.
func (r *recorder) Wait(t EventType, n int) bool {
	timer := time.AfterFunc(2*time.Second, func() {
		r.mx.Lock()
		r.cv.Broadcast()
		r.mx.Unlock()
	})
	defer timer.Stop()
	deadline := time.Now().Add(2 * time.Second)

	r.mx.Lock()
	defer r.mx.Unlock()
	for r.countLocked(t) < n {
		if !time.Now().Before(deadline) {
			return false
		}
		r.cv.Wait()
	}
	return true
}

// settle gives the event loop a moment to deliver anything unexpected.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

// newTestSupervisor builds a Supervisor around a fakeSpawner.
func newTestSupervisor(t *testing.T, cfg Config, opts ...Option) (*Supervisor, *fakeSpawner) {
	fs := &fakeSpawner{}
	if cfg.Exec == "" {
		cfg.Exec = "/bin/worker"
	}
	opts = append([]Option{
		WithSpawner(fs),
		WithLogger(&testLog{t}),
	}, opts...)
	s, e := New(cfg, opts...)
	if e != nil {
		t.Fatalf("New failed: %v", e)
	}
	return s, fs
}
