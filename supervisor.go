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
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"
	"time"
)

// DefaultEventBuffer is the capacity of the channel a Spawner delivers
// process events on.
const DefaultEventBuffer = 64

// Counters are the aggregate totals kept by a Supervisor.
type Counters struct {
	Disconnects     int64 `json:"disconnects"`
	UnexpectedExits int64 `json:"unexpectedExits"`
	Respawns        int64 `json:"respawns"`
	Denials         int64 `json:"denials"`
	SpawnFailures   int64 `json:"spawnFailures"`
	Faults          int64 `json:"faults"`
}

// Stats is a consistent snapshot of supervisor state.
type Stats struct {
	Counters
	Pid          int           `json:"pid"`
	Workers      int           `json:"workers"`
	Slaves       int           `json:"slaves"`
	Refork       bool          `json:"refork"`
	Limit        int           `json:"limit"`
	Duration     time.Duration `json:"duration"`
	ReforkWindow int           `json:"reforkWindow"`
	Started      time.Time     `json:"started"`
	Serial       int64         `json:"serial,string"`
}

// WorkerInfo describes one live process.  Index and Count are the pool
// position for workers, and the group position for slaves.
type WorkerInfo struct {
	ID            int       `json:"id"`
	Pid           int       `json:"pid"`
	Kind          string    `json:"kind"`
	State         string    `json:"state"`
	Index         int       `json:"index"`
	Count         int       `json:"count"`
	DisableRefork bool      `json:"disableRefork"`
	Address       string    `json:"address,omitempty"`
	Command       string    `json:"command"`
	Spawned       time.Time `json:"spawned"`
	Respawn       bool      `json:"respawn"`
}

// Supervisor starts a pool of workers, plus any slaves, and replaces them
// as they go away, subject to a rate limit.  Each Supervisor is fully
// independent of any other in the same process.
type Supervisor struct {
	cfg      Config
	settings SpawnSettings
	slaves   []SlaveSettings
	baseEnv  map[string]string
	refork   bool

	spawner  Spawner
	registry *Registry
	limiter  *Limiter
	pending  map[int]time.Time
	subs     subscribers
	metrics  MetricsCollector
	now      func() time.Time
	buffer   int
	counters Counters

	events chan ProcessEvent
	kick   chan struct{}
	done   chan struct{}
	outq   []Event

	mlog    *MultiLogger
	log     *Log
	console io.Writer
	logger  *log.Logger

	started   bool
	stopped   bool
	startTime time.Time
	serial    int64
	waiters   map[chan struct{}]struct{}
	mx        sync.Mutex
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSpawner replaces the default ExecSpawner.
func WithSpawner(sp Spawner) Option {
	return func(s *Supervisor) {
		s.spawner = sp
	}
}

// WithLogger replaces standard error as the console log destination.  A
// nil writer disables console logging; the in-memory log is unaffected.
func WithLogger(w io.Writer) Option {
	return func(s *Supervisor) {
		s.console = w
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Supervisor) {
		s.metrics = mc
	}
}

// WithClock replaces time.Now, for the limiter and for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		s.now = now
	}
}

// WithEventBuffer sets the capacity of the process event channel.
func WithEventBuffer(n int) Option {
	return func(s *Supervisor) {
		s.buffer = n
	}
}

// New validates cfg and returns a Supervisor that has not yet spawned
// anything.  Subscriptions made between New and Start see every event,
// and suppress the corresponding default handlers.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	cfg, e := cfg.withDefaults()
	if e != nil {
		return nil, e
	}

	s := &Supervisor{
		cfg:     cfg,
		refork:  cfg.ReforkEnabled(),
		pending: make(map[int]time.Time),
		now:     time.Now,
		buffer:  DefaultEventBuffer,
		console: os.Stderr,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		waiters: make(map[chan struct{}]struct{}),
	}
	// The serial starts from the clock, so that clients caching across
	// a daemon restart see a change.
	s.serial = time.Now().UnixNano()
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = NewNoopMetricsCollector()
	}
	if s.buffer < 1 {
		s.buffer = DefaultEventBuffer
	}

	s.log = NewLog(MaxLogRecords)
	s.log.now = s.now
	s.mlog = NewMultiLogger(fmt.Sprintf("[cfork:master:%d] ", os.Getpid()),
		log.LstdFlags)
	s.mlog.AddSink(s.log)
	if s.console != nil {
		s.mlog.AddSink(s.console)
	}
	s.logger = s.mlog.Logger()

	if s.spawner == nil {
		s.spawner = NewExecSpawner(s.workerOutput)
	}

	s.registry = NewRegistry(s.now)
	s.limiter = NewLimiter(cfg.Limit, cfg.Duration, s.now)
	s.events = make(chan ProcessEvent, s.buffer)

	s.settings = cfg.Settings()
	s.slaves = NormalizeSlaves(s.settings, cfg.Slaves, s.logf)
	s.baseEnv = mergeEnv(cfg.Env)
	if cfg.AutoCoverage {
		if dir := os.Getenv(EnvCoverageDir); dir != "" {
			s.baseEnv[EnvCoverageDir] = dir
		}
	}
	return s, nil
}

func (s *Supervisor) lock() {
	s.mx.Lock()
}

func (s *Supervisor) unlock() {
	s.mx.Unlock()
}

func (s *Supervisor) logf(format string, v ...interface{}) {
	s.logger.Printf(format, v...)
}

// workerOutput receives the output of silent processes.
func (s *Supervisor) workerOutput(pid int, line string) {
	s.log.Append(fmt.Sprintf("worker:%d", pid), line)
}

// SetLogger replaces the console log destination.  Nil disables it.
func (s *Supervisor) SetLogger(w io.Writer) {
	s.lock()
	defer s.unlock()
	if s.console != nil {
		s.mlog.DelSink(s.console)
	}
	s.console = w
	if w != nil {
		s.mlog.AddSink(w)
	}
}

// Log returns the in-memory log.
func (s *Supervisor) Log() *Log {
	return s.log
}

// Config returns the effective configuration, with defaults applied.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// On subscribes h to events of type t.  Handlers are never removed.
func (s *Supervisor) On(t EventType, h Handler) {
	s.subs.add(t, h)
}

// Listeners returns the number of handlers subscribed to t.
func (s *Supervisor) Listeners(t EventType) int {
	return s.subs.count(t)
}

// Start spawns the pool and then the slaves, installs the default
// handlers, and starts the event loop.  If any initial spawn fails,
// everything already spawned is killed and the error is returned.  The
// supervisor shuts down when ctx is done.
func (s *Supervisor) Start(ctx context.Context) error {
	if e := ctx.Err(); e != nil {
		return e
	}
	s.lock()
	if s.stopped {
		s.unlock()
		return ErrShutdown
	}
	if s.started {
		s.unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.startTime = s.now()

	s.logf("Starting %d workers (%s), %d slaves, refork: %v, limit: %d in %v",
		s.cfg.Count, s.settings, len(s.slaves), s.refork,
		s.cfg.Limit, s.cfg.Duration)

	var forks []Event
	var err error
	for i := 0; i < s.cfg.Count && err == nil; i++ {
		env := mergeEnv(s.baseEnv, workerEnv(i, s.cfg.Count))
		var h Handle
		if h, err = s.spawn(s.settings, env, KindWorker, false); err == nil {
			forks = append(forks, s.forkEvent(h, KindWorker))
		}
	}
	for _, slave := range s.slaves {
		if err != nil {
			break
		}
		env := mergeEnv(s.baseEnv, slave.Env())
		var h Handle
		if h, err = s.spawn(slave.Settings, env, KindSlave, false); err == nil {
			forks = append(forks, s.forkEvent(h, KindSlave))
		}
	}

	if err != nil {
		s.logf("Initial spawn failed: %v", err)
		s.stopped = true
		for _, wr := range s.registry.Records() {
			if e := wr.Handle.Kill(os.Kill); e != nil {
				s.logf("worker:%d kill failed: %v", wr.Handle.Pid(), e)
			}
		}
		s.unlock()
		go s.run(ctx)
		return err
	}
	s.outq = append(s.outq, forks...)
	s.unlock()

	s.installDefaults()

	go s.run(ctx)
	s.wake()
	return nil
}

// spawn launches and registers a process.  Call with lock held.
func (s *Supervisor) spawn(settings SpawnSettings, env map[string]string, kind Kind, respawn bool) (Handle, error) {
	h, e := s.spawner.Spawn(settings.Clone(), mergeEnv(env), s.events)
	if e != nil {
		s.counters.SpawnFailures++
		s.metrics.SpawnFailed(kind)
		return nil, fmt.Errorf("spawn %s %q: %w", kind, settings.Exec, e)
	}
	wr := s.registry.Register(h, settings, env, kind)
	wr.Respawn = respawn
	if respawn {
		s.counters.Respawns++
	}
	s.metrics.WorkerSpawned(kind, respawn)
	s.updateLive()
	s.bumpSerial()
	return h, nil
}

func (s *Supervisor) forkEvent(h Handle, kind Kind) Event {
	return Event{Type: EventFork, Time: s.now(), Worker: h, Kind: kind}
}

// updateLive reports the number of registered processes.  Call with lock
// held.
func (s *Supervisor) updateLive() {
	var workers, slaves int
	for _, wr := range s.registry.records {
		if wr.Kind == KindSlave {
			slaves++
		} else {
			workers++
		}
	}
	s.metrics.LiveWorkers(KindWorker, workers)
	s.metrics.LiveWorkers(KindSlave, slaves)
}

// queue schedules ev for delivery to subscribers.  Call with lock held.
func (s *Supervisor) queue(ev Event) {
	s.outq = append(s.outq, ev)
}

func (s *Supervisor) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// run is the event loop.  It exits once the supervisor is stopped and
// every process it spawned has been seen to exit.
func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	ctxDone := ctx.Done()
	for {
		s.dispatch()

		s.lock()
		finished := s.stopped && s.registry.Len() == 0
		s.unlock()
		if finished {
			s.logf("Supervisor stopped")
			return
		}

		select {
		case pe := <-s.events:
			s.process(pe)
		case <-s.kick:
		case <-ctxDone:
			ctxDone = nil
			s.lock()
			s.beginShutdown()
			s.unlock()
		}
	}
}

// dispatch delivers queued events to subscribers, without the lock held.
func (s *Supervisor) dispatch() {
	for {
		s.lock()
		if len(s.outq) == 0 {
			s.unlock()
			return
		}
		ev := s.outq[0]
		s.outq = s.outq[1:]
		s.unlock()

		for _, h := range s.subs.get(ev.Type) {
			s.call(h, ev)
		}
	}
}

func (s *Supervisor) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.lock()
			if ev.Type == EventError {
				// Do not feed a failing error handler its own panic.
				s.counters.Faults++
				s.logf("Panic in error handler: %v", r)
			} else {
				s.fault(r)
			}
			s.unlock()
		}
	}()
	h(ev)
}

// beginShutdown stops respawning and disconnects everything.  Call with
// lock held.
func (s *Supervisor) beginShutdown() {
	if s.stopped {
		return
	}
	s.stopped = true
	s.logf("Shutting down %d processes", s.registry.Len())
	for _, wr := range s.registry.Records() {
		if wr.Handle.IsDead() {
			continue
		}
		if e := wr.Handle.Disconnect(); e != nil {
			s.logf("worker:%d disconnect failed: %v", wr.Handle.Pid(), e)
		}
	}
	s.bumpSerial()
	s.wake()
}

// Shutdown stops respawning and disconnects every process, then waits for
// them all to exit.  If ctx is done first, whatever is left is killed and
// ctx.Err() is returned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.lock()
	if !s.started {
		s.unlock()
		return ErrNotStarted
	}
	s.beginShutdown()
	s.unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
	}

	s.lock()
	for _, wr := range s.registry.Records() {
		if wr.Handle.IsDead() {
			continue
		}
		s.logf("worker:%d did not exit, killing", wr.Handle.Pid())
		if e := wr.Handle.Kill(os.Kill); e != nil {
			s.logf("worker:%d kill failed: %v", wr.Handle.Pid(), e)
		}
	}
	s.unlock()
	return ctx.Err()
}

// Done is closed when the event loop has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// SetDisableRefork marks a worker so that it is not replaced when it goes
// away.  It must be set before the worker's disconnect or exit is
// processed to have any effect on that death.
func (s *Supervisor) SetDisableRefork(id int, disable bool) error {
	s.lock()
	defer s.unlock()
	if e := s.registry.SetDisableRefork(id, disable); e != nil {
		return e
	}
	s.bumpSerial()
	return nil
}

// DisableRefork returns the flag for a worker, false if it is unknown.
func (s *Supervisor) DisableRefork(id int) bool {
	s.lock()
	defer s.unlock()
	return s.registry.DisableRefork(id)
}

func (s *Supervisor) info(wr *WorkerRecord) WorkerInfo {
	wi := WorkerInfo{
		ID:            wr.Handle.ID(),
		Pid:           wr.Handle.Pid(),
		Kind:          wr.Kind.String(),
		State:         wr.State.String(),
		DisableRefork: wr.DisableRefork,
		Address:       wr.Address,
		Command:       wr.Settings.String(),
		Spawned:       wr.Spawned,
		Respawn:       wr.Respawn,
	}
	idx, cnt := EnvWorkerIndex, EnvWorkerCount
	if wr.Kind == KindSlave {
		idx, cnt = EnvSlaveIndex, EnvSlaveCount
	}
	wi.Index, _ = strconv.Atoi(wr.Env[idx])
	wi.Count, _ = strconv.Atoi(wr.Env[cnt])
	return wi
}

// Workers returns every live process, ordered by id.
func (s *Supervisor) Workers() []WorkerInfo {
	s.lock()
	defer s.unlock()
	recs := s.registry.Records()
	rv := make([]WorkerInfo, 0, len(recs))
	for i := range recs {
		rv = append(rv, s.info(&recs[i]))
	}
	return rv
}

// Worker returns a single process by id.
func (s *Supervisor) Worker(id int) (WorkerInfo, error) {
	s.lock()
	defer s.unlock()
	wr, ok := s.registry.Record(id)
	if !ok {
		return WorkerInfo{}, ErrNoWorker
	}
	return s.info(wr), nil
}

// Stats returns a snapshot of the counters and pool sizes.
func (s *Supervisor) Stats() Stats {
	s.lock()
	defer s.unlock()
	st := Stats{
		Counters:     s.counters,
		Pid:          os.Getpid(),
		Refork:       s.refork,
		Limit:        s.limiter.Limit(),
		Duration:     s.limiter.Duration(),
		ReforkWindow: s.limiter.Len(),
		Started:      s.startTime,
		Serial:       s.serial,
	}
	for _, wr := range s.registry.records {
		if wr.Kind == KindSlave {
			st.Slaves++
		} else {
			st.Workers++
		}
	}
	return st
}

func (s *Supervisor) handle(id int) (Handle, error) {
	wr, ok := s.registry.Record(id)
	if !ok {
		return nil, ErrNoWorker
	}
	if wr.Handle.IsDead() {
		return nil, ErrWorkerDead
	}
	return wr.Handle, nil
}

// Disconnect closes the control channel of a worker, asking it to exit.
// Unless refork is disabled for it, the worker is replaced.
func (s *Supervisor) Disconnect(id int) error {
	s.lock()
	h, e := s.handle(id)
	s.unlock()
	if e != nil {
		return e
	}
	s.logf("worker:%d disconnect requested", h.Pid())
	return h.Disconnect()
}

// Kill delivers sig to a worker.
func (s *Supervisor) Kill(id int, sig os.Signal) error {
	s.lock()
	h, e := s.handle(id)
	s.unlock()
	if e != nil {
		return e
	}
	s.logf("worker:%d kill (signal: %v) requested", h.Pid(), sig)
	return h.Kill(sig)
}

// Send delivers an opaque message to a worker.
func (s *Supervisor) Send(id int, data []byte) error {
	s.lock()
	h, e := s.handle(id)
	s.unlock()
	if e != nil {
		return e
	}
	return h.Send(data)
}

// bumpSerial advances the change serial and wakes watchers.  Call with
// lock held.
func (s *Supervisor) bumpSerial() {
	s.serial++
	for w := range s.waiters {
		close(w)
		delete(s.waiters, w)
	}
}

// Serial returns a number that changes whenever the set of processes, or
// the state of one of them, changes.
func (s *Supervisor) Serial() int64 {
	s.lock()
	defer s.unlock()
	return s.serial
}

// WatchSerial blocks until the serial differs from old, or ctx is done,
// and returns the current serial.
func (s *Supervisor) WatchSerial(ctx context.Context, old int64) int64 {
	s.lock()
	if s.serial != old {
		rv := s.serial
		s.unlock()
		return rv
	}
	w := make(chan struct{})
	s.waiters[w] = struct{}{}
	s.unlock()

	select {
	case <-w:
	case <-ctx.Done():
		s.lock()
		delete(s.waiters, w)
		s.unlock()
	}
	return s.Serial()
}
