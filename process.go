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
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/cfork/internal/ipc"
)

// ExecSpawner is the Spawner used unless another is supplied.  It runs
// each process with os/exec and gives it a control channel made of two
// pipes.  The child finds them through EnvChannelFD; the worker package
// knows how to use them.
type ExecSpawner struct {
	// Output receives each line written by a silent process.  If nil,
	// that output is discarded.
	Output func(pid int, line string)

	ids atomic.Int64
}

// drainTime bounds how long an exit report waits for the channel to be
// read to its end.  A grandchild holding the descriptors open would
// otherwise hold it up forever.
const drainTime = time.Second

// NewExecSpawner returns an ExecSpawner delivering silent output to out.
func NewExecSpawner(out func(pid int, line string)) *ExecSpawner {
	return &ExecSpawner{Output: out}
}

// Process is the Handle returned by ExecSpawner.
type Process struct {
	id   int
	pid  int
	cmd  *exec.Cmd
	sink chan<- ProcessEvent

	enc    ipc.Encoder
	writer *os.File

	state     WorkerState
	dead      bool
	requested bool // primary called Disconnect or Kill
	clean     bool // channel closed in an orderly way

	eof      chan struct{} // channel read to its end
	exited   chan struct{} // exit event sent
	discSent chan struct{} // disconnect event sent
	discOnce sync.Once

	sendMx sync.Mutex
	mx     sync.Mutex
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

// Spawn starts a process.  It does not wait for anything beyond the
// process having been started.
func (es *ExecSpawner) Spawn(settings SpawnSettings, env map[string]string, sink chan<- ProcessEvent) (Handle, error) {
	if !ipc.Valid(settings.Serialization) {
		return nil, ErrBadSerialization
	}
	mode := settings.Serialization
	if mode == "" {
		mode = ipc.SerializationJSON
	}
	path, args := settings.Command()
	if path == "" {
		return nil, ErrNoExec
	}

	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = sysProcAttr(settings)

	// childR/parentW carry data to the child, parentR/childW from it.
	childR, parentW, e := os.Pipe()
	if e != nil {
		return nil, e
	}
	parentR, childW, e := os.Pipe()
	if e != nil {
		closeFiles(childR, parentW)
		return nil, e
	}
	opened := []*os.File{childR, parentW, parentR, childW}

	fds := attachChannel(cmd, childR, childW)
	cmd.Env = append(os.Environ(), envList(mergeEnv(env, map[string]string{
		EnvChannelFD:     fds,
		EnvSerialization: mode,
	}))...)

	var outR, errR *os.File
	if settings.Silent {
		var outW, errW *os.File
		if outR, outW, e = os.Pipe(); e != nil {
			closeFiles(opened...)
			return nil, e
		}
		if errR, errW, e = os.Pipe(); e != nil {
			closeFiles(append(opened, outR, outW)...)
			return nil, e
		}
		cmd.Stdout = outW
		cmd.Stderr = errW
		opened = append(opened, outR, outW, errR, errW)
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if e = cmd.Start(); e != nil {
		closeFiles(opened...)
		return nil, e
	}

	// The child holds its own copies now.
	closeFiles(childR, childW)
	if settings.Silent {
		closeFiles(cmd.Stdout.(*os.File), cmd.Stderr.(*os.File))
	}

	p := &Process{
		id:       int(es.ids.Add(1)),
		pid:      cmd.Process.Pid,
		cmd:      cmd,
		sink:     sink,
		writer:   parentW,
		state:    StateSpawned,
		eof:      make(chan struct{}),
		exited:   make(chan struct{}),
		discSent: make(chan struct{}),
	}
	// The mode was validated above.
	p.enc, _ = ipc.NewEncoder(mode, parentW)
	dec, _ := ipc.NewDecoder(mode, parentR)

	if outR != nil {
		go es.doLog(p.pid, outR, "stdout> ")
		go es.doLog(p.pid, errR, "stderr> ")
	}
	go p.doRead(dec, parentR)
	go p.doWait()
	return p, nil
}

func (es *ExecSpawner) doLog(pid int, r io.ReadCloser, prefix string) {
	defer r.Close()
	// Gather stdout/stderr in chunks of lines
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 && es.Output != nil {
			es.Output(pid, prefix+strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// doRead pumps the channel from the child.  The disconnect is reported
// as soon as the channel is closed in an orderly way.  If it just breaks,
// the process is assumed to be dying, and the disconnect is held back
// until its exit has been reported.
func (p *Process) doRead(dec ipc.Decoder, r io.Closer) {
	defer r.Close()
	for {
		var env ipc.Envelope
		if e := dec.Decode(&env); e != nil {
			break
		}
		switch env.Cmd {
		case ipc.CmdListening:
			p.mx.Lock()
			if !p.dead {
				p.state = StateListening
			}
			p.mx.Unlock()
			p.sink <- ProcessEvent{
				Type:    ProcessListening,
				Handle:  p,
				Address: env.Address,
			}
		case ipc.CmdMessage:
			p.sink <- ProcessEvent{
				Type:   ProcessMessage,
				Handle: p,
				Data:   env.Data,
			}
		case ipc.CmdDisconnect:
			p.mx.Lock()
			p.clean = true
			p.mx.Unlock()
			p.emitDisconnect()
		}
	}
	close(p.eof)

	p.mx.Lock()
	clean := p.clean
	p.mx.Unlock()
	if !clean {
		<-p.exited
	}
	p.emitDisconnect()
}

func (p *Process) emitDisconnect() {
	p.discOnce.Do(func() {
		p.mx.Lock()
		if !p.dead {
			p.state = StateDisconnecting
		}
		p.mx.Unlock()
		p.sink <- ProcessEvent{Type: ProcessDisconnect, Handle: p}
		close(p.discSent)
	})
}

func (p *Process) doWait() {
	e := p.cmd.Wait()
	code, sig := exitStatus(p.cmd.ProcessState, e)

	p.mx.Lock()
	p.dead = true
	p.state = StateTerminated
	p.mx.Unlock()
	p.writer.Close()

	// Whatever the child wrote before it went away is read first, so a
	// disconnect it sent on its way out is not mistaken for a crash.
	select {
	case <-p.eof:
	case <-time.After(drainTime):
	}

	// An orderly disconnect is always reported ahead of the exit.
	p.mx.Lock()
	clean := p.clean
	p.mx.Unlock()
	if clean {
		<-p.discSent
	}
	p.sink <- ProcessEvent{
		Type:   ProcessExit,
		Handle: p,
		Code:   code,
		Signal: sig,
	}
	close(p.exited)
}

func (p *Process) ID() int {
	return p.id
}

func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) IsDead() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.dead
}

func (p *Process) ExitedAfterDisconnect() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.requested
}

func (p *Process) State() WorkerState {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.state
}

// Disconnect closes the channel to the child.  The disconnect event
// follows at once, and the exit event after it.
func (p *Process) Disconnect() error {
	p.mx.Lock()
	if p.clean {
		p.mx.Unlock()
		return ErrDisconnected
	}
	if p.dead {
		p.mx.Unlock()
		return ErrWorkerDead
	}
	p.requested = true
	p.clean = true
	p.mx.Unlock()

	p.sendMx.Lock()
	e := p.writer.Close()
	p.sendMx.Unlock()

	// The caller may be holding up the event loop, so the event cannot
	// be delivered from here.
	go p.emitDisconnect()
	return e
}

func (p *Process) Kill(sig os.Signal) error {
	p.mx.Lock()
	if p.dead {
		p.mx.Unlock()
		return ErrWorkerDead
	}
	p.requested = true
	p.mx.Unlock()
	return signalProcess(p.cmd.Process, sig)
}

func (p *Process) Send(data []byte) error {
	p.mx.Lock()
	dead, clean := p.dead, p.clean
	p.mx.Unlock()
	if clean {
		return ErrDisconnected
	}
	if dead {
		return ErrWorkerDead
	}
	p.sendMx.Lock()
	defer p.sendMx.Unlock()
	return p.enc.Encode(&ipc.Envelope{Cmd: ipc.CmdMessage, Data: data})
}

var _ Spawner = (*ExecSpawner)(nil)
var _ Handle = (*Process)(nil)
