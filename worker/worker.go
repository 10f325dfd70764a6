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

// Package worker is the child side of a cfork supervisor.  A process
// started by the supervisor learns its identity from the environment, and
// talks to the primary over the control channel returned by Connect.
//
//	ch, e := worker.Connect()
//	if e != nil {
//		log.Fatal(e)
//	}
//	l, _ := net.Listen("tcp", ":0")
//	ch.Listening(l.Addr().String())
//	go serve(l)
//	<-ch.Done() // primary asked us to go away
package worker

import (
	"errors"
	"os"
	"strconv"
	"sync"

	"github.com/gdamore/cfork/internal/ipc"
)

var (
	ErrNoChannel = errors.New("Not started by a supervisor")
	ErrClosed    = errors.New("Channel closed")
)

func envInt(name string) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return -1
	}
	n, e := strconv.Atoi(v)
	if e != nil {
		return -1
	}
	return n
}

// IsWorker reports whether this process is a pool worker.
func IsWorker() bool {
	return Index() >= 0
}

// IsSlave reports whether this process is a slave.
func IsSlave() bool {
	return SlaveIndex() >= 0
}

// Index returns the pool index, or -1 if this is not a pool worker.
func Index() int {
	return envInt(ipc.EnvWorkerIndex)
}

// Count returns the pool size, or -1 if this is not a pool worker.
func Count() int {
	return envInt(ipc.EnvWorkerCount)
}

// SlaveIndex returns the slave index, or -1 if this is not a slave.
func SlaveIndex() int {
	return envInt(ipc.EnvSlaveIndex)
}

// SlaveCount returns the slave group size, or -1 if this is not a slave.
func SlaveCount() int {
	return envInt(ipc.EnvSlaveCount)
}

// Supervised reports whether a control channel was passed down.
func Supervised() bool {
	return os.Getenv(ipc.EnvChannelFD) != ""
}

// Channel is the worker end of the control channel.
type Channel struct {
	r    *os.File
	w    *os.File
	enc  ipc.Encoder
	msgs chan []byte
	done chan struct{}

	queue [][]byte
	eof   bool
	qmx   sync.Mutex
	qcv   *sync.Cond

	closed bool
	mx     sync.Mutex
}

// Connect opens the channel passed down by the supervisor.  It should be
// called at most once.
func Connect() (*Channel, error) {
	v := os.Getenv(ipc.EnvChannelFD)
	if v == "" {
		return nil, ErrNoChannel
	}
	rfd, wfd, e := ipc.ParseFDs(v)
	if e != nil {
		return nil, e
	}
	mode := os.Getenv(ipc.EnvSerialization)
	r := os.NewFile(rfd, "cfork-channel-in")
	w := os.NewFile(wfd, "cfork-channel-out")
	if r == nil || w == nil {
		return nil, ipc.ErrBadChannel
	}
	return newChannel(mode, r, w)
}

func newChannel(mode string, r, w *os.File) (*Channel, error) {
	enc, e := ipc.NewEncoder(mode, w)
	if e != nil {
		return nil, e
	}
	dec, e := ipc.NewDecoder(mode, r)
	if e != nil {
		return nil, e
	}
	c := &Channel{
		r:    r,
		w:    w,
		enc:  enc,
		msgs: make(chan []byte),
		done: make(chan struct{}),
	}
	c.qcv = sync.NewCond(&c.qmx)
	go c.doRead(dec)
	go c.doDeliver()
	return c, nil
}

// doRead queues messages without waiting on the reader of Messages, so
// that Done fires at EOF whether or not anybody drains them.
func (c *Channel) doRead(dec ipc.Decoder) {
	defer close(c.done)
	defer func() {
		c.qmx.Lock()
		c.eof = true
		c.qcv.Broadcast()
		c.qmx.Unlock()
	}()
	for {
		var env ipc.Envelope
		if e := dec.Decode(&env); e != nil {
			return
		}
		if env.Cmd == ipc.CmdMessage {
			c.qmx.Lock()
			c.queue = append(c.queue, env.Data)
			c.qcv.Broadcast()
			c.qmx.Unlock()
		}
	}
}

func (c *Channel) doDeliver() {
	defer close(c.msgs)
	for {
		c.qmx.Lock()
		for len(c.queue) == 0 && !c.eof {
			c.qcv.Wait()
		}
		if len(c.queue) == 0 {
			c.qmx.Unlock()
			return
		}
		data := c.queue[0]
		c.queue = c.queue[1:]
		c.qmx.Unlock()
		c.msgs <- data
	}
}

func (c *Channel) send(env *ipc.Envelope) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.enc.Encode(env)
}

// Listening tells the primary that this worker is serving on addr.
func (c *Channel) Listening(addr string) error {
	return c.send(&ipc.Envelope{Cmd: ipc.CmdListening, Address: addr})
}

// Send delivers an opaque message to the primary.
func (c *Channel) Send(data []byte) error {
	return c.send(&ipc.Envelope{Cmd: ipc.CmdMessage, Data: data})
}

// Messages returns the messages sent by the primary, in order.  It is
// closed after the primary disconnects and every message has been
// received.
func (c *Channel) Messages() <-chan []byte {
	return c.msgs
}

// Done is closed when the primary disconnects, whether or not Messages
// has been drained.  A worker should finish up and exit when it fires.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Disconnect tells the primary that this worker is going away on purpose,
// and closes the channel.  The primary treats the exit that follows as
// expected, and starts a replacement.
func (c *Channel) Disconnect() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return ErrClosed
	}
	e := c.enc.Encode(&ipc.Envelope{Cmd: ipc.CmdDisconnect})
	c.closed = true
	c.w.Close()
	return e
}
