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

package worker

import (
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gdamore/cfork/internal/ipc"
)

func TestIdentity(t *testing.T) {
	Convey("A pool worker knows its index", t, func() {
		t.Setenv(ipc.EnvWorkerIndex, "2")
		t.Setenv(ipc.EnvWorkerCount, "4")
		So(IsWorker(), ShouldBeTrue)
		So(IsSlave(), ShouldBeFalse)
		So(Index(), ShouldEqual, 2)
		So(Count(), ShouldEqual, 4)
		So(SlaveIndex(), ShouldEqual, -1)
	})

	Convey("A slave knows its index", t, func() {
		t.Setenv(ipc.EnvSlaveIndex, "0")
		t.Setenv(ipc.EnvSlaveCount, "1")
		So(IsSlave(), ShouldBeTrue)
		So(SlaveIndex(), ShouldEqual, 0)
		So(SlaveCount(), ShouldEqual, 1)
	})

	Convey("Garbage is not an index", t, func() {
		t.Setenv(ipc.EnvWorkerIndex, "two")
		So(Index(), ShouldEqual, -1)
		So(IsWorker(), ShouldBeFalse)
	})

	Convey("Without a channel Connect fails", t, func() {
		t.Setenv(ipc.EnvChannelFD, "")
		So(Supervised(), ShouldBeFalse)
		_, e := Connect()
		So(e, ShouldEqual, ErrNoChannel)

		t.Setenv(ipc.EnvChannelFD, "nonsense")
		So(Supervised(), ShouldBeTrue)
		_, e = Connect()
		So(e, ShouldNotBeNil)
	})
}

// pair returns a worker Channel and the primary's ends of its pipes.
func pair(mode string) (*Channel, *os.File, *os.File) {
	childR, parentW, e := os.Pipe()
	So(e, ShouldBeNil)
	parentR, childW, e := os.Pipe()
	So(e, ShouldBeNil)
	c, e := newChannel(mode, childR, childW)
	So(e, ShouldBeNil)
	return c, parentR, parentW
}

func TestChannel(t *testing.T) {
	for _, mode := range []string{ipc.SerializationJSON, ipc.SerializationAdvanced} {
		Convey("Given a channel in mode "+mode, t, func() {
			c, pr, pw := pair(mode)
			dec, _ := ipc.NewDecoder(mode, pr)
			enc, _ := ipc.NewEncoder(mode, pw)

			Convey("Listening reaches the primary", func() {
				So(c.Listening("127.0.0.1:99"), ShouldBeNil)
				var env ipc.Envelope
				So(dec.Decode(&env), ShouldBeNil)
				So(env.Cmd, ShouldEqual, ipc.CmdListening)
				So(env.Address, ShouldEqual, "127.0.0.1:99")
			})

			Convey("Messages flow both ways", func() {
				So(c.Send([]byte("up")), ShouldBeNil)
				var env ipc.Envelope
				So(dec.Decode(&env), ShouldBeNil)
				So(env.Cmd, ShouldEqual, ipc.CmdMessage)
				So(string(env.Data), ShouldEqual, "up")

				So(enc.Encode(&ipc.Envelope{Cmd: ipc.CmdMessage,
					Data: []byte("down")}), ShouldBeNil)
				select {
				case m := <-c.Messages():
					So(string(m), ShouldEqual, "down")
				case <-time.After(time.Second):
					So(false, ShouldBeTrue)
				}
			})

			Convey("Closing the primary end fires Done", func() {
				pw.Close()
				_, ok := <-c.Messages()
				So(ok, ShouldBeFalse)
				select {
				case <-c.Done():
				case <-time.After(time.Second):
					So(false, ShouldBeTrue)
				}
			})

			Convey("Done fires even if messages are never read", func() {
				for i := 0; i < 100; i++ {
					So(enc.Encode(&ipc.Envelope{Cmd: ipc.CmdMessage,
						Data: []byte{byte(i)}}), ShouldBeNil)
				}
				pw.Close()
				select {
				case <-c.Done():
				case <-time.After(time.Second):
					So(false, ShouldBeTrue)
				}

				// Nothing queued is lost.
				n := 0
				for m := range c.Messages() {
					So(int(m[0]), ShouldEqual, n)
					n++
				}
				So(n, ShouldEqual, 100)
			})

			Convey("Disconnect announces itself and closes", func() {
				So(c.Disconnect(), ShouldBeNil)
				var env ipc.Envelope
				So(dec.Decode(&env), ShouldBeNil)
				So(env.Cmd, ShouldEqual, ipc.CmdDisconnect)
				So(c.Disconnect(), ShouldEqual, ErrClosed)
				So(c.Send(nil), ShouldEqual, ErrClosed)
			})

			Reset(func() {
				pw.Close()
				pr.Close()
			})
		})
	}
}
