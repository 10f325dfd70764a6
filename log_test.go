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
	"bytes"
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("Given a small log", t, func() {
		l := NewLog(3)
		start := l.Last()

		Convey("Nothing is returned before anything is written", func() {
			recs, last := l.Records(start)
			So(recs, ShouldBeNil)
			So(last, ShouldEqual, start)
		})

		Convey("Each line becomes a record", func() {
			l.Append("worker:12", "one\ntwo\n")
			recs, last := l.Records(0)
			So(len(recs), ShouldEqual, 2)
			So(recs[0].Text, ShouldEqual, "one")
			So(recs[1].Text, ShouldEqual, "two")
			So(recs[1].Source, ShouldEqual, "worker:12")
			So(last, ShouldEqual, recs[1].ID)
			So(recs[1].ID, ShouldBeGreaterThan, recs[0].ID)

			Convey("And later reads return only newer records", func() {
				l.Write([]byte("three\n"))
				recs, _ := l.Records(last)
				So(len(recs), ShouldEqual, 1)
				So(recs[0].Text, ShouldEqual, "three")
				So(recs[0].Source, ShouldEqual, "master")
			})
		})

		Convey("Older records are overwritten", func() {
			for _, s := range []string{"a", "b", "c", "d", "e"} {
				l.Append("master", s)
			}
			recs, _ := l.Records(0)
			So(len(recs), ShouldEqual, 3)
			So(recs[0].Text, ShouldEqual, "c")
			So(recs[2].Text, ShouldEqual, "e")
		})

		Convey("Blank writes are ignored", func() {
			l.Append("master", "\n")
			So(l.Last(), ShouldEqual, start)
		})

		Convey("Clear drops records but not the id", func() {
			l.Append("master", "x")
			id := l.Last()
			l.Clear()
			recs, last := l.Records(0)
			So(len(recs), ShouldEqual, 0)
			So(last, ShouldEqual, id)
		})

		Convey("Watch wakes on a new record", func() {
			go func() {
				time.Sleep(20 * time.Millisecond)
				l.Append("master", "wake")
			}()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			So(l.Watch(ctx, start), ShouldBeGreaterThan, start)
		})

		Convey("Watch gives up when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(),
				20*time.Millisecond)
			defer cancel()
			So(l.Watch(ctx, start), ShouldEqual, start)
		})
	})
}

func TestMultiLogger(t *testing.T) {
	Convey("Given a MultiLogger with two sinks", t, func() {
		m := NewMultiLogger("[test] ", 0)
		b1 := &bytes.Buffer{}
		b2 := &bytes.Buffer{}
		m.AddSink(b1)
		m.AddSink(b2)
		m.AddSink(b1)

		Convey("Both sinks see each line once", func() {
			m.Logger().Printf("hello %d", 1)
			So(b1.String(), ShouldEqual, "[test] hello 1\n")
			So(b2.String(), ShouldEqual, "[test] hello 1\n")
		})

		Convey("A removed sink sees nothing more", func() {
			m.DelSink(b2)
			m.Logger().Print("only one")
			So(b1.String(), ShouldEqual, "[test] only one\n")
			So(b2.Len(), ShouldEqual, 0)
		})

		Convey("A Log sink records the prefixed line", func() {
			l := NewLog(10)
			m.AddSink(l)
			m.Logger().Print("to the ring")
			recs, _ := l.Records(0)
			So(len(recs), ShouldEqual, 1)
			So(recs[0].Text, ShouldEqual, "[test] to the ring")
		})
	})
}
