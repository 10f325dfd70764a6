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
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey("Given a registry", t, func() {
		clock := newFakeClock()
		r := NewRegistry(clock.Now)
		settings := SpawnSettings{Exec: "/bin/w", Args: []string{"a"}}
		env := map[string]string{EnvWorkerIndex: "0", EnvWorkerCount: "2"}
		h1 := &fakeHandle{id: 1, pid: 100}
		h2 := &fakeHandle{id: 2, pid: 100}

		wr := r.Register(h1, settings, env, KindWorker)
		So(wr.State, ShouldEqual, StateSpawned)
		So(wr.Spawned.Equal(clock.Now()), ShouldBeTrue)
		So(r.Len(), ShouldEqual, 1)

		Convey("Registered settings are private copies", func() {
			settings.Args[0] = "changed"
			env[EnvWorkerIndex] = "9"
			s, e, ok := r.Lookup(h1)
			So(ok, ShouldBeTrue)
			So(s.Args[0], ShouldEqual, "a")
			So(e[EnvWorkerIndex], ShouldEqual, "0")

			Convey("And lookups hand out copies too", func() {
				e[EnvWorkerIndex] = "7"
				_, e2, _ := r.Lookup(h1)
				So(e2[EnvWorkerIndex], ShouldEqual, "0")
			})
		})

		Convey("Handles are keyed by id, not pid", func() {
			r.Register(h2, settings, map[string]string{}, KindSlave)
			So(r.Len(), ShouldEqual, 2)
			recs := r.Records()
			So(recs[0].Handle.ID(), ShouldEqual, 1)
			So(recs[1].Handle.ID(), ShouldEqual, 2)
			So(recs[1].Kind, ShouldEqual, KindSlave)
		})

		Convey("DisableRefork can be set and cleared", func() {
			So(r.DisableRefork(1), ShouldBeFalse)
			So(r.SetDisableRefork(1, true), ShouldBeNil)
			So(r.DisableRefork(1), ShouldBeTrue)
			So(r.SetDisableRefork(1, false), ShouldBeNil)
			So(r.DisableRefork(1), ShouldBeFalse)
		})

		Convey("Unknown workers are reported", func() {
			So(r.SetDisableRefork(42, true), ShouldEqual, ErrNoWorker)
			So(r.DisableRefork(42), ShouldBeFalse)
			_, _, ok := r.Lookup(h2)
			So(ok, ShouldBeFalse)
		})

		Convey("State changes are recorded", func() {
			r.SetState(1, StateListening)
			wr, ok := r.Record(1)
			So(ok, ShouldBeTrue)
			So(wr.State, ShouldEqual, StateListening)
		})

		Convey("Removed workers are forgotten", func() {
			r.Remove(h1)
			So(r.Len(), ShouldEqual, 0)
			_, ok := r.Record(1)
			So(ok, ShouldBeFalse)
		})
	})
}
