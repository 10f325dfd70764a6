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
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSpawnSettings(t *testing.T) {
	Convey("Command without a launcher runs exec directly", t, func() {
		s := SpawnSettings{Exec: "/bin/app", Args: []string{"-v", "serve"}}
		path, args := s.Command()
		So(path, ShouldEqual, "/bin/app")
		So(args, ShouldResemble, []string{"-v", "serve"})
		So(s.String(), ShouldEqual, "/bin/app -v serve")
	})

	Convey("Command with a launcher puts exec after the launcher flags", t, func() {
		s := SpawnSettings{
			Exec:     "app.py",
			Args:     []string{"serve"},
			ExecArgv: []string{"python3", "-u"},
		}
		path, args := s.Command()
		So(path, ShouldEqual, "python3")
		So(args, ShouldResemble, []string{"-u", "app.py", "serve"})
	})

	Convey("Clone does not share argument arrays", t, func() {
		s := SpawnSettings{Exec: "a", Args: []string{"x"}, ExecArgv: []string{"y"}}
		c := s.Clone()
		c.Args[0] = "changed"
		c.ExecArgv[0] = "changed"
		So(s.Args[0], ShouldEqual, "x")
		So(s.ExecArgv[0], ShouldEqual, "y")
	})
}

func TestNormalizeSlaves(t *testing.T) {
	base := SpawnSettings{
		Exec:          "/bin/worker",
		Args:          []string{"--pool"},
		ExecArgv:      []string{"/usr/bin/env"},
		Silent:        true,
		Serialization: "advanced",
	}

	Convey("Slaves without a path are dropped and the rest renumbered", t, func() {
		var dropped []string
		logf := func(f string, v ...interface{}) {
			dropped = append(dropped, f)
		}
		specs := []SlaveSpec{
			SlavePath("/bin/a"),
			{},
			SlavePath("/bin/b"),
			{Args: []string{"x"}},
			SlavePath("/bin/c"),
		}
		ss := NormalizeSlaves(base, specs, logf)
		So(len(ss), ShouldEqual, 3)
		So(len(dropped), ShouldEqual, 2)
		for i, s := range ss {
			So(s.Index, ShouldEqual, i)
			So(s.Count, ShouldEqual, 3)
			env := s.Env()
			So(env[EnvSlaveCount], ShouldEqual, "3")
			So(env, ShouldNotContainKey, EnvWorkerIndex)
		}
		So(ss[0].Settings.Exec, ShouldEqual, "/bin/a")
		So(ss[1].Settings.Exec, ShouldEqual, "/bin/b")
		So(ss[2].Settings.Exec, ShouldEqual, "/bin/c")
		So(ss[2].Env()[EnvSlaveIndex], ShouldEqual, "2")
	})

	Convey("Slaves inherit launcher and output settings but not args", t, func() {
		ss := NormalizeSlaves(base, []SlaveSpec{SlavePath("/bin/a")}, nil)
		So(len(ss), ShouldEqual, 1)
		s := ss[0].Settings
		So(s.Args, ShouldBeNil)
		So(s.ExecArgv, ShouldResemble, []string{"/usr/bin/env"})
		So(s.Silent, ShouldBeTrue)
		So(s.Serialization, ShouldEqual, "advanced")
	})

	Convey("Slave fields override the inherited ones", t, func() {
		no := false
		spec := SlaveSpec{
			Exec:          "/bin/a",
			Args:          []string{"one"},
			ExecArgv:      []string{},
			Silent:        &no,
			Serialization: "json",
		}
		ss := NormalizeSlaves(base, []SlaveSpec{spec}, nil)
		s := ss[0].Settings
		So(s.Args, ShouldResemble, []string{"one"})
		So(len(s.ExecArgv), ShouldEqual, 0)
		So(s.Silent, ShouldBeFalse)
		So(s.Serialization, ShouldEqual, "json")
	})

	Convey("An empty list normalizes to nothing", t, func() {
		So(len(NormalizeSlaves(base, nil, nil)), ShouldEqual, 0)
	})
}

func TestSlaveSpecDecode(t *testing.T) {
	Convey("YAML slaves may be paths or mappings", t, func() {
		var specs []SlaveSpec
		src := "- /bin/a\n- exec: /bin/b\n  args: [x, y]\n  silent: false\n"
		So(yaml.Unmarshal([]byte(src), &specs), ShouldBeNil)
		So(len(specs), ShouldEqual, 2)
		So(specs[0].Exec, ShouldEqual, "/bin/a")
		So(specs[1].Exec, ShouldEqual, "/bin/b")
		So(specs[1].Args, ShouldResemble, []string{"x", "y"})
		So(specs[1].Silent, ShouldNotBeNil)
		So(*specs[1].Silent, ShouldBeFalse)
	})

	Convey("JSON slaves may be paths or objects", t, func() {
		var specs []SlaveSpec
		src := `["/bin/a", {"exec": "/bin/b", "serialization": "advanced"}]`
		So(json.Unmarshal([]byte(src), &specs), ShouldBeNil)
		So(len(specs), ShouldEqual, 2)
		So(specs[0].Exec, ShouldEqual, "/bin/a")
		So(specs[1].Serialization, ShouldEqual, "advanced")
	})

	Convey("Malformed JSON slaves are rejected", t, func() {
		var specs []SlaveSpec
		So(json.Unmarshal([]byte(`[42]`), &specs), ShouldNotBeNil)
	})
}
