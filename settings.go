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
	"strings"

	"gopkg.in/yaml.v3"
)

// SpawnSettings describe how to launch a process.  A worker group (the
// main pool, or a single slave) shares one SpawnSettings for its lifetime,
// and every replacement is launched with the same value.
type SpawnSettings struct {
	// Exec is the program to run.
	Exec string `yaml:"exec" json:"exec"`

	// Args are the arguments passed after Exec.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// ExecArgv, when not empty, is a launcher placed in front of Exec.
	// Its first element is the program actually executed, for example
	// an interpreter, and the rest are that program's own flags.
	ExecArgv []string `yaml:"execArgv,omitempty" json:"execArgv,omitempty"`

	// Silent captures the process output into the supervisor log
	// rather than sharing the primary's stdout and stderr.
	Silent bool `yaml:"silent,omitempty" json:"silent,omitempty"`

	// WindowsHide hides the console window on Windows.
	WindowsHide bool `yaml:"windowsHide,omitempty" json:"windowsHide,omitempty"`

	// Serialization selects the control channel codec, "json" (the
	// default) or "advanced".
	Serialization string `yaml:"serialization,omitempty" json:"serialization,omitempty"`
}

// Clone returns a deep copy.
func (s SpawnSettings) Clone() SpawnSettings {
	rv := s
	rv.Args = copyArray(s.Args)
	rv.ExecArgv = copyArray(s.ExecArgv)
	return rv
}

// Command returns the program to execute and its arguments, with ExecArgv
// applied.
func (s SpawnSettings) Command() (string, []string) {
	if len(s.ExecArgv) == 0 {
		return s.Exec, copyArray(s.Args)
	}
	args := make([]string, 0, len(s.ExecArgv)+len(s.Args))
	args = append(args, s.ExecArgv[1:]...)
	args = append(args, s.Exec)
	args = append(args, s.Args...)
	return s.ExecArgv[0], args
}

func (s SpawnSettings) String() string {
	path, args := s.Command()
	return strings.Join(append([]string{path}, args...), " ")
}

func copyArray(src []string) []string {
	if src == nil {
		return nil
	}
	rv := make([]string, 0, len(src))
	rv = append(rv, src...)
	return rv
}

// SlaveSpec describes one slave process.  In a config file it may be
// written either as a bare exec path or as a mapping.  Fields left unset,
// other than Exec and Args, are inherited from the main pool.
type SlaveSpec struct {
	Exec          string   `yaml:"exec" json:"exec"`
	Args          []string `yaml:"args,omitempty" json:"args,omitempty"`
	ExecArgv      []string `yaml:"execArgv,omitempty" json:"execArgv,omitempty"`
	Silent        *bool    `yaml:"silent,omitempty" json:"silent,omitempty"`
	WindowsHide   *bool    `yaml:"windowsHide,omitempty" json:"windowsHide,omitempty"`
	Serialization string   `yaml:"serialization,omitempty" json:"serialization,omitempty"`
}

// SlavePath returns the SlaveSpec for a bare exec path.
func SlavePath(path string) SlaveSpec {
	return SlaveSpec{Exec: path}
}

func (s *SlaveSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*s = SlaveSpec{}
		return n.Decode(&s.Exec)
	}
	type plain SlaveSpec
	return n.Decode((*plain)(s))
}

func (s *SlaveSpec) UnmarshalJSON(b []byte) error {
	var path string
	if e := json.Unmarshal(b, &path); e == nil {
		*s = SlaveSpec{Exec: path}
		return nil
	}
	type plain SlaveSpec
	return json.Unmarshal(b, (*plain)(s))
}

// SlaveSettings is a normalized slave: the settings to spawn it with, and
// its position within the slave group.
type SlaveSettings struct {
	Settings SpawnSettings
	Index    int
	Count    int
}

// Env returns the identity variables for the slave.
func (s SlaveSettings) Env() map[string]string {
	return slaveEnv(s.Index, s.Count)
}

// NormalizeSlaves turns specs into concrete settings.  Entries with no
// exec path are dropped, and logged through logf if it is not nil.  The
// survivors are numbered 0 through N-1, and all carry a Count of N.
func NormalizeSlaves(base SpawnSettings, specs []SlaveSpec, logf func(string, ...interface{})) []SlaveSettings {
	rv := make([]SlaveSettings, 0, len(specs))
	for i, spec := range specs {
		if spec.Exec == "" {
			if logf != nil {
				logf("Dropping slave %d: no exec path", i)
			}
			continue
		}
		s := SpawnSettings{
			Exec:          spec.Exec,
			Args:          copyArray(spec.Args),
			ExecArgv:      copyArray(base.ExecArgv),
			Silent:        base.Silent,
			WindowsHide:   base.WindowsHide,
			Serialization: base.Serialization,
		}
		if spec.ExecArgv != nil {
			s.ExecArgv = copyArray(spec.ExecArgv)
		}
		if spec.Silent != nil {
			s.Silent = *spec.Silent
		}
		if spec.WindowsHide != nil {
			s.WindowsHide = *spec.WindowsHide
		}
		if spec.Serialization != "" {
			s.Serialization = spec.Serialization
		}
		rv = append(rv, SlaveSettings{Settings: s})
	}
	for i := range rv {
		rv[i].Index = i
		rv[i].Count = len(rv)
	}
	return rv
}
