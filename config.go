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
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gdamore/cfork/internal/ipc"
)

// Config is the supervisor configuration.  The zero value is usable; zero
// fields take their defaults when the Supervisor is created.
type Config struct {
	// Exec is the worker program.  If empty, the primary's own
	// executable is used, and the worker package tells the two roles
	// apart.
	Exec string `yaml:"exec" json:"exec"`

	Args          []string `yaml:"args,omitempty" json:"args,omitempty"`
	ExecArgv      []string `yaml:"execArgv,omitempty" json:"execArgv,omitempty"`
	Silent        bool     `yaml:"silent,omitempty" json:"silent,omitempty"`
	WindowsHide   bool     `yaml:"windowsHide,omitempty" json:"windowsHide,omitempty"`
	Serialization string   `yaml:"serialization,omitempty" json:"serialization,omitempty"`

	// Count is the pool size.  Zero means runtime.NumCPU().
	Count int `yaml:"count,omitempty" json:"count,omitempty"`

	// Refork is the master switch for respawning.  Nil means true.
	// When false no worker is ever replaced, regardless of Limit.
	Refork *bool `yaml:"refork,omitempty" json:"refork,omitempty"`

	// Limit respawns are permitted in any Duration.  Zero values mean
	// DefaultLimit and DefaultDuration.
	Limit    int           `yaml:"limit,omitempty" json:"limit,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`

	// Slaves are auxiliary processes, spawned after the pool.
	Slaves []SlaveSpec `yaml:"slaves,omitempty" json:"slaves,omitempty"`

	// Env is merged into the environment of every spawned process.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// AutoCoverage passes the primary's GOCOVERDIR down to every
	// spawned process, so that coverage instrumented binaries write
	// their profiles next to the primary's.
	AutoCoverage bool `yaml:"autoCoverage,omitempty" json:"autoCoverage,omitempty"`
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	refork := true
	return Config{
		Count:    runtime.NumCPU(),
		Refork:   &refork,
		Limit:    DefaultLimit,
		Duration: DefaultDuration,
	}
}

// ReforkEnabled reports the effective value of Refork.
func (c Config) ReforkEnabled() bool {
	return c.Refork == nil || *c.Refork
}

// Validate checks for values that cannot be defaulted.
func (c Config) Validate() error {
	if c.Count < 0 {
		return fmt.Errorf("%w: %d", ErrBadCount, c.Count)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%w: %d", ErrBadLimit, c.Limit)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: %v", ErrBadDuration, c.Duration)
	}
	if !ipc.Valid(c.Serialization) {
		return fmt.Errorf("%w: %q", ErrBadSerialization, c.Serialization)
	}
	for i, s := range c.Slaves {
		if !ipc.Valid(s.Serialization) {
			return fmt.Errorf("slave %d: %w: %q", i,
				ErrBadSerialization, s.Serialization)
		}
	}
	return nil
}

// withDefaults returns a copy with zero values replaced.
func (c Config) withDefaults() (Config, error) {
	if c.Count == 0 {
		c.Count = runtime.NumCPU()
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.Duration == 0 {
		c.Duration = DefaultDuration
	}
	if c.Exec == "" {
		self, e := os.Executable()
		if e != nil {
			return c, fmt.Errorf("%w: %v", ErrNoExec, e)
		}
		c.Exec = self
	}
	return c, nil
}

// Settings returns the SpawnSettings for the main pool.
func (c Config) Settings() SpawnSettings {
	return SpawnSettings{
		Exec:          c.Exec,
		Args:          copyArray(c.Args),
		ExecArgv:      copyArray(c.ExecArgv),
		Silent:        c.Silent,
		WindowsHide:   c.WindowsHide,
		Serialization: c.Serialization,
	}
}

// LoadConfig reads a YAML (or JSON) document into a Config that starts out
// as DefaultConfig.  Durations are written as Go duration strings, for
// example "90s".
func LoadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if e := dec.Decode(&c); e != nil && e != io.EOF {
		return c, e
	}
	if e := c.Validate(); e != nil {
		return c, e
	}
	return c, nil
}

// LoadConfigFile is LoadConfig on a named file.
func LoadConfigFile(name string) (Config, error) {
	f, e := os.Open(name)
	if e != nil {
		return Config{}, e
	}
	defer f.Close()
	c, e := LoadConfig(f)
	if e != nil {
		return c, fmt.Errorf("%s: %w", name, e)
	}
	return c, nil
}
