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
	"io"
	"log"
	"strings"
	"sync"
)

// MultiLogger is an io.Writer that fans each line out to a set of sinks.
// Logger() returns a log.Logger writing through it, which is what the
// supervisor logs with.  Sinks see whole lines, prefix included, and each
// line is written to them with a trailing newline.
type MultiLogger struct {
	log   *log.Logger
	sinks []io.Writer
	mx    sync.Mutex
}

func NewMultiLogger(prefix string, flags int) *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, prefix, flags)
	return m
}

// Write implements io.Writer, splitting b into lines.
func (m *MultiLogger) Write(b []byte) (int, error) {
	lines := strings.Split(strings.Trim(string(b), "\n"), "\n")
	m.mx.Lock()
	for _, line := range lines {
		for _, w := range m.sinks {
			// Sink errors are not ours to report; the other sinks
			// still get the line.
			_, _ = io.WriteString(w, line+"\n")
		}
	}
	m.mx.Unlock()
	return len(b), nil
}

// AddSink adds w.  A sink can only be added once.
func (m *MultiLogger) AddSink(w io.Writer) {
	m.mx.Lock()
	defer m.mx.Unlock()
	for _, x := range m.sinks {
		if x == w {
			return
		}
	}
	m.sinks = append(m.sinks, w)
}

// DelSink removes w.
func (m *MultiLogger) DelSink(w io.Writer) {
	m.mx.Lock()
	defer m.mx.Unlock()
	for i, x := range m.sinks {
		if x == w {
			m.sinks = append(m.sinks[:i], m.sinks[i+1:]...)
			break
		}
	}
}

// Logger returns the log.Logger that writes through m.
func (m *MultiLogger) Logger() *log.Logger {
	return m.log
}
