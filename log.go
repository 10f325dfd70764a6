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
	"strings"
	"sync"
	"time"
)

// MaxLogRecords is the default capacity of a Log.
const MaxLogRecords = 1000

// LogRecord is one line of supervisor output.  Source is "master" for
// lines written by the supervisor itself, or "worker:<pid>" for output
// captured from a silent process.
type LogRecord struct {
	ID     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	Text   string    `json:"text"`
}

// Log is a bounded in-memory ring of log records.  It implements io.Writer
// so it can sit behind a log.Logger.  Record IDs increase monotonically, so
// the ID of the newest record serves as an Etag for REST clients.
type Log struct {
	records []LogRecord
	next    int // total records written, used modulo len(records)
	id      int64
	waiters map[chan struct{}]struct{}
	now     func() time.Time
	mx      sync.Mutex
}

// NewLog returns a Log holding at most max records.  A max less than one
// means MaxLogRecords.
func NewLog(max int) *Log {
	if max < 1 {
		max = MaxLogRecords
	}
	return &Log{
		records: make([]LogRecord, max),
		// IDs start from the clock, so that an Etag from before a
		// restart of the daemon is never mistaken for a current one.
		id:      time.Now().UnixNano(),
		waiters: make(map[chan struct{}]struct{}),
		now:     time.Now,
	}
}

func (l *Log) lock() {
	l.mx.Lock()
}

func (l *Log) unlock() {
	l.mx.Unlock()
}

// Write implements io.Writer.  Each line becomes a record from "master".
func (l *Log) Write(b []byte) (int, error) {
	l.Append("master", string(b))
	return len(b), nil
}

// Append adds one record per line of text.
func (l *Log) Append(source, text string) {
	text = strings.Trim(text, "\n")
	if text == "" {
		return
	}
	l.lock()
	for _, line := range strings.Split(text, "\n") {
		l.id++
		l.records[l.next%len(l.records)] = LogRecord{
			ID:     l.id,
			Time:   l.now(),
			Source: source,
			Text:   line,
		}
		l.next++
	}
	for w := range l.waiters {
		close(w)
		delete(l.waiters, w)
	}
	l.unlock()
}

// Records returns the records newer than last, oldest first, and the ID
// of the newest record.  Passing zero returns everything retained.  If
// nothing changed since last, the result is nil.
func (l *Log) Records(last int64) ([]LogRecord, int64) {
	l.lock()
	defer l.unlock()
	if l.id == last {
		return nil, last
	}
	cnt := l.next
	if cnt > len(l.records) {
		cnt = len(l.records)
	}
	recs := make([]LogRecord, 0, cnt)
	for i := l.next - cnt; i < l.next; i++ {
		r := l.records[i%len(l.records)]
		if r.ID > last {
			recs = append(recs, r)
		}
	}
	return recs, l.id
}

// Last returns the ID of the newest record.
func (l *Log) Last() int64 {
	l.lock()
	defer l.unlock()
	return l.id
}

// Watch blocks until a record newer than last is written or the context
// is done, and returns the newest ID.
func (l *Log) Watch(ctx context.Context, last int64) int64 {
	l.lock()
	if l.id != last {
		id := l.id
		l.unlock()
		return id
	}
	w := make(chan struct{})
	l.waiters[w] = struct{}{}
	l.unlock()

	select {
	case <-w:
	case <-ctx.Done():
		l.lock()
		delete(l.waiters, w)
		l.unlock()
	}
	return l.Last()
}

// Clear discards every record.  IDs keep increasing.
func (l *Log) Clear() {
	l.lock()
	l.next = 0
	l.unlock()
}
