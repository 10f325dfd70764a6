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
	"time"
)

const (
	DefaultLimit    = 60
	DefaultDuration = time.Minute
)

// Limiter is a sliding window rate limiter for respawns.  It remembers the
// times of the most recent Limit attempts (whether or not they were
// allowed).  An attempt is allowed when fewer than Limit attempts precede
// it in the window, or when the oldest attempt in the window is more than
// Duration older than this one.  The net effect is that no more than Limit
// respawns happen within any Duration long interval, while bursts that
// are spread out over time are tolerated.
//
// Limiter is not safe for concurrent use; the Supervisor serializes calls
// under its own lock.
type Limiter struct {
	limit    int
	duration time.Duration
	times    []time.Time
	now      func() time.Time
}

// NewLimiter returns a Limiter.  A nil clock means time.Now.
func NewLimiter(limit int, duration time.Duration, now func() time.Time) *Limiter {
	if limit < 1 {
		limit = DefaultLimit
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		limit:    limit,
		duration: duration,
		times:    make([]time.Time, 0, limit+1),
		now:      now,
	}
}

// Allow records an attempt at the current time, and reports whether it
// may proceed.  The attempt is recorded even when it is denied.
func (l *Limiter) Allow() bool {
	now := l.now()
	ok := len(l.times) < l.limit || now.Sub(l.times[0]) > l.duration
	l.times = append(l.times, now)
	if len(l.times) > l.limit {
		// Evict the oldest, keeping the backing array bounded.
		copy(l.times, l.times[1:])
		l.times = l.times[:l.limit]
	}
	return ok
}

// Span returns the time between the oldest and newest recorded attempts.
func (l *Limiter) Span() time.Duration {
	if len(l.times) == 0 {
		return 0
	}
	return l.times[len(l.times)-1].Sub(l.times[0])
}

// Len returns the number of attempts in the window.  It never exceeds
// Limit.
func (l *Limiter) Len() int {
	return len(l.times)
}

func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) Duration() time.Duration {
	return l.duration
}

// Times returns a copy of the window, oldest first.
func (l *Limiter) Times() []time.Time {
	return append([]time.Time{}, l.times...)
}
