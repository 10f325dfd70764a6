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

// Package rest exposes a Supervisor over HTTP, and provides a client for
// it.  Responses are JSON.  The worker list and the log support Etag based
// caching, and long polls: a GET carrying PollEtagHeader and
// PollTimeHeader waits up to that many seconds for the Etag to change.
package rest

import (
	"os"
	"strings"
	"syscall"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	PollEtagHeader = "X-Cfork-Poll-Etag"
	PollTimeHeader = "X-Cfork-Poll-Time"

	// MaxPollTime caps a long poll, in seconds.
	MaxPollTime = 300
)

var ok struct{}

// Error is the body of every non-200 response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

var signals = map[string]os.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"KILL": syscall.SIGKILL,
	"QUIT": syscall.SIGQUIT,
	"TERM": syscall.SIGTERM,
}

// ParseSignal accepts names like "TERM" or "SIGTERM", in any case.
func ParseSignal(name string) (os.Signal, bool) {
	name = strings.TrimPrefix(strings.ToUpper(name), "SIG")
	sig, ok := signals[name]
	return sig, ok
}
