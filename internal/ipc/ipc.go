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

// Package ipc holds the pieces of the primary/worker control channel that
// both sides need to agree upon: the environment variable names, and the
// envelope codec.  Message payloads are opaque to it.
package ipc

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	EnvWorkerIndex   = "CFORK_WORKER_INDEX"
	EnvWorkerCount   = "CFORK_WORKER_COUNT"
	EnvSlaveIndex    = "CFORK_SLAVE_WORKER_INDEX"
	EnvSlaveCount    = "CFORK_SLAVE_WORKER_COUNT"
	EnvChannelFD     = "CFORK_CHANNEL_FD"
	EnvSerialization = "CFORK_SERIALIZATION"
)

// ChannelFD is the descriptor the child reads from on unix systems.  The
// child writes to the one after it.
const ChannelFD = 3

const (
	SerializationJSON     = "json"
	SerializationAdvanced = "advanced"
)

const (
	CmdListening  = "listening"
	CmdMessage    = "message"
	CmdDisconnect = "disconnect"
)

var (
	ErrBadSerialization = errors.New("Unknown serialization mode")
	ErrBadChannel       = errors.New("Bad channel descriptor")
)

// Envelope is the unit exchanged on the channel.
type Envelope struct {
	Cmd     string `json:"cmd"`
	Address string `json:"address,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

// Encoder writes envelopes.  It is satisfied by both json.Encoder and
// gob.Encoder.
type Encoder interface {
	Encode(v interface{}) error
}

// Decoder reads envelopes.  Pass it an *Envelope.
type Decoder interface {
	Decode(v interface{}) error
}

// Valid reports whether mode names a supported serialization.  The empty
// string is valid, and means json.
func Valid(mode string) bool {
	switch mode {
	case "", SerializationJSON, SerializationAdvanced:
		return true
	}
	return false
}

// NewEncoder returns an encoder for the mode.  The json mode writes one
// envelope per line; the advanced mode uses a gob stream.
func NewEncoder(mode string, w io.Writer) (Encoder, error) {
	switch mode {
	case "", SerializationJSON:
		return json.NewEncoder(w), nil
	case SerializationAdvanced:
		return gob.NewEncoder(w), nil
	}
	return nil, ErrBadSerialization
}

// NewDecoder is the counterpart of NewEncoder.
func NewDecoder(mode string, r io.Reader) (Decoder, error) {
	switch mode {
	case "", SerializationJSON:
		return json.NewDecoder(r), nil
	case SerializationAdvanced:
		return gob.NewDecoder(r), nil
	}
	return nil, ErrBadSerialization
}

// FormatFDs returns the value of EnvChannelFD for a child that reads from
// r and writes to w.
func FormatFDs(r, w uintptr) string {
	return fmt.Sprintf("%d,%d", r, w)
}

// ParseFDs parses the value of EnvChannelFD.
func ParseFDs(s string) (uintptr, uintptr, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadChannel, s)
	}
	r, e := strconv.ParseUint(parts[0], 10, 64)
	if e != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadChannel, s)
	}
	w, e := strconv.ParseUint(parts[1], 10, 64)
	if e != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadChannel, s)
	}
	return uintptr(r), uintptr(w), nil
}
