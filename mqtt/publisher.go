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

// Package mqtt publishes supervisor events to an MQTT broker, one topic
// per event type under a common prefix.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/gdamore/cfork"
)

const (
	DefaultPrefix = "cfork"

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	quiesce        = 250 // milliseconds
)

var (
	ErrNoBroker         = errors.New("No MQTT broker configured")
	ErrConnectionFailed = errors.New("MQTT connection failed")
	ErrBadQoS           = errors.New("Bad MQTT QoS")
)

// Config describes the broker connection.
type Config struct {
	Broker   string `yaml:"broker" json:"broker"` // e.g. tcp://localhost:1883
	ClientID string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	QoS      byte   `yaml:"qos,omitempty" json:"qos,omitempty"`
	Retain   bool   `yaml:"retain,omitempty" json:"retain,omitempty"`
}

// Payload is the JSON body of a published event.
type Payload struct {
	Event       string    `json:"event"`
	Time        time.Time `json:"time"`
	Master      int       `json:"master"`
	ID          int       `json:"id,omitempty"`
	Pid         int       `json:"pid,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Code        *int      `json:"code,omitempty"`
	Signal      string    `json:"signal,omitempty"`
	Address     string    `json:"address,omitempty"`
	Termination string    `json:"termination,omitempty"`
	Replacement int       `json:"replacement,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// NewPayload converts ev.  Message data is not carried; it is opaque and
// may be binary.
func NewPayload(ev cfork.Event) Payload {
	p := Payload{
		Event:  ev.Type.String(),
		Time:   ev.Time,
		Master: os.Getpid(),
	}
	if ev.Worker != nil {
		p.ID = ev.Worker.ID()
		p.Pid = ev.Worker.Pid()
		p.Kind = ev.Kind.String()
	}
	switch ev.Type {
	case cfork.EventExit, cfork.EventUnexpectedExit:
		code := ev.Code
		p.Code = &code
		p.Signal = ev.Signal
	case cfork.EventListening:
		p.Address = ev.Address
	}
	if ev.Termination != cfork.TerminationNone {
		p.Termination = ev.Termination.String()
	}
	if ev.Replacement != nil {
		p.Replacement = ev.Replacement.Pid()
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}

// client is the part of pahomqtt.Client used here.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher publishes events from a Supervisor.
type Publisher struct {
	c      client
	cfg    Config
	logger *log.Logger
}

// Connect dials the broker.  Once connected, paho reconnects by itself.
func Connect(cfg Config, logger *log.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("%w: %d", ErrBadQoS, cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cfork-" + uuid.NewString()
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, e error) {
		if logger != nil {
			logger.Printf("MQTT connection lost: %v", e)
		}
	})

	c := pahomqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed,
			connectTimeout)
	}
	if e := token.Error(); e != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, e)
	}
	return newPublisher(c, cfg, logger), nil
}

func newPublisher(c client, cfg Config, logger *log.Logger) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Publisher{c: c, cfg: cfg, logger: logger}
}

func (p *Publisher) logf(format string, v ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, v...)
	}
}

// Topic returns the topic events of type t are published to.
func (p *Publisher) Topic(t cfork.EventType) string {
	return p.cfg.Prefix + "/" + t.String()
}

// WorkersTopic returns the topic worker snapshots are published to.
func (p *Publisher) WorkersTopic() string {
	return p.cfg.Prefix + "/workers"
}

// Attach subscribes to every event type of s.  Call it after s.Start,
// so that the default handlers are still installed.  The fork events of
// the initial pool may already have been delivered by then, so Attach
// also publishes the current workers to WorkersTopic.
func (p *Publisher) Attach(s *cfork.Supervisor) {
	for _, t := range cfork.EventTypes() {
		s.On(t, p.Publish)
	}
	p.PublishWorkers(s.Workers())
}

// PublishWorkers sends a snapshot of the workers as a JSON array.
func (p *Publisher) PublishWorkers(workers []cfork.WorkerInfo) {
	if workers == nil {
		workers = []cfork.WorkerInfo{}
	}
	b, e := json.Marshal(workers)
	if e != nil {
		p.logf("MQTT encode workers: %v", e)
		return
	}
	p.send(p.WorkersTopic(), b)
}

// Publish sends ev.  It does not wait for the broker; failures are
// logged.
func (p *Publisher) Publish(ev cfork.Event) {
	b, e := json.Marshal(NewPayload(ev))
	if e != nil {
		p.logf("MQTT encode %s: %v", ev.Type, e)
		return
	}
	p.send(p.Topic(ev.Type), b)
}

func (p *Publisher) send(topic string, b []byte) {
	token := p.c.Publish(topic, p.cfg.QoS, p.cfg.Retain, b)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.logf("MQTT publish %s: timeout", topic)
		} else if e := token.Error(); e != nil {
			p.logf("MQTT publish %s: %v", topic, e)
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.c.Disconnect(quiesce)
}
