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

package main

import (
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gdamore/cfork"
	"github.com/gdamore/cfork/mqtt"
)

const (
	defaultAddr     = "127.0.0.1:8321"
	defaultMaxConns = 64
)

// daemonConfig is the cforkd configuration file.
type daemonConfig struct {
	Supervisor cfork.Config `yaml:"supervisor"`
	HTTP       httpConfig   `yaml:"http"`
	Auth       authConfig   `yaml:"auth"`
	MQTT       mqtt.Config  `yaml:"mqtt"`
	Metrics    metricsConf  `yaml:"metrics"`
}

type httpConfig struct {
	Address  string `yaml:"address"`
	MaxConns int    `yaml:"maxConns"`
}

type authConfig struct {
	Realm string            `yaml:"realm"`
	Users map[string]string `yaml:"users"` // name -> bcrypt hash
}

type metricsConf struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

var errNoExec = errors.New("supervisor.exec must be set")

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Supervisor: cfork.DefaultConfig(),
		HTTP: httpConfig{
			Address:  defaultAddr,
			MaxConns: defaultMaxConns,
		},
		Metrics: metricsConf{Enabled: true},
	}
}

func loadDaemonConfig(r io.Reader) (daemonConfig, error) {
	c := defaultDaemonConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if e := dec.Decode(&c); e != nil && e != io.EOF {
		return c, e
	}
	if c.Supervisor.Exec == "" {
		// cforkd is not a worker; running itself would be wrong.
		return c, errNoExec
	}
	if e := c.Supervisor.Validate(); e != nil {
		return c, e
	}
	return c, nil
}

func loadDaemonConfigFile(name string) (daemonConfig, error) {
	f, e := os.Open(name)
	if e != nil {
		return daemonConfig{}, e
	}
	defer f.Close()
	return loadDaemonConfig(f)
}
