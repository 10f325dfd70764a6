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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdamore/cfork"
)

func TestSampleConfig(t *testing.T) {
	c, err := loadDaemonConfigFile("cforkd.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/app", c.Supervisor.Exec)
	assert.Equal(t, 4, c.Supervisor.Count)
	assert.Equal(t, time.Minute, c.Supervisor.Duration)
	assert.True(t, c.Supervisor.Silent)
	require.Len(t, c.Supervisor.Slaves, 1)
	assert.Equal(t, "/usr/local/bin/app-scheduler", c.Supervisor.Slaves[0].Exec)
	assert.Equal(t, "127.0.0.1:8321", c.HTTP.Address)
	assert.Empty(t, c.MQTT.Broker)
	assert.True(t, c.Metrics.Enabled)
}

func TestConfigDefaults(t *testing.T) {
	c, err := loadDaemonConfig(strings.NewReader("supervisor:\n  exec: /bin/app\n"))
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, c.HTTP.Address)
	assert.Equal(t, defaultMaxConns, c.HTTP.MaxConns)
	assert.Equal(t, cfork.DefaultLimit, c.Supervisor.Limit)
	assert.True(t, c.Supervisor.ReforkEnabled())
	assert.True(t, c.Metrics.Enabled)
}

func TestConfigErrors(t *testing.T) {
	_, err := loadDaemonConfig(strings.NewReader("http:\n  address: :80\n"))
	assert.ErrorIs(t, err, errNoExec)

	_, err = loadDaemonConfig(strings.NewReader(
		"supervisor:\n  exec: /bin/app\n  count: -1\n"))
	assert.ErrorIs(t, err, cfork.ErrBadCount)

	_, err = loadDaemonConfig(strings.NewReader(
		"supervisor:\n  exec: /bin/app\nbogus: 1\n"))
	assert.Error(t, err)

	_, err = loadDaemonConfigFile("does-not-exist.yaml")
	assert.Error(t, err)
}
