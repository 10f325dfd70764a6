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

// Command cforkd runs a cfork supervisor as a daemon, with an HTTP
// control surface for cforkctl.
//
// The flags are
//
//	-c <file>	- configuration file (YAML)
//	-a <address>	- listen address, overriding the file
//	-m <count>	- maximum concurrent HTTP connections
//	-t <duration>	- how long to wait for workers on shutdown
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/gdamore/cfork"
	"github.com/gdamore/cfork/mqtt"
	"github.com/gdamore/cfork/rest"
)

var cfgFile string = "cforkd.yaml"
var addr string = ""
var maxConns int = 0
var grace time.Duration = 30 * time.Second

func main() {
	flag.StringVar(&cfgFile, "c", cfgFile, "configuration file")
	flag.StringVar(&addr, "a", addr, "listen address")
	flag.IntVar(&maxConns, "m", maxConns, "maximum HTTP connections")
	flag.DurationVar(&grace, "t", grace, "shutdown grace period")
	flag.Parse()

	cfg, e := loadDaemonConfigFile(cfgFile)
	if e != nil {
		log.Fatalf("Failed to load %s: %v", cfgFile, e)
	}
	if addr != "" {
		cfg.HTTP.Address = addr
	}
	if maxConns > 0 {
		cfg.HTTP.MaxConns = maxConns
	}

	var opts []cfork.Option
	var hopts []rest.Option
	if cfg.Metrics.Enabled {
		pmc := cfork.NewPrometheusMetricsCollector(cfg.Metrics.Namespace)
		opts = append(opts, cfork.WithMetricsCollector(pmc))
		hopts = append(hopts, rest.WithMetrics(pmc.Registry()))
	}
	if len(cfg.Auth.Users) != 0 {
		hopts = append(hopts, rest.WithUsers(cfg.Auth.Users))
		if cfg.Auth.Realm != "" {
			hopts = append(hopts, rest.WithRealm(cfg.Auth.Realm))
		}
	}

	s, e := cfork.New(cfg.Supervisor, opts...)
	if e != nil {
		log.Fatalf("Bad configuration: %v", e)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The supervisor outlives ctx; Shutdown below takes it down.
	if e := s.Start(context.Background()); e != nil {
		log.Fatalf("Failed to start: %v", e)
	}

	if cfg.MQTT.Broker != "" {
		logger := log.New(os.Stderr, "[cforkd:mqtt] ", log.LstdFlags)
		if p, e := mqtt.Connect(cfg.MQTT, logger); e != nil {
			log.Printf("MQTT disabled: %v", e)
		} else {
			p.Attach(s)
			defer p.Close()
		}
	}

	l, e := net.Listen("tcp", cfg.HTTP.Address)
	if e != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.HTTP.Address, e)
	}
	if cfg.HTTP.MaxConns > 0 {
		l = netutil.LimitListener(l, cfg.HTTP.MaxConns)
	}
	srv := &http.Server{Handler: rest.NewHandler(s, hopts...)}
	go func() {
		if e := srv.Serve(l); e != nil && e != http.ErrServerClosed {
			log.Fatal(e)
		}
	}()
	log.Printf("Listening on %s", l.Addr())

	// Wait for a termination signal, and shutdown cleanly if we get it.
	<-ctx.Done()
	log.Printf("Shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if e := s.Shutdown(sctx); e != nil {
		log.Printf("Shutdown: %v", e)
	}
	hctx, hcancel := context.WithTimeout(context.Background(), time.Second)
	defer hcancel()
	srv.Shutdown(hctx)
}
