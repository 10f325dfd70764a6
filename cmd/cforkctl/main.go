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

// Command cforkctl is a client for cforkd.  It uses subcommands.
//
// The flags are
//
//	-a <address>	- select the server address, default is
//			  http://127.0.0.1:8321
//	-u <user:pass>	- user name & password for basic auth
//
// Subcommands are
//
//	workers             - list the live workers and slaves
//	info <id>           - show detailed worker info
//	stats               - show supervisor counters
//	disable <id>        - do not replace the worker when it goes away
//	enable <id>         - undo disable
//	disconnect <id>     - ask the worker to exit (it is replaced)
//	kill <id> [signal]  - signal the worker, TERM by default
//	log                 - print the supervisor log
//	top                 - full screen live view (the default)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/cfork"
	"github.com/gdamore/cfork/rest"
)

var addr string = "http://127.0.0.1:8321"
var auth string = ""
var timeout time.Duration = 5 * time.Second

func usage() {
	log.Fatalf("Usage: %s [-a <address>] [-u <user:pass>] <subcommand>",
		os.Args[0])
}

func formatDuration(d time.Duration) string {
	d -= d % time.Second
	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)
	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

func flagString(w cfork.WorkerInfo) string {
	var flags []string
	if w.DisableRefork {
		flags = append(flags, "norefork")
	}
	if w.Respawn {
		flags = append(flags, "respawn")
	}
	return strings.Join(flags, ",")
}

func showWorker(w cfork.WorkerInfo) {
	fmt.Printf("%5d %7d %-6s %3d/%-3d %-13s %9s %-16s %s\n",
		w.ID, w.Pid, w.Kind, w.Index, w.Count, w.State,
		formatDuration(time.Since(w.Spawned)), flagString(w), w.Address)
}

func workerArg(args []string) int {
	if len(args) < 2 {
		usage()
	}
	id, e := strconv.Atoi(args[1])
	if e != nil {
		log.Fatalf("Bad worker id: %s", args[1])
	}
	return id
}

func main() {
	flag.StringVar(&addr, "a", addr, "cforkd address")
	flag.StringVar(&auth, "u", auth, "user:pass authentication")
	flag.DurationVar(&timeout, "t", timeout, "request timeout")
	flag.Parse()

	client := rest.NewClient(nil, addr)
	if auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			log.Fatalf("Bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"top"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var e error
	switch args[0] {
	case "workers":
		var ws []cfork.WorkerInfo
		if ws, e = client.Workers(ctx); e == nil {
			fmt.Printf("%5s %7s %-6s %7s %-13s %9s %-16s %s\n",
				"ID", "PID", "KIND", "INDEX", "STATE", "UPTIME",
				"FLAGS", "ADDRESS")
			for _, w := range ws {
				showWorker(w)
			}
		}
	case "info":
		var w *cfork.WorkerInfo
		if w, e = client.Worker(ctx, workerArg(args)); e == nil {
			fmt.Printf("ID:        %d\n", w.ID)
			fmt.Printf("Pid:       %d\n", w.Pid)
			fmt.Printf("Kind:      %s\n", w.Kind)
			fmt.Printf("Index:     %d of %d\n", w.Index, w.Count)
			fmt.Printf("State:     %s\n", w.State)
			fmt.Printf("Address:   %s\n", w.Address)
			fmt.Printf("Command:   %s\n", w.Command)
			fmt.Printf("Since:     %v\n", formatDuration(time.Since(w.Spawned)))
			fmt.Printf("Respawn:   %v\n", w.Respawn)
			fmt.Printf("NoRefork:  %v\n", w.DisableRefork)
		}
	case "stats":
		var st *cfork.Stats
		if st, e = client.Stats(ctx); e == nil {
			fmt.Printf("Master:          %d\n", st.Pid)
			fmt.Printf("Up:              %s\n", formatDuration(time.Since(st.Started)))
			fmt.Printf("Workers:         %d\n", st.Workers)
			fmt.Printf("Slaves:          %d\n", st.Slaves)
			fmt.Printf("Refork:          %v (%d in %v, window %d)\n",
				st.Refork, st.Limit, st.Duration, st.ReforkWindow)
			fmt.Printf("Respawns:        %d\n", st.Respawns)
			fmt.Printf("Disconnects:     %d\n", st.Disconnects)
			fmt.Printf("UnexpectedExits: %d\n", st.UnexpectedExits)
			fmt.Printf("Denials:         %d\n", st.Denials)
			fmt.Printf("SpawnFailures:   %d\n", st.SpawnFailures)
			fmt.Printf("Faults:          %d\n", st.Faults)
		}
	case "disable":
		e = client.DisableRefork(ctx, workerArg(args))
	case "enable":
		e = client.EnableRefork(ctx, workerArg(args))
	case "disconnect":
		e = client.Disconnect(ctx, workerArg(args))
	case "kill":
		sig := ""
		if len(args) > 2 {
			sig = args[2]
		}
		e = client.Kill(ctx, workerArg(args), sig)
	case "log":
		var li *rest.LogInfo
		if li, e = client.GetLog(ctx); e == nil {
			for _, r := range li.Records {
				fmt.Printf("%s %-14s %s\n",
					r.Time.Format(time.RFC3339), r.Source, r.Text)
			}
		}
	case "top":
		cancel()
		e = doTop(client, addr)
	default:
		usage()
	}
	if e != nil {
		log.Fatalf("Failed: %v", e)
	}
}
