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

//go:build !windows

package cfork

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gdamore/cfork/internal/ipc"
)

// Each process gets its own process group, so that signals sent to it
// reach anything it starts in turn.
func sysProcAttr(SpawnSettings) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// attachChannel arranges for the child to inherit r and w as descriptors
// 3 and 4.
func attachChannel(cmd *exec.Cmd, r, w *os.File) string {
	cmd.ExtraFiles = []*os.File{r, w}
	return ipc.FormatFDs(ipc.ChannelFD, ipc.ChannelFD+1)
}

func signalProcess(proc *os.Process, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return proc.Signal(sig)
	}
	if e := unix.Kill(-proc.Pid, s); e != nil {
		// Not a group leader after all; try the process alone.
		return proc.Signal(sig)
	}
	return nil
}

// exitStatus returns the exit code, or -1 and the signal name if the
// process was killed by a signal.
func exitStatus(ps *os.ProcessState, e error) (int, string) {
	if ps == nil {
		var ee *exec.ExitError
		if errors.As(e, &ee) {
			ps = ee.ProcessState
		}
	}
	if ps == nil {
		return -1, ""
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, unix.SignalName(ws.Signal())
	}
	return ps.ExitCode(), ""
}
