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
	"errors"
	"os"
	"os/exec"
	"syscall"

	"github.com/gdamore/cfork/internal/ipc"
)

func sysProcAttr(settings SpawnSettings) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{HideWindow: settings.WindowsHide}
}

// attachChannel passes the pipe handles to the child.  Windows has no
// descriptor numbering to rely upon, so the handle values themselves are
// handed over.
func attachChannel(cmd *exec.Cmd, r, w *os.File) string {
	cmd.SysProcAttr.AdditionalInheritedHandles = append(
		cmd.SysProcAttr.AdditionalInheritedHandles,
		syscall.Handle(r.Fd()), syscall.Handle(w.Fd()))
	return ipc.FormatFDs(r.Fd(), w.Fd())
}

// Windows only knows how to kill.
func signalProcess(proc *os.Process, sig os.Signal) error {
	if sig == os.Kill {
		return proc.Kill()
	}
	return proc.Signal(sig)
}

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
	return ps.ExitCode(), ""
}
