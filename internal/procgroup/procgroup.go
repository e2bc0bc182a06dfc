// SPDX-License-Identifier: MIT

// Package procgroup spawns subprocesses in their own process group so a
// cancelled pipeline can reap the whole tree (yt-dlp forks ffmpeg for
// remuxing; killing only the leader leaves orphans writing to the media
// directory).
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// Set configures the command to start in a new process group.
// Mandatory for KillGroup to function as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates an entire process group tree: SIGTERM, a grace
// period, then SIGKILL. The process must have been spawned via Set.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}
