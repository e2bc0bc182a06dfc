// SPDX-License-Identifier: MIT

//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKillGroupWithoutProcess(t *testing.T) {
	assert.NoError(t, KillGroup(0, time.Millisecond, time.Millisecond))
	assert.NoError(t, KillGroup(-1, time.Millisecond, time.Millisecond))
}

func TestSetConfiguresProcessGroup(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
}

func TestKillGroupReapsProcess(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	Set(cmd)
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	require.NoError(t, KillGroup(pid, 2*time.Second, 5*time.Second))

	assert.Eventually(t, func() bool {
		return syscall.Kill(pid, 0) == syscall.ESRCH
	}, 5*time.Second, 50*time.Millisecond)
}
