// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

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

func startGroup(t *testing.T, script string) (*exec.Cmd, <-chan struct{}) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return cmd, done
}

func TestKill_ReachesWholeGroup(t *testing.T) {
	cmd, done := startGroup(t, "sleep 10 & sleep 10")
	time.Sleep(100 * time.Millisecond)

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "process should be group leader")

	require.NoError(t, Kill(cmd, syscall.SIGKILL))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("group leader did not exit")
	}

	require.Eventually(t, func() bool {
		return syscall.Kill(-pgid, syscall.Signal(0)) == syscall.ESRCH
	}, 2*time.Second, 20*time.Millisecond, "process group should be gone")
}

func TestKill_NilAndExited(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGTERM))

	cmd, done := startGroup(t, "exit 0")
	<-done
	assert.NoError(t, Kill(cmd, syscall.SIGTERM))
}

func TestTerminate_Graceful(t *testing.T) {
	cmd, done := startGroup(t, "sleep 10")

	start := time.Now()
	require.NoError(t, Terminate(cmd, done, 2*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	cmd, done := startGroup(t, "trap '' TERM; while true; do sleep 1; done")
	time.Sleep(100 * time.Millisecond)

	grace := 200 * time.Millisecond
	start := time.Now()
	require.NoError(t, Terminate(cmd, done, grace))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestTerminate_NilCommand(t *testing.T) {
	assert.NoError(t, Terminate(nil, nil, time.Millisecond))
}
