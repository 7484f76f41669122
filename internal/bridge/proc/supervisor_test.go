package proc

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbridge/chanbridge/internal/common/logger"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewSupervisor(100*time.Millisecond, log)
}

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestRegisterUnregister(t *testing.T) {
	s := newTestSupervisor(t)
	cmd := startSleeper(t)

	s.Register("chan-1", cmd, "")
	assert.Equal(t, 1, s.ActiveCount())

	reg, ok := s.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, cmd, reg.Cmd)

	s.Unregister("chan-1", cmd)
	assert.Equal(t, 0, s.ActiveCount())
}

func TestUnregisterIgnoresStaleHandle(t *testing.T) {
	s := newTestSupervisor(t)
	oldCmd := startSleeper(t)
	newCmd := startSleeper(t)

	s.Register("chan-1", oldCmd, "")
	s.Register("chan-1", newCmd, "")

	// A stale unregister for the replaced process must not drop the
	// fresh registration
	s.Unregister("chan-1", oldCmd)
	assert.Equal(t, 1, s.ActiveCount())

	reg, ok := s.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, newCmd, reg.Cmd)
}

func TestRegisterKillsReplacedProcess(t *testing.T) {
	s := newTestSupervisor(t)
	oldCmd := startSleeper(t)
	newCmd := startSleeper(t)

	s.Register("chan-1", oldCmd, "")
	s.Register("chan-1", newCmd, "")

	done := make(chan error, 1)
	go func() { done <- oldCmd.Wait() }()

	select {
	case <-done:
		// replaced process was terminated
	case <-time.After(2 * time.Second):
		t.Fatal("replaced process was not terminated")
	}

	assert.Equal(t, 1, s.ActiveCount())
}

func TestInterruptSetsFlagAndTerminates(t *testing.T) {
	s := newTestSupervisor(t)
	cmd := startSleeper(t)

	s.Register("chan-1", cmd, "")
	assert.False(t, s.WasInterrupted("chan-1"))

	assert.True(t, s.Interrupt("chan-1"))
	assert.True(t, s.WasInterrupted("chan-1"))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted process did not exit")
	}

	// Flag survives unregister until explicitly cleared
	s.Unregister("chan-1", cmd)
	assert.True(t, s.WasInterrupted("chan-1"))

	s.ClearInterrupted("chan-1")
	assert.False(t, s.WasInterrupted("chan-1"))
}

func TestInterruptUnknownChannel(t *testing.T) {
	s := newTestSupervisor(t)
	assert.False(t, s.Interrupt("missing"))
	// Flag is still set so a racing finalization observes it
	assert.True(t, s.WasInterrupted("missing"))
}

func TestCleanupAll(t *testing.T) {
	s := newTestSupervisor(t)
	cmd1 := startSleeper(t)
	cmd2 := startSleeper(t)

	s.Register("chan-1", cmd1, "")
	s.Register("chan-2", cmd2, "")
	assert.Equal(t, 2, s.ActiveCount())

	s.CleanupAll()
	assert.Equal(t, 0, s.ActiveCount())
}

func TestTempDirDiffCleanup(t *testing.T) {
	s := newTestSupervisor(t)

	dir, err := s.PrepareTempDir(t.TempDir())
	require.NoError(t, err)

	// a.txt pre-exists the snapshot
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("keep"), 0o644))
	before := s.SnapshotFiles(dir)

	// Simulate the process creating b.txt while a.txt remains
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("scratch"), 0o644))

	removed := s.CleanupCreatedFiles(dir, before)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(dir, "a.txt"))
	assert.NoError(t, err, "pre-existing file must survive cleanup")

	_, err = os.Stat(filepath.Join(dir, "b.txt"))
	assert.True(t, os.IsNotExist(err), "created file must be removed")
}

func TestSnapshotFilesMissingDir(t *testing.T) {
	s := newTestSupervisor(t)
	snapshot := s.SnapshotFiles("/nonexistent/path")
	assert.Empty(t, snapshot)
	assert.Equal(t, 0, s.CleanupCreatedFiles("/nonexistent/path", snapshot))
}
