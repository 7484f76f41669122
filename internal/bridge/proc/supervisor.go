// Package proc owns the channel to child-process mapping and
// coordinates cooperative shutdown.
package proc

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/common/logger"
)

// Registration associates a channel with its live child process.
type Registration struct {
	ChannelID string
	Cmd       *exec.Cmd
	TempDir   string
	StartedAt time.Time
}

// Supervisor tracks live child processes keyed by channel id. One
// instance is created at startup and passed to every component that
// spawns or interrupts processes.
type Supervisor struct {
	mu          sync.RWMutex
	procs       map[string]*Registration
	interrupted map[string]bool
	grace       time.Duration
	logger      *logger.Logger
}

// NewSupervisor creates a Supervisor with the given SIGINT grace period.
func NewSupervisor(grace time.Duration, log *logger.Logger) *Supervisor {
	return &Supervisor{
		procs:       make(map[string]*Registration),
		interrupted: make(map[string]bool),
		grace:       grace,
		logger:      log.WithFields(zap.String("component", "proc-supervisor")),
	}
}

// Register records the association between a channel and a started
// process. If a previous process is still registered for the channel it
// is killed before the new registration replaces it; silent replacement
// would orphan the old child.
func (s *Supervisor) Register(channelID string, cmd *exec.Cmd, tempDir string) *Registration {
	s.mu.Lock()
	old := s.procs[channelID]
	reg := &Registration{
		ChannelID: channelID,
		Cmd:       cmd,
		TempDir:   tempDir,
		StartedAt: time.Now(),
	}
	s.procs[channelID] = reg
	delete(s.interrupted, channelID)
	s.mu.Unlock()

	if old != nil {
		s.logger.Warn("Replacing live process registration",
			zap.String("channel_id", channelID))
		s.terminate(old.Cmd)
	}

	return reg
}

// Unregister removes the association only if it still refers to the
// given process. A stale unregister racing a fresh registration is a
// no-op.
func (s *Supervisor) Unregister(channelID string, cmd *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.procs[channelID]
	if !ok || reg.Cmd != cmd {
		return
	}
	delete(s.procs, channelID)
}

// Get returns the live registration for a channel, if any.
func (s *Supervisor) Get(channelID string) (*Registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.procs[channelID]
	return reg, ok
}

// Interrupt marks the channel interrupted and requests termination of
// its process. The interrupt flag is set even when no process is
// currently registered so an in-flight finalization still observes it.
func (s *Supervisor) Interrupt(channelID string) bool {
	s.mu.Lock()
	s.interrupted[channelID] = true
	reg, ok := s.procs[channelID]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("Interrupt with no registered process",
			zap.String("channel_id", channelID))
		return false
	}

	s.logger.Info("Interrupting channel process",
		zap.String("channel_id", channelID))
	s.terminate(reg.Cmd)
	return true
}

// WasInterrupted reports whether the channel was interrupted by the
// caller. Used by result finalization to distinguish a user-requested
// stop from a process failure.
func (s *Supervisor) WasInterrupted(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interrupted[channelID]
}

// ClearInterrupted resets the interrupt flag after the result has been
// finalized.
func (s *Supervisor) ClearInterrupted(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.interrupted, channelID)
}

// ActiveCount returns the number of currently registered processes.
func (s *Supervisor) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.procs)
}

// CleanupAll kills every registered process, best effort. Used on host
// shutdown.
func (s *Supervisor) CleanupAll() {
	s.mu.Lock()
	regs := make([]*Registration, 0, len(s.procs))
	for _, reg := range s.procs {
		regs = append(regs, reg)
	}
	s.procs = make(map[string]*Registration)
	s.interrupted = make(map[string]bool)
	s.mu.Unlock()

	for _, reg := range regs {
		s.logger.Info("Killing process on shutdown",
			zap.String("channel_id", reg.ChannelID))
		s.terminate(reg.Cmd)
	}
}

// terminate escalates from SIGINT to SIGKILL after the grace period.
// Best effort: a process the OS refuses to kill is logged and left for
// its exit event to clean up.
func (s *Supervisor) terminate(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		// Already exited or signal refused; try a hard kill right away
		if err := cmd.Process.Kill(); err != nil {
			s.logger.Debug("Kill after failed signal", zap.Error(err))
		}
		return
	}

	go func(cmd *exec.Cmd, grace time.Duration) {
		time.Sleep(grace)
		// Kill on an already-exited process fails harmlessly
		if err := cmd.Process.Kill(); err != nil {
			s.logger.Debug("Grace-period kill", zap.Error(err))
		}
	}(cmd, s.grace)
}
