package sdk

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/bridge/node"
	"github.com/chanbridge/chanbridge/internal/bridge/proc"
	"github.com/chanbridge/chanbridge/internal/common/config"
	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
	"github.com/chanbridge/chanbridge/internal/common/logger"
)

// StreamRequest describes one streaming command invocation.
type StreamRequest struct {
	ChannelID string
	Provider  string
	Operation string
	WorkDir   string
	// Payload is the single JSON request object written to the child's
	// stdin before it is closed.
	Payload any
}

// EventSink receives classified output while a command streams.
// Implementations must not block the read loop; long waits (permission
// decisions) belong on their own goroutine.
type EventSink interface {
	OnEvent(channelID string, ev *Event)
	OnText(channelID string, text string)
}

// StreamRunner runs one streaming command to completion.
type StreamRunner interface {
	RunStreaming(ctx context.Context, req StreamRequest, sink EventSink) *Result
}

// Bridge launches the node bridge script and drives one streaming
// command through STARTING, RUNNING and a terminal state.
type Bridge struct {
	cfg        config.BridgeConfig
	detector   *node.Detector
	supervisor *proc.Supervisor
	logger     *logger.Logger
}

// NewBridge creates a Bridge.
func NewBridge(cfg config.BridgeConfig, detector *node.Detector, supervisor *proc.Supervisor, log *logger.Logger) *Bridge {
	return &Bridge{
		cfg:        cfg,
		detector:   detector,
		supervisor: supervisor,
		logger:     log.WithFields(zap.String("component", "sdk-bridge")),
	}
}

// RunStreaming executes one streaming command. It blocks until the
// child process exits or is interrupted and always returns a finalized
// Result; failures before spawn finalize the result without a process.
func (b *Bridge) RunStreaming(ctx context.Context, req StreamRequest, sink EventSink) *Result {
	result := NewResult()
	log := b.logger.WithChannelID(req.ChannelID)

	script := b.cfg.ScriptPath
	if script == "" {
		return result.Fail(apperrors.ErrCodeBridgeNotReady, "bridge script path is not configured")
	}
	if _, err := os.Stat(script); err != nil {
		// Installation/extraction may still be in progress; callers
		// should retry later rather than treat this as permanent
		return result.Fail(apperrors.ErrCodeBridgeNotReady, "bridge script not found: "+script)
	}

	nodePath, _, err := b.detector.FindNodeExecutable(ctx)
	if err != nil {
		return result.Fail(apperrors.ErrCodeNodeNotFound, err.Error())
	}

	tempDir, err := b.supervisor.PrepareTempDir(b.cfg.TempDirBase)
	if err != nil {
		return result.Fail(apperrors.ErrCodeSpawnFailed, "failed to prepare scratch directory: "+err.Error())
	}
	snapshot := b.supervisor.SnapshotFiles(tempDir)

	cmd := exec.Command(nodePath, script, req.Provider, req.Operation)
	cmd.Dir = b.resolveWorkDir(req.WorkDir)
	node.EnvConfig{TempDir: tempDir, ProjectPath: cmd.Dir}.Apply(cmd)

	// Combine stdout and stderr into a single ordered stream
	outRead, outWrite, err := os.Pipe()
	if err != nil {
		b.supervisor.RemoveTempDir(tempDir)
		return result.Fail(apperrors.ErrCodeSpawnFailed, "failed to create output pipe: "+err.Error())
	}
	cmd.Stdout = outWrite
	cmd.Stderr = outWrite

	stdin, err := cmd.StdinPipe()
	if err != nil {
		outRead.Close()
		outWrite.Close()
		b.supervisor.RemoveTempDir(tempDir)
		return result.Fail(apperrors.ErrCodeSpawnFailed, "failed to open stdin pipe: "+err.Error())
	}

	if err := cmd.Start(); err != nil {
		outRead.Close()
		outWrite.Close()
		b.supervisor.RemoveTempDir(tempDir)
		return result.Fail(apperrors.ErrCodeSpawnFailed, err.Error())
	}
	// Parent's copy of the write end must close so the reader sees EOF
	// when the child exits
	outWrite.Close()

	b.supervisor.Register(req.ChannelID, cmd, tempDir)
	log.Info("Bridge process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("operation", req.Operation))

	return b.stream(req, cmd, stdin, outRead, tempDir, snapshot, result, sink, log)
}

// stream drives the spawned process to completion. Teardown runs in a
// defer so a fault anywhere in the read loop, the sink included, still
// unregisters the process, cleans the scratch directory and hands the
// caller a terminal result.
func (b *Bridge) stream(req StreamRequest, cmd *exec.Cmd, stdin io.WriteCloser, outRead *os.File,
	tempDir string, snapshot map[string]struct{}, result *Result, sink EventSink, log *logger.Logger) (final *Result) {

	lastDiagnostic := ""
	exitCode := -1
	waited := false

	defer func() {
		fault := recover()
		if fault != nil {
			_ = cmd.Process.Kill()
		}
		outRead.Close()
		if !waited {
			_ = cmd.Wait()
		}

		interrupted := b.supervisor.WasInterrupted(req.ChannelID)
		b.supervisor.Unregister(req.ChannelID, cmd)
		b.supervisor.ClearInterrupted(req.ChannelID)
		removed := b.supervisor.CleanupCreatedFiles(tempDir, snapshot)
		b.supervisor.RemoveTempDir(tempDir)

		if fault != nil {
			log.Error("Streaming loop failed", zap.Any("fault", fault))
			final = result.Fail(apperrors.ErrCodeInternalError,
				fmt.Sprintf("streaming failure: %v", fault))
			return
		}

		log.Info("Bridge process exited",
			zap.Int("exit_code", exitCode),
			zap.Bool("interrupted", interrupted),
			zap.Int("scratch_files_removed", removed))
		final = result.Finalize(exitCode, interrupted, lastDiagnostic)
	}()

	// Stdin is written on its own goroutine so a payload larger than the
	// pipe buffer cannot deadlock against a child that writes output
	// before reading its input. Write failure is logged and tolerated;
	// the child may still produce usable output without it.
	go func() {
		if err := json.NewEncoder(stdin).Encode(req.Payload); err != nil {
			log.Warn("Failed to write request payload to stdin", zap.Error(err))
		}
		stdin.Close()
	}()

	lastDiagnostic = b.consumeOutput(outRead, req.ChannelID, result, sink, log)

	exitCode = 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	waited = true
	return nil
}

// consumeOutput reads the combined output line by line until EOF,
// classifying each line. Returns the last captured diagnostic message.
func (b *Bridge) consumeOutput(r *os.File, channelID string, result *Result, sink EventSink, log *logger.Logger) string {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lastDiagnostic := ""
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		c := Classify(line)
		switch c.Kind {
		case LineDiagnostic:
			// Captured but never terminates the loop; reading continues
			// until stdout closes
			lastDiagnostic = c.Message
			log.Warn("Bridge diagnostic",
				zap.String("marker", c.Marker),
				zap.String("message", c.Message))

		case LineEvent:
			b.handleEvent(channelID, c.Event, result, sink)

		case LineText:
			if sink != nil {
				sink.OnText(channelID, c.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("Output stream read error", zap.Error(err))
	}
	return lastDiagnostic
}

func (b *Bridge) handleEvent(channelID string, ev *Event, result *Result, sink EventSink) {
	result.AppendMessage(ev)

	switch ev.Type {
	case "result":
		if ev.IsError || ev.Error != "" {
			msg := ev.Error
			if msg == "" {
				msg = ev.Result
			}
			result.LatchError(msg)
		} else if ev.Result != "" {
			result.AppendText(ev.Result)
		}
	case "assistant":
		result.AppendText(ev.Text())
	}

	if sink != nil {
		sink.OnEvent(channelID, ev)
	}
}

// resolveWorkDir returns the caller-supplied cwd if it is an existing
// directory, falling back to the configured bridge work directory.
func (b *Bridge) resolveWorkDir(cwd string) string {
	if cwd != "" {
		if info, err := os.Stat(cwd); err == nil && info.IsDir() {
			return cwd
		}
	}
	return b.cfg.WorkDir
}
