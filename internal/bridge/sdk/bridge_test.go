package sdk

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbridge/chanbridge/internal/bridge/node"
	"github.com/chanbridge/chanbridge/internal/bridge/proc"
	"github.com/chanbridge/chanbridge/internal/common/config"
	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
	"github.com/chanbridge/chanbridge/internal/common/logger"
)

func newTestBridge(t *testing.T, cfg config.BridgeConfig) *Bridge {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	detector := node.NewDetector(config.NodeConfig{MinMajorVersion: 18, DetectTimeout: 5}, log)
	supervisor := proc.NewSupervisor(time.Second, log)
	return NewBridge(cfg, detector, supervisor, log)
}

func TestRunStreamingBridgeNotConfigured(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})

	result := b.RunStreaming(context.Background(), StreamRequest{ChannelID: "c"}, nil)
	require.NotNil(t, result)
	assert.True(t, result.Determined())
	assert.False(t, result.Success)
	assert.Equal(t, apperrors.ErrCodeBridgeNotReady, result.ErrorCode)
}

func TestRunStreamingBridgeScriptMissing(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{
		ScriptPath: filepath.Join(t.TempDir(), "not-extracted-yet.js"),
	})

	result := b.RunStreaming(context.Background(), StreamRequest{ChannelID: "c"}, nil)
	assert.False(t, result.Success)
	// Missing script means installation is still in progress, a retryable
	// condition distinct from a runtime failure
	assert.Equal(t, apperrors.ErrCodeBridgeNotReady, result.ErrorCode)
}

// writeFakeNode writes an executable that answers the version probe and
// otherwise runs the given shell body in place of the bridge runtime.
func writeFakeNode(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--version\" ]; then\n" +
		"  echo \"v20.0.0\"\n" +
		"  exit 0\n" +
		"fi\n" +
		body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

type scriptedBridge struct {
	bridge      *Bridge
	supervisor  *proc.Supervisor
	tempDirBase string
}

func newScriptedBridge(t *testing.T, nodeBody string) *scriptedBridge {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	scriptPath := filepath.Join(t.TempDir(), "bridge.js")
	require.NoError(t, os.WriteFile(scriptPath, []byte("// bundled entry point"), 0o644))

	cfg := config.BridgeConfig{
		ScriptPath:  scriptPath,
		WorkDir:     t.TempDir(),
		TempDirBase: t.TempDir(),
	}
	detector := node.NewDetector(config.NodeConfig{
		Path:            writeFakeNode(t, nodeBody),
		MinMajorVersion: 18,
		DetectTimeout:   5,
	}, log)
	supervisor := proc.NewSupervisor(time.Second, log)

	return &scriptedBridge{
		bridge:      NewBridge(cfg, detector, supervisor, log),
		supervisor:  supervisor,
		tempDirBase: cfg.TempDirBase,
	}
}

// recordingSink collects everything the read loop hands over.
type recordingSink struct {
	mu     sync.Mutex
	events []*Event
	texts  []string
}

func (s *recordingSink) OnEvent(_ string, ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) OnText(_ string, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

type faultySink struct{}

func (faultySink) OnEvent(string, *Event) { panic("transcript store unavailable") }
func (faultySink) OnText(string, string)  { panic("transcript store unavailable") }

func runWithDeadline(t *testing.T, b *Bridge, req StreamRequest, sink EventSink) *Result {
	t.Helper()
	done := make(chan *Result, 1)
	go func() {
		done <- b.RunStreaming(context.Background(), req, sink)
	}()
	select {
	case result := <-done:
		return result
	case <-time.After(20 * time.Second):
		t.Fatal("streaming command never returned")
		return nil
	}
}

func assertNoScratchLeak(t *testing.T, sb *scriptedBridge) {
	t.Helper()
	assert.Equal(t, 0, sb.supervisor.ActiveCount())
	leftovers, err := os.ReadDir(sb.tempDirBase)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRunStreamingScriptedProcess(t *testing.T) {
	sb := newScriptedBridge(t,
		`echo "plain banner"
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}'
echo '{"type":"result","result":"done"}'
cat >/dev/null
exit 0`)

	sink := &recordingSink{}
	result := runWithDeadline(t, sb.bridge, StreamRequest{
		ChannelID: "chan-s",
		Operation: "stream",
		Payload:   map[string]string{"prompt": "hello"},
	}, sink)

	require.True(t, result.Determined())
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "done", result.FinalResult)
	assert.Equal(t, []string{"plain banner"}, sink.texts)
	require.Len(t, sink.events, 2)
	assertNoScratchLeak(t, sb)
}

func TestRunStreamingSinkFaultStillFinalizes(t *testing.T) {
	sb := newScriptedBridge(t,
		`echo '{"type":"assistant","message":{"content":[]}}'
cat >/dev/null
exit 0`)

	result := runWithDeadline(t, sb.bridge, StreamRequest{
		ChannelID: "chan-f",
		Operation: "stream",
		Payload:   map[string]string{"prompt": "hello"},
	}, faultySink{})

	// The caller still receives a terminal result, and nothing leaks
	require.True(t, result.Determined())
	assert.False(t, result.Success)
	assert.Equal(t, apperrors.ErrCodeInternalError, result.ErrorCode)
	assert.False(t, sb.supervisor.WasInterrupted("chan-f"))
	assertNoScratchLeak(t, sb)
}

func TestRunStreamingLargePayloadDoesNotDeadlock(t *testing.T) {
	// The child floods its output before touching stdin, so a payload
	// beyond the pipe buffer only completes if stdin is written
	// concurrently with the output drain
	sb := newScriptedBridge(t,
		`i=0
while [ $i -lt 4000 ]; do
  echo "output line padding to make each write count for the flood ......"
  i=$((i+1))
done
cat >/dev/null
exit 0`)

	prompt := strings.Repeat("p", 256*1024)
	result := runWithDeadline(t, sb.bridge, StreamRequest{
		ChannelID: "chan-l",
		Operation: "stream",
		Payload:   map[string]string{"prompt": prompt},
	}, nil)

	require.True(t, result.Determined())
	assert.True(t, result.Success)
	assertNoScratchLeak(t, sb)
}

func TestResolveWorkDir(t *testing.T) {
	fallback := t.TempDir()
	b := newTestBridge(t, config.BridgeConfig{WorkDir: fallback})

	existing := t.TempDir()
	assert.Equal(t, existing, b.resolveWorkDir(existing))
	assert.Equal(t, fallback, b.resolveWorkDir("/does/not/exist"))
	assert.Equal(t, fallback, b.resolveWorkDir(""))

	// A plain file is not a usable working directory
	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.Equal(t, fallback, b.resolveWorkDir(file))
}
