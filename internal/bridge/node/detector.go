// Package node locates and validates a Node.js runtime for the bridge.
package node

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/common/config"
	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
	"github.com/chanbridge/chanbridge/internal/common/logger"
)

// wellKnownPaths are probed after PATH lookup fails. IDE-launched
// processes often miss shell profile PATH entries, so common install
// locations are checked directly.
var wellKnownPaths = []string{
	"/usr/local/bin/node",
	"/opt/homebrew/bin/node",
	"/usr/bin/node",
	"/opt/local/bin/node",
	"/snap/bin/node",
}

// Detector locates a usable Node.js executable and verifies its version.
type Detector struct {
	cfg    config.NodeConfig
	logger *logger.Logger
}

// NewDetector creates a Detector.
func NewDetector(cfg config.NodeConfig, log *logger.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "node-detector")),
	}
}

// FindNodeExecutable returns the path of a usable node binary.
// Candidates are tried in order: explicit config path, PATH lookup,
// well-known install locations, nvm version directories. A candidate is
// usable when it answers --version with a supported major version.
func (d *Detector) FindNodeExecutable(ctx context.Context) (string, string, error) {
	for _, candidate := range d.candidates() {
		version := d.VerifyNodePath(ctx, candidate)
		if version == "" {
			continue
		}
		if !IsVersionSupported(version, d.cfg.MinMajorVersion) {
			d.logger.Warn("Skipping unsupported node runtime",
				zap.String("path", candidate),
				zap.String("version", version))
			continue
		}
		d.logger.Info("Detected node runtime",
			zap.String("path", candidate),
			zap.String("version", version))
		return candidate, version, nil
	}

	return "", "", apperrors.NodeNotFound("no usable node executable found; install Node.js or set node.path")
}

// candidates returns the ordered list of paths to probe.
func (d *Detector) candidates() []string {
	var out []string

	if d.cfg.Path != "" {
		out = append(out, d.cfg.Path)
	}

	if p, err := exec.LookPath("node"); err == nil {
		out = append(out, p)
	}

	out = append(out, wellKnownPaths...)
	out = append(out, nvmCandidates()...)

	return out
}

// nvmCandidates lists node binaries under ~/.nvm/versions/node, newest
// version directory first.
func nvmCandidates() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	versionsDir := filepath.Join(home, ".nvm", "versions", "node")
	entries, err := os.ReadDir(versionsDir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// Reverse lexical order approximates newest-first for vNN.NN.NN names
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(versionsDir, name, "bin", "node"))
	}
	return out
}

// VerifyNodePath runs `node --version` at the given path and returns the
// reported version string, or empty string when the binary is missing or
// does not answer within the probe timeout.
func (d *Detector) VerifyNodePath(ctx context.Context, path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.DetectTimeoutDuration())
	defer cancel()

	out, err := exec.CommandContext(probeCtx, path, "--version").Output()
	if err != nil {
		d.logger.Debug("Node version probe failed",
			zap.String("path", path),
			zap.Error(err))
		return ""
	}

	return strings.TrimSpace(string(out))
}

// ParseMajorVersion extracts the major version from strings like
// "v18.17.1" or "18.17.1". Returns 0 when unparseable.
func ParseMajorVersion(version string) int {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if v == "" {
		return 0
	}
	if i := strings.IndexByte(v, '.'); i >= 0 {
		v = v[:i]
	}
	major, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return major
}

// IsVersionSupported reports whether a node version string satisfies the
// minimum supported major version.
func IsVersionSupported(version string, minMajor int) bool {
	return ParseMajorVersion(version) >= minMajor
}
