package node

import (
	"os"
	"os/exec"
	"strings"
)

// EnvConfig prepares the per-process environment for a bridge child.
type EnvConfig struct {
	// TempDir overrides TMPDIR/TEMP/TMP for the child process so its
	// scratch files land in a directory the supervisor can diff.
	TempDir string

	// ProjectPath is exported as a hint for SDK tooling running inside
	// the child process.
	ProjectPath string
}

// Apply mutates the command's environment. The parent environment is
// inherited; overrides are appended and win by position.
func (e EnvConfig) Apply(cmd *exec.Cmd) {
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}

	if e.TempDir != "" {
		env = append(env,
			"TMPDIR="+e.TempDir,
			"TEMP="+e.TempDir,
			"TMP="+e.TempDir,
		)
	}
	if e.ProjectPath != "" {
		env = append(env, "CHANBRIDGE_PROJECT_PATH="+e.ProjectPath)
	}

	cmd.Env = env
}

// Lookup returns the effective value of a key in the command's
// environment, honoring last-entry-wins semantics.
func Lookup(cmd *exec.Cmd, key string) (string, bool) {
	prefix := key + "="
	for i := len(cmd.Env) - 1; i >= 0; i-- {
		if strings.HasPrefix(cmd.Env[i], prefix) {
			return strings.TrimPrefix(cmd.Env[i], prefix), true
		}
	}
	return "", false
}
