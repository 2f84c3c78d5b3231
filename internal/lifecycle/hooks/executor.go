// Package hooks runs plugin lifecycle scripts (post-install, pre-update and
// friends) declared in the plugin manifest. Scripts run as plain argv
// commands, never through a shell, and manifests that try to smuggle shell
// chaining are rejected before anything executes.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// DefaultTimeout bounds a hook that declares no timeout of its own.
const DefaultTimeout = 5 * time.Minute

// termGrace is how long a timed-out hook gets between SIGTERM and SIGKILL.
const termGrace = 10 * time.Second

// ErrScriptRejected is returned when a hook script contains shell control
// operators or a destructive command. Wrapped errors carry the offending
// token.
var ErrScriptRejected = errors.New("hooks: script rejected")

var forbiddenTokens = []string{";", "&&", "||", "|", "`", "$("}

// Destructive command shapes rejected at validation time, before any
// infrastructure is touched.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|\s)rm\s+(-[A-Za-z]+\s+)*/\*?(\s|$)`),
	regexp.MustCompile(`\bmkfs`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{`),
}

// Result captures one hook run.
type Result struct {
	Action   string        `json:"action"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Executor runs manifest hooks in a working directory with a base
// environment.
type Executor struct {
	workDir string
	baseEnv []string
	timeout time.Duration
}

// NewExecutor creates an executor. timeout of zero means DefaultTimeout.
func NewExecutor(workDir string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		workDir: workDir,
		baseEnv: os.Environ(),
		timeout: timeout,
	}
}

// ValidateScript rejects scripts containing shell control operators or
// destructive command patterns. Hooks run via exec, not a shell, so control
// tokens only ever appear in manifests trying to chain commands. Manifest
// validation calls this before provisioning touches any resource.
func ValidateScript(script string) error {
	for _, tok := range forbiddenTokens {
		if strings.Contains(script, tok) {
			return fmt.Errorf("%w: contains %q", ErrScriptRejected, tok)
		}
	}
	for _, pat := range destructivePatterns {
		if pat.MatchString(script) {
			return fmt.Errorf("%w: destructive command", ErrScriptRejected)
		}
	}
	return nil
}

// Execute runs one hook for a plugin and returns its result. The subprocess
// sees PLUGIN_NAME and HOOK_ACTION in its environment. A non-zero exit is
// reported through Result and an error; timeout sends SIGTERM, then SIGKILL
// after a grace period.
func (e *Executor) Execute(ctx context.Context, plugin, action string, hook models.Hook) (*Result, error) {
	if err := ValidateScript(hook.Script); err != nil {
		return nil, err
	}

	fields := strings.Fields(hook.Script)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty script", ErrScriptRejected)
	}

	timeout := e.timeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	cmd.Dir = e.workDir
	cmd.Env = e.baseEnv
	for k, v := range hook.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// Identity goes last so a manifest cannot mask it.
	cmd.Env = append(cmd.Env, "PLUGIN_NAME="+plugin, "HOOK_ACTION="+action)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{
		Action:   action,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		TimedOut: runCtx.Err() == context.DeadlineExceeded,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runErr != nil {
		slog.Warn("lifecycle hook failed",
			"action", action,
			"exit_code", result.ExitCode,
			"timed_out", result.TimedOut,
			"duration", result.Duration)
		if result.TimedOut {
			return result, fmt.Errorf("hook %s timed out after %s", action, timeout)
		}
		return result, fmt.Errorf("hook %s failed: %w", action, runErr)
	}

	slog.Info("lifecycle hook completed", "action", action, "duration", result.Duration)
	return result, nil
}

// ExecuteSequentially runs a plugin's hooks in order. It stops at the first
// failure unless continueOnError is set, in which case the remaining hooks
// still run and the first failure is returned alongside every result.
func (e *Executor) ExecuteSequentially(ctx context.Context, plugin string, actions []string, hooks map[string]models.Hook, continueOnError bool) ([]*Result, error) {
	results := make([]*Result, 0, len(actions))
	var firstErr error
	for _, action := range actions {
		hook, ok := hooks[action]
		if !ok {
			continue
		}
		res, err := e.Execute(ctx, plugin, action, hook)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			if !continueOnError {
				return results, err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return results, firstErr
}
