// Package command implements the Command Executor: a thin, cache-aware
// wrapper around shelling out to external processes. It is grounded on
// the teacher's cmd/tools.go, whose printCmdOut runs
// exec.Command(path, args...) and captures combined output for
// diagnostics; here that single-shot helper is generalised into a full
// execute/executeMany/tryFindWorkingCommand contract. os/exec has no
// idiomatic third-party substitute in this corpus (see DESIGN.md) —
// every other package a process could shell out through (teacher's
// browser.Open, cmd/tools.go's printCmdOut) uses it directly too.
package command

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
	"github.com/dotnet-acquire/acquire-core/pkg/cache"
)

// Command is a shell-out target: a root binary, its arguments, and
// whether it needs elevation.
type Command struct {
	Root         string
	Args         []string
	RunUnderSudo bool
}

func (c Command) cacheKey() cache.Command {
	return cache.Command{Root: c.Root, Args: c.Args}
}

// Result is a completed command's stdout, stderr, and exit status.
type Result struct {
	Stdout string
	Stderr string
	Status int
}

// Options configures one execute call.
type Options struct {
	Env             map[string]string
	Timeout         time.Duration
	CacheTTLMs      int64 // dotnetInstallToolCacheTtlMs; 0 disables memoisation
}

// Executor is the Command Executor.
type Executor struct {
	cache *cache.Cache

	homeMu sync.Mutex // serialises HOME save-mutate-restore
}

// New constructs an Executor backed by c for result memoisation.
func New(c *cache.Cache) *Executor {
	return &Executor{cache: c}
}

// isWSL reports whether this process is running under the Windows
// Subsystem for Linux: elevation there fails with WSLSecurityError
// rather than attempting sudo.
func isWSL() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	if os.Getenv("WSL_DISTRO_NAME") != "" || os.Getenv("WSL_INTEROP") != "" {
		return true
	}
	b, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(b)), "microsoft")
}

// Execute runs cmd, optionally under sudo, memoising the result in the
// In-Memory Cache when opts.CacheTTLMs is nonzero.
func (e *Executor) Execute(ctx context.Context, cmd Command, opts Options) (Result, error) {
	if opts.CacheTTLMs > 0 && e.cache != nil {
		if cached, ok := e.cache.GetCommand(cmd.cacheKey(), cache.CommandOptions{TTLMs: opts.CacheTTLMs, Env: opts.Env}); ok {
			var r Result
			if decodeResult(cached, &r) {
				return r, nil
			}
		}
	}

	if cmd.RunUnderSudo {
		if isWSL() {
			return Result{}, acquireerr.WSLSecurityError()
		}
		cmd = Command{Root: "sudo", Args: append([]string{cmd.Root}, cmd.Args...)}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Root, cmd.Args...)
	if len(opts.Env) > 0 {
		c.Env = os.Environ()
		for k, v := range opts.Env {
			c.Env = append(c.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	status := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		status = exitErr.ExitCode()
		err = nil
	} else if err != nil {
		return Result{}, err
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String(), Status: status}

	if opts.CacheTTLMs > 0 && e.cache != nil {
		e.cache.PutCommand(cmd.cacheKey(), cache.CommandOptions{TTLMs: opts.CacheTTLMs, Env: opts.Env}, encodeResult(result))
	}
	return result, nil
}

// ExecuteMany runs each command in cmds sequentially, stopping at the
// first error.
func (e *Executor) ExecuteMany(ctx context.Context, cmds []Command, opts Options) ([]Result, error) {
	out := make([]Result, 0, len(cmds))
	for _, c := range cmds {
		r, err := e.Execute(ctx, c, opts)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Predicate inspects a Result to decide whether tryFindWorkingCommand
// should accept it; nil means "accept status == 0".
type Predicate func(Result) bool

// TryFindWorkingCommand probes cmds in order, returning the first
// whose result satisfies pred (default: exit status zero).
func (e *Executor) TryFindWorkingCommand(ctx context.Context, cmds []Command, pred Predicate) (Command, Result, bool) {
	if pred == nil {
		pred = func(r Result) bool { return r.Status == 0 }
	}
	for _, c := range cmds {
		r, err := e.Execute(ctx, c, Options{})
		if err != nil {
			continue
		}
		if pred(r) {
			return c, r, true
		}
	}
	return Command{}, Result{}, false
}

// SetEnvironmentVariable sets a process environment variable. In the
// original tool this delegated to a host extension's context; here
// there is no host process to delegate to, so it sets the current
// process's own environment.
func SetEnvironmentVariable(name, value string) error {
	return os.Setenv(name, value)
}

// WithHomeOverride saves HOME, sets it to value for the duration of
// fn, then restores it, serialised against any other caller of this
// function in this process. If the saved value was literally the
// string "undefined" (an artifact some shells leave behind when HOME
// was never set), HOME is unset rather than restored to that literal.
func (e *Executor) WithHomeOverride(value string, fn func() error) error {
	e.homeMu.Lock()
	defer e.homeMu.Unlock()

	original, had := os.LookupEnv("HOME")
	os.Setenv("VSCODE_DOTNET_INSTALL_TOOL_ORIGINAL_HOME", original)
	os.Setenv("HOME", value)
	defer func() {
		os.Unsetenv("VSCODE_DOTNET_INSTALL_TOOL_ORIGINAL_HOME")
		if !had || original == "undefined" {
			os.Unsetenv("HOME")
			return
		}
		os.Setenv("HOME", original)
	}()

	return fn()
}

func encodeResult(r Result) []byte {
	return []byte(r.Stdout + "\x00" + r.Stderr + "\x00" + strconv.Itoa(r.Status))
}

func decodeResult(b []byte, r *Result) bool {
	parts := bytes.SplitN(b, []byte{0}, 3)
	if len(parts) != 3 {
		return false
	}
	status, err := strconv.Atoi(string(parts[2]))
	if err != nil {
		return false
	}
	r.Stdout = string(parts[0])
	r.Stderr = string(parts[1])
	r.Status = status
	return true
}
