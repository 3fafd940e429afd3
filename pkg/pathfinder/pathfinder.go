// Package pathfinder implements the Path Finder/Resolver: probing
// candidate `dotnet` binaries through the Command Executor to discover
// their architecture and installed SDKs/runtimes. It is grounded on
// the teacher's cmd/tools.go printOSDetails pattern of shelling out and
// parsing plain-text output, generalised from `uname`/`lsb_release`
// parsing into `dotnet --info`/`--list-sdks` parsing, and on
// spf13/afero for symlink resolution so the same abstraction backs
// both real and in-memory filesystems in tests.
package pathfinder

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
	"github.com/dotnet-acquire/acquire-core/pkg/command"
)

// DotnetInfoTTL bounds how long a probed host's architecture/SDK/runtime
// listing is memoised for.
const DotnetInfoTTL = 5 * time.Minute

// SDKEntry and RuntimeEntry are GetSDKs/GetRuntimes's result shapes.
type SDKEntry struct {
	Version version.Version
	Arch    string
}

type RuntimeEntry struct {
	Version version.Version
	Arch    string
	Mode    install.Mode
}

// desktopRuntimeName is filtered out of runtime listings.
const desktopRuntimeName = "Microsoft.WindowsDesktop.App"

// Finder is the Path Finder/Resolver.
type Finder struct {
	fs       afero.Fs
	executor *command.Executor
}

// New constructs a Finder.
func New(fs afero.Fs, executor *command.Executor) *Finder {
	return &Finder{fs: fs, executor: executor}
}

// GetTruePath canonicalises each candidate (resolving symlinks where
// the afero.Fs supports it) and probes it with `--info`, accepting the
// first whose architecture matches arch (any, if arch is empty).
func (f *Finder) GetTruePath(ctx context.Context, candidates []string, arch string) (string, bool) {
	for _, candidate := range candidates {
		resolved := f.resolveSymlink(candidate)
		info, err := f.probeInfo(ctx, resolved)
		if err != nil {
			continue
		}
		if arch == "" || info.arch == arch {
			return resolved, true
		}
	}
	return "", false
}

func (f *Finder) resolveSymlink(path string) string {
	linker, ok := f.fs.(afero.LinkReader)
	if !ok {
		return path
	}
	if target, err := linker.ReadlinkIfPossible(path); err == nil && target != "" {
		return target
	}
	return path
}

type hostInfo struct {
	arch           string
	supportsArchFlag bool
}

// probeInfo runs `dotnet --info` and extracts the host's RID/arch.
// Whether the host supports an explicit `--arch` flag is determined by
// probing an invalid arch value: hosts that recognise the flag reject
// it with a nonzero exit.
func (f *Finder) probeInfo(ctx context.Context, path string) (hostInfo, error) {
	r, err := f.executor.Execute(ctx, command.Command{Root: path, Args: []string{"--info"}}, command.Options{CacheTTLMs: DotnetInfoTTL.Milliseconds()})
	if err != nil {
		return hostInfo{}, err
	}
	arch := parseArchFromInfo(r.Stdout)

	probe, perr := f.executor.Execute(ctx, command.Command{Root: path, Args: []string{"--list-sdks", "--arch", "not-a-real-arch"}}, command.Options{CacheTTLMs: DotnetInfoTTL.Milliseconds()})
	supportsArch := perr == nil && probe.Status != 0

	return hostInfo{arch: arch, supportsArchFlag: supportsArch}, nil
}

// parseArchFromInfo extracts the "Architecture:" field `dotnet --info`
// prints under "Host" or "RID".
func parseArchFromInfo(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Architecture:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Architecture:"))
		}
		if strings.HasPrefix(line, "RID:") {
			rid := strings.TrimSpace(strings.TrimPrefix(line, "RID:"))
			if idx := strings.LastIndex(rid, "-"); idx != -1 {
				return rid[idx+1:]
			}
		}
	}
	return ""
}

// GetSDKs runs `dotnet --list-sdks`, passing `--arch` when the host
// supports it and tagging every result with that arch; otherwise every
// result is tagged with the host's own probed arch.
func (f *Finder) GetSDKs(ctx context.Context, host, arch string, knownArch string) ([]SDKEntry, error) {
	effectiveArch := knownArch
	args := []string{"--list-sdks"}
	if effectiveArch == "" {
		info, err := f.probeInfo(ctx, host)
		if err != nil {
			return nil, err
		}
		effectiveArch = info.arch
		if info.supportsArchFlag && arch != "" {
			args = append(args, "--arch", arch)
			effectiveArch = arch
		}
	} else if arch != "" {
		args = append(args, "--arch", arch)
		effectiveArch = arch
	}

	r, err := f.executor.Execute(ctx, command.Command{Root: host, Args: args}, command.Options{CacheTTLMs: DotnetInfoTTL.Milliseconds()})
	if err != nil {
		return nil, err
	}

	var out []SDKEntry
	for _, line := range strings.Split(r.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		v, perr := version.Parse(fields[0])
		if perr != nil {
			continue
		}
		out = append(out, SDKEntry{Version: v, Arch: effectiveArch})
	}
	return out, nil
}

// GetRuntimes runs `dotnet --list-runtimes`, filtering out
// Microsoft.WindowsDesktop.App entries.
func (f *Finder) GetRuntimes(ctx context.Context, host, arch string, knownArch string) ([]RuntimeEntry, error) {
	effectiveArch := knownArch
	args := []string{"--list-runtimes"}
	if effectiveArch == "" {
		info, err := f.probeInfo(ctx, host)
		if err != nil {
			return nil, err
		}
		effectiveArch = info.arch
		if info.supportsArchFlag && arch != "" {
			args = append(args, "--arch", arch)
			effectiveArch = arch
		}
	} else if arch != "" {
		args = append(args, "--arch", arch)
		effectiveArch = arch
	}

	r, err := f.executor.Execute(ctx, command.Command{Root: host, Args: args}, command.Options{CacheTTLMs: DotnetInfoTTL.Milliseconds()})
	if err != nil {
		return nil, err
	}

	var out []RuntimeEntry
	for _, line := range strings.Split(r.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		if name == desktopRuntimeName {
			continue
		}
		v, perr := version.Parse(fields[1])
		if perr != nil {
			continue
		}
		mode := install.ModeRuntime
		if name == "Microsoft.AspNetCore.App" {
			mode = install.ModeAspNetCore
		}
		out = append(out, RuntimeEntry{Version: v, Arch: effectiveArch, Mode: mode})
	}
	return out, nil
}

// Validate implements model/acquire.Validator (model/acquire adapts it
// to model/install.Validator):
// a path is valid if `dotnet --info` succeeds and, when identity
// carries an architecture, it matches.
func (f *Finder) Validate(path string, identity install.Identity) error {
	info, err := f.probeInfo(context.Background(), path)
	if err != nil {
		return err
	}
	if identity.Architecture != "" && info.arch != "" && info.arch != identity.Architecture {
		return archMismatchError(path, identity.Architecture, info.arch)
	}
	return nil
}

type archMismatch struct {
	path, want, got string
}

func (e archMismatch) Error() string {
	return "path " + e.path + " has architecture " + e.got + ", expected " + e.want
}

func archMismatchError(path, want, got string) error {
	return archMismatch{path: path, want: want, got: got}
}
