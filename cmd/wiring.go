// Package cmd is the thin CLI front door over the acquisition core's
// model layer, grounded on the teacher's cmd/serve.go shape: cobra
// commands binding flags through viper, one RootCmd every subcommand
// registers itself against in an init(). It's a reference consumer,
// not the product itself, exercising the public API end to end the
// way the teacher's own cmd/ package exercises model/stack.
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dotnet-acquire/acquire-core/model/acquire"
	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/pkg/cache"
	"github.com/dotnet-acquire/acquire-core/pkg/command"
	"github.com/dotnet-acquire/acquire-core/pkg/config"
	"github.com/dotnet-acquire/acquire-core/pkg/distro"
	"github.com/dotnet-acquire/acquire-core/pkg/globalinstall"
	"github.com/dotnet-acquire/acquire-core/pkg/localinstall"
	"github.com/dotnet-acquire/acquire-core/pkg/lock"
	"github.com/dotnet-acquire/acquire-core/pkg/logger"
	"github.com/dotnet-acquire/acquire-core/pkg/metrics"
	"github.com/dotnet-acquire/acquire-core/pkg/pathfinder"
	"github.com/dotnet-acquire/acquire-core/pkg/state"
	"github.com/dotnet-acquire/acquire-core/pkg/webfetch"
)

// RootCmd is the entry point every subcommand's init() registers
// against, mirroring the teacher's RootCmd.AddCommand(serveCmd)
// convention.
var RootCmd = &cobra.Command{
	Use:   "dotnet-acquire",
	Short: "Acquire and track .NET SDK/runtime installs",
}

func init() {
	logger.Init(logrus.InfoLevel, os.Stderr)
}

// checkNoErr panics on a programmer error (a flag binding that cannot
// fail in practice), matching the teacher's cmd/serve.go helper of the
// same name.
func checkNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func errPrintfln(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// components bundles every package the CLI wires together, so each
// subcommand's RunE can build exactly what it needs without repeating
// the construction sequence.
type components struct {
	tracker *install.Tracker
	worker  *acquire.Worker
	local   *localinstall.Installer
	metrics *metrics.Registry
	fs      afero.Fs
}

// buildComponents constructs the full dependency graph: Cache ->
// Command Executor -> {Web Fetcher, Path Finder, Distro Resolver} ->
// {Local, Global, Distro installers} -> Install Tracker -> Acquisition
// Worker.
func buildComponents() (*components, error) {
	cfg := config.GetConfig()
	fs := afero.NewOsFs()

	reg := metrics.Shared()
	c := cache.New(cache.Options{TimeToLiveMultiplier: cfg.CacheTTLMultiplier, Registerer: reg.Registerer})
	executor := command.New(c)

	var store state.Store
	if cfg.RedisAddr != "" {
		store = state.NewRedisStore(cfg.RedisAddr, "dotnet-acquire:")
	} else {
		store = state.NewFileStore(fs, cfg.StorageRoot)
	}

	lockGetter := lock.NewGetter()
	session, err := install.NewSession(lockGetter)
	if err != nil {
		return nil, err
	}

	localIns := localinstall.New(localinstall.Options{
		Fs:          fs,
		StorageRoot: cfg.StorageRoot,
		Fetcher:     webfetch.New(webfetch.Options{Cache: c, RetryMax: cfg.WebRequestRetries}),
		Executor:    executor,
	})

	finder := pathfinder.New(fs, executor)
	fetcher := webfetch.New(webfetch.Options{Cache: c, RetryMax: cfg.WebRequestRetries})

	globalIns := globalinstall.New(globalinstall.Options{
		Resolver: fetcher,
		Fetcher:  fetcher,
		Executor: executor,
		Fs:       fs,
		TempDir:  os.TempDir(),
	})

	distroResolver := distro.NewResolver(c, executor)
	distroAdapter := distro.NewAdapter(distroResolver)

	dirs := &trackerDirs{root: cfg.StorageRoot}
	tracker, err := install.New(install.Options{
		Store:      store,
		Fs:         fs,
		Dirs:       dirs,
		LockGetter: lockGetter,
		Session:    session,
		SweepEvery: cfg.GraveyardSweepInterval,
		Metrics:    reg,
	})
	if err != nil {
		return nil, err
	}

	worker := acquire.New(acquire.Options{
		Tracker:   tracker,
		Resolver:  fetcher,
		Validator: finder,
		Local:     localIns,
		Global:    globalIns,
		Distro:    distroAdapter,
		DirFor:    dirs.DirFor,
		Metrics:   reg,
	})

	return &components{tracker: tracker, worker: worker, local: localIns, metrics: reg, fs: fs}, nil
}

// trackerDirs implements model/install.DirProvider over the managed
// storage root, matching the on-disk layout pkg/localinstall also
// uses ({storageRoot}/{installId}).
type trackerDirs struct {
	root string
}

func (d *trackerDirs) DirFor(installID string) string { return d.root + "/" + installID }
func (d *trackerDirs) Manages(dir string) bool {
	return len(dir) >= len(d.root) && dir[:len(d.root)] == d.root
}
