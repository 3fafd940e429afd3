package distro

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
	"github.com/dotnet-acquire/acquire-core/pkg/command"
)

// distroConfig is one row of the per-distro configuration table:
// package names, install/uninstall/update command templates,
// preinstall commands adding the vendor feed, and feed directories.
// "{pkg}" in a command template is substituted with the resolved
// package name at call time.
type distroConfig struct {
	Family              string   `mapstructure:"family"`
	VersionID           string   `mapstructure:"versionId"` // "" matches any version of Family
	PackageTemplate     string   `mapstructure:"packageTemplate"`
	InstallCmd          []string `mapstructure:"installCmd"`
	UninstallCmd        []string `mapstructure:"uninstallCmd"`
	UpgradeCmd          []string `mapstructure:"upgradeCmd"`
	PreinstallCmd       []string `mapstructure:"preinstallCmd"`
	DistroFeedDir       string   `mapstructure:"distroFeedDir"`
	MicrosoftFeedDir    string   `mapstructure:"microsoftFeedDir"`
	SupportedMajorMinor []string `mapstructure:"supportedMajorMinor"`
}

// distroConfigTable is the literal table this package ships with,
// decoded through mapstructure the way a JSON-sourced config blob
// would be, keeping the table itself data rather than branching code:
// deep per-distro-family inheritance collapses to one interface plus
// this table.
var distroConfigTable = mustDecodeTable([]map[string]interface{}{
	{
		"family":              "debian",
		"packageTemplate":     "dotnet-{mode}-{version}",
		"installCmd":          []string{"apt-get", "install", "-y", "{pkg}"},
		"uninstallCmd":        []string{"apt-get", "remove", "-y", "{pkg}"},
		"upgradeCmd":          []string{"apt-get", "install", "--only-upgrade", "-y", "{pkg}"},
		"preinstallCmd":       []string{"apt-get", "update"},
		"distroFeedDir":       "/usr/lib/dotnet",
		"microsoftFeedDir":    "/usr/share/dotnet",
		"supportedMajorMinor": []string{"6.0", "7.0", "8.0"},
	},
	{
		"family":              "redhat",
		"packageTemplate":     "dotnet-{mode}-{version}",
		"installCmd":          []string{"dnf", "install", "-y", "{pkg}"},
		"uninstallCmd":        []string{"dnf", "remove", "-y", "{pkg}"},
		"upgradeCmd":          []string{"dnf", "upgrade", "-y", "{pkg}"},
		"preinstallCmd":       []string{"dnf", "makecache"},
		"distroFeedDir":       "/usr/lib64/dotnet",
		"microsoftFeedDir":    "/usr/share/dotnet",
		"supportedMajorMinor": []string{"6.0", "7.0", "8.0"},
	},
	{
		"family":              "generic",
		"packageTemplate":     "dotnet-{mode}-{version}",
		"installCmd":          []string{"true"},
		"uninstallCmd":        []string{"true"},
		"upgradeCmd":          []string{"true"},
		"distroFeedDir":       "",
		"microsoftFeedDir":    "/usr/share/dotnet",
		"supportedMajorMinor": []string{},
	},
})

func mustDecodeTable(raw []map[string]interface{}) []distroConfig {
	out := make([]distroConfig, len(raw))
	for i, row := range raw {
		if err := mapstructure.Decode(row, &out[i]); err != nil {
			panic(fmt.Sprintf("distro: invalid built-in config row %d: %s", i, err))
		}
	}
	return out
}

func configFor(family string) distroConfig {
	for _, c := range distroConfigTable {
		if c.Family == family {
			return c
		}
	}
	return distroConfig{Family: family}
}

// genericProvider dispatches every Provider method over one
// distroConfig row using a command.Executor.
type genericProvider struct {
	cfg      distroConfig
	executor *command.Executor
}

func newGenericProvider(family string, executor *command.Executor) *genericProvider {
	return &genericProvider{cfg: configFor(family), executor: executor}
}

func (p *genericProvider) packageName(v version.Version, mode install.Mode) string {
	r := strings.NewReplacer("{version}", v.String(), "{mode}", string(mode))
	return r.Replace(p.cfg.PackageTemplate)
}

func (p *genericProvider) substitute(template []string, pkg string) command.Command {
	args := make([]string, 0, len(template)-1)
	for i, t := range template {
		t = strings.ReplaceAll(t, "{pkg}", pkg)
		if i == 0 {
			continue
		}
		args = append(args, t)
	}
	root := ""
	if len(template) > 0 {
		root = strings.ReplaceAll(template[0], "{pkg}", pkg)
	}
	return command.Command{Root: root, Args: args, RunUnderSudo: true}
}

func (p *genericProvider) InstallDotnet(ctx context.Context, v version.Version, mode install.Mode) (int, error) {
	pkg := p.packageName(v, mode)
	for _, pre := range [][]string{p.cfg.PreinstallCmd} {
		if len(pre) == 0 {
			continue
		}
		if _, err := p.executor.Execute(ctx, p.substitute(pre, pkg), command.Options{}); err != nil {
			return 0, err
		}
	}
	r, err := p.executor.Execute(ctx, p.substitute(p.cfg.InstallCmd, pkg), command.Options{})
	return r.Status, err
}

func (p *genericProvider) UninstallDotnet(ctx context.Context, v version.Version, mode install.Mode) (int, error) {
	r, err := p.executor.Execute(ctx, p.substitute(p.cfg.UninstallCmd, p.packageName(v, mode)), command.Options{})
	return r.Status, err
}

func (p *genericProvider) UpgradeDotnet(ctx context.Context, v version.Version, mode install.Mode) (int, error) {
	r, err := p.executor.Execute(ctx, p.substitute(p.cfg.UpgradeCmd, p.packageName(v, mode)), command.Options{})
	return r.Status, err
}

func (p *genericProvider) GetInstalledSdkVersions(ctx context.Context) ([]version.Version, error) {
	return p.listInstalled(ctx, install.ModeSDK)
}

func (p *genericProvider) GetInstalledRuntimeVersions(ctx context.Context) ([]version.Version, error) {
	return p.listInstalled(ctx, install.ModeRuntime)
}

func (p *genericProvider) listInstalled(ctx context.Context, mode install.Mode) ([]version.Version, error) {
	r, err := p.executor.Execute(ctx, command.Command{Root: "dotnet", Args: []string{"--list-" + listArg(mode)}}, command.Options{CacheTTLMs: 60_000})
	if err != nil {
		return nil, nil // absence of a dotnet command on PATH is not an error here
	}
	var out []version.Version
	for _, line := range strings.Split(r.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if v, err := version.Parse(fields[0]); err == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func listArg(mode install.Mode) string {
	if mode == install.ModeSDK {
		return "sdks"
	}
	return "runtimes"
}

func (p *genericProvider) GetInstalledGlobalDotnetPath(ctx context.Context, mode install.Mode) (string, bool, error) {
	r, err := p.executor.Execute(ctx, command.Command{Root: "which", Args: []string{"dotnet"}}, command.Options{CacheTTLMs: 60_000})
	if err != nil || r.Status != 0 {
		return "", false, nil
	}
	return strings.TrimSpace(r.Stdout), true, nil
}

func (p *genericProvider) GetInstalledGlobalDotnetVersion(ctx context.Context) (version.Version, bool, error) {
	r, err := p.executor.Execute(ctx, command.Command{Root: "dotnet", Args: []string{"--version"}}, command.Options{CacheTTLMs: 60_000})
	if err != nil || r.Status != 0 {
		return version.Version{}, false, nil
	}
	v, perr := version.Parse(strings.TrimSpace(r.Stdout))
	if perr != nil {
		return version.Version{}, false, nil
	}
	return v, true, nil
}

func (p *genericProvider) DotnetPackageExistsOnSystem(ctx context.Context, v version.Version, mode install.Mode) (bool, error) {
	installed, err := p.listInstalled(ctx, mode)
	if err != nil {
		return false, err
	}
	for _, iv := range installed {
		if iv.String() == v.String() {
			return true, nil
		}
	}
	return false, nil
}

// GetDotnetVersionSupportStatus reports distro-package support by
// straightforward major.minor membership; redHatProvider overrides
// this to do closest-match version-row lookup instead, plus an
// explicit RHEL 7 rejection.
func (p *genericProvider) GetDotnetVersionSupportStatus(v version.Version, mode install.Mode) (SupportStatus, error) {
	for _, mm := range p.cfg.SupportedMajorMinor {
		if mm == v.GetMajorMinor() {
			return SupportDistro, nil
		}
	}
	if p.cfg.MicrosoftFeedDir != "" {
		return SupportMicrosoft, nil
	}
	return SupportUnsupported, nil
}

func (p *genericProvider) GetRecommendedDotnetVersion(mode install.Mode) version.Version {
	if len(p.cfg.SupportedMajorMinor) == 0 {
		return version.Version{}
	}
	best := p.cfg.SupportedMajorMinor[len(p.cfg.SupportedMajorMinor)-1]
	v, _ := version.Parse(best)
	return v
}

func (p *genericProvider) GetExpectedDistroFeedInstallDir() string    { return p.cfg.DistroFeedDir }
func (p *genericProvider) GetExpectedMicrosoftFeedInstallDir() string { return p.cfg.MicrosoftFeedDir }

// redHatProvider is the one distro family that needs more than the
// generic table-driven dispatch: it overrides
// GetDotnetVersionSupportStatus to do a closest-match version-row
// lookup (RHEL ships dotnet only for specific point releases, unlike
// Debian's broader apt feed) and explicitly rejects RHEL 7, which
// Microsoft never shipped dotnet packages for.
type redHatProvider struct {
	*genericProvider
	versionID string
}

func newRedHatProvider(versionID string, executor *command.Executor) *redHatProvider {
	return &redHatProvider{genericProvider: newGenericProvider("redhat", executor), versionID: versionID}
}

const rhel7DownloadURL = "https://learn.microsoft.com/dotnet/core/install/linux-rhel#rhel-7"

func (p *redHatProvider) checkRhel7() error {
	if strings.HasPrefix(p.versionID, "7") {
		return acquireerr.RhelUnsupported(rhel7DownloadURL)
	}
	return nil
}

func (p *redHatProvider) GetDotnetVersionSupportStatus(v version.Version, mode install.Mode) (SupportStatus, error) {
	if err := p.checkRhel7(); err != nil {
		return SupportUnsupported, err
	}
	// Closest-match: accept the requested major.minor if any
	// supported row's major matches, even if the minor differs,
	// since RHEL's feed tracks fewer points than Debian's.
	for _, mm := range p.cfg.SupportedMajorMinor {
		major, _, _ := strings.Cut(mm, ".")
		reqMajor, _, _ := strings.Cut(v.GetMajorMinor(), ".")
		if major == reqMajor {
			return SupportDistro, nil
		}
	}
	return SupportMicrosoft, nil
}
