package distro

import (
	"context"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
)

// Adapter bridges the Distro Resolver + Provider pair to
// model/acquire.Installer's narrow `Install(ctx, identity,
// timeoutSec) (string, error)` shape, the contract the Acquisition
// Worker dispatches every installer capability through. It is grounded
// on the Resolver/Provider split itself, simply adding the thin
// translation the Worker's uniform installer interface needs.
type Adapter struct {
	resolver    *Resolver
	detect      func() (Info, error)
	providerFor func(Info) Provider
}

// NewAdapter wraps r as a model/acquire.Installer.
func NewAdapter(r *Resolver) *Adapter {
	return &Adapter{resolver: r, detect: r.Detect, providerFor: r.ProviderFor}
}

// NewAdapterForTest builds an Adapter against an already-resolved
// Provider double, bypassing real distro detection.
func NewAdapterForTest(p Provider) *Adapter {
	r := NewResolver(nil, nil)
	return &Adapter{
		resolver:    r,
		detect:      func() (Info, error) { return Info{}, nil },
		providerFor: func(Info) Provider { return p },
	}
}

// Install implements model/acquire.Installer for Linux global-scope
// requests: detect the distro, dispatch to its Provider, and run the
// install/update decision algorithm. On success the resulting path is
// whichever feed directory the provider expects for this support
// classification — the Worker's Path Finder validates it afterwards.
func (a *Adapter) Install(ctx context.Context, identity install.Identity, timeoutSec int) (string, error) {
	v, err := version.Parse(identity.Version)
	if err != nil {
		return "", acquireerr.InvalidVersion(identity.Version)
	}

	info, err := a.detect()
	if err != nil {
		return "", err
	}
	p := a.providerFor(info)

	if err := a.resolver.ValidateAndInstallSDK(ctx, p, v, identity.Mode); err != nil {
		return "", err
	}

	support, err := p.GetDotnetVersionSupportStatus(v, identity.Mode)
	if err != nil {
		return "", err
	}
	if support == SupportDistro {
		return p.GetExpectedDistroFeedInstallDir(), nil
	}
	return p.GetExpectedMicrosoftFeedInstallDir(), nil
}
