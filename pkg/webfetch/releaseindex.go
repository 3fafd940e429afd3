package webfetch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
	"github.com/dotnet-acquire/acquire-core/pkg/globalinstall"
)

// channelFile is one entry of a channel's release metadata:
// `{name, rid, url, hash}`.
type channelFile struct {
	Name string `json:"name"`
	Rid  string `json:"rid"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

type channelRelease struct {
	SDK struct {
		Version string        `json:"version"`
		Files   []channelFile `json:"files"`
	} `json:"sdk"`
	Runtime struct {
		Version string        `json:"version"`
		Files   []channelFile `json:"files"`
	} `json:"runtime"`
}

// channelIndex is the dotnet-install release metadata channel index:
// `channel-version`, `latest-sdk`, `latest-runtime` plus per-release
// file lists.
type channelIndex struct {
	ChannelVersion string           `json:"channel-version"`
	LatestSDK      string           `json:"latest-sdk"`
	LatestRuntime  string           `json:"latest-runtime"`
	Releases       []channelRelease `json:"releases"`
}

const defaultReleaseIndexBaseURL = "https://dotnetcli.blob.core.windows.net/dotnet/release-metadata"

// channelIndexURL builds the per-channel index URL, routed through
// google/go-querystring so an optional cache-busting parameter can be
// appended without hand-built string concatenation.
type channelIndexQuery struct {
	Channel string `url:"channel"`
}

func (f *Fetcher) channelIndexURL(channel string) (string, error) {
	qs, err := queryString(channelIndexQuery{Channel: channel})
	if err != nil {
		return "", err
	}
	base := f.releaseIndexBaseURL
	if base == "" {
		base = defaultReleaseIndexBaseURL
	}
	return fmt.Sprintf("%s/%s/releases.json?%s", base, channel, qs), nil
}

// ResolveFull implements model/acquire.VersionResolver: given a
// band-only or coarser version spec, fetch the channel's release
// index and resolve to `latest-sdk`/`latest-runtime`.
func (f *Fetcher) ResolveFull(ctx context.Context, spec string, mode install.Mode) (version.Version, error) {
	class, err := version.Classify(spec)
	if err != nil {
		return version.Version{}, acquireerr.InvalidVersion(spec)
	}

	channel := spec
	if class == version.ClassBand {
		v, perr := version.Parse(spec)
		if perr != nil {
			return version.Version{}, acquireerr.InvalidVersion(spec)
		}
		channel = v.GetMajorMinor()
	}

	url, err := f.channelIndexURL(channel)
	if err != nil {
		return version.Version{}, acquireerr.VersionResolutionFailed(spec, err)
	}

	body, err := f.GetCached(ctx, url, 30, "")
	if err != nil {
		return version.Version{}, err
	}

	var idx channelIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return version.Version{}, acquireerr.VersionResolutionFailed(spec, err)
	}

	latest := idx.LatestRuntime
	if mode == install.ModeSDK {
		latest = idx.LatestSDK
	}
	if latest == "" {
		return version.Version{}, acquireerr.VersionResolutionFailed(spec, fmt.Errorf("channel %s has no latest version for mode %s", channel, mode))
	}

	resolved, err := version.Parse(latest)
	if err != nil {
		return version.Version{}, acquireerr.VersionResolutionFailed(spec, err)
	}
	return resolved, nil
}

// InstallerAssets implements pkg/globalinstall.ReleaseResolver: fetch
// v's channel index and return the per-RID installer file list for the
// requested mode, so the Global Installer can select the asset
// matching the current OS/architecture.
func (f *Fetcher) InstallerAssets(ctx context.Context, v version.Version, mode install.Mode) ([]globalinstall.ReleaseAsset, error) {
	channel := v.GetMajorMinor()
	url, err := f.channelIndexURL(channel)
	if err != nil {
		return nil, acquireerr.VersionResolutionFailed(v.String(), err)
	}

	body, err := f.GetCached(ctx, url, 30, "")
	if err != nil {
		return nil, err
	}

	var idx channelIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, acquireerr.VersionResolutionFailed(v.String(), err)
	}

	for _, rel := range idx.Releases {
		files := rel.Runtime.Files
		want := rel.Runtime.Version
		if mode == install.ModeSDK {
			files = rel.SDK.Files
			want = rel.SDK.Version
		}
		if want != v.String() {
			continue
		}
		assets := make([]globalinstall.ReleaseAsset, 0, len(files))
		for _, file := range files {
			assets = append(assets, globalinstall.ReleaseAsset{RID: file.Rid, URL: file.URL})
		}
		return assets, nil
	}
	return nil, acquireerr.VersionResolutionFailed(v.String(), fmt.Errorf("no release metadata for %s in channel %s", v.String(), channel))
}
