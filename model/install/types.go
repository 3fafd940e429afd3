// Package install implements the Install Tracker: a persistent
// registry mapping install identities to their owning consumers, with
// cross-process liveness detection. It is grounded on the teacher's
// model/app package shape (an Installer-adjacent model package keyed
// by slug) generalised to installId, and on model/instance/service.go
// for the cache-backed lookup pattern.
package install

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Mode is the install content: runtime, aspnetcore-runtime, or sdk.
type Mode string

const (
	ModeRuntime     Mode = "runtime"
	ModeAspNetCore  Mode = "aspnetcore-runtime"
	ModeSDK         Mode = "sdk"
)

// Scope is local (managed by this tool) or global (machine-wide).
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeGlobal Scope = "global"
)

// Identity is the four-component install identity: (version, mode,
// architecture, scope).
type Identity struct {
	Version      string // canonical, fully specified Version.String()
	Mode         Mode
	Architecture string
	Scope        Scope
}

// ID is the deterministic installId string for an Identity: always the
// same four components joined the same way. The '~' separator is an
// implementation choice, not a format other tools need to parse.
func (i Identity) ID() string {
	return fmt.Sprintf("%s~%s~%s~%s", i.Version, i.Mode, i.Architecture, i.Scope)
}

// Fingerprint returns a short, filesystem-safe hex digest of the
// installId, for use as a directory name component on platforms where
// the full human-readable id risks exceeding path length limits
// (notably Windows' historical 260-character MAX_PATH). blake2b-256
// from golang.org/x/crypto is used; it is fast for this
// non-cryptographic use.
func (i Identity) Fingerprint() string {
	sum := blake2b.Sum256([]byte(i.ID()))
	return hex.EncodeToString(sum[:8])
}

// nullOwner is the sentinel representing a legacy record whose owner
// was lost; a record may contain at most one.
const nullOwner = ""

// Record is the persisted state for one installId: the set of owning
// extension/consumer ids.
type Record struct {
	InstallID string   `json:"installId"`
	Owners    []string `json:"owners"`
}

// hasOwner reports whether id is already present in Owners. An empty
// id matches the null sentinel.
func (r *Record) hasOwner(id string) bool {
	for _, o := range r.Owners {
		if o == id {
			return true
		}
	}
	return false
}

// addOwner is a no-op if id is already present: the owner set never
// contains duplicates.
func (r *Record) addOwner(id string) {
	if r.hasOwner(id) {
		return
	}
	r.Owners = append(r.Owners, id)
}

func (r *Record) removeOwner(id string) {
	out := r.Owners[:0]
	removed := false
	for _, o := range r.Owners {
		if o == id && !removed {
			removed = true
			continue
		}
		out = append(out, o)
	}
	r.Owners = out
}

// GraveyardEntry is an on-disk install whose owner set is empty but
// that could not be deleted immediately because a live session still
// marks it in use.
type GraveyardEntry struct {
	InstallID string `json:"installId"`
	Path      string `json:"path"`
}

// PendingInstall records that a worker has begun installing installId,
// so a crashed worker's partial state is recognisable rather than
// silently vanishing from the registry.
type PendingInstall struct {
	InstallID  string    `json:"installId"`
	SessionID  string    `json:"sessionId"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// registryDoc is the full shape persisted as one JSON object under the
// "installed" key; the graveyard and pending entries are fields of
// that object, not separate keys.
type registryDoc struct {
	Installed []Record         `json:"installed"`
	Graveyard []GraveyardEntry `json:"graveyard"`
	Pending   []PendingInstall `json:"pending"`
}

// migrateLegacyInstalled handles the pre-migration shape where entries
// were bare strings rather than Record objects, which json.Unmarshal
// into registryDoc fails on.
func migrateLegacyInstalled(raw []interface{}) []Record {
	out := make([]Record, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, Record{InstallID: t, Owners: []string{nullOwner}})
		case map[string]interface{}:
			id, _ := t["installId"].(string)
			var owners []string
			if os, ok := t["owners"].([]interface{}); ok {
				for _, o := range os {
					if s, ok := o.(string); ok {
						owners = append(owners, s)
					} else {
						owners = append(owners, nullOwner)
					}
				}
			}
			out = append(out, Record{InstallID: id, Owners: owners})
		}
	}
	return out
}

// fallbackSessionID generates an opaque, process-unique session id.
// NewSession (session.go) prefers gofrs/uuid; this helper is used only
// as a fallback when uuid generation fails, which in practice only
// happens if the system's CSPRNG is broken.
func fallbackSessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
