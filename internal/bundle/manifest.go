// Package bundle implements the archive codec that serializes a sync
// engine's complete reachable state into a single deterministic ZIP file,
// and hydrates a fresh engine from one (spec.md §4.8).
package bundle

import (
	"encoding/json"

	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/ids"
)

// ManifestVersion is the only manifestVersion this codec writes or accepts.
const ManifestVersion = 1

// VersionInfo is the manifest's {major, minor} payload version pair.
type VersionInfo struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// Manifest is the required manifest.json member of a bundle archive. Field
// names are fixed lowercase camelCase per spec.md §4.8/§6; unknown top-level
// fields round-trip unchanged via Extra, since other implementations are
// free to add their own.
type Manifest struct {
	ManifestVersion int         `json:"manifestVersion"`
	Version         VersionInfo `json:"version"`
	RootID          ids.DocumentId
	Entrypoints     []string
	NetworkURIs     []string
	XNotes          string
	XVendor         map[string]any

	// Extra holds any top-level manifest field this codec doesn't know
	// about, preserved byte-for-byte (as parsed JSON) on round-trip.
	Extra map[string]json.RawMessage
}

// manifestKnownFields lists every field name MarshalJSON/UnmarshalJSON
// handle explicitly; anything else lands in Extra.
var manifestKnownFields = map[string]bool{
	"manifestVersion": true,
	"version":         true,
	"rootId":          true,
	"entrypoints":     true,
	"networkUris":     true,
	"xNotes":          true,
	"xVendor":         true,
}

// MarshalJSON emits the known fields under their fixed names plus every
// Extra entry, so a manifest this codec didn't fully understand still
// round-trips unchanged.
func (m Manifest) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+7)
	for k, v := range m.Extra {
		out[k] = v
	}

	set := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = raw
		return nil
	}

	if err := set("manifestVersion", m.ManifestVersion); err != nil {
		return nil, err
	}
	if err := set("version", m.Version); err != nil {
		return nil, err
	}
	if err := set("rootId", m.RootID); err != nil {
		return nil, err
	}
	if m.Entrypoints != nil {
		if err := set("entrypoints", m.Entrypoints); err != nil {
			return nil, err
		}
	}
	if m.NetworkURIs != nil {
		if err := set("networkUris", m.NetworkURIs); err != nil {
			return nil, err
		}
	}
	if m.XNotes != "" {
		if err := set("xNotes", m.XNotes); err != nil {
			return nil, err
		}
	}
	if m.XVendor != nil {
		if err := set("xVendor", m.XVendor); err != nil {
			return nil, err
		}
	}

	return json.Marshal(out)
}

// UnmarshalJSON parses every known field by name and stashes whatever is
// left over in Extra.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return grovefserr.Wrap(grovefserr.BundleError, err, "parse manifest.json")
	}

	get := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}

	if err := get("manifestVersion", &m.ManifestVersion); err != nil {
		return grovefserr.Wrap(grovefserr.BundleError, err, "parse manifestVersion")
	}
	if err := get("version", &m.Version); err != nil {
		return grovefserr.Wrap(grovefserr.BundleError, err, "parse version")
	}
	if err := get("rootId", &m.RootID); err != nil {
		return grovefserr.Wrap(grovefserr.BundleError, err, "parse rootId")
	}
	if err := get("entrypoints", &m.Entrypoints); err != nil {
		return grovefserr.Wrap(grovefserr.BundleError, err, "parse entrypoints")
	}
	if err := get("networkUris", &m.NetworkURIs); err != nil {
		return grovefserr.Wrap(grovefserr.BundleError, err, "parse networkUris")
	}
	if err := get("xNotes", &m.XNotes); err != nil {
		return grovefserr.Wrap(grovefserr.BundleError, err, "parse xNotes")
	}
	if err := get("xVendor", &m.XVendor); err != nil {
		return grovefserr.Wrap(grovefserr.BundleError, err, "parse xVendor")
	}

	m.Extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		if !manifestKnownFields[k] {
			m.Extra[k] = v
		}
	}
	return nil
}
