package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/storage"
)

// Imported is the result of parsing a bundle archive: its manifest and a
// read-only storage view over the blocks it carried, ready to be wrapped in
// a storage.Overlay so the engine can mutate it in-process (spec.md §4.8
// step 2).
type Imported struct {
	Manifest Manifest
	Storage  *storage.ReadOnly
}

// Import parses data as a bundle archive, rejecting anything whose
// manifest is missing, unparseable, or not manifestVersion 1.
func Import(data []byte) (*Imported, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, grovefserr.Wrap(grovefserr.BundleError, err, "open bundle archive")
	}

	var manifestFile *zip.File
	entries := make(map[string][]byte)
	for _, f := range zr.File {
		if f.Name == manifestMember {
			manifestFile = f
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, grovefserr.Wrap(grovefserr.BundleError, err, "read %s", f.Name)
		}
		entries[canonicalFromArchivePath(f.Name)] = data
	}

	if manifestFile == nil {
		return nil, grovefserr.New(grovefserr.BundleError, "bundle archive has no manifest.json")
	}
	manifestBytes, err := readZipFile(manifestFile)
	if err != nil {
		return nil, grovefserr.Wrap(grovefserr.BundleError, err, "read manifest.json")
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, err // already a *grovefserr.Error from UnmarshalJSON
	}
	if manifest.ManifestVersion != ManifestVersion {
		return nil, grovefserr.New(grovefserr.BundleError, "unsupported manifestVersion %d", manifest.ManifestVersion)
	}

	return &Imported{Manifest: manifest, Storage: storage.NewReadOnly(entries)}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// canonicalFromArchivePath turns a sharded archive member path
// ("<prefix>/<suffix>/snapshot") back into the two-component
// storage.Key.Canonical() form ("<prefix><suffix>/snapshot") Load expects.
func canonicalFromArchivePath(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return name
	}
	return parts[0] + parts[1] + "/" + parts[2]
}
