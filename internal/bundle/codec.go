package bundle

import (
	"archive/zip"
	"io"

	"github.com/klauspost/compress/flate"
)

// deflateLevel is the default compression level spec.md §4.8 mandates for
// the archive's DEFLATE members.
const deflateLevel = 6

func init() {
	// Swap archive/zip's built-in (stdlib flate) compressor for
	// klauspost/compress's faster one, keeping the ZIP container itself
	// entirely standard so any off-the-shelf tool can read it.
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, deflateLevel)
	})
}

// manifestMember is the fixed archive path of the required manifest entry.
const manifestMember = "manifest.json"

// blockPath renders a document id's sharded archive path for a given
// storage category, e.g. blockPath(id, "snapshot") = "<prefix>/<suffix>/snapshot"
// (spec.md §4.8 example). The two-character prefix keeps any single
// directory in the archive from holding an unbounded number of entries.
func blockPath(idStr, category string) string {
	prefix := idStr
	suffix := ""
	if len(idStr) > 2 {
		prefix = idStr[:2]
		suffix = idStr[2:]
	}
	if suffix == "" {
		return prefix + "/" + category
	}
	return prefix + "/" + suffix + "/" + category
}
