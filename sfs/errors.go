package sfs

import "errors"

// Sentinel errors for consumer error matching, mirroring the
// Err-prefixed sentinel style used across the rest of this module's
// lineage (see header.ErrBadHeader, hypermap.ErrBadHypermap).
var (
	// ErrNotASFSContainer indicates the 8-byte signature at offset 0
	// did not match "AAMVHFSS".
	ErrNotASFSContainer = errors.New("sfs: not an SFS container")

	// ErrTruncated indicates a read past the end of the backing file.
	ErrTruncated = errors.New("sfs: truncated container")

	// ErrNotFound indicates a path component was missing while
	// descending the entry tree.
	ErrNotFound = errors.New("sfs: entry not found")

	// ErrNotAFile indicates the final path component resolved to a
	// directory, not a file.
	ErrNotAFile = errors.New("sfs: not a file")

	// ErrUnknownCompression indicates the container advertises
	// compression but a file's per-entry signature is neither the
	// "AACS" marker nor the implicit uncompressed default.
	ErrUnknownCompression = errors.New("sfs: unknown per-entry compression")
)

// UnsupportedVersionWarning describes a container version outside the
// recognised range. Open neither returns nor logs this type: it reports
// such a version through Logger.Warnf as a plain message, not an error.
type UnsupportedVersionWarning struct {
	Version float32
}

func (w *UnsupportedVersionWarning) Error() string {
	return "sfs: unrecognised container version"
}
