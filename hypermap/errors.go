package hypermap

import (
	"errors"
	"fmt"
)

// ErrIndexOutOfRange is returned when the requested hypermap index has
// no corresponding SpectrumData entry.
var ErrIndexOutOfRange = errors.New("hypermap: index out of range")

// ErrBadHypermap indicates an impossible field value in the stream —
// chan_used > chan_capacity or a body_size overrunning the block stream
// (§7). Every flag value above 1 decodes as run-length, so no encoding
// mode is rejected.
var ErrBadHypermap = errors.New("hypermap: malformed hypermap stream")

// BadHypermapError wraps a decode failure with the source byte offset
// at which it was detected (§7), so a caller can correlate it with a
// hex dump of the offending SpectrumData entry. errors.Is(err,
// ErrBadHypermap) matches it.
type BadHypermapError struct {
	Offset int64
	Err    error
}

func (e *BadHypermapError) Error() string {
	return fmt.Sprintf("hypermap: bad data at offset 0x%x: %v", e.Offset, e.Err)
}

func (e *BadHypermapError) Unwrap() error { return e.Err }

func (e *BadHypermapError) Is(target error) bool { return target == ErrBadHypermap }

func badData(offset int64, format string, args ...any) error {
	return &BadHypermapError{Offset: offset, Err: fmt.Errorf(format, args...)}
}
