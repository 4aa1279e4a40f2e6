package header

import "errors"

// ErrBadHeader indicates the header XML could not be parsed, or a
// mandatory node was missing (§4.3, §7).
var ErrBadHeader = errors.New("header: malformed header document")
