// Package winfile converts Windows FILETIME values (100 ns ticks since
// 1601-01-01 UTC) to and from time.Time, the way the container's entry
// table timestamps are encoded.
package winfile

import "time"

// epoch is the Windows FILETIME epoch, 1601-01-01 00:00:00 UTC.
var epoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

// ToTime converts a raw 100ns-tick FILETIME value to a wall-clock
// instant.
func ToTime(ticks uint64) time.Time {
	return epoch.Add(time.Duration(ticks) * 100)
}

// FromTime converts a wall-clock instant back to a 100ns-tick FILETIME
// value, the inverse of ToTime. Nothing in this module calls it.
func FromTime(t time.Time) uint64 {
	d := t.Sub(epoch)
	return uint64(d / 100)
}
