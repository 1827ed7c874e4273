package core

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Timestamps are unsigned 128-bit keys. They ride in uint256.Int values
// constrained to the low 128 bits; the parser rejects anything wider.

// timestampBits is the key width enforced by ParseTimestamp.
const timestampBits = 128

// MaxTimestamp returns 2^128-1, the largest valid key. It is also the
// min-timestamp sentinel of an empty database.
func MaxTimestamp() uint256.Int {
	var max uint256.Int
	max.SetAllOne()
	max.Rsh(&max, 256-timestampBits)
	return max
}

// ParseTimestamp parses a base-10 timestamp. Values wider than 128 bits
// are rejected.
func ParseTimestamp(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	if v.BitLen() > timestampBits {
		return uint256.Int{}, fmt.Errorf("timestamp %q exceeds 128 bits", s)
	}
	return *v, nil
}

// FormatTimestamp renders a timestamp in its canonical base-10 form, the
// representation used on disk and in result envelopes.
func FormatTimestamp(ts uint256.Int) string {
	return ts.Dec()
}

// TimestampFromMillis lifts a wall-clock millisecond count into key space.
func TimestampFromMillis(ms int64) uint256.Int {
	if ms < 0 {
		ms = 0
	}
	return *uint256.NewInt(uint64(ms))
}
