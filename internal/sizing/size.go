// Package sizing holds overflow-checked size arithmetic for archive
// offsets, entry sizes and volume counts.
package sizing

import (
	"io"
	"math"
)

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// ReadAllWithLimit reads r to EOF, failing with overflowErr once more than
// maxSize bytes arrive. Entries whose stored size understates their content
// are caught here.
func ReadAllWithLimit(r io.Reader, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize > uint64(math.MaxInt-1) {
		return nil, overflowErr
	}
	limit := int64(maxSize) + 1 //nolint:gosec // checked above
	lr := &io.LimitedReader{R: r, N: limit}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize { //nolint:gosec // len is always non-negative
		return nil, overflowErr
	}
	return data, nil
}

// CeilDiv returns ceil(a/b). b must be non-zero.
func CeilDiv(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return 1 + (a-1)/b
}
