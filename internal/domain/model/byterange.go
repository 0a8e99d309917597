package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const rangeUnitPrefix = "bytes="

var (
	ErrRangeHeaderRequired = errors.New("range header required")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrEntityTooLarge      = errors.New("entity too large")
)

// ByteRange is an inclusive window [Start, End] into an entry.
type ByteRange struct {
	Start uint64
	End   uint64
}

// Length returns the number of bytes covered by the range.
func (r ByteRange) Length() uint64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value for an entry of the given size.
func (r ByteRange) ContentRange(size uint64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// FullRange covers an entire entry of the given non-zero size.
func FullRange(size uint64) ByteRange {
	return ByteRange{Start: 0, End: size - 1}
}

// ParseRange parses a Range header value against an entry of the given size.
//
// Accepted forms are "bytes=start-end", "bytes=start-" and "bytes=-suffix".
// An open-ended range is clamped to window bytes (window 0 means no clamp).
// An end past the entry is clamped to the last byte. Only the first range of a
// multi-range header is honored.
func ParseRange(header string, size, window uint64) (ByteRange, error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, rangeUnitPrefix) || size == 0 {
		return ByteRange{}, ErrRangeNotSatisfiable
	}

	rng := strings.TrimPrefix(header, rangeUnitPrefix)
	if i := strings.IndexByte(rng, ','); i >= 0 {
		rng = rng[:i]
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(rng), "-")
	if !ok {
		return ByteRange{}, ErrRangeNotSatisfiable
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		suffix, err := strconv.ParseUint(endStr, 10, 64)
		if err != nil || suffix == 0 {
			return ByteRange{}, ErrRangeNotSatisfiable
		}
		if suffix > size {
			suffix = size
		}
		return ByteRange{Start: size - suffix, End: size - 1}, nil
	}

	start, err := strconv.ParseUint(startStr, 10, 64)
	if err != nil || start >= size {
		return ByteRange{}, ErrRangeNotSatisfiable
	}

	if endStr == "" {
		end := size - 1
		if window > 0 && window <= end-start {
			end = start + window - 1
		}
		return ByteRange{Start: start, End: end}, nil
	}

	end, err := strconv.ParseUint(endStr, 10, 64)
	if err != nil || end < start {
		return ByteRange{}, ErrRangeNotSatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return ByteRange{Start: start, End: end}, nil
}
