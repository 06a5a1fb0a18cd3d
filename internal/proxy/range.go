package proxy

import (
	"strconv"
	"strings"

	"github.com/italolelis/drive_relay/internal/transfer"
)

const rangeUnit = "bytes="

// ParseRange turns a Range header into a byte span of an object of the given
// size. It returns nil when the header is absent or malformed, in which case
// the full object is served, and a *transfer.RangeError when the range cannot
// be satisfied. Only the first range of a multi-range header is considered.
func ParseRange(header string, size int64) (*transfer.RangeSpec, error) {
	if header == "" || !strings.HasPrefix(header, rangeUnit) {
		return nil, nil
	}

	first, _, _ := strings.Cut(header[len(rangeUnit):], ",")
	first = strings.TrimSpace(first)

	startStr, endStr, ok := strings.Cut(first, "-")
	if !ok {
		return nil, nil
	}

	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	unsatisfiable := func(reason string) error {
		return &transfer.RangeError{Header: header, Size: size, Reason: reason}
	}

	// bytes=-N asks for the last N bytes.
	if startStr == "" {
		n, err := strconv.ParseUint(endStr, 10, 63)
		if err != nil {
			return nil, nil
		}

		if n == 0 || size == 0 {
			return nil, unsatisfiable("empty suffix range")
		}

		suffix := min(int64(n), size)

		return &transfer.RangeSpec{Start: size - suffix, End: size - 1}, nil
	}

	start, err := strconv.ParseUint(startStr, 10, 63)
	if err != nil {
		return nil, nil
	}

	if int64(start) >= size {
		return nil, unsatisfiable("start beyond end of object")
	}

	rng := &transfer.RangeSpec{Start: int64(start), End: size - 1}

	if endStr == "" {
		return rng, nil
	}

	end, err := strconv.ParseUint(endStr, 10, 63)
	if err != nil {
		return nil, nil
	}

	if end < start {
		return nil, unsatisfiable("end before start")
	}

	rng.End = min(int64(end), size-1)

	return rng, nil
}
