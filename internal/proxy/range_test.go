package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/drive_relay/internal/transfer"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name          string
		header        string
		size          int64
		want          *transfer.RangeSpec
		unsatisfiable bool
	}{
		{name: "no header", header: "", size: 1000},
		{name: "bounded", header: "bytes=0-99", size: 1000, want: &transfer.RangeSpec{Start: 0, End: 99}},
		{name: "open ended", header: "bytes=500-", size: 1000, want: &transfer.RangeSpec{Start: 500, End: 999}},
		{name: "end clamped to size", header: "bytes=900-5000", size: 1000, want: &transfer.RangeSpec{Start: 900, End: 999}},
		{name: "single last byte", header: "bytes=999-999", size: 1000, want: &transfer.RangeSpec{Start: 999, End: 999}},
		{name: "suffix", header: "bytes=-100", size: 1000, want: &transfer.RangeSpec{Start: 900, End: 999}},
		{name: "suffix longer than object", header: "bytes=-5000", size: 1000, want: &transfer.RangeSpec{Start: 0, End: 999}},
		{name: "first of many", header: "bytes=0-9, 20-29", size: 1000, want: &transfer.RangeSpec{Start: 0, End: 9}},
		{name: "whitespace", header: "bytes= 10 - 19 ", size: 1000, want: &transfer.RangeSpec{Start: 10, End: 19}},
		{name: "start beyond size", header: "bytes=2000-", size: 1000, unsatisfiable: true},
		{name: "start equals size", header: "bytes=1000-1005", size: 1000, unsatisfiable: true},
		{name: "end before start", header: "bytes=50-10", size: 1000, unsatisfiable: true},
		{name: "zero suffix", header: "bytes=-0", size: 1000, unsatisfiable: true},
		{name: "any range of an empty object", header: "bytes=0-", size: 0, unsatisfiable: true},
		{name: "other unit ignored", header: "items=0-5", size: 1000},
		{name: "non numeric ignored", header: "bytes=abc-def", size: 1000},
		{name: "missing dash ignored", header: "bytes=100", size: 1000},
		{name: "negative start ignored", header: "bytes=--5", size: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)

			if tt.unsatisfiable {
				var rangeErr *transfer.RangeError
				require.ErrorAs(t, err, &rangeErr)
				assert.Equal(t, tt.size, rangeErr.Size)
				assert.Nil(t, got)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			if got != nil {
				assert.True(t, got.Valid(tt.size))
			}
		})
	}
}
