package progress

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsEveryInterval(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var reports []int64

	pr := NewReader(iotest.OneByteReader(bytes.NewReader(data)), 0, 100, func(read, _ int64) {
		reports = append(reports, read)
	})

	n, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
	assert.Equal(t, int64(1000), pr.BytesRead())
	assert.Len(t, reports, 10)
	assert.Equal(t, int64(100), reports[0])
}

func TestReader_ReportsFivePercentOnce(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var reports []int64

	// Interval larger than the payload leaves only the 5% report.
	pr := NewReader(iotest.OneByteReader(bytes.NewReader(data)), 1000, 1<<20, func(read, total int64) {
		assert.Equal(t, int64(1000), total)
		reports = append(reports, read)
	})

	_, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)
	assert.Equal(t, []int64{50}, reports)
}

func TestReader_NilCallback(t *testing.T) {
	pr := NewReader(bytes.NewReader([]byte("hello")), 5, 1, nil)

	out, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}
