// Package progress counts bytes flowing through a reader and reports them.
package progress

import (
	"io"
	"sync/atomic"
)

// Reader wraps an io.Reader and reports progress via a callback every
// interval bytes and once when crossing 5% of a known total.
type Reader struct {
	reader         io.Reader
	total          int64
	onProgress     func(read, total int64)
	reportInterval int64

	read       atomic.Int64
	lastReport int64
}

// NewReader returns a progress reader. total may be 0 or negative when unknown.
func NewReader(r io.Reader, total, interval int64, cb func(read, total int64)) *Reader {
	return &Reader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		read := pr.read.Add(int64(n))
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval || pr.crossedFivePercent(read, int64(n)) {
			if pr.onProgress != nil {
				pr.onProgress(read, pr.total)
			}

			pr.lastReport = 0
		}
	}

	return n, err
}

// BytesRead is safe to call from other goroutines.
func (pr *Reader) BytesRead() int64 {
	return pr.read.Load()
}

func (pr *Reader) crossedFivePercent(read, n int64) bool {
	if pr.total <= 0 {
		return false
	}

	return read*100/pr.total >= 5 && (read-n)*100/pr.total < 5
}
