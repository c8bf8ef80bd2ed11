package boundary

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrAlreadyReleased is returned when a ResultBuffer is used after Release.
var ErrAlreadyReleased = errors.New("result buffer already released")

var resultPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// ResultBuffer owns one serialized DetectionResult handed to a caller.
//
// The caller copies the payload out with Bytes and then calls Release exactly
// once. A buffer that is never released keeps its pooled storage out of
// circulation and shows up in Metrics as outstanding. Release after Release
// returns ErrAlreadyReleased and leaves the pool untouched.
type ResultBuffer struct {
	buf      *bytes.Buffer
	released atomic.Bool
	metrics  *Metrics
}

func newResultBuffer(data []byte, metrics *Metrics) *ResultBuffer {
	buf := resultPool.Get().(*bytes.Buffer)
	buf.Reset()
	buf.Write(data)
	if metrics != nil {
		metrics.buffersOutstanding.Inc()
	}
	return &ResultBuffer{buf: buf, metrics: metrics}
}

// Len is the payload size in bytes, or 0 after release.
func (b *ResultBuffer) Len() int {
	if b.released.Load() {
		return 0
	}
	return b.buf.Len()
}

// Bytes returns a copy of the payload.
func (b *ResultBuffer) Bytes() ([]byte, error) {
	if b.released.Load() {
		return nil, ErrAlreadyReleased
	}
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out, nil
}

// Release returns the storage to the pool.
func (b *ResultBuffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	b.buf.Reset()
	resultPool.Put(b.buf)
	if b.metrics != nil {
		b.metrics.buffersOutstanding.Dec()
	}
	return nil
}
