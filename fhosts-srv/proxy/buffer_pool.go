package proxy

import (
	"io"
	"sync"
)

// DefaultBufferSize is the size for pooled copy buffers (32KB), matching
// the internal buffer size used by io.Copy.
const DefaultBufferSize = 32 * 1024

// bufferPool holds byte slices reused for tunnel and body copies to
// reduce GC pressure.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufferSize)
		return &buf
	},
}

func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func putBuffer(buf *[]byte) {
	if buf != nil {
		bufferPool.Put(buf)
	}
}

// copyBuffer copies from src to dst using a pooled buffer. Drop-in
// replacement for io.Copy.
func copyBuffer(dst io.Writer, src io.Reader) (written int64, err error) {
	buf := getBuffer()
	defer putBuffer(buf)
	return io.CopyBuffer(dst, src, *buf)
}
