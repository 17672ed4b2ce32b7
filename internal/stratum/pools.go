// Package stratum implements the client side of Stratum V1 needed to probe a
// pool: endpoint parsing, wire messages, an id/method dispatcher and the
// subscribe/authorize/notify prober.
package stratum

import "sync"

const lineBufferSize = 4096

// lineBufferPool reuses the initial scanner buffer across probes
var lineBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, lineBufferSize)
		return &b
	},
}

func getLineBuffer() *[]byte {
	return lineBufferPool.Get().(*[]byte)
}

func putLineBuffer(b *[]byte) {
	if b != nil && cap(*b) == lineBufferSize {
		lineBufferPool.Put(b)
	}
}
