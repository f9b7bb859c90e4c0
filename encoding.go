package imgview

import (
	"encoding/base64"
	"sync"
)

const (
	// CHUNK_SIZE is the escape sequence payload size used when splitting
	// image data across multiple sequences (4KB per the kitty spec).
	CHUNK_SIZE = 4096
	// BASE64_CHUNK_SIZE is the raw byte count that base64-encodes to one
	// CHUNK_SIZE payload.
	BASE64_CHUNK_SIZE = 3 * CHUNK_SIZE / 4

	// DefaultEncodingWorkers is the number of parallel workers for encoding.
	DefaultEncodingWorkers = 4
)

// Base64 encoder pool to reuse encoding buffers
var base64EncoderPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, BASE64_CHUNK_SIZE*2) // base64 expands by ~33%
		return &buf
	},
}

// Base64Encode provides faster base64 encoding with buffer reuse.
func Base64Encode(src []byte) string {
	bufPtr := base64EncoderPool.Get().(*[]byte)
	defer base64EncoderPool.Put(bufPtr)

	encodedLen := base64.StdEncoding.EncodedLen(len(src))
	if cap(*bufPtr) < encodedLen {
		*bufPtr = make([]byte, encodedLen)
	} else {
		*bufPtr = (*bufPtr)[:encodedLen]
	}

	base64.StdEncoding.Encode(*bufPtr, src)

	// Converting to string copies, but avoids multiple allocations.
	return string(*bufPtr)
}

// ChunkedBase64Encode encodes data as a series of base64 strings, each
// covering chunkSize raw bytes.
func ChunkedBase64Encode(data []byte, chunkSize int) []string {
	numChunks := (len(data) + chunkSize - 1) / chunkSize
	results := make([]string, 0, numChunks)

	for i := 0; i < len(data); i += chunkSize {
		end := min(i+chunkSize, len(data))
		results = append(results, Base64Encode(data[i:end]))
	}

	return results
}

// ParallelBase64Encode encodes large payloads with multiple goroutines.
func ParallelBase64Encode(data []byte, chunkSize int) []string {
	if len(data) <= chunkSize*2 {
		// For small data, single-threaded is faster.
		return ChunkedBase64Encode(data, chunkSize)
	}

	numChunks := (len(data) + chunkSize - 1) / chunkSize
	results := make([]string, numChunks)

	var wg sync.WaitGroup
	numWorkers := min(numChunks, DefaultEncodingWorkers)

	jobs := make(chan int, numChunks)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunkIdx := range jobs {
				start := chunkIdx * chunkSize
				end := min(start+chunkSize, len(data))
				results[chunkIdx] = Base64Encode(data[start:end])
			}
		}()
	}

	for i := 0; i < numChunks; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	return results
}
