//go:build !unix

package ringbuffer

import "os"

// Without shared mappings the segment is ordinary process memory, which still
// serves producers and consumers running as goroutines of one process.
func mapAnon(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func mapFile(*os.File, int) ([]byte, error) {
	return nil, ErrUnsupported
}

func unmap([]byte) error {
	return nil
}
