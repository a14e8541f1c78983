//go:build unix

package raster

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile memory-maps a file read-only. The fd can be closed after mapping.
func mmapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
}

// munmapFile releases a memory mapping created by mmapFile.
func munmapFile(data []byte) error {
	return unix.Munmap(data)
}
