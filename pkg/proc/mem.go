package proc

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// pageCache is a MemoryReader that reads whole pages from mem and keeps
// the most recently used ones. Pages that can not be read are not cached.
// It must only be used while the process is stopped.
type pageCache struct {
	mem      MemoryReader
	pageSize uint64
	pages    *lru.Cache[uint64, []byte]
}

// NewPageCache returns a MemoryReader that caches up to size pages of mem.
func NewPageCache(mem MemoryReader, pageSize uint64, size int) (MemoryReader, error) {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}
	pages, err := lru.New[uint64, []byte](size)
	if err != nil {
		return nil, err
	}
	return &pageCache{mem: mem, pageSize: pageSize, pages: pages}, nil
}

func (c *pageCache) page(addr uint64) ([]byte, error) {
	if p, ok := c.pages.Get(addr); ok {
		return p, nil
	}
	p := make([]byte, c.pageSize)
	n, err := c.mem.ReadMemory(p, addr)
	if err != nil {
		return nil, err
	}
	if n != len(p) {
		return nil, &ReadError{What: "memory", Addr: addr, Len: len(p), Err: fmt.Errorf("short read (%d bytes)", n)}
	}
	c.pages.Add(addr, p)
	return p, nil
}

func (c *pageCache) ReadMemory(buf []byte, addr uint64) (int, error) {
	n := 0
	for n < len(buf) {
		cur := addr + uint64(n)
		base := cur &^ (c.pageSize - 1)
		p, err := c.page(base)
		if err != nil {
			return n, err
		}
		n += copy(buf[n:], p[cur-base:])
	}
	return n, nil
}
