// Package bytespool 提供按大小分级的字节切片池，用于连接读取等短生命周期缓冲区。
package bytespool

import "sync"

// There are numPools pools. Starting from MinPoolSize, each pool holds slices
// sizeMulti times larger than the previous one; the largest pool serves 64KiB reads,
// which is the ceiling a single TLS record read ever needs.
const (
	numPools    = 6
	sizeMulti   = 2
	MinPoolSize = 2048
)

var (
	pools     [numPools]sync.Pool
	poolSizes [numPools]int
)

func init() {
	size := MinPoolSize
	for i := range numPools {
		n := size
		pools[i] = sync.Pool{
			New: func() any {
				b := make([]byte, n)
				return &b
			},
		}
		poolSizes[i] = size
		size *= sizeMulti
	}
}

func poolFor(size int) int {
	for idx, ps := range poolSizes {
		if size <= ps {
			return idx
		}
	}
	return -1
}

// Alloc returns a slice of exactly size bytes. Slices of at least MinPoolSize that fit
// a pool are backed by pooled memory and should be handed back with Free.
func Alloc(size int) []byte {
	if size >= MinPoolSize {
		if idx := poolFor(size); idx >= 0 {
			b := pools[idx].Get().(*[]byte)
			return (*b)[:size]
		}
	}
	return make([]byte, size)
}

// Free 把切片放回对应的池。容量小于 MinPoolSize 或不匹配任何池的切片会被忽略。
func Free(b []byte) {
	size := cap(b)
	if size < MinPoolSize {
		return
	}
	for i := numPools - 1; i >= 0; i-- {
		if size == poolSizes[i] {
			b = b[:size]
			pools[i].Put(&b)
			return
		}
	}
}

// MaxSize 返回最大池的容量。
func MaxSize() int {
	return poolSizes[numPools-1]
}
