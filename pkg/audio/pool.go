package audio

import "sync"

// slicePool recycles scratch slices of one element type. Acquired
// slices keep whatever contents the previous user left behind.
type slicePool[T any] struct {
	pool sync.Pool
}

func (p *slicePool[T]) acquire(size int) []T {
	if size <= 0 {
		return nil
	}
	if v := p.pool.Get(); v != nil {
		buf := v.([]T)
		if cap(buf) >= size {
			return buf[:size]
		}
	}
	return make([]T, size)
}

func (p *slicePool[T]) release(buf []T) {
	if buf == nil {
		return
	}
	p.pool.Put(buf[:0])
}

var (
	bytesPool   slicePool[byte]
	int16Pool   slicePool[int16]
	float32Pool slicePool[float32]
)

// AcquireBytes returns a byte slice with length size.
func AcquireBytes(size int) []byte { return bytesPool.acquire(size) }

// ReleaseBytes puts a byte slice back to the pool.
func ReleaseBytes(buf []byte) { bytesPool.release(buf) }

// AcquireInt16 returns an int16 slice with length size.
func AcquireInt16(size int) []int16 { return int16Pool.acquire(size) }

// ReleaseInt16 puts an int16 slice back to the pool.
func ReleaseInt16(buf []int16) { int16Pool.release(buf) }

// AcquireFloat32 returns a float32 slice with length size.
func AcquireFloat32(size int) []float32 { return float32Pool.acquire(size) }

// ReleaseFloat32 puts a float32 slice back to the pool.
func ReleaseFloat32(buf []float32) { float32Pool.release(buf) }
