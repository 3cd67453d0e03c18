// Package base2bufpool provides a []byte pool bucketed by power-of-two size
// classes, used by frameconn to avoid an allocation on every frame read.
package base2bufpool

import (
	"fmt"
	"math/bits"
	"sync"
)

//go:generate enumer -type=NoFitBehavior -output base2bufpool_nofitbehavior_enumer.go

// NoFitBehavior controls what Pool.Get does when the requested size does not
// fit any of the pool's size classes.
type NoFitBehavior int

const (
	// Allocate a buffer of exactly the requested size, bypassing the pool.
	Allocate NoFitBehavior = iota
	// AllocateSmaller behaves like Allocate for requests below the pool's
	// minimum size class, but panics for requests above the maximum size
	// class (the pool refuses to hand out anything it cannot later reclaim
	// within its configured memory bound).
	AllocateSmaller
	// Panic refuses any request outside the pool's size-class range.
	Panic
)

// Pool hands out []byte buffers sized to the next power of two, pooled via
// sync.Pool per size class in [1<<minShift, 1<<maxShift].
type Pool struct {
	minShift, maxShift uint
	behavior           NoFitBehavior
	buckets            []*sync.Pool
}

func New(minShift, maxShift uint, behavior NoFitBehavior) *Pool {
	if minShift > maxShift {
		panic(fmt.Sprintf("base2bufpool: minShift %d > maxShift %d", minShift, maxShift))
	}
	p := &Pool{
		minShift: minShift,
		maxShift: maxShift,
		behavior: behavior,
		buckets:  make([]*sync.Pool, maxShift-minShift+1),
	}
	for i := range p.buckets {
		size := uint(1) << (minShift + uint(i))
		p.buckets[i] = &sync.Pool{
			New: func() interface{} { return make([]byte, size) },
		}
	}
	return p
}

// fittingShift returns the smallest s such that 1<<s >= n.
func fittingShift(n uint) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(n - 1))
}

// Buffer is a buffer obtained from a Pool. The slice returned by Bytes is
// only valid until Free is called.
type Buffer struct {
	shiftBuf   []byte
	payloadLen uint
	pool       *Pool
	shift      uint
	pooled     bool
}

func (b *Buffer) Bytes() []byte {
	return b.shiftBuf[:b.payloadLen]
}

// Free returns the underlying buffer to the pool it came from, if any.
func (b *Buffer) Free() {
	if !b.pooled {
		return
	}
	b.pool.buckets[b.shift-b.pool.minShift].Put(b.shiftBuf) //nolint:staticcheck
}

func (p *Pool) Get(n uint) Buffer {
	shift := fittingShift(n)
	if shift < p.minShift || shift > p.maxShift {
		switch p.behavior {
		case Allocate:
			return Buffer{shiftBuf: make([]byte, n), payloadLen: n}
		case AllocateSmaller:
			if shift < p.minShift {
				return Buffer{shiftBuf: make([]byte, n), payloadLen: n}
			}
			panic(fmt.Sprintf("base2bufpool: requested size %d exceeds pool maximum %d and behavior is AllocateSmaller", n, uint(1)<<p.maxShift))
		case Panic:
			panic(fmt.Sprintf("base2bufpool: requested size %d (shift %d) outside pool range [%d,%d]", n, shift, p.minShift, p.maxShift))
		default:
			panic(fmt.Sprintf("base2bufpool: unknown NoFitBehavior %v", p.behavior))
		}
	}
	bucket := p.buckets[shift-p.minShift]
	buf := bucket.Get().([]byte)
	return Buffer{shiftBuf: buf, payloadLen: n, pool: p, shift: shift, pooled: true}
}
