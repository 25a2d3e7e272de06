package atomic_cell

import (
	"sync/atomic"

	"gridchase/grid_world"
)

// AtomicCell is the last known cell of a tracked entity plus its stale flag, packed into a
// single word so that a reader never observes a torn x/y pair. It is meant for exactly one
// writer (the position-report handler) and any number of readers.
//
// Layout: bits 0-31 hold x, bits 32-61 hold y, bit 62 is the stale flag and bit 63 marks
// that a position has been reported at least once. Coordinates are grid cells, never negative.
type AtomicCell struct {
	bits uint64
}

const (
	xMask    = 1<<32 - 1
	yMask    = 1<<30 - 1
	staleBit = 1 << 62
	knownBit = 1 << 63
	yShift   = 32
	maxCoord = yMask
)

func pack(c grid_world.Cell, stale, known bool) (bits uint64) {
	bits = uint64(uint32(c.X)) | (uint64(c.Y)&yMask)<<yShift
	if stale {
		bits |= staleBit
	}
	if known {
		bits |= knownBit
	}
	return
}

func unpack(bits uint64) (c grid_world.Cell, stale, known bool) {
	c = grid_world.Cell{
		X: int(bits & xMask),
		Y: int((bits >> yShift) & yMask),
	}
	return c, bits&staleBit != 0, bits&knownBit != 0
}

// NewAtomicCell returns a cell that holds c but is not yet known, i.e. no report has arrived.
func NewAtomicCell(c grid_world.Cell) *AtomicCell {
	return &AtomicCell{bits: pack(c, false, false)}
}

// AtomicRead returns the last stored cell and whether any position was ever stored.
func (ac *AtomicCell) AtomicRead() (c grid_world.Cell, known bool) {
	c, _, known = unpack(atomic.LoadUint64(&ac.bits))
	return
}

// Stale reports whether the most recent report for this entity could not be decoded.
func (ac *AtomicCell) Stale() bool {
	_, stale, _ := unpack(atomic.LoadUint64(&ac.bits))
	return stale
}

// AtomicSet stores a freshly decoded cell and clears the stale flag. It returns whether the
// entity was stale before, so the caller can log the recovery once.
// Cells with negative or oversized coordinates are not representable and are rejected.
func (ac *AtomicCell) AtomicSet(c grid_world.Cell) (wasStale, ok bool) {
	if c.X < 0 || c.Y < 0 || c.X > maxCoord || c.Y > maxCoord {
		return false, false
	}
	old := atomic.SwapUint64(&ac.bits, pack(c, false, true))
	_, wasStale, _ = unpack(old)
	return wasStale, true
}

// MarkStale keeps the last cell and raises the stale flag. It returns whether the flag was
// already raised.
func (ac *AtomicCell) MarkStale() (wasStale bool) {
	for {
		old := atomic.LoadUint64(&ac.bits)
		if atomic.CompareAndSwapUint64(&ac.bits, old, old|staleBit) {
			return old&staleBit != 0
		}
	}
}

// Forget clears the known bit, e.g. before waiting for the first report of a new session.
func (ac *AtomicCell) Forget() {
	for {
		old := atomic.LoadUint64(&ac.bits)
		if atomic.CompareAndSwapUint64(&ac.bits, old, old&^knownBit) {
			return
		}
	}
}
