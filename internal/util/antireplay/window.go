// Package antireplay tracks which data-message counters a session already
// accepted, using the sliding bitmap of RFC 6479.
package antireplay

const (
	blocksTotalBits = 1024
	blockBits       = 64
	blockBitsLog    = 6
	numBlocks       = blocksTotalBits / blockBits

	// WindowSize is how far behind the highest counter an index may lag and
	// still be accepted.
	WindowSize = uint64(blocksTotalBits - blockBits)
)

// Window records seen counters. The zero value is ready to use; counter 0 is
// never valid.
type Window struct {
	highest uint64
	blocks  [numBlocks]uint64
}

// Reset forgets every recorded counter.
func (w *Window) Reset() {
	w.highest = 0
	w.blocks = [numBlocks]uint64{}
}

// Highest returns the largest counter marked so far.
func (w *Window) Highest() uint64 { return w.highest }

// Fresh reports whether index could be accepted, without recording it.
func (w *Window) Fresh(index uint64) bool {
	if index == 0 || index+WindowSize < w.highest {
		return false
	}
	if index > w.highest {
		return true
	}
	block, bit := locate(index)
	return w.blocks[block]&(1<<bit) == 0
}

// Mark records index as seen, sliding the window forward if needed.
func (w *Window) Mark(index uint64) {
	if index > w.highest {
		top := w.highest >> blockBitsLog
		next := min(index>>blockBitsLog-top, uint64(numBlocks))
		for i := uint64(1); i <= next; i++ {
			w.blocks[(top+i)%numBlocks] = 0
		}
		w.highest = index
	}
	block, bit := locate(index)
	w.blocks[block] |= 1 << bit
}

// Check marks index and reports whether it was fresh.
func (w *Window) Check(index uint64) bool {
	if !w.Fresh(index) {
		return false
	}
	w.Mark(index)
	return true
}

func locate(index uint64) (block uint64, bit uint64) {
	return (index >> blockBitsLog) % numBlocks, index & uint64(blockBits-1)
}
