package flashmap

import "fmt"

// MemDevice is an in-memory Device used by tests in this module and by
// the keystore/config packages, which have no physical flash to test
// against. It enforces the same program-only-clears-bits and
// erase-resets-to-ones discipline as real NOR flash, and can simulate
// torn writes through FailWriteAt.
type MemDevice struct {
	buf       []byte
	blockSize uint32
	// FailWriteAt, if non-negative, makes every WriteAt that reaches
	// this absolute offset or beyond fail there, after programming the
	// bytes before it, simulating power loss mid-write. It stays armed
	// until reset to -1.
	FailWriteAt int64
}

// NewMemDevice allocates a device of size bytes with the given erase
// block size, fully erased (all 0xff).
func NewMemDevice(size int, blockSize uint32) *MemDevice {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xff
	}
	return &MemDevice{buf: buf, blockSize: blockSize, FailWriteAt: -1}
}

func (m *MemDevice) BlockSize() uint32 { return m.blockSize }

func (m *MemDevice) ReadAt(off uint32, buf []byte) error {
	if int(off)+len(buf) > len(m.buf) {
		return fmt.Errorf("flashmap: read out of range at %d", off)
	}
	copy(buf, m.buf[off:])
	return nil
}

func (m *MemDevice) WriteAt(off uint32, data []byte) error {
	if int(off)+len(data) > len(m.buf) {
		return fmt.Errorf("flashmap: write out of range at %d", off)
	}
	for i, b := range data {
		pos := int64(off) + int64(i)
		if m.FailWriteAt >= 0 && pos >= m.FailWriteAt {
			return fmt.Errorf("flashmap: simulated power loss at %d", pos)
		}
		// Flash program can only clear bits.
		m.buf[off+uint32(i)] &= b
	}
	return nil
}

func (m *MemDevice) EraseBlock(off uint32) error {
	start := (off / m.blockSize) * m.blockSize
	end := start + m.blockSize
	if int(end) > len(m.buf) {
		return fmt.Errorf("flashmap: erase out of range at %d", off)
	}
	for i := start; i < end; i++ {
		m.buf[i] = 0xff
	}
	return nil
}
