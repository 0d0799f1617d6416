package flashmap

import (
	"fmt"
	"os"
)

// FileDevice implements Device over a regular file, standing in for
// the on-chip flash region on hardware that has none (development
// boards, CI, simulators). Erase sets a block to all-ones, matching
// real NOR flash semantics; WriteAt only ever clears bits, like the
// program operation on real flash, and a write that would set a bit
// already cleared (a missing erase) returns an error without writing
// anything.
type FileDevice struct {
	f         *os.File
	blockSize uint32
}

// OpenFileDevice opens (creating if necessary) path as a flash region
// of size bytes, blockSize per erase block. A freshly created file is
// erased (all-ones) throughout.
func OpenFileDevice(path string, size int, blockSize uint32) (*FileDevice, error) {
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("flashmap: %w", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("flashmap: %w", err)
	}
	d := &FileDevice{f: f, blockSize: blockSize}
	if fresh {
		blank := make([]byte, size)
		for i := range blank {
			blank[i] = 0xff
		}
		if _, err := f.WriteAt(blank, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("flashmap: %w", err)
		}
	}
	return d, nil
}

func (d *FileDevice) ReadAt(off uint32, buf []byte) error {
	_, err := d.f.ReadAt(buf, int64(off))
	return err
}

func (d *FileDevice) WriteAt(off uint32, buf []byte) error {
	var existing = make([]byte, len(buf))
	if err := d.ReadAt(off, existing); err != nil {
		return err
	}
	for i, b := range buf {
		if existing[i]&b != b {
			return fmt.Errorf("flashmap: write at %d would set a cleared bit", off)
		}
	}
	_, err := d.f.WriteAt(buf, int64(off))
	return err
}

func (d *FileDevice) EraseBlock(off uint32) error {
	start := (off / d.blockSize) * d.blockSize
	blank := make([]byte, d.blockSize)
	for i := range blank {
		blank[i] = 0xff
	}
	_, err := d.f.WriteAt(blank, int64(start))
	return err
}

func (d *FileDevice) BlockSize() uint32 { return d.blockSize }

// Close releases the underlying file handle.
func (d *FileDevice) Close() error { return d.f.Close() }
