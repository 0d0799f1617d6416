// Package config implements scalar and string configuration slots
// backed by a flashmap.Store.
package config

import (
	"encoding/binary"

	"github.com/cleverfox/gatekeeper/internal/flashmap"
)

// Recognized scalar slot ids (§3).
const (
	SlotIOPolarity       = 1
	SlotLampPreStart     = 2
	SlotConnTimeout      = 3
	SlotAutoClose        = 4
	SlotLeftOpenDelay    = 8
	SlotLeftOpenDuration = 9
	SlotRightOpenDelay   = 10
	SlotRightOpenDuration = 11
	SlotLeftCloseDelay    = 12
	SlotLeftCloseDuration = 13
	SlotRightCloseDelay   = 14
	SlotRightCloseDuration = 15
	// SlotReset is the reset trigger: any successful write forces a
	// software reset after the value is persisted.
	SlotReset = 31
	// SlotName is the distinguished device-name slot.
	SlotName = 255
)

// Defaults, in milliseconds except IOPolarity (a bitfield).
const (
	DefaultIOPolarity        = 0
	DefaultLampPreStart      = 500
	DefaultConnTimeout       = 2000
	DefaultAutoClose         = 5000
	DefaultLeftOpenDelay     = 100
	DefaultLeftOpenDuration  = 2000
	DefaultRightOpenDelay    = 800
	DefaultRightOpenDuration = 2000
	DefaultLeftCloseDelay    = 800
	DefaultLeftCloseDuration = 2000
	DefaultRightCloseDelay   = 100
	DefaultRightCloseDuration = 2000
	DefaultName              = "BlueGate"
)

// NameLen is the on-flash width of the device-name slot. Only the
// first NameLen-1 bytes are usable; the last byte is a guaranteed
// zero terminator (§9).
const NameLen = 64

// Rebooter performs a software reset. Its Reboot method must never
// return, mirroring the firmware contract that setting slot 31
// persists the value and then resets the device rather than
// returning control to the caller.
type Rebooter interface {
	Reboot()
}

// Store is the configuration map.
type Store struct {
	fm       *flashmap.Store
	rebooter Rebooter
}

// Open wraps fm as a Store. rebooter may be nil, in which case
// SlotReset writes persist normally but no reset is triggered (used
// in tests that want to observe the post-persist state).
func Open(fm *flashmap.Store, rebooter Rebooter) *Store {
	return &Store{fm: fm, rebooter: rebooter}
}

// GetU32 returns the scalar stored at slot, or def if unset.
func (s *Store) GetU32(slot uint8, def uint32) uint32 {
	raw, ok := s.fm.Fetch(uint16(slot))
	if !ok || len(raw) != 4 {
		return def
	}
	return binary.LittleEndian.Uint32(raw)
}

// SetU32 persists value at slot. Writing SlotReset forces a software
// reset immediately after a successful persist.
func (s *Store) SetU32(slot uint8, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if err := s.fm.Store(uint16(slot), buf[:]); err != nil {
		return err
	}
	if slot == SlotReset && s.rebooter != nil {
		s.rebooter.Reboot()
	}
	return nil
}

// GetName returns the device name, or def if the stored value is
// empty or unset. The stored value ends at the first zero byte or at
// NameLen, whichever comes first.
func (s *Store) GetName(def string) string {
	raw, ok := s.fm.Fetch(uint16(SlotName))
	if !ok || len(raw) != NameLen {
		return def
	}
	n := NameLen
	for i, b := range raw {
		if b == 0 {
			n = i
			break
		}
	}
	if n == 0 {
		return def
	}
	return string(raw[:n])
}

// SetName persists name as a 64-byte null-padded array. Names longer
// than NameLen-1 bytes are truncated, leaving the final byte zero.
func (s *Store) SetName(name string) error {
	var buf [NameLen]byte
	copy(buf[:NameLen-1], name)
	return s.fm.Store(uint16(SlotName), buf[:])
}
