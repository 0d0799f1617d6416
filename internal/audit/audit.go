// Package audit implements the append-only authentication audit log:
// a fixed-capacity ring buffer of 50-byte entries, newest first.
package audit

import (
	"encoding/binary"

	"github.com/cleverfox/gatekeeper/internal/credential"
)

// EntryLen is the on-the-wire size of a single entry (§3).
const EntryLen = 50

// Capacity is the ring buffer depth.
const Capacity = 100

const (
	flagValid   = 0x01
	flagSuccess = 0x02
)

// Entry is one authentication attempt.
type Entry struct {
	Success  bool
	Record   credential.Record
	UptimeMS uint64
	PeerAddr [6]byte
	Action   uint16
}

// Marshal encodes e into the 50-byte wire layout described in §3.
func (e Entry) Marshal() [EntryLen]byte {
	var out [EntryLen]byte
	flags := byte(flagValid)
	if e.Success {
		flags |= flagSuccess
	}
	out[0] = flags
	copy(out[1:34], e.Record[:])
	binary.LittleEndian.PutUint64(out[34:42], e.UptimeMS)
	copy(out[42:48], e.PeerAddr[:])
	binary.LittleEndian.PutUint16(out[48:50], e.Action)
	return out
}

// Unmarshal decodes the 50-byte wire layout back into an Entry and
// whether the valid bit was set.
func Unmarshal(b [EntryLen]byte) (Entry, bool) {
	var e Entry
	valid := b[0]&flagValid != 0
	e.Success = b[0]&flagSuccess != 0
	copy(e.Record[:], b[1:34])
	e.UptimeMS = binary.LittleEndian.Uint64(b[34:42])
	copy(e.PeerAddr[:], b[42:48])
	e.Action = binary.LittleEndian.Uint16(b[48:50])
	return e, valid
}

// Log is a fixed-capacity ring buffer. Index 0 is always the newest
// entry; eviction is strict FIFO once Capacity is reached. The zero
// value is an empty log ready to use.
type Log struct {
	entries  [Capacity]Entry
	writeIdx int
	count    int
}

// Push records a new entry, evicting the oldest if the log is full.
func (l *Log) Push(e Entry) {
	l.entries[l.writeIdx] = e
	l.writeIdx = (l.writeIdx + 1) % Capacity
	if l.count < Capacity {
		l.count++
	}
}

// Count returns min(inserts so far, Capacity).
func (l *Log) Count() int { return l.count }

// At returns the entry at index (0 = newest), or false if index is
// out of range.
func (l *Log) At(index int) (Entry, bool) {
	if index < 0 || index >= l.count {
		return Entry{}, false
	}
	newest := (l.writeIdx - 1 + Capacity) % Capacity
	pos := (newest - index + Capacity) % Capacity
	return l.entries[pos], true
}

// EntryBytes returns the 50-byte encoding of the entry at index, or an
// all-zero-flags (invalid) entry if index is out of range, matching
// the log_entry read contract in §8.
func (l *Log) EntryBytes(index int) [EntryLen]byte {
	e, ok := l.At(index)
	if !ok {
		return [EntryLen]byte{}
	}
	// Force the valid bit regardless of caller-supplied Entry state;
	// entries reaching the log through Push are always valid.
	out := e.Marshal()
	out[0] |= flagValid
	return out
}
