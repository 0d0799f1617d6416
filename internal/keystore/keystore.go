// Package keystore implements the in-memory credential table backed
// by a flashmap.Store: lookup, add, delete, and enumeration of
// enrolled credentials.
package keystore

import (
	"encoding/binary"

	"github.com/cleverfox/gatekeeper/internal/credential"
	"github.com/cleverfox/gatekeeper/internal/flashmap"
)

// Capacity is the compile-time maximum number of enrolled credentials.
const Capacity = 1024

const countKey uint16 = 0

// keyID returns the flashmap key for the slot holding the record at
// in-memory index i (0-based).
func keyID(i int) uint16 { return uint16(1 + i) }

// AddResult is the outcome of Store.Add.
type AddResult int

const (
	Added AddResult = iota
	RejectedDuplicate
	RejectedFull
	AddFlashError
)

// DelResult is the outcome of Store.Del.
type DelResult int

const (
	Deleted DelResult = iota
	NotFound
	DelFlashError
)

// Store is the credential table. It is not safe for concurrent use;
// the ASH task is the sole owner of a Store for the lifetime of the
// device.
type Store struct {
	fm      *flashmap.Store
	records []credential.Record
}

// Load reads the stored count then iterates keys 1..1+count, pushing
// each into memory. A missing or corrupt individual entry is skipped
// rather than treated as fatal, so the device always boots even with
// a partially readable region.
func Load(fm *flashmap.Store) *Store {
	s := &Store{fm: fm}
	count := 0
	if raw, ok := fm.Fetch(countKey); ok && len(raw) == 2 {
		count = int(binary.LittleEndian.Uint16(raw))
	}
	if count > Capacity {
		count = Capacity
	}
	for i := 0; i < count; i++ {
		raw, ok := fm.Fetch(keyID(i))
		if !ok || len(raw) != 33 {
			continue
		}
		var rec credential.Record
		copy(rec[:], raw)
		s.records = append(s.records, rec)
	}
	return s
}

func (s *Store) persistCount() error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(len(s.records)))
	return s.fm.Store(countKey, buf[:])
}

// Add enrolls key if it is not already present and the table is not
// full. Identity is checked first (§3); on a flash failure the
// in-memory table is rolled back to its pre-call state.
func (s *Store) Add(key credential.Record) AddResult {
	for _, rec := range s.records {
		if rec.SameIdentity(key) {
			return RejectedDuplicate
		}
	}
	if len(s.records) >= Capacity {
		return RejectedFull
	}

	snapshot := append([]credential.Record(nil), s.records...)
	s.records = append(s.records, key)

	newIdx := len(s.records) - 1
	if err := s.fm.Store(keyID(newIdx), key[:]); err != nil {
		s.records = snapshot
		return AddFlashError
	}
	if err := s.persistCount(); err != nil {
		s.records = snapshot
		return AddFlashError
	}
	return Added
}

// Del removes the first credential matching key, shifting trailing
// records down by one index to keep the table dense, then rewrites
// the count and every slot (acceptable per §4.2).
func (s *Store) Del(key credential.Record) DelResult {
	idx := -1
	for i, rec := range s.records {
		if rec.SameIdentity(key) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NotFound
	}

	snapshot := append([]credential.Record(nil), s.records...)
	s.records = append(s.records[:idx], s.records[idx+1:]...)

	for i, rec := range s.records {
		if err := s.fm.Store(keyID(i), rec[:]); err != nil {
			s.records = snapshot
			return DelFlashError
		}
	}
	if err := s.persistCount(); err != nil {
		s.records = snapshot
		return DelFlashError
	}
	return Deleted
}

// Lookup returns the permission-and-type byte of the first matching
// stored record, or 0 if none matches.
func (s *Store) Lookup(key credential.Record) byte {
	for _, rec := range s.records {
		if rec.SameIdentity(key) {
			return rec[0]
		}
	}
	return 0
}

// Enumerate provides 0-based access for management read-out.
func (s *Store) Enumerate(i int) (credential.Record, bool) {
	if i < 0 || i >= len(s.records) {
		return credential.Record{}, false
	}
	return s.records[i], true
}

// Len returns the number of enrolled credentials.
func (s *Store) Len() int { return len(s.records) }
