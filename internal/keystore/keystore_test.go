package keystore

import (
	"testing"

	"github.com/cleverfox/gatekeeper/internal/credential"
	"github.com/cleverfox/gatekeeper/internal/flashmap"
)

func newStore(t *testing.T) (*Store, *flashmap.Store) {
	t.Helper()
	dev := flashmap.NewMemDevice(64*1024, 4096)
	fm, err := flashmap.Open(dev, 0, 64*1024)
	if err != nil {
		t.Fatal(err)
	}
	return Load(fm), fm
}

func rec(typ byte, seed byte) credential.Record {
	var r credential.Record
	r[0] = typ
	for i := 1; i < 33; i++ {
		r[i] = seed
	}
	return r
}

func TestAddLookupDel(t *testing.T) {
	s, _ := newStore(t)
	k := rec(credential.TypeEdwards|0x04, 0xAA)

	if got := s.Add(k); got != Added {
		t.Fatalf("Add() = %v, want Added", got)
	}
	if got := s.Lookup(k); got != k[0] {
		t.Fatalf("Lookup() = %#x, want %#x", got, k[0])
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if got := s.Del(k); got != Deleted {
		t.Fatalf("Del() = %v, want Deleted", got)
	}
	if got := s.Lookup(k); got != 0 {
		t.Fatalf("Lookup() after delete = %#x, want 0", got)
	}
}

func TestAddDuplicateIgnoresPermissionBits(t *testing.T) {
	s, _ := newStore(t)
	k1 := rec(credential.TypeEdwards, 0x01)
	k2 := rec(credential.PermAdmin|credential.TypeEdwards, 0x01)

	if got := s.Add(k1); got != Added {
		t.Fatalf("Add(k1) = %v", got)
	}
	if got := s.Add(k2); got != RejectedDuplicate {
		t.Fatalf("Add(k2) = %v, want RejectedDuplicate (same identity, different perm)", got)
	}
}

func TestAddFullTable(t *testing.T) {
	s, _ := newStore(t)
	for i := 0; i < Capacity; i++ {
		var k credential.Record
		k[0] = credential.TypeEdwards
		k[1] = byte(i)
		k[2] = byte(i >> 8)
		if got := s.Add(k); got != Added {
			t.Fatalf("Add(%d) = %v, want Added", i, got)
		}
	}
	var extra credential.Record
	extra[0] = credential.TypeEdwards
	extra[1] = 0xFF
	extra[2] = 0xFF
	extra[3] = 0xFF
	if got := s.Add(extra); got != RejectedFull {
		t.Fatalf("Add beyond capacity = %v, want RejectedFull", got)
	}
	if s.Len() != Capacity {
		t.Fatalf("Len() = %d, want %d", s.Len(), Capacity)
	}
}

func TestDelNotFound(t *testing.T) {
	s, _ := newStore(t)
	if got := s.Del(rec(credential.TypeEdwards, 1)); got != NotFound {
		t.Fatalf("Del() on empty store = %v, want NotFound", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, fm := newStore(t)
	a := rec(credential.TypeEdwards, 1)
	b := rec(credential.TypeWeierstrassEven, 2)
	s.Add(a)
	s.Add(b)

	reloaded := Load(fm)
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded Len() = %d, want 2", reloaded.Len())
	}
	if reloaded.Lookup(a) != a[0] || reloaded.Lookup(b) != b[0] {
		t.Fatal("reloaded store missing expected credentials")
	}
}

func TestDelShiftsTrailingRecords(t *testing.T) {
	s, _ := newStore(t)
	a := rec(credential.TypeEdwards, 1)
	b := rec(credential.TypeEdwards, 2)
	c := rec(credential.TypeEdwards, 3)
	s.Add(a)
	s.Add(b)
	s.Add(c)

	s.Del(a)
	r0, ok := s.Enumerate(0)
	if !ok || r0 != b {
		t.Fatalf("Enumerate(0) after deleting first = %+v, want %+v", r0, b)
	}
	r1, ok := s.Enumerate(1)
	if !ok || r1 != c {
		t.Fatalf("Enumerate(1) after deleting first = %+v, want %+v", r1, c)
	}
}
