package audit

import (
	"testing"

	"github.com/cleverfox/gatekeeper/internal/credential"
)

func TestMarshalRoundTrip(t *testing.T) {
	var rec credential.Record
	rec[0] = credential.PermAdmin | credential.TypeEdwards
	for i := 1; i < 33; i++ {
		rec[i] = byte(i)
	}
	e := Entry{
		Success:  true,
		Record:   rec,
		UptimeMS: 123456789,
		PeerAddr: [6]byte{1, 2, 3, 4, 5, 6},
		Action:   0x8002,
	}
	got, valid := Unmarshal(e.Marshal())
	if !valid {
		t.Fatal("marshaled entry should decode as valid")
	}
	if got != e {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestCountSaturatesAndFIFO(t *testing.T) {
	var l Log
	for i := 0; i < Capacity+10; i++ {
		l.Push(Entry{UptimeMS: uint64(i)})
	}
	if l.Count() != Capacity {
		t.Fatalf("Count() = %d, want %d", l.Count(), Capacity)
	}
	newest, ok := l.At(0)
	if !ok || newest.UptimeMS != Capacity+9 {
		t.Fatalf("At(0) = %+v, want UptimeMS=%d", newest, Capacity+9)
	}
	oldest, ok := l.At(Capacity - 1)
	if !ok || oldest.UptimeMS != 10 {
		t.Fatalf("At(Capacity-1) = %+v, want UptimeMS=10 (first 10 entries evicted)", oldest)
	}
}

func TestEntryBytesOutOfRangeIsInvalid(t *testing.T) {
	var l Log
	l.Push(Entry{Success: true})
	out := l.EntryBytes(5)
	if out[0] != 0 {
		t.Fatalf("out-of-range EntryBytes flags = %#x, want 0", out[0])
	}
}

func TestIndexZeroIsNewest(t *testing.T) {
	var l Log
	l.Push(Entry{UptimeMS: 1})
	l.Push(Entry{UptimeMS: 2})
	l.Push(Entry{UptimeMS: 3})
	e, _ := l.At(0)
	if e.UptimeMS != 3 {
		t.Fatalf("At(0).UptimeMS = %d, want 3", e.UptimeMS)
	}
}
