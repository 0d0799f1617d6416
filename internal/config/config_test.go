package config

import (
	"testing"

	"github.com/cleverfox/gatekeeper/internal/flashmap"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dev := flashmap.NewMemDevice(8*1024, 4096)
	fm, err := flashmap.Open(dev, 0, 8*1024)
	if err != nil {
		t.Fatal(err)
	}
	return Open(fm, nil)
}

func TestU32RoundTrip(t *testing.T) {
	s := newStore(t)
	if got := s.GetU32(SlotLampPreStart, DefaultLampPreStart); got != DefaultLampPreStart {
		t.Fatalf("GetU32 before set = %d, want default %d", got, DefaultLampPreStart)
	}
	if err := s.SetU32(SlotLampPreStart, 1234); err != nil {
		t.Fatal(err)
	}
	if got := s.GetU32(SlotLampPreStart, DefaultLampPreStart); got != 1234 {
		t.Fatalf("GetU32 after set = %d, want 1234", got)
	}
}

func TestNameRoundTripAndTruncation(t *testing.T) {
	s := newStore(t)
	if got := s.GetName(DefaultName); got != DefaultName {
		t.Fatalf("GetName before set = %q, want default %q", got, DefaultName)
	}
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	if err := s.SetName(string(long)); err != nil {
		t.Fatal(err)
	}
	got := s.GetName(DefaultName)
	if len(got) != NameLen-1 {
		t.Fatalf("GetName() length = %d, want %d", len(got), NameLen-1)
	}
}

func TestEmptyNameFallsBackToDefault(t *testing.T) {
	s := newStore(t)
	if err := s.SetName(""); err != nil {
		t.Fatal(err)
	}
	if got := s.GetName(DefaultName); got != DefaultName {
		t.Fatalf("GetName() after empty set = %q, want default %q", got, DefaultName)
	}
}

type fakeRebooter struct{ called bool }

func (f *fakeRebooter) Reboot() { f.called = true }

func TestSlotResetTriggersReboot(t *testing.T) {
	dev := flashmap.NewMemDevice(8*1024, 4096)
	fm, err := flashmap.Open(dev, 0, 8*1024)
	if err != nil {
		t.Fatal(err)
	}
	reb := &fakeRebooter{}
	s := Open(fm, reb)
	if err := s.SetU32(SlotReset, 1); err != nil {
		t.Fatal(err)
	}
	if !reb.called {
		t.Fatal("SetU32(SlotReset, ...) did not call Reboot")
	}
	if got := s.GetU32(SlotReset, 0); got != 1 {
		t.Fatalf("reset slot value not persisted: got %d", got)
	}
}
