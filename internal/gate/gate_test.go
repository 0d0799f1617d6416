package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cleverfox/gatekeeper/internal/gpio"
)

type call struct {
	name string
	door gpio.Door
	on   bool
	lamp gpio.Lamp
}

type recordingOutput struct {
	mu    sync.Mutex
	calls []call
}

func (r *recordingOutput) SetDoorOpen(d gpio.Door, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: "open", door: d, on: on})
	return nil
}

func (r *recordingOutput) SetDoorClose(d gpio.Door, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: "close", door: d, on: on})
	return nil
}

func (r *recordingOutput) SetLamp(mode gpio.Lamp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: "lamp", lamp: mode})
	return nil
}

func (r *recordingOutput) count(name string, on bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.name == name && c.on == on {
			n++
		}
	}
	return n
}

func testConfig() Config {
	door := DoorConfig{
		OpenDelay:     2 * time.Millisecond,
		OpenDuration:  5 * time.Millisecond,
		CloseDelay:    2 * time.Millisecond,
		CloseDuration: 5 * time.Millisecond,
	}
	return Config{
		LampPreStart:   2 * time.Millisecond,
		AutoCloseDelay: 0,
		Left:           door,
		Right:          door,
	}
}

func TestClosedWaitsForOpenCommand(t *testing.T) {
	out := &recordingOutput{}
	f := New(testConfig(), out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Commands() <- CmdOpen
	deadline := time.After(500 * time.Millisecond)
	for f.State() != Open {
		select {
		case <-deadline:
			t.Fatalf("gate did not reach Open, stuck in %v", f.State())
		case <-time.After(time.Millisecond):
		}
	}
	if out.count("open", true) != 2 || out.count("open", false) != 2 {
		t.Fatalf("expected both doors to open and close their open relay once")
	}
}

func TestControlPulseOpensFromClosed(t *testing.T) {
	out := &recordingOutput{}
	f := New(testConfig(), out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Input() <- gpio.ControlPulse
	deadline := time.After(500 * time.Millisecond)
	for f.State() != Open {
		select {
		case <-deadline:
			t.Fatalf("gate did not reach Open after control pulse, stuck in %v", f.State())
		case <-time.After(time.Millisecond):
		}
	}
}

func waitForState(t *testing.T, f *FSM, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for f.State() != want {
		select {
		case <-deadline:
			t.Fatalf("gate did not reach %v, stuck in %v", want, f.State())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestAutocloseTransitionsToClosing(t *testing.T) {
	out := &recordingOutput{}
	cfg := testConfig()
	cfg.AutoCloseDelay = 20 * time.Millisecond
	f := New(cfg, out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Commands() <- CmdOpen
	waitForState(t, f, Open, 500*time.Millisecond)
	waitForState(t, f, Closing, 500*time.Millisecond)
	waitForState(t, f, Closed, 500*time.Millisecond)
}

func TestStopAutoCloseRequiresExplicitClose(t *testing.T) {
	out := &recordingOutput{}
	cfg := testConfig()
	cfg.AutoCloseDelay = 20 * time.Millisecond
	f := New(cfg, out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Commands() <- CmdOpen
	waitForState(t, f, Open, 500*time.Millisecond)
	f.Commands() <- CmdStopAutoClose

	select {
	case <-time.After(80 * time.Millisecond):
	}
	if f.State() != Open {
		t.Fatalf("gate state = %v, want Open (autoclose should be disabled)", f.State())
	}
	f.Commands() <- CmdClose
	waitForState(t, f, Closing, 500*time.Millisecond)
}

func TestThreePulsesCloseWhenAutocloseDisabled(t *testing.T) {
	out := &recordingOutput{}
	cfg := testConfig()
	cfg.AutoCloseDelay = 0
	f := New(cfg, out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Commands() <- CmdOpen
	waitForState(t, f, Open, 500*time.Millisecond)

	f.Input() <- gpio.ControlPulse
	f.Input() <- gpio.ControlPulse
	if f.State() != Open {
		t.Fatal("two pulses should not close the gate")
	}
	f.Input() <- gpio.ControlPulse
	waitForState(t, f, Closing, 500*time.Millisecond)
}

func TestObstacleReversesDuringClosing(t *testing.T) {
	out := &recordingOutput{}
	cfg := testConfig()
	cfg.Left.CloseDuration = 200 * time.Millisecond
	cfg.Right.CloseDuration = 200 * time.Millisecond
	f := New(cfg, out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Commands() <- CmdOpen
	waitForState(t, f, Open, 500*time.Millisecond)
	f.Commands() <- CmdClose
	waitForState(t, f, Closing, 500*time.Millisecond)

	// Let both doors start asserting their close relay.
	time.Sleep(20 * time.Millisecond)
	f.Input() <- gpio.ObstacleDetected

	waitForState(t, f, Opening, 500*time.Millisecond)
	if out.count("close", true) == 0 {
		t.Fatal("expected close relays to have been asserted before reversal")
	}
	waitForState(t, f, Open, 500*time.Millisecond)
}
