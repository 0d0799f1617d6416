// Package gate implements the four-state gate controller: Closed,
// Opening, Open, Closing. It drives two doors in parallel through an
// Output contract and reacts to commands and debounced input events,
// with obstacle-driven reversal during Closing and optional autoclose
// from Open.
package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cleverfox/gatekeeper/internal/gpio"
)

// State is one of the four gate states.
type State int32

const (
	Closed State = iota
	Opening
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Command is a request delivered over the FSM's command queue.
type Command int

const (
	CmdOpen Command = iota
	CmdClose
	CmdStopAutoClose
)

// Output is the actuator contract the FSM drives. Implementations
// must never observe SetDoorOpen(d,true) and SetDoorClose(d,true) for
// the same door simultaneously; the FSM itself guarantees it never
// issues that pair.
type Output interface {
	SetDoorOpen(d gpio.Door, on bool) error
	SetDoorClose(d gpio.Door, on bool) error
	SetLamp(mode gpio.Lamp) error
}

// DoorConfig holds one door's timing parameters (§3 config slots).
type DoorConfig struct {
	OpenDelay     time.Duration
	OpenDuration  time.Duration
	CloseDelay    time.Duration
	CloseDuration time.Duration
}

// Config holds the FSM's timing parameters.
type Config struct {
	LampPreStart time.Duration
	// AutoCloseDelay of 0 disables autoclose.
	AutoCloseDelay time.Duration
	Left, Right    DoorConfig
}

// pulseWindow is the rolling window for the 3-pulses-to-close rule
// when autoclose is disabled (§4.4).
const pulseWindow = 10 * time.Second

// reversalSettle is the pause between deasserting close relays and
// transitioning to Opening after an obstacle reversal (§4.4).
const reversalSettle = 100 * time.Millisecond

// cmdQueueDepth is the bounded command queue depth (§4.4, depth >= 4).
const cmdQueueDepth = 4

// FSM is the gate controller. Construct with New and call its Run in
// a dedicated goroutine for the lifetime of the device.
type FSM struct {
	cfg   Config
	out   Output
	cmds  chan Command
	input chan gpio.Event
	state atomic.Int32
}

// New creates an FSM in the Closed state. Callers send commands via
// Commands() and input events via Input().
func New(cfg Config, out Output) *FSM {
	f := &FSM{
		cfg:   cfg,
		out:   out,
		cmds:  make(chan Command, cmdQueueDepth),
		input: make(chan gpio.Event, cmdQueueDepth),
	}
	f.state.Store(int32(Closed))
	return f
}

// Commands returns the send side of the FSM command queue.
func (f *FSM) Commands() chan<- Command { return f.cmds }

// Input returns the send side of the debounced input-event queue.
func (f *FSM) Input() chan<- gpio.Event { return f.input }

// State returns the current gate state. Safe to call from any task.
func (f *FSM) State() State { return State(f.state.Load()) }

func (f *FSM) setState(s State) { f.state.Store(int32(s)) }

// Run executes the FSM loop until ctx is cancelled. It is intended to
// run for the lifetime of the device.
func (f *FSM) Run(ctx context.Context) {
	f.out.SetDoorOpen(gpio.Left, false)
	f.out.SetDoorOpen(gpio.Right, false)
	f.out.SetDoorClose(gpio.Left, false)
	f.out.SetDoorClose(gpio.Right, false)
	f.out.SetLamp(gpio.LampOff)

	for {
		if ctx.Err() != nil {
			return
		}
		var next State
		switch f.State() {
		case Closed:
			next = f.runClosed(ctx)
		case Opening:
			next = f.runOpening(ctx)
		case Open:
			next = f.runOpen(ctx)
		case Closing:
			next = f.runClosing(ctx)
		default:
			next = Closed
		}
		f.setState(next)
	}
}

func (f *FSM) runClosed(ctx context.Context) State {
	for {
		select {
		case <-ctx.Done():
			return Closed
		case cmd := <-f.cmds:
			if cmd == CmdOpen {
				return Opening
			}
			// Close / StopAutoClose are no-ops while already closed.
		case ev := <-f.input:
			if ev == gpio.ControlPulse {
				return Opening
			}
			// obstacle events are irrelevant while closed.
		}
	}
}

func (f *FSM) runOpening(ctx context.Context) State {
	f.out.SetLamp(gpio.LampBlinking)
	sleepOrDone(ctx, f.cfg.LampPreStart)

	// Commands and input events are ignored while opening, but must
	// still be drained so the bounded queues never block a sender.
	drainDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-f.cmds:
			case <-f.input:
			case <-drainDone:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go f.openDoor(ctx, gpio.Left, f.cfg.Left, &wg)
	go f.openDoor(ctx, gpio.Right, f.cfg.Right, &wg)
	wg.Wait()
	close(drainDone)

	f.out.SetLamp(gpio.LampOff)
	return Open
}

func (f *FSM) openDoor(ctx context.Context, d gpio.Door, cfg DoorConfig, wg *sync.WaitGroup) {
	defer wg.Done()
	sleepOrDone(ctx, cfg.OpenDelay)
	f.out.SetDoorOpen(d, true)
	sleepOrDone(ctx, cfg.OpenDuration)
	f.out.SetDoorOpen(d, false)
}

func (f *FSM) runOpen(ctx context.Context) State {
	autocloseEnabled := f.cfg.AutoCloseDelay > 0
	var pulseCount int
	var lastPulse time.Time

	for {
		if autocloseEnabled {
			timer := time.NewTimer(f.cfg.AutoCloseDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Open
			case <-timer.C:
				return Closing
			case cmd := <-f.cmds:
				timer.Stop()
				switch cmd {
				case CmdOpen:
					// Reset the timer by looping.
				case CmdClose:
					return Closing
				case CmdStopAutoClose:
					autocloseEnabled = false
				}
			case <-f.input:
				timer.Stop()
				// Any input event resets the autoclose timer.
			}
			continue
		}

		select {
		case <-ctx.Done():
			return Open
		case cmd := <-f.cmds:
			switch cmd {
			case CmdClose:
				return Closing
			case CmdOpen, CmdStopAutoClose:
				// Already open / already disabled.
			}
		case ev := <-f.input:
			if ev != gpio.ControlPulse {
				continue // obstacle events ignored while open
			}
			now := time.Now()
			if !lastPulse.IsZero() && now.Sub(lastPulse) < pulseWindow {
				pulseCount++
			} else {
				pulseCount = 1
			}
			lastPulse = now
			if pulseCount >= 3 {
				return Closing
			}
		}
	}
}

func (f *FSM) runClosing(ctx context.Context) State {
	f.out.SetLamp(gpio.LampBlinking)
	sleepOrDone(ctx, f.cfg.LampPreStart)

	abort := make(chan struct{})
	var abortOnce sync.Once
	triggerAbort := func() { abortOnce.Do(func() { close(abort) }) }

	doorsDone := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go f.closeDoor(gpio.Left, f.cfg.Left, abort, &wg)
		go f.closeDoor(gpio.Right, f.cfg.Right, abort, &wg)
		wg.Wait()
		close(doorsDone)
	}()

	reversal := make(chan struct{}, 1)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		for {
			select {
			case <-doorsDone:
				return
			case ev := <-f.input:
				if ev == gpio.ObstacleDetected {
					select {
					case reversal <- struct{}{}:
					default:
					}
					return
				}
				// ObstacleCleared / ControlPulse ignored.
			case cmd := <-f.cmds:
				if cmd == CmdOpen {
					select {
					case reversal <- struct{}{}:
					default:
					}
					return
				}
				// Close / StopAutoClose ignored mid-close.
			}
		}
	}()

	select {
	case <-ctx.Done():
		triggerAbort()
		<-doorsDone
		return Closing
	case <-doorsDone:
		<-monitorDone
		f.out.SetLamp(gpio.LampOff)
		return Closed
	case <-reversal:
		triggerAbort()
		f.out.SetDoorClose(gpio.Left, false)
		f.out.SetDoorClose(gpio.Right, false)
		<-doorsDone
		sleepOrDone(ctx, reversalSettle)
		return Opening
	}
}

func (f *FSM) closeDoor(d gpio.Door, cfg DoorConfig, abort <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	select {
	case <-time.After(cfg.CloseDelay):
	case <-abort:
		return
	}
	f.out.SetDoorClose(d, true)
	select {
	case <-time.After(cfg.CloseDuration):
	case <-abort:
	}
	f.out.SetDoorClose(d, false)
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
