// Package gpio implements the debounced trigger/obstacle input reader
// and the door-relay/lamp output driver that the gate FSM consumes as
// plain Go interfaces (package gate). The debounce loop is adapted
// from the joystick reader used elsewhere in this codebase, generalized
// from button events to gate input events.
package gpio

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Event is a debounced gate input, matching the Gate FSM's
// input-event queue (§4.4).
type Event int

const (
	ControlPulse Event = iota
	ObstacleDetected
	ObstacleCleared
)

const debounceTimeout = 20 * time.Millisecond

// Trigger watches the control-pulse input line, emitting ControlPulse
// on each debounced falling edge.
func Trigger(pin gpio.PinIn, polarityInverted bool, ch chan<- Event) error {
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return err
	}
	active := gpio.Low
	if polarityInverted {
		active = gpio.High
	}
	go func() {
		pressed := false
		newPressed := false
		for {
			timeout := debounceTimeout
			if newPressed == pressed {
				timeout = -1
			}
			if pin.WaitForEdge(timeout) {
				newPressed = pin.Read() == active
			} else if newPressed != pressed {
				pressed = newPressed
				if pressed {
					ch <- ControlPulse
				}
			}
		}
	}()
	return nil
}

// Obstacle watches the obstacle sensor line, emitting
// ObstacleDetected/ObstacleCleared on each debounced edge.
func Obstacle(pin gpio.PinIn, polarityInverted bool, ch chan<- Event) error {
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return err
	}
	active := gpio.Low
	if polarityInverted {
		active = gpio.High
	}
	go func() {
		detected := false
		newDetected := false
		for {
			timeout := debounceTimeout
			if newDetected == detected {
				timeout = -1
			}
			if pin.WaitForEdge(timeout) {
				newDetected = pin.Read() == active
			} else if newDetected != detected {
				detected = newDetected
				if detected {
					ch <- ObstacleDetected
				} else {
					ch <- ObstacleCleared
				}
			}
		}
	}()
	return nil
}

// Door identifies one of the two physically independent leaves.
type Door int

const (
	Left Door = iota
	Right
)

// Lamp is the commanded signalling-lamp state.
type Lamp int

const (
	LampOff Lamp = iota
	LampBlinking
)

// Relays drives the four door-motor relays and the signalling lamp.
// Polarity bits from config slot 1 (§3) are applied per output so the
// FSM never has to know about wiring inversion.
type Relays struct {
	OpenPin  [2]gpio.PinOut
	ClosePin [2]gpio.PinOut
	LampPin  gpio.PinOut

	// OutputPolarity is the low 8 bits of config slot 1: bit i
	// inverts the sense of OpenPin/ClosePin/LampPin index i (lamp
	// uses the bit immediately above the four relay bits).
	OutputPolarity uint8

	blinkStop chan struct{}
}

func (r *Relays) level(pinIndex int, on bool) gpio.Level {
	inverted := r.OutputPolarity&(1<<uint(pinIndex)) != 0
	if inverted {
		on = !on
	}
	if on {
		return gpio.High
	}
	return gpio.Low
}

// SetDoorOpen asserts or clears the open relay for door d.
func (r *Relays) SetDoorOpen(d Door, on bool) error {
	return r.OpenPin[d].Out(r.level(int(d), on))
}

// SetDoorClose asserts or clears the close relay for door d.
func (r *Relays) SetDoorClose(d Door, on bool) error {
	return r.ClosePin[d].Out(r.level(2+int(d), on))
}

// SetLamp drives the signalling lamp. Blinking is implemented as a
// background ticker so the caller's goroutine is never blocked
// toggling the lamp pin.
func (r *Relays) SetLamp(mode Lamp) error {
	if r.blinkStop != nil {
		close(r.blinkStop)
		r.blinkStop = nil
	}
	if mode == LampOff {
		return r.LampPin.Out(r.level(4, false))
	}
	stop := make(chan struct{})
	r.blinkStop = stop
	go func() {
		on := false
		t := time.NewTicker(400 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				on = !on
				r.LampPin.Out(r.level(4, on))
			}
		}
	}()
	return nil
}
