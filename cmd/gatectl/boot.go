package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cleverfox/gatekeeper/internal/ash"
	"github.com/cleverfox/gatekeeper/internal/audit"
	"github.com/cleverfox/gatekeeper/internal/config"
	"github.com/cleverfox/gatekeeper/internal/flashmap"
	"github.com/cleverfox/gatekeeper/internal/gate"
	"github.com/cleverfox/gatekeeper/internal/gpio"
	"github.com/cleverfox/gatekeeper/internal/keystore"
)

// Flash region sizes (§6 of the device's external-interfaces layout).
const (
	csRegionSize = 8 * 1024
	ksRegionSize = 64 * 1024
)

// Platform is implemented once per target (see platform_rpi.go and
// platform_sim.go) and supplies everything Boot needs that varies by
// hardware: the flash devices, the door/lamp actuator, the debounced
// input wiring, and whether the programming-mode jumper is asserted.
type Platform interface {
	KSDevice() flashmap.Device
	CSDevice() flashmap.Device
	Output() gate.Output
	// StartInputs arms the trigger and obstacle readers, forwarding
	// debounced events to events, and returns without blocking.
	// polarity is bits 8..15 of config slot SlotIOPolarity, the input
	// inversion byte (the low byte inverts outputs, see gpio.Relays):
	// bit 4 of it inverts the trigger input, bit 5 the obstacle input.
	StartInputs(events chan<- gpio.Event, polarity byte) error
	ProgrammingMode() bool
	Rebooter() config.Rebooter
	Close() error
}

// Controller is the booted, wired-up device: every component from §2
// constructed and ready to run.
type Controller struct {
	KS              *keystore.Store
	CS              *config.Store
	FSM             *gate.FSM
	ASH             *ash.Handler
	ProgrammingMode bool

	start time.Time
}

// Boot opens both flash regions, loads KS and CS, and constructs the
// gate FSM and attribute service handler, following the same
// leaves-first order as the component list in §2.
func Boot(p Platform) (*Controller, error) {
	ksFm, err := flashmap.Open(p.KSDevice(), 0, ksRegionSize)
	if err != nil {
		return nil, fmt.Errorf("boot: key store: %w", err)
	}
	csFm, err := flashmap.Open(p.CSDevice(), 0, csRegionSize)
	if err != nil {
		return nil, fmt.Errorf("boot: config store: %w", err)
	}

	cs := config.Open(csFm, p.Rebooter())
	ks := keystore.Load(ksFm)

	c := &Controller{
		KS:              ks,
		CS:              cs,
		ProgrammingMode: p.ProgrammingMode(),
		start:           time.Now(),
	}
	c.FSM = gate.New(gateConfig(cs), p.Output())
	c.ASH = &ash.Handler{
		KS:              ks,
		CS:              cs,
		Log:             &audit.Log{},
		Commands:        c.FSM.Commands(),
		ProgrammingMode: c.ProgrammingMode,
		Now:             c.uptimeMS,
	}
	return c, nil
}

func (c *Controller) uptimeMS() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// gateConfig reads the timing slots out of CS, falling back to the
// defaults in internal/config when a slot has never been written.
func gateConfig(cs *config.Store) gate.Config {
	ms := func(slot uint8, def uint32) time.Duration {
		return time.Duration(cs.GetU32(slot, def)) * time.Millisecond
	}
	autoClose := cs.GetU32(config.SlotAutoClose, config.DefaultAutoClose)
	return gate.Config{
		LampPreStart:   ms(config.SlotLampPreStart, config.DefaultLampPreStart),
		AutoCloseDelay: time.Duration(autoClose) * time.Millisecond,
		Left: gate.DoorConfig{
			OpenDelay:     ms(config.SlotLeftOpenDelay, config.DefaultLeftOpenDelay),
			OpenDuration:  ms(config.SlotLeftOpenDuration, config.DefaultLeftOpenDuration),
			CloseDelay:    ms(config.SlotLeftCloseDelay, config.DefaultLeftCloseDelay),
			CloseDuration: ms(config.SlotLeftCloseDuration, config.DefaultLeftCloseDuration),
		},
		Right: gate.DoorConfig{
			OpenDelay:     ms(config.SlotRightOpenDelay, config.DefaultRightOpenDelay),
			OpenDuration:  ms(config.SlotRightOpenDuration, config.DefaultRightOpenDuration),
			CloseDelay:    ms(config.SlotRightCloseDelay, config.DefaultRightCloseDelay),
			CloseDuration: ms(config.SlotRightCloseDuration, config.DefaultRightCloseDuration),
		},
	}
}

// StartInputs arms the platform's debounced input readers and
// forwards their events into the FSM's input queue.
func (c *Controller) StartInputs(p Platform) error {
	polarity := byte(c.CS.GetU32(config.SlotIOPolarity, config.DefaultIOPolarity) >> 8)
	ch := make(chan gpio.Event, 4)
	if err := p.StartInputs(ch, polarity); err != nil {
		return fmt.Errorf("inputs: %w", err)
	}
	go func() {
		for ev := range ch {
			c.FSM.Input() <- ev
		}
	}()
	return nil
}

// ServeConnections accepts and services ASH connections until ctx is
// cancelled. No concrete wireless transport is implemented here (see
// Non-goals); a real deployment plugs a BLE peripheral stack in here,
// calling c.ASH's per-characteristic handlers for each attribute event
// it receives.
func (c *Controller) ServeConnections(ctx context.Context) {
	<-ctx.Done()
}
