//go:build !(linux && arm)

package main

import (
	"log"
	"os"

	"github.com/cleverfox/gatekeeper/internal/config"
	"github.com/cleverfox/gatekeeper/internal/flashmap"
	"github.com/cleverfox/gatekeeper/internal/gate"
	"github.com/cleverfox/gatekeeper/internal/gpio"
)

// simPlatform backs the flash regions with RAM and logs actuator
// commands instead of driving relays, for development off the target
// board. Selected for any build that isn't linux/arm, since the real
// pin assignments in platform_rpi.go are BCM283x-specific.
type simPlatform struct {
	ksDev, csDev *flashmap.MemDevice
	out          *loggingOutput
}

func Init() (Platform, error) {
	log.Println("platform: simulated gate (no periph.io hardware backend)")
	return &simPlatform{
		ksDev: flashmap.NewMemDevice(ksRegionSize, 4096),
		csDev: flashmap.NewMemDevice(csRegionSize, 4096),
		out:   &loggingOutput{},
	}, nil
}

func (p *simPlatform) KSDevice() flashmap.Device { return p.ksDev }
func (p *simPlatform) CSDevice() flashmap.Device { return p.csDev }
func (p *simPlatform) Output() gate.Output       { return p.out }
func (p *simPlatform) ProgrammingMode() bool     { return os.Getenv("GATECTL_PROGRAMMING_MODE") != "" }
func (p *simPlatform) Rebooter() config.Rebooter { return logRebooter{} }
func (p *simPlatform) Close() error              { return nil }

// StartInputs has no physical trigger or obstacle line to read off the
// target board; it arms nothing and returns immediately.
func (p *simPlatform) StartInputs(events chan<- gpio.Event, polarity byte) error {
	log.Println("platform: simulated input reader armed (no physical GPIO)")
	return nil
}

type loggingOutput struct{}

func (loggingOutput) SetDoorOpen(d gpio.Door, on bool) error {
	log.Printf("platform: door %v open relay = %v", d, on)
	return nil
}

func (loggingOutput) SetDoorClose(d gpio.Door, on bool) error {
	log.Printf("platform: door %v close relay = %v", d, on)
	return nil
}

func (loggingOutput) SetLamp(mode gpio.Lamp) error {
	log.Printf("platform: lamp = %v", mode)
	return nil
}

type logRebooter struct{}

func (logRebooter) Reboot() { log.Println("platform: reboot requested (simulated, not performed)") }
