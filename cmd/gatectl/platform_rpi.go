//go:build linux && arm

package main

import (
	"fmt"

	"github.com/cleverfox/gatekeeper/internal/config"
	"github.com/cleverfox/gatekeeper/internal/flashmap"
	"github.com/cleverfox/gatekeeper/internal/gate"
	"github.com/cleverfox/gatekeeper/internal/gpio"

	"golang.org/x/sys/unix"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"
)

// Flash region files. Real hardware would back these with an on-chip
// NOR/NAND flash driver; this board carries no such driver in its
// dependency set, so the regions live on the same SD card the rest of
// the system boots from (see internal/flashmap.FileDevice).
const (
	csFlashPath = "/var/lib/gatectl/cs.bin"
	ksFlashPath = "/var/lib/gatectl/ks.bin"
)

// Programming-mode jumper and I/O pin assignment.
var (
	pinTrigger      = bcm283x.GPIO6
	pinObstacle     = bcm283x.GPIO19
	pinLeftOpen     = bcm283x.GPIO5
	pinLeftClose    = bcm283x.GPIO26
	pinRightOpen    = bcm283x.GPIO13
	pinRightClose   = bcm283x.GPIO21
	pinLamp         = bcm283x.GPIO20
	pinProgramJumper = bcm283x.GPIO16
)

type rpiPlatform struct {
	ksDev, csDev *flashmap.FileDevice
	relays       *gpio.Relays
	programming  bool
}

// Init brings up the periph.io host drivers and opens the two flash
// region files.
func Init() (Platform, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}

	ksDev, err := flashmap.OpenFileDevice(ksFlashPath, ksRegionSize, 4096)
	if err != nil {
		return nil, err
	}
	csDev, err := flashmap.OpenFileDevice(csFlashPath, csRegionSize, 4096)
	if err != nil {
		ksDev.Close()
		return nil, err
	}

	if err := pinProgramJumper.In(pgpio.PullUp, pgpio.NoEdge); err != nil {
		return nil, fmt.Errorf("platform: programming jumper: %w", err)
	}
	programming := pinProgramJumper.Read() == pgpio.Low

	relays := &gpio.Relays{
		OpenPin:  [2]pgpio.PinOut{pinLeftOpen, pinRightOpen},
		ClosePin: [2]pgpio.PinOut{pinLeftClose, pinRightClose},
		LampPin:  pinLamp,
	}

	return &rpiPlatform{ksDev: ksDev, csDev: csDev, relays: relays, programming: programming}, nil
}

func (p *rpiPlatform) KSDevice() flashmap.Device { return p.ksDev }
func (p *rpiPlatform) CSDevice() flashmap.Device { return p.csDev }
func (p *rpiPlatform) Output() gate.Output       { return p.relays }
func (p *rpiPlatform) ProgrammingMode() bool     { return p.programming }
func (p *rpiPlatform) Rebooter() config.Rebooter { return osRebooter{} }

func (p *rpiPlatform) StartInputs(events chan<- gpio.Event, polarity byte) error {
	if err := gpio.Trigger(pinTrigger, polarity&0x10 != 0, events); err != nil {
		return fmt.Errorf("trigger input: %w", err)
	}
	if err := gpio.Obstacle(pinObstacle, polarity&0x20 != 0, events); err != nil {
		return fmt.Errorf("obstacle input: %w", err)
	}
	return nil
}

func (p *rpiPlatform) Close() error {
	p.csDev.Close()
	return p.ksDev.Close()
}

// osRebooter issues a real software reset through the kernel. Reboot
// only returns if the syscall itself failed; a successful call never
// returns because the kernel restarts the machine.
type osRebooter struct{}

func (osRebooter) Reboot() {
	unix.Sync()
	unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}
