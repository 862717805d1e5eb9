package ipmb

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// I2CBus implements PhysicalBus atop a periph.io I2C master, grounded
// on seedhammer's direct periph.io/x/conn wrapping idiom. Send writes
// a frame as-is in one transaction; each poll reads a fixed
// mailboxSize window whose first byte gives the length of the frame
// that follows. The core's own address is
// carried in the frame body per IPMB-0 rather than as a distinct I2C
// slave address, so the same Dev serves both directions.
type I2CBus struct {
	dev *i2c.Dev

	mu     sync.Mutex
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

const mailboxSize = 40

// OpenI2CBus initializes the periph.io host drivers (once per
// process) and opens busName (e.g. "/dev/i2c-1" or a periph alias),
// addressing the shelf's IPMB slave at addr.
func OpenI2CBus(busName string, addr uint16) (*I2CBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("ipmb: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("ipmb: opening i2c bus %s: %w", busName, err)
	}
	b := &I2CBus{
		dev:    &i2c.Dev{Bus: bus, Addr: addr},
		frames: make(chan []byte, 8),
		closed: make(chan struct{}),
	}
	go b.pollLoop()
	return b, nil
}

// Send writes frame as a single I2C master transaction.
func (b *I2CBus) Send(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dev.Tx(frame, nil)
}

// Receive returns the channel carrying frames read off the bus.
func (b *I2CBus) Receive() <-chan []byte {
	return b.frames
}

// Close stops the poll loop. Safe to call more than once.
func (b *I2CBus) Close() {
	b.once.Do(func() { close(b.closed) })
}

// pollLoop repeatedly reads a fixed-size mailbox window and forwards
// any non-zero-length frame it contains, standing in for the
// interrupt-driven slave reception a dedicated IPMB controller would
// offer.
func (b *I2CBus) pollLoop() {
	buf := make([]byte, mailboxSize)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-b.closed:
			return
		case <-ticker.C:
			b.mu.Lock()
			err := b.dev.Tx(nil, buf)
			b.mu.Unlock()
			if err != nil {
				continue
			}
			n := int(buf[0])
			if n == 0 || n > len(buf)-1 {
				continue
			}
			frame := make([]byte, n)
			copy(frame, buf[1:1+n])
			select {
			case b.frames <- frame:
			default:
			}
		}
	}
}
