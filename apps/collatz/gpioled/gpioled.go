// Package gpioled drives an optional status LED on a GPIO line,
// toggled once per heartbeat by the Collatz compute loop -- the Go
// equivalent of the firmware's conditional LED_PIN heartbeat blink.
// Nodes without a GPIO chip simply don't construct one; collatz.App
// treats a nil LED as a no-op.
package gpioled

import (
	log "github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
)

// LED drives a single GPIO output line, flipping level each call to
// Toggle.
type LED struct {
	line  *gpiocdev.Line
	level int
}

// Open requests offset on chip (e.g. "gpiochip0") as an output line,
// initially low.
func Open(chip string, offset int) (*LED, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &LED{line: line}, nil
}

// Toggle flips the line level.
func (l *LED) Toggle() {
	l.level ^= 1
	if err := l.line.SetValue(l.level); err != nil {
		log.Debugf("gpioled: set value failed: %v", err)
	}
}

// Close releases the underlying GPIO line.
func (l *LED) Close() error {
	return l.line.Close()
}
