// Package adc provides a payload.ADCReader implementation over a raw
// sample source, converting counts to an engineering-unit value with
// a linear mapping, grounded on the teacher's x/mathx raw-to-unit
// conversion helpers.
package adc

import (
	"fmt"

	"ipmc-core/x/mathx"
)

// RawSource returns one raw sample from a hardware channel, e.g. a
// periph.io analog.PinADC or an I2C ADC device register read.
type RawSource func() (uint16, error)

// Channel maps a fixed raw sample range onto an engineering-unit
// range (millivolts, deci-degrees, whatever the bound sensor expects)
// and satisfies payload.ADCReader.
type Channel struct {
	Source RawSource

	RawMin, RawMax uint16
	UnitMin, UnitMax uint16

	// Divisor converts the mapped Q0 unit value down to the sensor's
	// engineering scale, e.g. 10 to turn deci-volts into volts.
	Divisor float64
}

// NewChannel builds a Channel, defaulting Divisor to 1 when zero.
func NewChannel(source RawSource, rawMin, rawMax, unitMin, unitMax uint16, divisor float64) *Channel {
	if divisor == 0 {
		divisor = 1
	}
	return &Channel{Source: source, RawMin: rawMin, RawMax: rawMax, UnitMin: unitMin, UnitMax: unitMax, Divisor: divisor}
}

// Read samples the source and maps it into engineering units.
func (c *Channel) Read() (float64, error) {
	raw, err := c.Source()
	if err != nil {
		return 0, fmt.Errorf("adc: reading channel: %w", err)
	}
	mapped := mathx.MapU16(raw, c.RawMin, c.RawMax, c.UnitMin, c.UnitMax)
	return float64(mapped) / c.Divisor, nil
}
