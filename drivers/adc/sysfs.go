package adc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SysfsSource returns a RawSource reading a Linux IIO ADC sysfs
// attribute (e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw),
// which exposes one raw sample per read as a decimal text line —
// the same "open a fixed device node, parse fixed-format bytes"
// idiom this core's own register and I2C bus access already follow.
func SysfsSource(path string) RawSource {
	return func() (uint16, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("adc: reading %s: %w", path, err)
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 16)
		if err != nil {
			return 0, fmt.Errorf("adc: parsing %s: %w", path, err)
		}
		return uint16(v), nil
	}
}
