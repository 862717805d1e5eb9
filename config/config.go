// Package config loads the core's cold-boot configuration: IPMB
// addressing, management-zone tables, watchdog slot lifetimes, sensor
// SDR seed data, and PICMG FRU/site info, grounded on the teacher's
// services/config publish-parsed-config-at-boot idiom but backed by a
// single YAML file read once at boot rather than a bus-published
// per-key config stream, since this core has no message bus.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PwrEnSeed is one power-enable pin's configuration within a zone.
type PwrEnSeed struct {
	DelayMS      uint16 `yaml:"delay_ms"`
	ActiveHigh   bool   `yaml:"active_high"`
	DriveEnabled bool   `yaml:"drive_enabled"`
}

// ZoneSeed configures one management zone.
type ZoneSeed struct {
	Zone           uint32      `yaml:"zone"`
	HardfaultMask  uint64      `yaml:"hardfault_mask"`
	FaultHoldoffMS uint32      `yaml:"fault_holdoff_ms"`
	PowerEnables   []PwrEnSeed `yaml:"power_enables"`
}

// ZoneStepSeed is one step of a FRU's power-on or power-off sequence.
type ZoneStepSeed struct {
	Zone       uint32 `yaml:"zone"`
	DelayTicks uint64 `yaml:"delay_ticks"`
}

// FRUSeed configures one managed FRU's PowerProperties and power
// sequencing.
type FRUSeed struct {
	FRU                 uint8          `yaml:"fru"`
	PowerMultiplier     uint8          `yaml:"power_multiplier"`
	PowerLevels         []uint8        `yaml:"power_levels"`
	EarlyPowerLevels    []uint8        `yaml:"early_power_levels"`
	SpannedSlots        uint8          `yaml:"spanned_slots"`
	ControllerLocation  uint8          `yaml:"controller_location"`
	HotSwapSensorNumber uint8          `yaml:"hot_swap_sensor_number"`
	PowerOnSequence     []ZoneStepSeed `yaml:"power_on_sequence"`
	PowerOffSequence    []ZoneStepSeed `yaml:"power_off_sequence"`
}

// WatchdogSlotSeed configures one watchdog scheduler slot.
type WatchdogSlotSeed struct {
	Name          string `yaml:"name"`
	LifetimeTicks uint64 `yaml:"lifetime_ticks"`
}

// SensorSeed is one type 01h SDR to populate the repository with at
// boot, optionally bound to a live ADC channel.
type SensorSeed struct {
	OwnerID          uint8  `yaml:"owner_id"`
	OwnerLUN         uint8  `yaml:"owner_lun"`
	SensorNumber     uint8  `yaml:"sensor_number"`
	EntityID         uint8  `yaml:"entity_id"`
	SensorType       uint8  `yaml:"sensor_type"`
	EventReadingType uint8  `yaml:"event_reading_type"`
	IDString         string `yaml:"id_string"`

	ADC *ADCSeed `yaml:"adc"`
}

// ADCSeed binds a sensor to a live ADC channel: Path is a Linux IIO
// sysfs raw-value attribute, RawMin/RawMax/UnitMin/UnitMax/Divisor
// configure the raw-to-engineering-unit mapping, and ManagementZone
// is the zone that must be powered for the reading to be in context
// (negative means always in context).
type ADCSeed struct {
	Path           string  `yaml:"path"`
	RawMin         uint16  `yaml:"raw_min"`
	RawMax         uint16  `yaml:"raw_max"`
	UnitMin        uint16  `yaml:"unit_min"`
	UnitMax        uint16  `yaml:"unit_max"`
	Divisor        float64 `yaml:"divisor"`
	ManagementZone int     `yaml:"management_zone"`
}

// RegisterWindow configures the memory-mapped power-sequencer register
// window; DevMemPath left empty means "use the in-memory fake",
// matching mzhw's fallback for non-Linux builds and tests.
type RegisterWindow struct {
	DevMemPath string `yaml:"dev_mem_path"`
	Base       int64  `yaml:"base"`
	Size       int    `yaml:"size"`
}

// Config is the fully-parsed cold-boot configuration.
type Config struct {
	LogLevel            string `yaml:"log_level"`
	LocalAddress        uint8  `yaml:"local_address"`
	ShelfManagerAddress uint8  `yaml:"shelf_manager_address"`
	BusADevice          string `yaml:"bus_a_device"`
	BusBDevice          string `yaml:"bus_b_device"`

	RegisterWindow RegisterWindow     `yaml:"register_window"`
	WatchdogSlots  []WatchdogSlotSeed `yaml:"watchdog_slots"`
	Zones          []ZoneSeed         `yaml:"zones"`
	FRUs           []FRUSeed          `yaml:"frus"`
	Sensors        []SensorSeed       `yaml:"sensors"`
}

// Default returns the configuration used when no file is supplied,
// carrying only the IPMB addressing every core needs to boot.
func Default() *Config {
	return &Config{
		LogLevel:            "info",
		LocalAddress:        0x20,
		ShelfManagerAddress: 0x82,
	}
}

// Load reads and parses the YAML configuration at path, starting from
// Default() so a partial file only overrides what it specifies.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
