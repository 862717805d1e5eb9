package mz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ipmc-core/mzhw"
)

func TestConfigureRejectsOutOfRangeZone(t *testing.T) {
	c := NewController(mzhw.NewFakeRegisters(), nil)
	err := c.Configure(mzhw.ZoneCount, mzhw.ZoneConfig{})
	assert.Error(t, err)
}

func TestPowerOnOffDrivesRegisters(t *testing.T) {
	regs := mzhw.NewFakeRegisters()
	c := NewController(regs, nil)

	cfg := mzhw.ZoneConfig{FaultHoldoffMS: 10}
	cfg.PwrEnCfg[2] = mzhw.NewPwrEnConfig(5, true, true)
	assert.NoError(t, c.Configure(4, cfg))

	got, err := c.Config(4)
	assert.NoError(t, err)
	assert.Equal(t, cfg, got)

	assert.NoError(t, c.PowerOn(4))
	status, err := c.Status(4)
	assert.NoError(t, err)
	assert.Equal(t, mzhw.PowerTransOn, status)

	regs.CompleteTransition(4)
	status, _ = c.Status(4)
	assert.Equal(t, mzhw.PowerOn, status)

	assert.NoError(t, c.PowerOff(4))
	status, _ = c.Status(4)
	assert.Equal(t, mzhw.PowerTransOff, status)
}

func TestTickDispatchesSoftFaultOnceUntilCleared(t *testing.T) {
	regs := mzhw.NewFakeRegisters()
	c := NewController(regs, nil)

	cfg := mzhw.ZoneConfig{HardfaultMask: 0x01}
	cfg.PwrEnCfg[0] = mzhw.NewPwrEnConfig(1, true, true)
	assert.NoError(t, c.Configure(0, cfg))
	assert.NoError(t, c.PowerOn(0))
	regs.CompleteTransition(0)

	var faultedZone uint32
	var faultedBits uint64
	calls := 0
	c.SetFaultHandler(func(zone uint32, bits uint64) {
		calls++
		faultedZone = zone
		faultedBits = bits
	})

	regs.SetHardFault(0x01)
	c.Tick()
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint32(0), faultedZone)
	assert.Equal(t, uint64(0x01), faultedBits)

	status, _ := c.Status(0)
	assert.Equal(t, mzhw.PowerTransOff, status)

	// Fault dispatch already moved the zone off PowerOn, so a second
	// Tick with the fault still present must not re-dispatch.
	c.Tick()
	assert.Equal(t, 1, calls)
}

func TestTickIgnoresUnconfiguredAndUnpoweredZones(t *testing.T) {
	regs := mzhw.NewFakeRegisters()
	c := NewController(regs, nil)
	regs.SetHardFault(0xFFFFFFFFFFFFFFFF)

	calls := 0
	c.SetFaultHandler(func(zone uint32, bits uint64) { calls++ })
	c.Tick()
	assert.Zero(t, calls)

	cfg := mzhw.ZoneConfig{HardfaultMask: 0x02}
	assert.NoError(t, c.Configure(7, cfg))
	// Zone 7 is configured but never powered on: Tick must skip it.
	c.Tick()
	assert.Zero(t, calls)
}

func TestHardFaultStatusAndPowerEnableStatusPassThrough(t *testing.T) {
	regs := mzhw.NewFakeRegisters()
	regs.SetHardFault(0x42)
	c := NewController(regs, nil)
	assert.Equal(t, uint64(0x42), c.HardFaultStatus())

	cfg := mzhw.ZoneConfig{}
	cfg.PwrEnCfg[0] = mzhw.NewPwrEnConfig(1, true, true)
	assert.NoError(t, c.Configure(0, cfg))
	assert.NoError(t, c.PowerOn(0))
	assert.NotZero(t, c.PowerEnableStatus()&1)
}
