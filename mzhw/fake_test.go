package mzhw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPwrEnConfigBitLayout(t *testing.T) {
	cfg := NewPwrEnConfig(1500, true, true)
	assert.Equal(t, uint16(1500), cfg.DelayMS())
	assert.True(t, cfg.ActiveHigh())
	assert.True(t, cfg.DriveEnabled())
	assert.True(t, cfg.Controlled())

	assert.False(t, PwrEnConfig(0).Controlled())
}

func TestFakeRegistersPowerSequencing(t *testing.T) {
	regs := NewFakeRegisters()
	cfg := ZoneConfig{FaultHoldoffMS: 50}
	cfg.PwrEnCfg[0] = NewPwrEnConfig(100, true, true)
	regs.SetZoneConfig(3, cfg)

	assert.Equal(t, PowerOff, regs.ZoneStatus(3))

	regs.StartPowerOnSequence(3)
	assert.Equal(t, PowerTransOn, regs.ZoneStatus(3))
	assert.NotZero(t, regs.PowerEnableStatus()&1)

	regs.CompleteTransition(3)
	assert.Equal(t, PowerOn, regs.ZoneStatus(3))

	regs.StartPowerOffSequence(3)
	assert.Equal(t, PowerTransOff, regs.ZoneStatus(3))
	assert.Zero(t, regs.PowerEnableStatus()&1)
}

func TestFakeRegistersIRQAckClearsOnlyMaskedBits(t *testing.T) {
	regs := NewFakeRegisters()
	regs.SetIRQEnables(0x03)
	regs.RaiseIRQ(0x03)
	assert.Equal(t, uint32(0x03), regs.IRQStatus())

	regs.AckIRQ(0x01)
	assert.Equal(t, uint32(0x02), regs.IRQStatus())
}
