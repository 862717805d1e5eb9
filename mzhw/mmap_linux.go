//go:build linux

package mzhw

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Register byte offsets within the sequencer's memory-mapped window,
// laid out to mirror Mgmt_Zone_Ctrl's AXI-Lite register map: a global
// hard-fault/IRQ block followed by one fixed-stride record per zone.
const (
	offHardFaultStatusLo = 0x00
	offHardFaultStatusHi = 0x04
	offPwrEnStatus       = 0x08
	offIRQEnables        = 0x0C
	offIRQStatus         = 0x10
	zoneBlockBase        = 0x100
	zoneBlockStride      = 0x200
	zoneOffHardfaultLo   = 0x00
	zoneOffHardfaultHi   = 0x04
	zoneOffFaultHoldoff  = 0x08
	zoneOffStatus        = 0x0C
	zoneOffPwrEnCfgBase  = 0x10 // PwrEnCount * 4 bytes follow
	zoneOffCommand       = 0x10 + PwrEnCount*4
)

// Sequencer power-on/off command register values.
const (
	cmdPowerOn     = 1
	cmdPowerOff    = 2
	cmdSoftFault   = 3
)

// MMapRegisters backs SequencerRegisters with a real memory-mapped
// register window opened over /dev/mem (or a test device file),
// matching the teacher's x/sys-based direct hardware access idiom.
type MMapRegisters struct {
	mem []byte
}

// OpenMMapRegisters maps size bytes of physical memory at base,
// matching Mgmt_Zone_Ctrl_Initialize's base-address binding.
func OpenMMapRegisters(devMemPath string, base int64, size int) (*MMapRegisters, error) {
	f, err := os.OpenFile(devMemPath, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mzhw: opening %s: %w", devMemPath, err)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mzhw: mmap at %#x: %w", base, err)
	}
	return &MMapRegisters{mem: mem}, nil
}

// Close unmaps the register window.
func (m *MMapRegisters) Close() error {
	return unix.Munmap(m.mem)
}

func (m *MMapRegisters) u32(off int) uint32      { return binary.LittleEndian.Uint32(m.mem[off:]) }
func (m *MMapRegisters) setU32(off int, v uint32) { binary.LittleEndian.PutUint32(m.mem[off:], v) }

func (m *MMapRegisters) zoneOff(zone uint32) int { return zoneBlockBase + int(zone)*zoneBlockStride }

func (m *MMapRegisters) HardFaultStatus() uint64 {
	lo := m.u32(offHardFaultStatusLo)
	hi := m.u32(offHardFaultStatusHi)
	return uint64(hi)<<32 | uint64(lo)
}

func (m *MMapRegisters) SetZoneConfig(zone uint32, cfg ZoneConfig) {
	base := m.zoneOff(zone)
	m.setU32(base+zoneOffHardfaultLo, uint32(cfg.HardfaultMask))
	m.setU32(base+zoneOffHardfaultHi, uint32(cfg.HardfaultMask>>32))
	m.setU32(base+zoneOffFaultHoldoff, cfg.FaultHoldoffMS)
	for i, p := range cfg.PwrEnCfg {
		m.setU32(base+zoneOffPwrEnCfgBase+i*4, uint32(p))
	}
}

func (m *MMapRegisters) ZoneConfig(zone uint32) ZoneConfig {
	base := m.zoneOff(zone)
	var cfg ZoneConfig
	lo := m.u32(base + zoneOffHardfaultLo)
	hi := m.u32(base + zoneOffHardfaultHi)
	cfg.HardfaultMask = uint64(hi)<<32 | uint64(lo)
	cfg.FaultHoldoffMS = m.u32(base + zoneOffFaultHoldoff)
	for i := range cfg.PwrEnCfg {
		cfg.PwrEnCfg[i] = PwrEnConfig(m.u32(base + zoneOffPwrEnCfgBase + i*4))
	}
	return cfg
}

func (m *MMapRegisters) ZoneStatus(zone uint32) PowerState {
	return PowerState(m.u32(m.zoneOff(zone) + zoneOffStatus))
}

func (m *MMapRegisters) PowerEnableStatus() uint32 { return m.u32(offPwrEnStatus) }

func (m *MMapRegisters) StartPowerOnSequence(zone uint32) {
	m.setU32(m.zoneOff(zone)+zoneOffCommand, cmdPowerOn)
}

func (m *MMapRegisters) StartPowerOffSequence(zone uint32) {
	m.setU32(m.zoneOff(zone)+zoneOffCommand, cmdPowerOff)
}

func (m *MMapRegisters) DispatchSoftFault(zone uint32) {
	m.setU32(m.zoneOff(zone)+zoneOffCommand, cmdSoftFault)
}

func (m *MMapRegisters) SetIRQEnables(mask uint32) { m.setU32(offIRQEnables, mask) }
func (m *MMapRegisters) IRQEnables() uint32        { return m.u32(offIRQEnables) }
func (m *MMapRegisters) AckIRQ(mask uint32) {
	m.setU32(offIRQStatus, m.u32(offIRQStatus)&^mask)
}
func (m *MMapRegisters) IRQStatus() uint32         { return m.u32(offIRQStatus) }
