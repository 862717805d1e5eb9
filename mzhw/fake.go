package mzhw

import "sync"

// FakeRegisters is an in-memory SequencerRegisters, used by mz's tests
// and by cmd/ipmcd when no real register window is available.
type FakeRegisters struct {
	mu sync.Mutex

	hardFaultStatus   uint64
	pwrEnableStatus   uint32
	irqEnables        uint32
	irqStatus         uint32
	zoneConfig        [ZoneCount]ZoneConfig
	zoneStatus        [ZoneCount]PowerState
}

// NewFakeRegisters returns a fake with every zone initialized Off.
func NewFakeRegisters() *FakeRegisters {
	f := &FakeRegisters{}
	for i := range f.zoneStatus {
		f.zoneStatus[i] = PowerOff
	}
	return f
}

func (f *FakeRegisters) HardFaultStatus() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hardFaultStatus
}

// SetHardFault is a test hook simulating the hard-fault input vector
// changing, since no real hardware backs the fake.
func (f *FakeRegisters) SetHardFault(mask uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hardFaultStatus = mask
}

func (f *FakeRegisters) SetZoneConfig(zone uint32, cfg ZoneConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoneConfig[zone] = cfg
}

func (f *FakeRegisters) ZoneConfig(zone uint32) ZoneConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoneConfig[zone]
}

func (f *FakeRegisters) ZoneStatus(zone uint32) PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoneStatus[zone]
}

func (f *FakeRegisters) PowerEnableStatus() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pwrEnableStatus
}

func (f *FakeRegisters) setPwrEnBitsLocked(zone uint32, on bool) {
	cfg := f.zoneConfig[zone]
	for i, p := range cfg.PwrEnCfg {
		if !p.Controlled() {
			continue
		}
		bit := uint32(1) << uint(i)
		if on {
			f.pwrEnableStatus |= bit
		} else {
			f.pwrEnableStatus &^= bit
		}
	}
}

func (f *FakeRegisters) StartPowerOnSequence(zone uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoneStatus[zone] = PowerTransOn
	f.setPwrEnBitsLocked(zone, true)
}

func (f *FakeRegisters) StartPowerOffSequence(zone uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoneStatus[zone] = PowerTransOff
	f.setPwrEnBitsLocked(zone, false)
}

// CompleteTransition is a test/simulation hook advancing a zone past
// its sequencing delay, since the fake has no real timer hardware.
func (f *FakeRegisters) CompleteTransition(zone uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.zoneStatus[zone] {
	case PowerTransOn:
		f.zoneStatus[zone] = PowerOn
	case PowerTransOff:
		f.zoneStatus[zone] = PowerOff
	}
}

func (f *FakeRegisters) DispatchSoftFault(zone uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoneStatus[zone] = PowerTransOff
	f.setPwrEnBitsLocked(zone, false)
}

func (f *FakeRegisters) SetIRQEnables(mask uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.irqEnables = mask
}

func (f *FakeRegisters) IRQEnables() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.irqEnables
}

func (f *FakeRegisters) AckIRQ(mask uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.irqStatus &^= mask
}

func (f *FakeRegisters) IRQStatus() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.irqStatus
}

// RaiseIRQ is a test hook simulating an interrupt condition becoming
// pending for the given zone bits.
func (f *FakeRegisters) RaiseIRQ(mask uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.irqStatus |= mask & f.irqEnables
}
