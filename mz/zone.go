// Package mz implements the Management-Zone controller: configuring,
// sequencing, and fault-monitoring the power enables grouped into each
// zone, grounded on mgmt_zone_ctrl.h and the ELM driver's
// "drive a set of hardware enables through a sequence, watching for
// faults" idiom.
package mz

import (
	"fmt"
	"sync"

	"ipmc-core/logtree"
	"ipmc-core/mzhw"
)

// FaultHandler is invoked when a zone's hard-fault mask intersects the
// live hard-fault status vector while the zone is powered, matching
// Mgmt_Zone_Ctrl_Dispatch_Soft_Fault's "turn a wired fault into a
// managed shutdown" role.
type FaultHandler func(zone uint32, faultBits uint64)

// Controller drives Sequencer registers for every configured zone,
// translating IPMI/console-level "power this zone on/off" requests
// into the register-level start/complete sequencing protocol and
// polling for hard faults on each Tick.
type Controller struct {
	mu   sync.Mutex
	regs mzhw.SequencerRegisters
	log  *logtree.LogTree

	onFault FaultHandler

	faultLatched [mzhw.ZoneCount]bool
}

// NewController returns a controller bound to regs.
func NewController(regs mzhw.SequencerRegisters, log *logtree.LogTree) *Controller {
	return &Controller{regs: regs, log: log}
}

// SetFaultHandler installs the callback invoked when a hard fault
// trips a powered zone.
func (c *Controller) SetFaultHandler(h FaultHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFault = h
}

// Configure writes cfg for zone and resets any latched fault state.
func (c *Controller) Configure(zone uint32, cfg mzhw.ZoneConfig) error {
	if zone >= mzhw.ZoneCount {
		return fmt.Errorf("mz: zone %d out of range", zone)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs.SetZoneConfig(zone, cfg)
	c.faultLatched[zone] = false
	return nil
}

// Config returns zone's current configuration.
func (c *Controller) Config(zone uint32) (mzhw.ZoneConfig, error) {
	if zone >= mzhw.ZoneCount {
		return mzhw.ZoneConfig{}, fmt.Errorf("mz: zone %d out of range", zone)
	}
	return c.regs.ZoneConfig(zone), nil
}

// Status returns zone's current power state.
func (c *Controller) Status(zone uint32) (mzhw.PowerState, error) {
	if zone >= mzhw.ZoneCount {
		return 0, fmt.Errorf("mz: zone %d out of range", zone)
	}
	return c.regs.ZoneStatus(zone), nil
}

// PowerOn starts zone's power-on sequence, matching
// Mgmt_Zone_Ctrl_Pwr_ON_Seq. The configured per-pin delays are carried
// out by the sequencer hardware itself; Tick only watches for faults
// once the zone reports fully on.
func (c *Controller) PowerOn(zone uint32) error {
	if zone >= mzhw.ZoneCount {
		return fmt.Errorf("mz: zone %d out of range", zone)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs.StartPowerOnSequence(zone)
	c.faultLatched[zone] = false
	return nil
}

// PowerOff starts zone's power-off sequence, matching
// Mgmt_Zone_Ctrl_Pwr_OFF_Seq.
func (c *Controller) PowerOff(zone uint32) error {
	if zone >= mzhw.ZoneCount {
		return fmt.Errorf("mz: zone %d out of range", zone)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs.StartPowerOffSequence(zone)
	return nil
}

// Tick polls for hard faults against every zone's configured mask,
// dispatching a soft fault (and onFault) for any zone whose mask is
// newly tripped while powered. Callers run this periodically from the
// engine task driving the core's scheduler-tick source; zone
// sequencing delays themselves run in the sequencer hardware, not
// here.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	faults := c.regs.HardFaultStatus()
	for zone := uint32(0); zone < mzhw.ZoneCount; zone++ {
		cfg := c.regs.ZoneConfig(zone)
		if cfg.HardfaultMask == 0 {
			continue
		}
		if c.regs.ZoneStatus(zone) != mzhw.PowerOn {
			continue
		}
		if faults&cfg.HardfaultMask == 0 {
			c.faultLatched[zone] = false
			continue
		}
		if c.faultLatched[zone] {
			continue
		}
		c.faultLatched[zone] = true
		c.regs.DispatchSoftFault(zone)
		if c.log != nil {
			c.log.Warnf("zone %d: hard fault %#016x tripped mask %#016x", zone, faults, cfg.HardfaultMask)
		}
		if c.onFault != nil {
			c.onFault(zone, faults&cfg.HardfaultMask)
		}
	}
}

// HardFaultStatus returns the live, MZ-independent hard-fault vector.
func (c *Controller) HardFaultStatus() uint64 {
	return c.regs.HardFaultStatus()
}

// PowerEnableStatus returns the aggregate power-enable logical-state
// vector across every zone.
func (c *Controller) PowerEnableStatus() uint32 {
	return c.regs.PowerEnableStatus()
}
