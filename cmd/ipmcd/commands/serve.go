package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ipmc-core/config"
	"ipmc-core/drivers/adc"
	"ipmc-core/ipmb"
	"ipmc-core/ipmi"
	"ipmc-core/logtree"
	"ipmc-core/mstate"
	"ipmc-core/mz"
	"ipmc-core/mzhw"
	"ipmc-core/payload"
	"ipmc-core/sdr"
	"ipmc-core/sensor"
	"ipmc-core/tick"
	"ipmc-core/watchdog"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := v.GetString("config")
	var cfg *config.Config
	var err error
	if cfgPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if override := v.GetString("ipmb-address"); override != "" {
		addr, err := parseHexByte(override)
		if err != nil {
			return fmt.Errorf("parsing --ipmb-address: %w", err)
		}
		cfg.LocalAddress = addr
	}
	if override := v.GetString("log-level"); override != "" {
		cfg.LogLevel = override
	}

	root := logtree.NewRoot("ipmc")
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	root.SetLevel(level)

	clock := tick.NewSystemClock()

	regs, err := openRegisters(cfg.RegisterWindow)
	if err != nil {
		return fmt.Errorf("opening management-zone registers: %w", err)
	}
	zones := mz.NewController(regs, root.Child("mz"))
	for _, z := range cfg.Zones {
		zcfg := mzhw.ZoneConfig{HardfaultMask: z.HardfaultMask, FaultHoldoffMS: z.FaultHoldoffMS}
		for i, pe := range z.PowerEnables {
			if i >= len(zcfg.PwrEnCfg) {
				break
			}
			zcfg.PwrEnCfg[i] = mzhw.NewPwrEnConfig(pe.DelayMS, pe.ActiveHigh, pe.DriveEnabled)
		}
		if err := zones.Configure(z.Zone, zcfg); err != nil {
			return fmt.Errorf("configuring zone %d: %w", z.Zone, err)
		}
	}

	dispatcher := ipmi.NewDispatcher(root.Child("ipmi"))

	repo := sdr.NewRepository()
	sensorRegistry := ipmi.NewSensorRegistry(clock)
	for _, s := range cfg.Sensors {
		rec := sdr.NewBlankRecord01(s.OwnerID, s.OwnerLUN, s.SensorNumber, s.EntityID, s.SensorType, s.EventReadingType, s.IDString)
		if _, err := repo.Add(rec, 0); err != nil {
			return fmt.Errorf("seeding sdr for sensor %d: %w", s.SensorNumber, err)
		}
		sen := sensor.New([]byte{s.OwnerID, s.OwnerLUN, s.SensorNumber}, root.Child("sensor"), clock)
		sen.UpdateThresholdsFromSDR(rec)
		sensorRegistry.Register(s.SensorNumber, sen)
	}

	ipmi.RegisterAppCommands(dispatcher, ipmi.DeviceIdentity{
		HardwareRevision:    1,
		FirmwareMajor:       0,
		FirmwareMinor:       1,
		SDRRepositoryLoaded: true,
	})
	ipmi.RegisterSensorCommands(dispatcher, sensorRegistry)
	ipmi.RegisterSDRCommands(dispatcher, repo)

	transport, err := openTransport(cfg, clock, root, dispatcher)
	if err != nil {
		return err
	}

	payloadMgr := payload.NewManager(zones, transport, cfg.LocalAddress, cfg.ShelfManagerAddress, clock, root.Child("payload"))
	mstateMachine := mstate.NewMachine(transport, cfg.LocalAddress, cfg.ShelfManagerAddress, clock, root.Child("mstate"))
	payloadMgr.SetNotifier(mstateMachine)
	zones.SetFaultHandler(func(zone uint32, faultBits uint64) {
		root.Child("mz").Warnf("zone %d fault %#x: forcing configured FRUs to fault", zone, faultBits)
		for _, f := range cfg.FRUs {
			for _, s := range f.PowerOnSequence {
				if s.Zone == zone {
					_ = mstateMachine.ReportFault(f.FRU)
					break
				}
			}
		}
	})

	for _, s := range cfg.Sensors {
		if s.ADC == nil {
			continue
		}
		target := sensorRegistry.Get(s.SensorNumber)
		if target == nil {
			continue
		}
		channel := adc.NewChannel(adc.SysfsSource(s.ADC.Path), s.ADC.RawMin, s.ADC.RawMax, s.ADC.UnitMin, s.ADC.UnitMax, s.ADC.Divisor)
		payloadMgr.RegisterADCSensor(s.IDString, channel, s.ADC.ManagementZone, target, s.SensorType, s.EventReadingType)
	}

	for _, f := range cfg.FRUs {
		props := payload.PowerProperties{
			SpannedSlots:       f.SpannedSlots,
			ControllerLocation: f.ControllerLocation,
			PowerMultiplier:    f.PowerMultiplier,
			PowerLevels:        f.PowerLevels,
			EarlyPowerLevels:   f.EarlyPowerLevels,
		}
		onSeq := make([]payload.ZoneStep, len(f.PowerOnSequence))
		for i, s := range f.PowerOnSequence {
			onSeq[i] = payload.ZoneStep{Zone: s.Zone, DelayTicks: s.DelayTicks}
		}
		offSeq := make([]payload.ZoneStep, len(f.PowerOffSequence))
		for i, s := range f.PowerOffSequence {
			offSeq[i] = payload.ZoneStep{Zone: s.Zone, DelayTicks: s.DelayTicks}
		}
		payloadMgr.ConfigureFRU(payload.FRUConfig{FRU: f.FRU, Properties: props, PowerOnSequence: onSeq, PowerOffSequence: offSeq})
		mstateMachine.RegisterFRU(f.FRU, f.HotSwapSensorNumber)
	}

	ipmi.RegisterPICMGCommands(dispatcher, mstateMachine, powerLevelAdapter{payloadMgr}, linkEnableAdapter(payloadMgr))

	wd := watchdog.NewScheduler(len(cfg.WatchdogSlots), clock, root.Child("watchdog"), nil, nil)
	for _, slotCfg := range cfg.WatchdogSlots {
		handle, err := wd.RegisterSlot(slotCfg.LifetimeTicks)
		if err != nil {
			return fmt.Errorf("registering watchdog slot %s: %w", slotCfg.Name, err)
		}
		if err := wd.ActivateSlot(handle, slotCfg.Name); err != nil {
			return fmt.Errorf("activating watchdog slot %s: %w", slotCfg.Name, err)
		}
	}

	root.Infof("ipmcd starting: local address %#02x, %d zones, %d frus, %d sensors", cfg.LocalAddress, len(cfg.Zones), len(cfg.FRUs), len(cfg.Sensors))

	go wd.Run()
	defer wd.Stop()
	go transport.Run()
	defer transport.Stop()

	engineTick(clock, zones, payloadMgr)
	return nil
}

// engineTick runs the periodic subsystem drivers forever, matching the
// single-goroutine scheduler-tick idiom every engine-driven subsystem
// in this core already assumes (mz.Controller.Tick, payload.Manager.Tick,
// payload.Manager.RefreshOnce).
func engineTick(clock tick.Source, zones *mz.Controller, payloadMgr *payload.Manager) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		now := clock.Now()
		zones.Tick()
		payloadMgr.Tick(now)
		payloadMgr.RefreshOnce(now)
	}
}

func parseHexByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func openRegisters(rw config.RegisterWindow) (mzhw.SequencerRegisters, error) {
	if rw.DevMemPath == "" {
		return mzhw.NewFakeRegisters(), nil
	}
	return mzhw.OpenMMapRegisters(rw.DevMemPath, rw.Base, rw.Size)
}

func openTransport(cfg *config.Config, clock tick.Source, root *logtree.LogTree, dispatcher *ipmi.Dispatcher) (*ipmb.Transport, error) {
	busA, err := openPhysicalBus(cfg.BusADevice, cfg.ShelfManagerAddress)
	if err != nil {
		return nil, fmt.Errorf("opening bus A: %w", err)
	}
	var busB ipmb.PhysicalBus
	if cfg.BusBDevice != "" {
		busB, err = openPhysicalBus(cfg.BusBDevice, cfg.ShelfManagerAddress)
		if err != nil {
			return nil, fmt.Errorf("opening bus B: %w", err)
		}
	}
	return ipmb.NewTransport(cfg.LocalAddress, busA, busB, dispatcher.Dispatch, clock, root.Child("ipmb")), nil
}

func openPhysicalBus(device string, shelfAddr uint8) (ipmb.PhysicalBus, error) {
	if device == "" {
		return &noopBus{}, nil
	}
	return ipmb.OpenI2CBus(device, uint16(shelfAddr))
}

// noopBus stands in for an unconfigured physical bus: every send is
// silently dropped and nothing is ever received, letting the daemon
// boot (e.g. for config validation) without real IPMB hardware wired.
type noopBus struct{}

func (noopBus) Send(frame []byte) error { return nil }
func (noopBus) Receive() <-chan []byte  { return make(chan []byte) }

// powerLevelAdapter translates between payload.Manager's
// PowerProperties and the narrower shape the ipmi package uses,
// keeping ipmi free of a dependency on payload.
type powerLevelAdapter struct {
	mgr *payload.Manager
}

func (a powerLevelAdapter) SetPowerLevel(fru, level uint8) error {
	return a.mgr.SetPowerLevel(fru, level)
}

func (a powerLevelAdapter) GetPowerProperties(fru uint8, recompute bool) (ipmi.PowerProperties, error) {
	props, err := a.mgr.GetPowerProperties(fru, recompute)
	if err != nil {
		return ipmi.PowerProperties{}, err
	}
	return ipmi.PowerProperties{
		DesiredPowerLevel:           props.DesiredPowerLevel,
		CurrentPowerLevel:           props.CurrentPowerLevel,
		DelayToStablePower:          props.DelayToStablePower,
		RemainingDelayToStablePower: props.RemainingDelayToStablePower,
	}, nil
}

func linkEnableAdapter(mgr *payload.Manager) ipmi.LinkEnableController {
	return ipmi.LinkEnableController{
		Update: func(channelID, interfaceID, linkType, linkTypeExt, linkGroupID, portFlags uint8, state bool) {
			mgr.UpdateLinkEnable(payload.LinkDescriptor{
				ChannelID:         channelID,
				InterfaceID:       interfaceID,
				LinkType:          linkType,
				LinkTypeExtension: linkTypeExt,
				LinkGroupID:       linkGroupID,
				PortFlags:         portFlags,
				State:             state,
			})
		},
		Get: func() []ipmi.LinkState {
			links := mgr.Links()
			out := make([]ipmi.LinkState, len(links))
			for i, l := range links {
				out[i] = ipmi.LinkState{
					ChannelID:   l.ChannelID,
					InterfaceID: l.InterfaceID,
					LinkType:    l.LinkType,
					LinkTypeExt: l.LinkTypeExtension,
					LinkGroupID: l.LinkGroupID,
					PortFlags:   l.PortFlags,
					State:       l.State,
				}
			}
			return out
		},
	}
}
