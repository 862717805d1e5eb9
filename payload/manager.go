// Package payload implements the Payload Manager: binding IPMI power
// negotiation to the Management-Zone sequencer and the M-State
// machine, plus the E-Keying link table and the ADC-to-sensor refresh
// cycle, grounded on payload_manager.h and uw-ipmc/PayloadManager.cpp.
package payload

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"ipmc-core/errcode"
	"ipmc-core/ipmb"
	"ipmc-core/ipmi"
	"ipmc-core/logtree"
	"ipmc-core/mz"
	"ipmc-core/mzhw"
	"ipmc-core/sensor"
	"ipmc-core/tick"
	"ipmc-core/x/mathx"
)

// CompletionNotifier receives the M-State machine's activation and
// deactivation hooks (PayloadManager's mstate_machine pointer in the
// original).
type CompletionNotifier interface {
	ActivationComplete(fru uint8)
	DeactivationComplete(fru uint8)
}

// ZoneStep is one step of a power sequence: drive a zone, then wait
// DelayTicks before the next step (or before declaring the sequence
// complete).
type ZoneStep struct {
	Zone       uint32
	DelayTicks uint64
}

// FRUConfig is the static, operator-configured shape of one managed
// FRU: its power properties and the zone order used to bring it up
// (root-first) and down (leaf-first).
type FRUConfig struct {
	FRU              uint8
	Properties       PowerProperties
	PowerOnSequence  []ZoneStep
	PowerOffSequence []ZoneStep
}

type sequenceState struct {
	steps      []ZoneStep
	idx        int
	deadline   tick.AbsoluteTimeout
	startTick  tick.Tick
	totalDelay uint64
	target     uint8
	poweringOn bool
}

type fruState struct {
	cfg   FRUConfig
	props PowerProperties
	seq   *sequenceState
}

// ADCReader abstracts one analog input channel; a real implementation
// wraps a hardware ADC driver, tests supply a fixed or programmable
// fake.
type ADCReader interface {
	Read() (float64, error)
}

type adcSensor struct {
	reader      ADCReader
	mzContext   int // <0 means always in context, matching isMZInContext's "supplied id is <0" rule
	sensor      *sensor.ThresholdSensor
	sensorType  uint8
	readingType uint8
}

// Manager binds the Management-Zone controller, the IPMI transport
// (for outbound event messages), and per-FRU power sequencing into one
// coordinator, mirroring PayloadManager's role as the glue between
// IPMI power negotiation and hardware sequencing.
type Manager struct {
	mu sync.Mutex

	zones     *mz.Controller
	clock     tick.Source
	log       *logtree.LogTree
	notifier  CompletionNotifier
	transport *ipmb.Transport
	localAddr uint8
	destAddr  uint8

	frus       map[uint8]*fruState
	links      []LinkDescriptor
	adcSensors map[string]*adcSensor
}

// NewManager returns a manager with no FRUs or sensors configured yet.
// transport may be nil (event emission becomes a no-op), matching
// operation without a live bus under test.
func NewManager(zones *mz.Controller, transport *ipmb.Transport, localAddr, destAddr uint8, clock tick.Source, log *logtree.LogTree) *Manager {
	return &Manager{
		zones:      zones,
		clock:      clock,
		log:        log,
		transport:  transport,
		localAddr:  localAddr,
		destAddr:   destAddr,
		frus:       map[uint8]*fruState{},
		adcSensors: map[string]*adcSensor{},
	}
}

// SetNotifier installs the M-State machine hook.
func (m *Manager) SetNotifier(n CompletionNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// ConfigureFRU registers (or replaces) a FRU's static power
// configuration.
func (m *Manager) ConfigureFRU(cfg FRUConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frus[cfg.FRU] = &fruState{cfg: cfg, props: cfg.Properties.clone()}
}

// GetPowerProperties returns fru's cached PowerProperties, or, if
// recompute is set, first refreshes RemainingDelayToStablePower from
// the deadline of the sequence step in progress (CurrentPowerLevel is
// not touched here), matching getPowerProperties(fru, recompute).
func (m *Manager) GetPowerProperties(fru uint8, recompute bool) (PowerProperties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.frus[fru]
	if !ok {
		return PowerProperties{}, errcode.New(errcode.OutOfRange, "payload.getPowerProperties", fmt.Sprintf("fru %d not configured", fru))
	}
	if recompute && fs.seq != nil {
		now := m.clock.Now()
		if fs.seq.deadline.Expired(now) {
			fs.props.RemainingDelayToStablePower = 0
		} else {
			remaining := fs.seq.deadline.Deadline() - uint64(now)
			fs.props.RemainingDelayToStablePower = clampTenths(remaining)
		}
	}
	return fs.props.clone(), nil
}

func clampTenths(ticks uint64) uint8 {
	tenths := ticks * 10 / tick.TicksPerSecond
	return uint8(mathx.Clamp(tenths, 0, 255))
}

// SetPowerLevel begins sequencing fru toward level (0 = off, 1..N =
// the corresponding entry of PowerLevels), matching set_power_level.
// Sequencing itself advances across calls to Tick; this call only
// validates the request and drives the first step.
func (m *Manager) SetPowerLevel(fru, level uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.frus[fru]
	if !ok {
		return errcode.New(errcode.OutOfRange, "payload.setPowerLevel", fmt.Sprintf("fru %d not configured", fru))
	}
	if int(level) > len(fs.props.PowerLevels) {
		return errcode.New(errcode.DomainError, "payload.setPowerLevel", fmt.Sprintf("level %d exceeds %d configured levels", level, len(fs.props.PowerLevels)))
	}

	var steps []ZoneStep
	poweringOn := level > 0
	if poweringOn {
		steps = fs.cfg.PowerOnSequence
	} else {
		steps = fs.cfg.PowerOffSequence
	}

	fs.props.DesiredPowerLevel = level
	var total uint64
	for _, s := range steps {
		total += s.DelayTicks
	}
	seq := &sequenceState{steps: steps, target: level, poweringOn: poweringOn, startTick: m.clock.Now(), totalDelay: total}
	fs.seq = seq
	fs.props.DelayToStablePower = clampTenths(total)
	fs.props.RemainingDelayToStablePower = fs.props.DelayToStablePower

	if len(steps) == 0 {
		m.completeSequenceLocked(fru, fs)
		return nil
	}
	m.driveStepLocked(seq, 0, m.clock.Now())
	return nil
}

func (m *Manager) driveStepLocked(seq *sequenceState, idx int, now tick.Tick) {
	step := seq.steps[idx]
	if seq.poweringOn {
		_ = m.zones.PowerOn(step.Zone)
	} else {
		_ = m.zones.PowerOff(step.Zone)
	}
	seq.idx = idx
	seq.deadline = tick.FromRelative(now, step.DelayTicks)
}

func (m *Manager) completeSequenceLocked(fru uint8, fs *fruState) {
	fs.props.CurrentPowerLevel = fs.props.DesiredPowerLevel
	fs.props.RemainingDelayToStablePower = 0
	fs.seq = nil
	n := m.notifier
	poweringOn := fs.props.CurrentPowerLevel > 0
	if n == nil {
		return
	}
	if poweringOn {
		n.ActivationComplete(fru)
	} else {
		n.DeactivationComplete(fru)
	}
}

// Tick advances every FRU's in-progress power sequence whose current
// step's delay has elapsed, driving the next zone action or, once the
// last step's delay elapses, completing the sequence and notifying the
// M-State machine.
func (m *Manager) Tick(now tick.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frus := make([]uint8, 0, len(m.frus))
	for fru := range m.frus {
		frus = append(frus, fru)
	}
	sort.Slice(frus, func(i, j int) bool { return frus[i] < frus[j] })

	for _, fru := range frus {
		fs := m.frus[fru]
		if fs.seq == nil || !fs.seq.deadline.Expired(now) {
			continue
		}
		next := fs.seq.idx + 1
		if next < len(fs.seq.steps) {
			m.driveStepLocked(fs.seq, next, now)
			continue
		}
		m.completeSequenceLocked(fru, fs)
	}
}

// UpdateLinkEnable updates (or appends) the stored enabled/disabled
// state for a link, matching updateLinkEnable.
func (m *Manager) UpdateLinkEnable(d LinkDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.links {
		if sameLink(existing, d) {
			m.links[i].State = d.State
			return
		}
	}
	m.links = append(m.links, d)
}

// Links returns a snapshot of every registered E-Keying link.
func (m *Manager) Links() []LinkDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LinkDescriptor(nil), m.links...)
}

// RegisterADCSensor binds a named ADC channel to a threshold sensor
// and the management zone that must be powered for readings to be "in
// context", matching PayloadManager::ADCSensor plus its
// weak_ptr<ThresholdSensor> linkage (resolved eagerly here instead of
// by name lookup, since Go sensors are constructed up front). Pass a
// negative mzContext for a sensor that is always in context.
func (m *Manager) RegisterADCSensor(name string, reader ADCReader, mzContext int, target *sensor.ThresholdSensor, sensorType, readingType uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adcSensors[name] = &adcSensor{reader: reader, mzContext: mzContext, sensor: target, sensorType: sensorType, readingType: readingType}
}

func (m *Manager) isMZInContextLocked(mzContext int) bool {
	if mzContext < 0 {
		return true
	}
	status, err := m.zones.Status(uint32(mzContext))
	return err == nil && status == mzhw.PowerOn
}

// RefreshOnce reads every registered ADC channel once, drives its bound
// ThresholdSensor's update cycle with AllEvents context when the
// sensor's zone is powered (0 context otherwise, per
// isMZInContext("sensors whose zone is off are out of context")), and
// transmits one Platform Event Message per resulting assertion/
// deassertion, matching the original's periodic refresh thread.
func (m *Manager) RefreshOnce(now tick.Tick) {
	m.mu.Lock()
	names := make([]string, 0, len(m.adcSensors))
	for name := range m.adcSensors {
		names = append(names, name)
	}
	sort.Strings(names)

	type job struct {
		s           *adcSensor
		value       float64
		eventCtx    sensor.EventMask
		sensorNum   uint8
		sensorType  uint8
		readingType uint8
	}
	var jobs []job
	for _, name := range names {
		as := m.adcSensors[name]
		inContext := m.isMZInContextLocked(as.mzContext)
		value := math.NaN()
		if inContext {
			v, err := as.reader.Read()
			if err != nil {
				if m.log != nil {
					m.log.Warnf("adc sensor %s: read failed: %v", name, err)
				}
				value = math.NaN()
			} else {
				value = v
			}
		}
		ctx := sensor.AllEvents
		if !inContext {
			ctx = 0
		}
		jobs = append(jobs, job{s: as, value: value, eventCtx: ctx, sensorNum: as.sensor.Key()[len(as.sensor.Key())-1], sensorType: as.sensorType, readingType: as.readingType})
	}
	m.mu.Unlock()

	for _, j := range jobs {
		events := j.s.sensor.UpdateValue(j.value, j.eventCtx, tick.Forever, 0, 0, now)
		for _, ev := range events {
			m.emitEvent(j.sensorType, j.sensorNum, j.readingType, ev)
		}
	}
}

func (m *Manager) emitEvent(sensorType, sensorNumber, readingType uint8, ev sensor.ThresholdEvent) {
	if m.transport == nil {
		return
	}
	dirBit, data := ev.EventData()
	msg, err := ipmi.PlatformEventMessage(0, m.localAddr, 0, m.destAddr, sensorType, sensorNumber, readingType, dirBit, data)
	if err != nil {
		if m.log != nil {
			m.log.Warnf("building platform event message: %v", err)
		}
		return
	}
	if err := m.transport.Send(msg, nil); err != nil && m.log != nil {
		m.log.Warnf("sending platform event message: %v", err)
	}
}
