// Package sensor implements the threshold sensor engine: raw-reading
// capture, engineering-unit conversion via an associated SDR, and
// hysteresis-aware threshold-crossing event generation, grounded on
// threshold_sensor.h and the teacher's hysteresis/alert idiom in
// drivers/ltc4015/limits_alerts.go.
package sensor

import (
	"math"
	"sync"

	"ipmc-core/sdr"
	"ipmc-core/tick"

	"ipmc-core/logtree"
)

// EventMask is the 12-bit threshold event-status bitmask used by both
// the assertion/deassertion enable masks and the active-events state,
// laid out exactly as documented in threshold_sensor.h's updateValue:
//
//	bit 11: upper non-recoverable going high
//	bit 10: upper non-recoverable going low
//	bit  9: upper critical going high
//	bit  8: upper critical going low
//	bit  7: upper non-critical going high
//	bit  6: upper non-critical going low
//	bit  5: lower non-recoverable going high
//	bit  4: lower non-recoverable going low
//	bit  3: lower critical going high
//	bit  2: lower critical going low
//	bit  1: lower non-critical going high
//	bit  0: lower non-critical going low
type EventMask uint16

const (
	LNCGoingLow  EventMask = 1 << 0
	LNCGoingHigh EventMask = 1 << 1
	LCRGoingLow  EventMask = 1 << 2
	LCRGoingHigh EventMask = 1 << 3
	LNRGoingLow  EventMask = 1 << 4
	LNRGoingHigh EventMask = 1 << 5
	UNCGoingLow  EventMask = 1 << 6
	UNCGoingHigh EventMask = 1 << 7
	UCRGoingLow  EventMask = 1 << 8
	UCRGoingHigh EventMask = 1 << 9
	UNRGoingLow  EventMask = 1 << 10
	UNRGoingHigh EventMask = 1 << 11

	// AllEvents masks the 12 valid bits above.
	AllEvents EventMask = 0x0FFF
	// unsetSentinel marks "never configured" for both the enable masks
	// and the nominal-event-status override.
	unsetSentinel EventMask = 0xFFFF
	// DefaultEventMask is the fallback enable mask for threshold
	// sensors whose enable mask was never set: only the dangerous edges
	// (upper-going-high, lower-going-low) are armed.
	DefaultEventMask EventMask = 0x0A95
)

func bitIndex(bit EventMask) int {
	for i := 0; i < 12; i++ {
		if bit == 1<<uint(i) {
			return i
		}
	}
	return -1
}

// Thresholds is the six raw threshold values used for comparisons,
// cached from a type 01h SDR (or set directly for a type 02h sensor
// that carries no threshold data of its own).
type Thresholds struct {
	LNC, LCR, LNR, UNC, UCR, UNR uint8
}

// ThresholdEvent is one state transition detected by UpdateValue.
type ThresholdEvent struct {
	Offset    EventMask
	Assert    bool
	Reading   uint8
	Threshold uint8
}

// EventData returns the 3-byte IPMI "Platform Event Message" event
// data field for this transition (data1 with the "reading & threshold
// present" flag and offset, data2 the trigger reading, data3 the
// trigger threshold), and the event-direction bit (0=assertion,
// 1=deassertion) that accompanies it in the same command.
func (e ThresholdEvent) EventData() (dirBit byte, data [3]byte) {
	offset := bitIndex(e.Offset)
	data1 := byte(0xC0) | byte(offset&0x0F)
	if !e.Assert {
		dirBit = 1
	}
	return dirBit, [3]byte{data1, e.Reading, e.Threshold}
}

// Snapshot is the point-in-time read of a sensor's value and event
// state, mirroring ThresholdSensor::Value.
type Snapshot struct {
	FloatValue            float64
	ByteValue              uint8
	ActiveEvents           EventMask
	EventContext           EventMask
	EnabledAssertions      EventMask
	EnabledDeassertions    EventMask
}

// ThresholdSensor tracks one threshold sensor's raw/engineering-unit
// reading and the 12-bit event-status bitmask derived from comparing
// it against six hysteresis-guarded thresholds.
type ThresholdSensor struct {
	mu  sync.Mutex
	key []byte
	log *logtree.LogTree

	clock  tick.Source
	record *sdr.Record01

	thresholds Thresholds

	lastValue       float64
	haveValue       bool
	valueExpiration tick.AbsoluteTimeout

	activeEvents         EventMask
	eventContext         EventMask
	lastEnabledAsserts   EventMask
	lastEnabledDeasserts EventMask

	nominalOverride EventMask

	assertionEventsEnabled   EventMask
	deassertionEventsEnabled EventMask
}

// New creates a threshold sensor identified by sdr key bytes, with all
// enable masks and the nominal override left at "unset" (i.e. the
// sensor behaves per DefaultEventMask until configured).
func New(key []byte, log *logtree.LogTree, clock tick.Source) *ThresholdSensor {
	return &ThresholdSensor{
		key:                      key,
		log:                      log,
		clock:                    clock,
		lastValue:                math.NaN(),
		valueExpiration:          tick.Never(),
		nominalOverride:          unsetSentinel,
		assertionEventsEnabled:   unsetSentinel,
		deassertionEventsEnabled: unsetSentinel,
	}
}

// AssertionEventsEnabled returns the configured assertion enable mask,
// or DefaultEventMask if never set.
func (s *ThresholdSensor) AssertionEventsEnabled() EventMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assertionEventsEnabled == unsetSentinel {
		return DefaultEventMask
	}
	return s.assertionEventsEnabled
}

// DeassertionEventsEnabled returns the configured deassertion enable
// mask, or DefaultEventMask if never set.
func (s *ThresholdSensor) DeassertionEventsEnabled() EventMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deassertionEventsEnabled == unsetSentinel {
		return DefaultEventMask
	}
	return s.deassertionEventsEnabled
}

// SetAssertionEventsEnabled sets the assertion enable mask directly
// (as delivered by the IPMI "Set Sensor Event Enable" command).
func (s *ThresholdSensor) SetAssertionEventsEnabled(mask EventMask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertionEventsEnabled = mask & AllEvents
}

func (s *ThresholdSensor) SetDeassertionEventsEnabled(mask EventMask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deassertionEventsEnabled = mask & AllEvents
}

// SetNominalEventStatusOverride sets the mask Rearm initializes active
// events to; pass 0xFFFF to clear the override. The override is not
// applied when the sensor comes back into context.
func (s *ThresholdSensor) SetNominalEventStatusOverride(mask EventMask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nominalOverride = mask
}

func (s *ThresholdSensor) NominalEventStatusOverride() EventMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nominalOverride
}

// UpdateThresholdsFromSDR refreshes the cached threshold raw values
// from a type 01h SDR if rec is non-nil, a no-op otherwise (matching
// updateThresholdsFromSdr's handling of type 02h sensors, which carry
// no threshold bytes of their own).
func (s *ThresholdSensor) UpdateThresholdsFromSDR(rec *sdr.Record01) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = rec
	if rec == nil {
		return
	}
	s.thresholds = Thresholds{
		LNC: rec.ThresholdRaw(sdr.ThresholdLNC),
		LCR: rec.ThresholdRaw(sdr.ThresholdLCR),
		LNR: rec.ThresholdRaw(sdr.ThresholdLNR),
		UNC: rec.ThresholdRaw(sdr.ThresholdUNC),
		UCR: rec.ThresholdRaw(sdr.ThresholdUCR),
		UNR: rec.ThresholdRaw(sdr.ThresholdUNR),
	}
}

// SetThreshold writes one raw threshold value directly, as delivered
// by the IPMI "Set Sensor Thresholds" command; it does not touch the
// backing SDR, matching the command's operational-threshold semantics.
func (s *ThresholdSensor) SetThreshold(which sdr.ThresholdKind, raw uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch which {
	case sdr.ThresholdLNC:
		s.thresholds.LNC = raw
	case sdr.ThresholdLCR:
		s.thresholds.LCR = raw
	case sdr.ThresholdLNR:
		s.thresholds.LNR = raw
	case sdr.ThresholdUNC:
		s.thresholds.UNC = raw
	case sdr.ThresholdUCR:
		s.thresholds.UCR = raw
	case sdr.ThresholdUNR:
		s.thresholds.UNR = raw
	}
}

// Thresholds returns the sensor's current cached raw threshold values.
func (s *ThresholdSensor) Thresholds() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

// checkUpper reports the assert/deassert transition for an upper
// threshold: the dangerous direction is "going high" (raw above
// threshold); recovery requires dropping below threshold by at least
// hysteresis counts, matching the IPMI hysteresis model used
// throughout the teacher's limits_alerts.go rearm logic.
func checkUpper(raw, threshold, hysteresis uint8, active bool) (assert, deassert bool) {
	if !active && raw > threshold {
		return true, false
	}
	if active {
		recoveryPoint := int(threshold) - int(hysteresis)
		if int(raw) <= recoveryPoint {
			return false, true
		}
	}
	return false, false
}

// checkLower is checkUpper's mirror: the dangerous direction is "going
// low".
func checkLower(raw, threshold, hysteresis uint8, active bool) (assert, deassert bool) {
	if !active && raw < threshold {
		return true, false
	}
	if active {
		recoveryPoint := int(threshold) + int(hysteresis)
		if int(raw) >= recoveryPoint {
			return false, true
		}
	}
	return false, false
}

// UpdateValue feeds a new engineering-units reading through the
// threshold comparators and returns every event transition generated,
// matching ThresholdSensor::updateValue. eventContext is the mask of
// bits currently considered "in context"; pass AllEvents to run every
// comparator. A NaN value means the sensor has no reading: no
// threshold comparisons run and active events are cleared.  now is the
// current tick, used against valueMaxAge to decide whether a
// previously-stored value has expired to NaN first.
func (s *ThresholdSensor) UpdateValue(value float64, eventContext EventMask, valueMaxAgeTicks uint64, extraAssertions, extraDeassertions EventMask, now tick.Tick) []ThresholdEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if valueMaxAgeTicks == tick.Forever {
		s.valueExpiration = tick.Never()
	} else {
		s.valueExpiration = tick.FromRelative(now, valueMaxAgeTicks)
	}

	s.eventContext = eventContext & AllEvents
	s.lastEnabledAsserts = s.effectiveAssertionsLocked()
	s.lastEnabledDeasserts = s.effectiveDeassertionsLocked()

	if math.IsNaN(value) {
		s.haveValue = false
		s.lastValue = math.NaN()
		s.activeEvents = 0
		return nil
	}

	s.haveValue = true
	s.lastValue = value

	var raw uint8
	hystHi, hystLo := uint8(0), uint8(0)
	if s.record != nil {
		raw = s.record.FromFloat(value)
		hystHi = s.record.HysteresisHigh()
		hystLo = s.record.HysteresisLow()
	}

	type upperCheck struct {
		dangerBit, recoveryBit EventMask
		threshold              uint8
	}
	type lowerCheck struct {
		dangerBit, recoveryBit EventMask
		threshold              uint8
	}
	uppers := []upperCheck{
		{UNRGoingHigh, UNRGoingLow, s.thresholds.UNR},
		{UCRGoingHigh, UCRGoingLow, s.thresholds.UCR},
		{UNCGoingHigh, UNCGoingLow, s.thresholds.UNC},
	}
	lowers := []lowerCheck{
		{LNRGoingLow, LNRGoingHigh, s.thresholds.LNR},
		{LCRGoingLow, LCRGoingHigh, s.thresholds.LCR},
		{LNCGoingLow, LNCGoingHigh, s.thresholds.LNC},
	}

	var events []ThresholdEvent
	considerBit := func(dangerBit, recoveryBit EventMask) bool {
		return s.eventContext&(dangerBit|recoveryBit) != 0
	}
	emit := func(bit EventMask, threshold uint8, assert, deassert bool) {
		if assert && s.lastEnabledAsserts&bit != 0 {
			s.activeEvents |= bit
			events = append(events, ThresholdEvent{Offset: bit, Assert: true, Reading: raw, Threshold: threshold})
		}
		if deassert && s.lastEnabledDeasserts&bit != 0 {
			s.activeEvents &^= bit
			events = append(events, ThresholdEvent{Offset: bit, Assert: false, Reading: raw, Threshold: threshold})
		}
	}

	for _, c := range uppers {
		if !considerBit(c.dangerBit, c.recoveryBit) {
			continue
		}
		if c.threshold == 0 {
			// A zero upper threshold is treated as not configured.
			continue
		}
		assert, deassert := checkUpper(raw, c.threshold, hystHi, s.activeEvents&c.dangerBit != 0)
		emit(c.dangerBit, c.threshold, assert, deassert)
	}
	for _, c := range lowers {
		if !considerBit(c.dangerBit, c.recoveryBit) {
			continue
		}
		assert, deassert := checkLower(raw, c.threshold, hystLo, s.activeEvents&c.dangerBit != 0)
		emit(c.dangerBit, c.threshold, assert, deassert)
	}

	for bit := EventMask(1); bit <= UNRGoingHigh; bit <<= 1 {
		if extraAssertions&bit != 0 && s.lastEnabledAsserts&bit != 0 {
			s.activeEvents |= bit
			events = append(events, ThresholdEvent{Offset: bit, Assert: true, Reading: raw})
		}
		if extraDeassertions&bit != 0 && s.lastEnabledDeasserts&bit != 0 {
			s.activeEvents &^= bit
			events = append(events, ThresholdEvent{Offset: bit, Assert: false, Reading: raw})
		}
	}

	return events
}

func (s *ThresholdSensor) effectiveAssertionsLocked() EventMask {
	if s.assertionEventsEnabled == unsetSentinel {
		return DefaultEventMask
	}
	return s.assertionEventsEnabled
}

func (s *ThresholdSensor) effectiveDeassertionsLocked() EventMask {
	if s.deassertionEventsEnabled == unsetSentinel {
		return DefaultEventMask
	}
	return s.deassertionEventsEnabled
}

// Rearm clears all active events and, if a nominal override is set,
// re-initializes active events to that mask, matching
// ThresholdSensor::rearm.
func (s *ThresholdSensor) Rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nominalOverride != unsetSentinel {
		s.activeEvents = s.nominalOverride & AllEvents
	} else {
		s.activeEvents = 0
	}
}

// Value returns the point-in-time snapshot of this sensor's state.
func (s *ThresholdSensor) Value(now tick.Tick) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	fv := s.lastValue
	if s.valueExpiration.Expired(now) {
		fv = math.NaN()
	}

	byteValue := uint8(0xFF)
	if s.record != nil && !math.IsNaN(fv) {
		byteValue = s.record.FromFloat(fv)
	}

	return Snapshot{
		FloatValue:          fv,
		ByteValue:           byteValue,
		ActiveEvents:        s.activeEvents,
		EventContext:        s.eventContext,
		EnabledAssertions:   s.lastEnabledAsserts,
		EnabledDeassertions: s.lastEnabledDeasserts,
	}
}

// Key returns the SDR key bytes this sensor is bound to.
func (s *ThresholdSensor) Key() []byte { return s.key }
