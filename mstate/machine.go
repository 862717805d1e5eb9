// Package mstate implements the PICMG FRU hot-swap lifecycle state
// machine (M0-M6), grounded on the state machine referenced from
// payload_manager.h and the AMC.0 hot-swap state diagram. Each
// transition rides the Threshold/Sensor engine's extra-assertion path
// to emit a Hot-Swap (sensor-type 0xF0) event, since that machinery
// already performs enable-mask filtering and event-frame construction
// regardless of whether the sensor is threshold-based or discrete.
package mstate

import (
	"fmt"
	"sync"

	"ipmc-core/errcode"
	"ipmc-core/ipmb"
	"ipmc-core/ipmi"
	"ipmc-core/logtree"
	"ipmc-core/sensor"
	"ipmc-core/tick"
)

// State is one of the seven PICMG M-states.
type State uint8

const (
	M0Absent State = iota
	M1Inactive
	M2ActivationInProgress
	M3Active
	M4DeactivationInProgress
	M5CommunicationLost
	M6Fault
)

func (s State) String() string {
	switch s {
	case M0Absent:
		return "M0:absent"
	case M1Inactive:
		return "M1:inactive"
	case M2ActivationInProgress:
		return "M2:activation_in_progress"
	case M3Active:
		return "M3:active"
	case M4DeactivationInProgress:
		return "M4:deactivation_in_progress"
	case M5CommunicationLost:
		return "M5:communication_lost"
	case M6Fault:
		return "M6:fault"
	default:
		return "unknown"
	}
}

// SensorTypeHotSwap is the IPMI sensor-type code for the PICMG
// Hot-Swap sensor.
const SensorTypeHotSwap uint8 = 0xF0

type fruHotSwap struct {
	state  State
	sensor *sensor.ThresholdSensor
	number uint8
}

// Machine tracks every managed FRU's M-state and emits one IPMI
// Platform Event Message per transition. It satisfies
// payload.CompletionNotifier by structural typing (ActivationComplete,
// DeactivationComplete) so a Manager can drive it without mstate
// importing payload.
type Machine struct {
	mu sync.Mutex

	transport *ipmb.Transport
	localAddr uint8
	destAddr  uint8
	clock     tick.Source
	log       *logtree.LogTree

	frus map[uint8]*fruHotSwap
}

// NewMachine returns a machine with no FRUs registered.
func NewMachine(transport *ipmb.Transport, localAddr, destAddr uint8, clock tick.Source, log *logtree.LogTree) *Machine {
	return &Machine{
		transport: transport,
		localAddr: localAddr,
		destAddr:  destAddr,
		clock:     clock,
		log:       log,
		frus:      map[uint8]*fruHotSwap{},
	}
}

// RegisterFRU adds a FRU starting in M0 (absent), carrying IPMI sensor
// number sensorNumber on the Hot-Swap sensor.
func (m *Machine) RegisterFRU(fru, sensorNumber uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sen := sensor.New([]byte{m.localAddr, 0, sensorNumber}, m.log, m.clock)
	sen.SetAssertionEventsEnabled(sensor.AllEvents)
	sen.SetDeassertionEventsEnabled(sensor.AllEvents)
	m.frus[fru] = &fruHotSwap{state: M0Absent, sensor: sen, number: sensorNumber}
}

// State returns fru's current M-state.
func (m *Machine) State(fru uint8) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.frus[fru]
	if !ok {
		return 0, errcode.New(errcode.OutOfRange, "mstate.state", fmt.Sprintf("fru %d not registered", fru))
	}
	return fs.state, nil
}

// transition moves fru from one of froms to to, emitting an event
// (deassert old state's offset, assert new state's offset) if the
// move is legal; otherwise it returns a domain_error and the state is
// unchanged.
func (m *Machine) transition(fru uint8, to State, froms ...State) error {
	m.mu.Lock()
	fs, ok := m.frus[fru]
	if !ok {
		m.mu.Unlock()
		return errcode.New(errcode.OutOfRange, "mstate.transition", fmt.Sprintf("fru %d not registered", fru))
	}
	allowed := false
	for _, f := range froms {
		if fs.state == f {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return errcode.New(errcode.DomainError, "mstate.transition", fmt.Sprintf("fru %d: %s -> %s not permitted", fru, fs.state, to))
	}
	from := fs.state
	fs.state = to
	sen := fs.sensor
	number := fs.number
	m.mu.Unlock()

	if m.log != nil {
		m.log.Infof("fru %d: %s -> %s", fru, from, to)
	}

	now := m.clock.Now()
	events := sen.UpdateValue(0, sensor.AllEvents, tick.Forever, sensor.EventMask(1<<uint(to)), sensor.EventMask(1<<uint(from)), now)
	for _, ev := range events {
		m.emitEvent(number, ev)
	}
	return nil
}

func (m *Machine) emitEvent(sensorNumber uint8, ev sensor.ThresholdEvent) {
	if m.transport == nil {
		return
	}
	dirBit, data := ev.EventData()
	msg, err := ipmi.PlatformEventMessage(0, m.localAddr, 0, m.destAddr, SensorTypeHotSwap, sensorNumber, ipmi.ReadingTypeSensorSpecific, dirBit, data)
	if err != nil {
		if m.log != nil {
			m.log.Warnf("building hot-swap event message: %v", err)
		}
		return
	}
	if err := m.transport.Send(msg, nil); err != nil && m.log != nil {
		m.log.Warnf("sending hot-swap event message: %v", err)
	}
}

// HandleClosed reports the hot-swap handle's GPIO transitioning
// closed: an absent FRU becomes inactive.
func (m *Machine) HandleClosed(fru uint8) error {
	return m.transition(fru, M1Inactive, M0Absent)
}

// HandleOpened reports the hot-swap handle opening: the FRU is forced
// to absent from any other state, matching the handle's physical
// override of the lifecycle; a FRU already absent gets a domain_error.
func (m *Machine) HandleOpened(fru uint8) error {
	return m.transition(fru, M0Absent, M1Inactive, M2ActivationInProgress, M3Active, M4DeactivationInProgress, M5CommunicationLost, M6Fault)
}

// RequestActivation handles a shelf manager Set FRU Activation command
// requesting activation; the caller is expected to then drive the
// Payload Manager's power-on sequence and report ActivationComplete.
func (m *Machine) RequestActivation(fru uint8) error {
	return m.transition(fru, M2ActivationInProgress, M1Inactive)
}

// ActivationComplete is the Payload Manager's power-on-sequence-done
// callback, completing payload.CompletionNotifier.
func (m *Machine) ActivationComplete(fru uint8) {
	_ = m.transition(fru, M3Active, M2ActivationInProgress)
}

// RequestDeactivation handles a shelf manager Set FRU Activation
// command requesting deactivation.
func (m *Machine) RequestDeactivation(fru uint8) error {
	return m.transition(fru, M4DeactivationInProgress, M3Active)
}

// DeactivationComplete is the Payload Manager's power-off-sequence-done
// callback, completing payload.CompletionNotifier.
func (m *Machine) DeactivationComplete(fru uint8) {
	_ = m.transition(fru, M1Inactive, M4DeactivationInProgress)
}

// ReportCommunicationLost moves an active FRU to M5 when IPMB
// communication with it times out.
func (m *Machine) ReportCommunicationLost(fru uint8) error {
	return m.transition(fru, M5CommunicationLost, M3Active)
}

// ReportCommunicationRestored moves a FRU back to active once
// communication resumes.
func (m *Machine) ReportCommunicationRestored(fru uint8) error {
	return m.transition(fru, M3Active, M5CommunicationLost)
}

// ReportFault forces fru into M6 from any state except absent,
// matching a Management-Zone hard fault or other unrecoverable
// condition reported by the Payload Manager.
func (m *Machine) ReportFault(fru uint8) error {
	return m.transition(fru, M6Fault, M1Inactive, M2ActivationInProgress, M3Active, M4DeactivationInProgress, M5CommunicationLost)
}

// Recover clears a fault, returning the FRU to inactive so it may be
// reactivated.
func (m *Machine) Recover(fru uint8) error {
	return m.transition(fru, M1Inactive, M6Fault)
}
