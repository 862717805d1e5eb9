package ipmi

import (
	"sync"

	"ipmc-core/errcode"
	"ipmc-core/ipmb"
	"ipmc-core/sdr"
	"ipmc-core/sensor"
	"ipmc-core/tick"
)

// SensorEntry binds a sensor number to its threshold engine, so
// Sensor/Event commands can resolve data[0] straight to a sensor.
type SensorEntry struct {
	Number uint8
	Sensor *sensor.ThresholdSensor
}

// SensorRegistry is the dispatcher's view of every threshold sensor
// configured on this device, keyed by IPMI sensor number.
type SensorRegistry struct {
	mu      sync.RWMutex
	clock   tick.Source
	byNum   map[uint8]*sensor.ThresholdSensor
}

// NewSensorRegistry returns an empty registry bound to clock, used for
// Value() snapshot staleness checks.
func NewSensorRegistry(clock tick.Source) *SensorRegistry {
	return &SensorRegistry{clock: clock, byNum: make(map[uint8]*sensor.ThresholdSensor)}
}

// Register binds a sensor number to its engine, replacing any prior
// binding for that number.
func (r *SensorRegistry) Register(number uint8, s *sensor.ThresholdSensor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNum[number] = s
}

// Get returns the sensor bound to number, or nil if none is configured.
func (r *SensorRegistry) Get(number uint8) *sensor.ThresholdSensor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byNum[number]
}

const thresholdComparisonCount = 6

var thresholdKindOrder = [thresholdComparisonCount]sdr.ThresholdKind{
	sdr.ThresholdLNC, sdr.ThresholdLCR, sdr.ThresholdLNR,
	sdr.ThresholdUNC, sdr.ThresholdUCR, sdr.ThresholdUNR,
}

// RegisterSensorCommands installs the Sensor/Event-NetFn commands this
// core implements: Get Sensor Reading, Get/Set Sensor Thresholds, Rearm
// Sensor Events. These byte layouts follow the IPMI 2.0 specification
// directly (the original leaves them `#if 0`'d out; only its
// ThresholdSensor::updateValue/rearm semantics are grounded code here).
func RegisterSensorCommands(d *Dispatcher, registry *SensorRegistry) {
	d.Register(NetFnSE, 0x2D, handleGetSensorReading(registry))
	d.Register(NetFnSE, 0x26, handleGetSensorThresholds(registry))
	d.Register(NetFnSE, 0x27, handleSetSensorThresholds(registry))
	d.Register(NetFnSE, 0x2A, handleRearmSensorEvents(registry))
	d.Register(NetFnSE, 0x29, handleGetSensorEventEnable(registry))
	d.Register(NetFnSE, 0x28, handleSetSensorEventEnable(registry))
}

func withSensor(registry *SensorRegistry, req *ipmb.Message) (*ipmb.Message, *sensor.ThresholdSensor) {
	reply := req.PrepareReply()
	if len(req.Data) < 1 {
		reply.Data = []byte{errcode.CompletionInvalidDataField}
		return reply, nil
	}
	s := registry.Get(req.Data[0])
	if s == nil {
		reply.Data = []byte{errcode.CompletionParamOutOfRange}
		return reply, nil
	}
	return reply, s
}

func handleGetSensorReading(registry *SensorRegistry) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, s := withSensor(registry, req)
		if s == nil {
			return reply
		}
		snap := s.Value(registry.clock.Now())
		flags := byte(0)
		if snap.ByteValue == 0xFF {
			flags |= 1 << 7 // reading/state unavailable
		}
		reply.Data = []byte{errcode.CompletionSuccess, snap.ByteValue, flags, 0x00}
		return reply
	}
}

func handleGetSensorThresholds(registry *SensorRegistry) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, s := withSensor(registry, req)
		if s == nil {
			return reply
		}
		th := s.Thresholds()
		reply.Data = []byte{
			errcode.CompletionSuccess,
			0x3F, // readable mask: all six thresholds present.
			th.LNC, th.LCR, th.LNR, th.UNC, th.UCR, th.UNR,
		}
		return reply
	}
}

func handleSetSensorThresholds(registry *SensorRegistry) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, s := withSensor(registry, req)
		if s == nil {
			return reply
		}
		if len(req.Data) < 8 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		setMask := req.Data[1]
		values := req.Data[2:8]
		for i, kind := range thresholdKindOrder {
			if setMask&(1<<uint(i)) != 0 {
				s.SetThreshold(kind, values[i])
			}
		}
		reply.Data = []byte{errcode.CompletionSuccess}
		return reply
	}
}

func handleRearmSensorEvents(registry *SensorRegistry) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, s := withSensor(registry, req)
		if s == nil {
			return reply
		}
		s.Rearm()
		reply.Data = []byte{errcode.CompletionSuccess}
		return reply
	}
}

func handleGetSensorEventEnable(registry *SensorRegistry) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, s := withSensor(registry, req)
		if s == nil {
			return reply
		}
		assertMask := s.AssertionEventsEnabled()
		deassertMask := s.DeassertionEventsEnabled()
		reply.Data = []byte{
			errcode.CompletionSuccess,
			1 << 7, // sensor scanning enabled, all event messages enabled.
			byte(assertMask), byte(assertMask >> 8),
			byte(deassertMask), byte(deassertMask >> 8),
		}
		return reply
	}
}

func handleSetSensorEventEnable(registry *SensorRegistry) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, s := withSensor(registry, req)
		if s == nil {
			return reply
		}
		if len(req.Data) < 6 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		assertMask := sensor.EventMask(req.Data[2]) | sensor.EventMask(req.Data[3])<<8
		deassertMask := sensor.EventMask(req.Data[4]) | sensor.EventMask(req.Data[5])<<8
		s.SetAssertionEventsEnabled(assertMask)
		s.SetDeassertionEventsEnabled(deassertMask)
		reply.Data = []byte{errcode.CompletionSuccess}
		return reply
	}
}
