package ipmi

import "ipmc-core/ipmb"

// EvMsgRevision is the fixed "evMsgRev" byte carried by every Platform
// Event Message, matching the IPMI 2.0 value for event message format
// version 2.0.
const EvMsgRevision = 0x04

// Event/Reading Type Code values used by the event messages this core
// emits: threshold sensors use the Threshold class; Hot-Swap and other
// discrete sensors use the sensor-specific class, per Table 42-3.
const (
	ReadingTypeThreshold      = 0x01
	ReadingTypeSensorSpecific = 0x6F
)

// PlatformEventMessage builds the outbound NetFn 0x04 / Cmd 0x02
// request this core sends toward the shelf manager whenever a sensor
// asserts or deasserts an event, matching the wire layout in
// threshold_sensor.h's updateValue: evMsgRev, sensor_type,
// sensor_number, (event_dir<<7)|event_type, then the three
// event-data bytes.
func PlatformEventMessage(rqLUN, rqSA, rsLUN, rsSA, sensorType, sensorNumber, readingType, dirBit uint8, data [3]byte) (*ipmb.Message, error) {
	payload := []byte{
		EvMsgRevision,
		sensorType,
		sensorNumber,
		(dirBit << 7) | (readingType & 0x7F),
		data[0], data[1], data[2],
	}
	return ipmb.NewMessage(rqLUN, rqSA, rsLUN, rsSA, NetFnSE, 0x02, payload)
}
