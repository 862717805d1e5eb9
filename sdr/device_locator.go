package sdr

import "ipmc-core/errcode"

// DeviceLocatorRecord implements the shared layout of type 11h (FRU
// Device Locator) and 12h (Management Controller Device Locator)
// records: both key on device slave address and channel/bus and carry
// a type/length-encoded name, with no sensor-conversion fields.
type DeviceLocatorRecord struct {
	rawHeader
}

const (
	devlocSlaveAddr  = 5
	devlocAccessLUN  = 6
	devlocChannel    = 8
	devlocEntityID   = 12
	devlocMinLength  = 16
	devlocIDStringOf = 16
)

func (r *DeviceLocatorRecord) Validate() error {
	t := r.RecordType()
	if t != RecordTypeFRUDeviceLocator && t != RecordTypeMgmtControllerDev {
		return errcode.New(errcode.InvalidSDR, "sdr.devloc.validate", "not a device locator record type")
	}
	if err := r.validateHeader(t); err != nil {
		return err
	}
	if len(r.data) < devlocMinLength {
		return errcode.New(errcode.InvalidSDR, "sdr.devloc.validate", "device locator record shorter than minimum layout")
	}
	return nil
}

func (r *DeviceLocatorRecord) RecordKey() []byte {
	return []byte{r.data[devlocSlaveAddr], r.data[devlocChannel]}
}

func (r *DeviceLocatorRecord) SlaveAddress() uint8 { return r.data[devlocSlaveAddr] }
func (r *DeviceLocatorRecord) Channel() uint8      { return r.data[devlocChannel] }
func (r *DeviceLocatorRecord) EntityID() uint8     { return r.data[devlocEntityID] }

func (r *DeviceLocatorRecord) IDString() string {
	if len(r.data) <= devlocIDStringOf {
		return ""
	}
	typeLen := r.data[devlocIDStringOf]
	length := int(typeLen & 0x1F)
	start := devlocIDStringOf + 1
	if start+length > len(r.data) {
		length = len(r.data) - start
	}
	if length <= 0 {
		return ""
	}
	return string(r.data[start : start+length])
}

// NewFRUDeviceLocator builds a minimally valid type 11h record.
func NewFRUDeviceLocator(slaveAddr, channel, entityID uint8, idString string) *DeviceLocatorRecord {
	length := devlocIDStringOf + 1 + len(idString)
	data := make([]byte, length)
	data[offRecordVersion] = 0x51
	data[offRecordType] = byte(RecordTypeFRUDeviceLocator)
	data[offRecordLength] = byte(length - headerLength)
	data[devlocSlaveAddr] = slaveAddr
	data[devlocChannel] = channel
	data[devlocEntityID] = entityID
	data[devlocIDStringOf] = 0xC0 | byte(len(idString)&0x1F)
	copy(data[devlocIDStringOf+1:], idString)
	return &DeviceLocatorRecord{rawHeader: rawHeader{data: data}}
}
