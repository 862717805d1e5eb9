package ipmi

import (
	"ipmc-core/errcode"
	"ipmc-core/ipmb"
)

// DeviceIdentity is the static information reported by Get Device ID,
// grounded on app.cpp's ipmicmd_Get_Device_ID.
type DeviceIdentity struct {
	// HardwareRevision is reported in the low nibble of the device
	// revision byte.
	HardwareRevision uint8
	// FirmwareMajor is the binary-encoded major firmware revision.
	FirmwareMajor uint8
	// FirmwareMinor is the BCD-encoded minor firmware revision (0-99).
	FirmwareMinor uint8
	// SDRRepositoryLoaded reports whether the device SDR repository has
	// finished loading, set in bit 7 of the device revision byte.
	SDRRepositoryLoaded bool
	// ManufacturerID and ProductID are little-endian IPMI identifiers;
	// zero means unspecified.
	ManufacturerID uint32
	ProductID      uint16
	// AuxiliaryFirmwareRevision is four free-form bytes, e.g. a git
	// short hash, reported as-is.
	AuxiliaryFirmwareRevision [4]byte
}

// RegisterAppCommands installs the IPM Device "Global" commands this
// core implements (Get Device ID only; every other App command the
// original leaves `#if 0`'d out is likewise omitted here).
func RegisterAppCommands(d *Dispatcher, identity DeviceIdentity) {
	d.Register(NetFnApp, 0x01, handleGetDeviceID(identity))
}

func handleGetDeviceID(identity DeviceIdentity) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		data := make([]byte, 16)
		data[0] = errcode.CompletionSuccess
		data[1] = 0 // Device ID: unspecified.
		data[2] = identity.HardwareRevision & 0x0F
		if identity.SDRRepositoryLoaded {
			data[2] |= 0x80
		}
		data[3] = identity.FirmwareMajor & 0x7F
		data[4] = bcd(identity.FirmwareMinor)
		data[5] = 0x02 // IPMI version 2.0, BCD reverse nibbles.
		data[6] = (1 << 0) | // Sensor Device
			(1 << 1) | // SDR Repository Device
			(1 << 3) | // FRU Inventory Device
			(1 << 5) // IPMB Event Generator
		data[7] = byte(identity.ManufacturerID)
		data[8] = byte(identity.ManufacturerID >> 8)
		data[9] = byte(identity.ManufacturerID >> 16)
		data[10] = byte(identity.ProductID)
		data[11] = byte(identity.ProductID >> 8)
		copy(data[12:16], identity.AuxiliaryFirmwareRevision[:])
		reply.Data = data
		return reply
	}
}

func bcd(v uint8) byte {
	return ((v / 10) << 4) | (v % 10)
}
