package ipmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipmc-core/errcode"
	"ipmc-core/ipmb"
)

func TestGetDeviceIDEncodesIdentity(t *testing.T) {
	d := NewDispatcher(nil)
	identity := DeviceIdentity{
		HardwareRevision:         2,
		FirmwareMajor:            1,
		FirmwareMinor:            23,
		SDRRepositoryLoaded:      true,
		ManufacturerID:           0x001234,
		ProductID:                0x5678,
		AuxiliaryFirmwareRevision: [4]byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	RegisterAppCommands(d, identity)

	msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnApp, 0x01, nil)
	require.NoError(t, err)
	reply := d.Dispatch(msg)

	require.Len(t, reply.Data, 16)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
	assert.Equal(t, byte(0x80|0x02), reply.Data[2])
	assert.Equal(t, byte(1), reply.Data[3])
	assert.True(t, reply.Data[2]&0x80 != 0)
	assert.Equal(t, byte(0x23), reply.Data[4])
	assert.Equal(t, [4]byte{0xDE, 0xAD, 0xBE, 0xEF}, [4]byte(reply.Data[12:16]))
}
