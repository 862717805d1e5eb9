package ipmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformEventMessageWireLayout(t *testing.T) {
	msg, err := PlatformEventMessage(0, 0x20, 0, 0x82, 0x02, 7, ReadingTypeThreshold, 1, [3]byte{0x07, 0xFF, 0xFF})
	require.NoError(t, err)

	assert.Equal(t, NetFnSE, msg.NetFn)
	assert.Equal(t, uint8(0x02), msg.Cmd)
	require.Len(t, msg.Data, 7)
	assert.Equal(t, uint8(EvMsgRevision), msg.Data[0])
	assert.Equal(t, uint8(0x02), msg.Data[1])
	assert.Equal(t, uint8(7), msg.Data[2])
	assert.Equal(t, uint8(0x80|ReadingTypeThreshold), msg.Data[3])
	assert.Equal(t, uint8(0x07), msg.Data[4])
}
