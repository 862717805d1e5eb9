package ipmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipmc-core/errcode"
	"ipmc-core/ipmb"
)

func TestDispatchUnregisteredCommandReturnsInvalidCommand(t *testing.T) {
	d := NewDispatcher(nil)
	msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnApp, 0x99, nil)
	require.NoError(t, err)

	reply := d.Dispatch(msg)
	require.Len(t, reply.Data, 1)
	assert.Equal(t, byte(errcode.CompletionInvalidCommand), reply.Data[0])
}

func TestRegisterReplacesExistingHandler(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(NetFnApp, 0x01, func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		reply.Data = []byte{0x01}
		return reply
	})
	d.Register(NetFnApp, 0x01, func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		reply.Data = []byte{0x02}
		return reply
	})

	msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnApp, 0x01, nil)
	require.NoError(t, err)
	reply := d.Dispatch(msg)
	assert.Equal(t, byte(0x02), reply.Data[0])
}

func TestDispatchRoutesByNetFnAndCmd(t *testing.T) {
	d := NewDispatcher(nil)
	var got uint8
	d.Register(NetFnSE, 0x2D, func(req *ipmb.Message) *ipmb.Message {
		got = req.Cmd
		reply := req.PrepareReply()
		reply.Data = []byte{errcode.CompletionSuccess}
		return reply
	})

	msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnSE, 0x2D, []byte{7})
	require.NoError(t, err)
	reply := d.Dispatch(msg)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
	assert.Equal(t, uint8(0x2D), got)
}
