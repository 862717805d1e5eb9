package ipmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipmc-core/errcode"
	"ipmc-core/ipmb"
)

type fakeFRUActivation struct {
	activated   []uint8
	deactivated []uint8
	err         error
}

func (f *fakeFRUActivation) RequestActivation(fru uint8) error {
	if f.err != nil {
		return f.err
	}
	f.activated = append(f.activated, fru)
	return nil
}

func (f *fakeFRUActivation) RequestDeactivation(fru uint8) error {
	if f.err != nil {
		return f.err
	}
	f.deactivated = append(f.deactivated, fru)
	return nil
}

type fakePowerLevel struct {
	levels map[uint8]uint8
}

func (p *fakePowerLevel) SetPowerLevel(fru, level uint8) error {
	if p.levels == nil {
		p.levels = map[uint8]uint8{}
	}
	p.levels[fru] = level
	return nil
}

func (p *fakePowerLevel) GetPowerProperties(fru uint8, recompute bool) (PowerProperties, error) {
	return PowerProperties{CurrentPowerLevel: p.levels[fru], DesiredPowerLevel: p.levels[fru]}, nil
}

func picmgRequest(cmd uint8, body ...byte) *ipmb.Message {
	data := append([]byte{PICMGIdentifier}, body...)
	msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnPICMG, cmd, data)
	if err != nil {
		panic(err)
	}
	return msg
}

func TestSetFRUActivationDrivesController(t *testing.T) {
	d := NewDispatcher(nil)
	fru := &fakeFRUActivation{}
	RegisterPICMGCommands(d, fru, &fakePowerLevel{}, LinkEnableController{})

	reply := d.Dispatch(picmgRequest(0x0C, 3, 1))
	require.Len(t, reply.Data, 1)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
	assert.Equal(t, []uint8{3}, fru.activated)

	reply = d.Dispatch(picmgRequest(0x0C, 3, 0))
	assert.Equal(t, []uint8{3}, fru.deactivated)
	_ = reply
}

func TestSetAndGetPowerLevel(t *testing.T) {
	d := NewDispatcher(nil)
	power := &fakePowerLevel{}
	RegisterPICMGCommands(d, &fakeFRUActivation{}, power, LinkEnableController{})

	reply := d.Dispatch(picmgRequest(0x11, 0, 3))
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])

	reply = d.Dispatch(picmgRequest(0x19, 0, 0))
	require.Len(t, reply.Data, 5)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
	assert.Equal(t, uint8(3), reply.Data[4])
}

func TestComputePowerTriggersRecompute(t *testing.T) {
	d := NewDispatcher(nil)
	power := &fakePowerLevel{levels: map[uint8]uint8{2: 4}}
	RegisterPICMGCommands(d, &fakeFRUActivation{}, power, LinkEnableController{})

	reply := d.Dispatch(picmgRequest(0x10, 2))
	require.Len(t, reply.Data, 2)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
	assert.Equal(t, byte(PICMGIdentifier), reply.Data[1])
}

func TestPortStateRoundTrip(t *testing.T) {
	d := NewDispatcher(nil)
	var stored []LinkState
	links := LinkEnableController{
		Update: func(channelID, interfaceID, linkType, linkTypeExt, linkGroupID, portFlags uint8, state bool) {
			stored = []LinkState{{ChannelID: channelID, InterfaceID: interfaceID, LinkType: linkType, LinkTypeExt: linkTypeExt, LinkGroupID: linkGroupID, PortFlags: portFlags, State: state}}
		},
		Get: func() []LinkState { return stored },
	}
	RegisterPICMGCommands(d, &fakeFRUActivation{}, &fakePowerLevel{}, links)

	reply := d.Dispatch(picmgRequest(0x0E, 1, 2, 3, 0, 0, 0x01))
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])

	reply = d.Dispatch(picmgRequest(0x0D, 1))
	require.Len(t, reply.Data, 8)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
	assert.Equal(t, uint8(1), reply.Data[7]&0x01)
}

func TestGetPortStateUnknownChannelReportsAbsent(t *testing.T) {
	d := NewDispatcher(nil)
	links := LinkEnableController{Get: func() []LinkState { return nil }}
	RegisterPICMGCommands(d, &fakeFRUActivation{}, &fakePowerLevel{}, links)

	reply := d.Dispatch(picmgRequest(0x0D, 9))
	require.Len(t, reply.Data, 1)
	assert.Equal(t, byte(errcode.CompletionRequestedDataAbsent), reply.Data[0])
}

func TestFRUControlAndActivationPolicy(t *testing.T) {
	d := NewDispatcher(nil)
	RegisterPICMGCommands(d, &fakeFRUActivation{}, &fakePowerLevel{}, LinkEnableController{})

	reply := d.Dispatch(picmgRequest(0x02, 0, 0x00))
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])

	reply = d.Dispatch(picmgRequest(0x0A, 0))
	require.Len(t, reply.Data, 2)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])

	reply = d.Dispatch(picmgRequest(0x0B, 0, 0x01, 0x00))
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
}

func TestPICMGCommandsRejectMissingIdentifier(t *testing.T) {
	d := NewDispatcher(nil)
	RegisterPICMGCommands(d, &fakeFRUActivation{}, &fakePowerLevel{}, LinkEnableController{})

	msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnPICMG, 0x0C, []byte{0x05, 3, 1})
	require.NoError(t, err)
	reply := d.Dispatch(msg)
	assert.Equal(t, byte(errcode.CompletionInvalidDataField), reply.Data[0])
}
