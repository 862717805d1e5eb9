package ipmi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipmc-core/errcode"
	"ipmc-core/ipmb"
	"ipmc-core/sdr"
)

func TestGetSDRRepositoryInfoReportsSize(t *testing.T) {
	repo := sdr.NewRepository()
	_, err := repo.Add(sdr.NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1"), 0)
	require.NoError(t, err)

	d := NewDispatcher(nil)
	RegisterSDRCommands(d, repo)

	msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnStorage, 0x20, nil)
	require.NoError(t, err)
	reply := d.Dispatch(msg)
	require.Len(t, reply.Data, 14)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(reply.Data[2:4]))
}

func TestGetSDRRoundTripsWholeRecord(t *testing.T) {
	repo := sdr.NewRepository()
	rec := sdr.NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	id, err := repo.Add(rec, 0)
	require.NoError(t, err)

	d := NewDispatcher(nil)
	RegisterSDRCommands(d, repo)

	reqData := make([]byte, 6)
	binary.LittleEndian.PutUint16(reqData[0:2], 0)
	binary.LittleEndian.PutUint16(reqData[2:4], id)
	reqData[4] = 0
	reqData[5] = 0xFF
	msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnStorage, 0x23, reqData)
	require.NoError(t, err)

	reply := d.Dispatch(msg)
	require.True(t, len(reply.Data) > 3)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
	got, err := repo.Get(id, 0)
	require.NoError(t, err)
	assert.Equal(t, got.Bytes(), reply.Data[3:])
}

func TestPartialAddSDRAssemblesRecordAcrossChunks(t *testing.T) {
	repo := sdr.NewRepository()
	d := NewDispatcher(nil)
	RegisterSDRCommands(d, repo)

	reserveMsg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnStorage, 0x22, nil)
	require.NoError(t, err)
	reservation := binary.LittleEndian.Uint16(d.Dispatch(reserveMsg).Data[1:3])

	full := sdr.NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1").Bytes()
	split := len(full) / 2

	chunk := func(offset int, status byte, data []byte) *ipmb.Message {
		body := make([]byte, 6+len(data))
		binary.LittleEndian.PutUint16(body[0:2], reservation)
		binary.LittleEndian.PutUint16(body[2:4], 0)
		body[4] = byte(offset)
		body[5] = status
		copy(body[6:], data)
		msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnStorage, 0x25, body)
		require.NoError(t, err)
		return msg
	}

	firstReply := d.Dispatch(chunk(0, partialAddFirst, full[:split]))
	require.Equal(t, byte(errcode.CompletionSuccess), firstReply.Data[0])
	assert.Equal(t, 0, repo.Size())

	lastReply := d.Dispatch(chunk(split, partialAddLast, full[split:]))
	require.Equal(t, byte(errcode.CompletionSuccess), lastReply.Data[0])
	assert.Equal(t, 1, repo.Size())

	got, err := repo.Get(binary.LittleEndian.Uint16(lastReply.Data[1:3]), 0)
	require.NoError(t, err)
	assert.Equal(t, full, got.Bytes())
}

func TestReserveThenDeleteSDR(t *testing.T) {
	repo := sdr.NewRepository()
	rec := sdr.NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	id, err := repo.Add(rec, 0)
	require.NoError(t, err)

	d := NewDispatcher(nil)
	RegisterSDRCommands(d, repo)

	reserveMsg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnStorage, 0x22, nil)
	require.NoError(t, err)
	reserveReply := d.Dispatch(reserveMsg)
	reservation := binary.LittleEndian.Uint16(reserveReply.Data[1:3])

	delData := make([]byte, 4)
	binary.LittleEndian.PutUint16(delData[0:2], reservation)
	binary.LittleEndian.PutUint16(delData[2:4], id)
	delMsg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnStorage, 0x26, delData)
	require.NoError(t, err)
	delReply := d.Dispatch(delMsg)
	assert.Equal(t, byte(errcode.CompletionSuccess), delReply.Data[0])
	assert.Equal(t, 0, repo.Size())
}

func TestClearSDRRepositoryRequiresEraseSubcommand(t *testing.T) {
	repo := sdr.NewRepository()
	_, err := repo.Add(sdr.NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1"), 0)
	require.NoError(t, err)

	d := NewDispatcher(nil)
	RegisterSDRCommands(d, repo)

	reserveMsg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnStorage, 0x22, nil)
	require.NoError(t, err)
	reservation := binary.LittleEndian.Uint16(d.Dispatch(reserveMsg).Data[1:3])

	data := make([]byte, 3)
	binary.LittleEndian.PutUint16(data[0:2], reservation)
	data[2] = 0xAA
	msg, err := ipmb.NewMessage(0, 0x72, 0, 0x20, NetFnStorage, 0x27, data)
	require.NoError(t, err)
	reply := d.Dispatch(msg)
	assert.Equal(t, byte(errcode.CompletionSuccess), reply.Data[0])
	assert.Equal(t, 0, repo.Size())
}
