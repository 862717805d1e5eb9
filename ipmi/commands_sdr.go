package ipmi

import (
	"encoding/binary"
	"sync"

	"ipmc-core/errcode"
	"ipmc-core/ipmb"
	"ipmc-core/sdr"
)

// RegisterSDRCommands installs the SDR Repository (Storage-NetFn)
// commands this core implements, grounded on sensor_data_repository.h's
// reservation-protected mutation surface; the wire formats follow the
// IPMI 2.0 Storage-NetFn command table directly.
func RegisterSDRCommands(d *Dispatcher, repo *sdr.Repository) {
	d.Register(NetFnStorage, 0x20, handleGetSDRRepositoryInfo(repo))
	d.Register(NetFnStorage, 0x22, handleReserveSDRRepository(repo))
	d.Register(NetFnStorage, 0x23, handleGetSDR(repo))
	d.Register(NetFnStorage, 0x24, handleAddSDR(repo))
	d.Register(NetFnStorage, 0x25, handlePartialAddSDR(repo))
	d.Register(NetFnStorage, 0x26, handleDeleteSDR(repo))
	d.Register(NetFnStorage, 0x27, handleClearSDRRepository(repo))
}

func handleGetSDRRepositoryInfo(repo *sdr.Repository) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		data := make([]byte, 14)
		data[0] = errcode.CompletionSuccess
		data[1] = 0x51 // SDR version, BCD reverse nibbles (IPMI 2.0 "51h").
		binary.LittleEndian.PutUint16(data[2:4], uint16(repo.Size()))
		binary.LittleEndian.PutUint16(data[4:6], 0xFFFF) // free space: unspecified.
		ts := uint32(repo.LastUpdateTimestamp().Unix())
		binary.LittleEndian.PutUint32(data[6:10], ts)
		binary.LittleEndian.PutUint32(data[10:14], ts)
		reply.Data = data
		return reply
	}
}

func handleReserveSDRRepository(repo *sdr.Repository) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		res := repo.Reserve()
		reply.Data = []byte{errcode.CompletionSuccess, byte(res), byte(res >> 8)}
		return reply
	}
}

// handleGetSDR implements Get SDR for whole-record retrieval only
// (offset/bytes-to-read are honored by truncating the returned data,
// not by partial-record semantics), sufficient for the repository
// sizes this device carries.
func handleGetSDR(repo *sdr.Repository) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		if len(req.Data) < 6 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		reservation := sdr.Reservation(binary.LittleEndian.Uint16(req.Data[0:2]))
		recordID := binary.LittleEndian.Uint16(req.Data[2:4])
		offset := int(req.Data[4])
		bytesToRead := int(req.Data[5])

		record, err := repo.Get(recordID, reservation)
		if err != nil {
			reply.Data = []byte{errcode.CompletionCode(errcode.Of(err))}
			return reply
		}

		nextID := uint16(0xFFFF)
		for _, r := range repo.All() {
			if r.RecordID() == recordID+1 {
				nextID = recordID + 1
				break
			}
		}

		full := record.Bytes()
		if offset > len(full) {
			offset = len(full)
		}
		chunk := full[offset:]
		if bytesToRead != 0xFF && bytesToRead < len(chunk) {
			chunk = chunk[:bytesToRead]
		}

		data := make([]byte, 3+len(chunk))
		data[0] = errcode.CompletionSuccess
		binary.LittleEndian.PutUint16(data[1:3], nextID)
		copy(data[3:], chunk)
		reply.Data = data
		return reply
	}
}

func handleAddSDR(repo *sdr.Repository) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		record, err := sdr.Interpret(req.Data)
		if err != nil {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		id, err := repo.Add(record, 0)
		if err != nil {
			reply.Data = []byte{errcode.CompletionCode(errcode.Of(err))}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess, byte(id), byte(id >> 8)}
		return reply
	}
}

// partialAddInProgress values, per the request's in-progress byte:
// 0x00 starts a new record, 0x01 appends a middle chunk, 0x02 appends
// the final chunk and commits the assembled record to the repository.
const (
	partialAddFirst  = 0x00
	partialAddMiddle = 0x01
	partialAddLast   = 0x02
)

// handlePartialAddSDR implements Add SDR's chunked counterpart: the
// record is assembled across successive calls sharing a reservation,
// keyed by that reservation, and only committed to the repository on
// the last chunk. Non-final chunks report a placeholder record ID of
// 0000h, matching the IPMI 2.0 convention that the real ID is only
// meaningful once the record is complete.
func handlePartialAddSDR(repo *sdr.Repository) HandlerFunc {
	var mu sync.Mutex
	inProgress := map[sdr.Reservation][]byte{}

	return func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		if len(req.Data) < 6 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		reservation := sdr.Reservation(binary.LittleEndian.Uint16(req.Data[0:2]))
		offset := int(req.Data[4])
		status := req.Data[5]
		chunk := req.Data[6:]

		mu.Lock()
		defer mu.Unlock()

		buf := inProgress[reservation]
		if status == partialAddFirst {
			buf = nil
		}
		if offset+len(chunk) > len(buf) {
			grown := make([]byte, offset+len(chunk))
			copy(grown, buf)
			buf = grown
		}
		copy(buf[offset:], chunk)

		if status != partialAddLast {
			inProgress[reservation] = buf
			reply.Data = []byte{errcode.CompletionSuccess, 0x00, 0x00}
			return reply
		}
		delete(inProgress, reservation)

		record, err := sdr.Interpret(buf)
		if err != nil {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		id, err := repo.Add(record, reservation)
		if err != nil {
			reply.Data = []byte{errcode.CompletionCode(errcode.Of(err))}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess, byte(id), byte(id >> 8)}
		return reply
	}
}

func handleDeleteSDR(repo *sdr.Repository) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		if len(req.Data) < 4 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		reservation := sdr.Reservation(binary.LittleEndian.Uint16(req.Data[0:2]))
		recordID := binary.LittleEndian.Uint16(req.Data[2:4])
		ok, err := repo.Remove(recordID, reservation)
		if err != nil {
			reply.Data = []byte{errcode.CompletionCode(errcode.Of(err))}
			return reply
		}
		if !ok {
			reply.Data = []byte{errcode.CompletionParamOutOfRange}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess, byte(recordID), byte(recordID >> 8)}
		return reply
	}
}

func handleClearSDRRepository(repo *sdr.Repository) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply := req.PrepareReply()
		if len(req.Data) < 3 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		reservation := sdr.Reservation(binary.LittleEndian.Uint16(req.Data[0:2]))
		if req.Data[2] != 0xAA {
			// "Get status" sub-command: report completion, not erasure.
			reply.Data = []byte{errcode.CompletionSuccess, 0x01}
			return reply
		}
		if err := repo.Clear(reservation); err != nil {
			reply.Data = []byte{errcode.CompletionCode(errcode.Of(err))}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess, 0x01}
		return reply
	}
}
