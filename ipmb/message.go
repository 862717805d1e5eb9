// Package ipmb implements the IPMB wire message format and the dual-bus
// transport engine: checksums, broadcast framing, sequence-numbered
// request/response matching with retry, grounded on IPMI_MSG.cpp and
// ipmbsvc.h.
package ipmb

import "fmt"

// MaxDataLen is the largest data payload a single IPMB message frame
// carries, matching IPMI_MSG::max_data_len.
const MaxDataLen = 32

// Message is a parsed IPMB request or response frame.
type Message struct {
	RsSA      uint8
	NetFn     uint8
	RsLUN     uint8
	RqSA      uint8
	RqSeq     uint8
	RqLUN     uint8
	Cmd       uint8
	Data      []byte
	Broadcast bool
	Duplicate bool
}

// NewMessage builds a message with the given addressing and command,
// mirroring the IPMI_MSG(rqLUN, rqSA, rsLUN, rsSA, netFn, cmd, data)
// constructor.
func NewMessage(rqLUN, rqSA, rsLUN, rsSA, netFn, cmd uint8, data []byte) (*Message, error) {
	if len(data) > MaxDataLen {
		return nil, fmt.Errorf("ipmb: only up to %d bytes of message data are supported", MaxDataLen)
	}
	d := make([]byte, len(data))
	copy(d, data)
	return &Message{RqLUN: rqLUN, RqSA: rqSA, RsLUN: rsLUN, RsSA: rsSA, NetFn: netFn, Cmd: cmd, Data: d}, nil
}

// checksum is the IPMI/SMBus checksum: the two's complement of the
// byte sum, chosen so that summing data+checksum together is zero.
func checksum(buf []byte) byte {
	var sum byte
	for _, b := range buf {
		sum += b
	}
	return byte(-int8(sum))
}

// ParseMessage parses a raw IPMB frame addressed to localAddr,
// matching IPMI_MSG::parse_message. The frame carries no rsSA byte, so
// RsSA is taken to be localAddr; a response parses into the same
// addressing fields PrepareReply gave it on the sending side.
func ParseMessage(raw []byte, localAddr uint8) (*Message, error) {
	m := &Message{RsSA: localAddr}
	if len(raw) > 0 && raw[0] == 0 {
		// Broadcast Message: strip the leading 0x00, per IPMI2 spec
		// Figure 20-1.
		m.Broadcast = true
		raw = raw[1:]
	}
	if len(raw) < 6 {
		return nil, fmt.Errorf("ipmb: frame too short (%d bytes)", len(raw))
	}

	m.NetFn = raw[0] >> 2
	m.RsLUN = raw[0] & 0x03
	m.RqSA = raw[2]
	m.RqSeq = raw[3] >> 2
	m.RqLUN = raw[3] & 0x03
	m.Cmd = raw[4]
	m.Data = append([]byte(nil), raw[5:len(raw)-1]...)

	hdrSum := []byte{localAddr, raw[0], raw[1]}
	if checksum(hdrSum) != 0 {
		return nil, fmt.Errorf("ipmb: header checksum invalid")
	}
	if checksum(raw[2:]) != 0 {
		return nil, fmt.Errorf("ipmb: body checksum invalid")
	}
	return m, nil
}

// Unparse formats the message into a raw IPMB frame ready for
// transmission, matching IPMI_MSG::unparse_message.
func (m *Message) Unparse() []byte {
	buf := make([]byte, 6+len(m.Data))
	buf[0] = (m.NetFn << 2) | (m.RsLUN & 0x03)
	buf[1] = checksum([]byte{m.RsSA, buf[0]})
	buf[2] = m.RqSA
	buf[3] = (m.RqSeq << 2) | (m.RqLUN & 0x03)
	buf[4] = m.Cmd
	copy(buf[5:], m.Data)
	buf[5+len(m.Data)] = checksum(buf[2:5+len(m.Data)])
	return buf
}

// PrepareReply returns a fresh Message addressed back to this
// message's originator, with the response NetFn bit set and the
// request sequence preserved, matching IPMI_MSG::prepare_reply. The
// caller fills in Cmd's response data.
func (m *Message) PrepareReply() *Message {
	return &Message{
		RsSA:  m.RqSA,
		RqSA:  m.RsSA,
		RsLUN: m.RqLUN,
		RqLUN: m.RsLUN,
		NetFn: m.NetFn | 1,
		Cmd:   m.Cmd,
		RqSeq: m.RqSeq,
	}
}

// Match reports whether two messages have identical header fields
// (same request, resent or duplicated), matching IPMI_MSG::match.
func (m *Message) Match(other *Message) bool {
	return m.RqSA == other.RqSA &&
		m.RsSA == other.RsSA &&
		m.RqLUN == other.RqLUN &&
		m.RsLUN == other.RsLUN &&
		m.RqSeq == other.RqSeq &&
		m.NetFn == other.NetFn &&
		m.Cmd == other.Cmd
}

// MatchReply reports whether response is the reply to this request,
// matching IPMI_MSG::match_reply.
func (m *Message) MatchReply(response *Message) bool {
	return m.RqSA == response.RsSA &&
		m.RsSA == response.RqSA &&
		m.RqLUN == response.RsLUN &&
		m.RsLUN == response.RqLUN &&
		m.RqSeq == response.RqSeq &&
		m.NetFn == response.NetFn&0xFE &&
		m.Cmd == response.Cmd
}

// Format renders the message for log output, e.g. "0.20 -> 1.82:
// 06.01 (seq 05) [aa bb cc]".
func (m *Message) Format() string {
	dataHex := ""
	for i, b := range m.Data {
		if i > 0 {
			dataHex += " "
		}
		dataHex += fmt.Sprintf("%02x", b)
	}
	arrow := " -> "
	if m.Broadcast {
		arrow = " -> *"
	}
	return fmt.Sprintf("%d.%02x%s%d.%02x: %02x.%02x (seq %02x) [%s]",
		m.RqLUN, m.RqSA, arrow, m.RsLUN, m.RsSA, m.NetFn, m.Cmd, m.RqSeq, dataHex)
}
