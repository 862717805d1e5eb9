package payload

// LinkDescriptor is one E-Keying link record, following the structure
// of PICMG 3.0 Table 3-50 (payload_manager.h's LinkDescriptor, stripped
// of its OEM-GUID registration machinery, which this core does not
// need).
type LinkDescriptor struct {
	ChannelID         uint8
	InterfaceID       uint8 // 0=Base, 1=Fabric, 2=Update Channel, 3=Reserved
	LinkType          uint8
	LinkTypeExtension uint8
	LinkGroupID       uint8
	PortFlags         uint8 // bit N set = port N included
	State             bool  // enabled status of this link
}

const (
	InterfaceBase          uint8 = 0
	InterfaceFabric        uint8 = 1
	InterfaceUpdateChannel uint8 = 2
	InterfaceReserved      uint8 = 3
)

// Bytes encodes the descriptor into its 4-byte wire form.
func (d LinkDescriptor) Bytes() [4]byte {
	return [4]byte{
		d.PortFlags,
		(d.InterfaceID&0x03)<<6 | (d.ChannelID & 0x0F),
		d.LinkType,
		(d.LinkGroupID&0x0F)<<4 | (d.LinkTypeExtension & 0x0F),
	}
}

// ParseLinkDescriptor decodes a 4-byte wire descriptor, with its
// enabled state supplied separately since that bit travels outside the
// descriptor bytes in the Set Port State command.
func ParseLinkDescriptor(b [4]byte, state bool) LinkDescriptor {
	return LinkDescriptor{
		PortFlags:         b[0],
		InterfaceID:       (b[1] >> 6) & 0x03,
		ChannelID:         b[1] & 0x0F,
		LinkType:          b[2],
		LinkGroupID:       (b[3] >> 4) & 0x0F,
		LinkTypeExtension: b[3] & 0x0F,
		State:             state,
	}
}

// sameLink reports whether a and b identify the same link (ignoring
// State), matching LinkDescriptor::operator== restricted to the
// identifying fields.
func sameLink(a, b LinkDescriptor) bool {
	return a.ChannelID == b.ChannelID &&
		a.InterfaceID == b.InterfaceID &&
		a.LinkType == b.LinkType &&
		a.LinkTypeExtension == b.LinkTypeExtension &&
		a.LinkGroupID == b.LinkGroupID &&
		a.PortFlags == b.PortFlags
}
