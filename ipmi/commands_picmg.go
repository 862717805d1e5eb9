package ipmi

import (
	"ipmc-core/errcode"
	"ipmc-core/ipmb"
)

// FRUActivationController is the subset of mstate.Machine the PICMG
// commands need: the hot-swap lifecycle transitions driving and
// reporting FRU activation.
type FRUActivationController interface {
	RequestActivation(fru uint8) error
	RequestDeactivation(fru uint8) error
}

// PowerLevelController is the subset of payload.Manager the PICMG Get
// Power Level / Set Power Level commands need.
type PowerLevelController interface {
	SetPowerLevel(fru, level uint8) error
	GetPowerProperties(fru uint8, recompute bool) (PowerProperties, error)
}

// PowerProperties mirrors payload.PowerProperties' wire-relevant
// fields, kept here rather than imported to avoid ipmi depending on
// payload (payload already depends on ipmi for PlatformEventMessage).
type PowerProperties struct {
	DesiredPowerLevel           uint8
	CurrentPowerLevel           uint8
	DelayToStablePower          uint8
	RemainingDelayToStablePower uint8
}

// LinkEnableController is the subset of payload.Manager the E-Keying
// Set/Get Port State commands need.
type LinkEnableController struct {
	Update func(channelID, interfaceID, linkType, linkTypeExt, linkGroupID, portFlags uint8, state bool)
	Get    func() []LinkState
}

// LinkState is one E-Keying link's current enable state, as reported
// by Get Port State.
type LinkState struct {
	ChannelID     uint8
	InterfaceID   uint8
	LinkType      uint8
	LinkTypeExt   uint8
	LinkGroupID   uint8
	PortFlags     uint8
	State         bool
}

// RegisterPICMGCommands installs the PICMG (group extension 2Ch)
// commands this core implements: FRU Control, Set FRU Activation,
// Set/Get FRU Activation Policy, Get/Set Power Level, Compute Power, and a
// minimal E-Keying Get/Set Port State, grounded on the command set
// payload_manager.h's PayloadManager exists to back. Get FRU LED
// State/Properties and the OEM GUID side of E-Keying are out of
// scope.
func RegisterPICMGCommands(d *Dispatcher, fru FRUActivationController, power PowerLevelController, links LinkEnableController) {
	d.Register(NetFnPICMG, 0x02, handleFRUControl())
	d.Register(NetFnPICMG, 0x0B, handleSetFRUActivationPolicy())
	d.Register(NetFnPICMG, 0x0A, handleGetFRUActivationPolicy())
	d.Register(NetFnPICMG, 0x0C, handleSetFRUActivation(fru))
	d.Register(NetFnPICMG, 0x19, handleGetPowerLevel(power))
	d.Register(NetFnPICMG, 0x11, handleSetPowerLevel(power))
	d.Register(NetFnPICMG, 0x10, handleComputePower(power))
	d.Register(NetFnPICMG, 0x0E, handleSetPortState(links))
	d.Register(NetFnPICMG, 0x0D, handleGetPortState(links))
}

func withPICMGIdentifier(req *ipmb.Message) (*ipmb.Message, []byte, bool) {
	reply := req.PrepareReply()
	if len(req.Data) < 1 || req.Data[0] != PICMGIdentifier {
		reply.Data = []byte{errcode.CompletionInvalidDataField}
		return reply, nil, false
	}
	return reply, req.Data[1:], true
}

// handleFRUControl implements the 0x02 FRU Control command; this core
// has no independent reset/quiesce path beyond the hot-swap and power
// sequencing already driven by Set FRU Activation, so every control
// option reports success without further action, matching a
// single-board target with no discrete reset line to pulse.
func handleFRUControl() HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, body, ok := withPICMGIdentifier(req)
		if !ok {
			return reply
		}
		if len(body) < 2 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess}
		return reply
	}
}

func handleSetFRUActivation(fru FRUActivationController) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, body, ok := withPICMGIdentifier(req)
		if !ok {
			return reply
		}
		if len(body) < 2 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		fruID, activate := body[0], body[1]
		var err error
		if activate != 0 {
			err = fru.RequestActivation(fruID)
		} else {
			err = fru.RequestDeactivation(fruID)
		}
		if err != nil {
			reply.Data = []byte{errcode.CompletionCode(errcode.Of(err))}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess}
		return reply
	}
}

// handleGetFRUActivationPolicy and handleSetFRUActivationPolicy report
// and accept the "locked"/"deactivation-locked" policy bits. This core
// never auto-deactivates a FRU nor locks activation, so the policy is
// always reported clear and writes are accepted as no-ops, matching a
// shelf with no independent activation lock to enforce.
func handleGetFRUActivationPolicy() HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, body, ok := withPICMGIdentifier(req)
		if !ok {
			return reply
		}
		if len(body) < 1 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess, 0x00}
		return reply
	}
}

func handleSetFRUActivationPolicy() HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, body, ok := withPICMGIdentifier(req)
		if !ok {
			return reply
		}
		if len(body) < 3 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess}
		return reply
	}
}

func handleGetPowerLevel(power PowerLevelController) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, body, ok := withPICMGIdentifier(req)
		if !ok {
			return reply
		}
		if len(body) < 2 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		props, err := power.GetPowerProperties(body[0], true)
		if err != nil {
			reply.Data = []byte{errcode.CompletionCode(errcode.Of(err))}
			return reply
		}
		level := props.CurrentPowerLevel
		if body[1] == 0x01 { // present/desired selector: 1 reports desired.
			level = props.DesiredPowerLevel
		}
		reply.Data = []byte{
			errcode.CompletionSuccess,
			PICMGIdentifier,
			props.DelayToStablePower,
			props.RemainingDelayToStablePower,
			level,
		}
		return reply
	}
}

func handleSetPowerLevel(power PowerLevelController) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, body, ok := withPICMGIdentifier(req)
		if !ok {
			return reply
		}
		if len(body) < 2 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		if err := power.SetPowerLevel(body[0], body[1]); err != nil {
			reply.Data = []byte{errcode.CompletionCode(errcode.Of(err))}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess}
		return reply
	}
}

// handleComputePower implements Compute Power Properties: it forces
// the Payload Manager to recompute a FRU's power properties against
// the current link/power-level configuration, ahead of a subsequent
// Get Power Level call, matching the PICMG 3.0 negotiation sequence.
// It carries no response data of its own beyond completion and the
// identifier.
func handleComputePower(power PowerLevelController) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, body, ok := withPICMGIdentifier(req)
		if !ok {
			return reply
		}
		if len(body) < 1 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		if _, err := power.GetPowerProperties(body[0], true); err != nil {
			reply.Data = []byte{errcode.CompletionCode(errcode.Of(err))}
			return reply
		}
		reply.Data = []byte{errcode.CompletionSuccess, PICMGIdentifier}
		return reply
	}
}

// handleSetPortState and handleGetPortState implement the minimal
// E-Keying link-enable exchange: the full Compute Power/OEM GUID
// negotiation this command family can carry is out of scope, leaving
// only the enable/disable-by-identity bookkeeping payload.Manager
// already performs.
func handleSetPortState(links LinkEnableController) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, body, ok := withPICMGIdentifier(req)
		if !ok {
			return reply
		}
		if len(body) < 6 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		channelID, interfaceID, linkType, linkTypeExt, linkGroupID, portFlags := body[0], body[1], body[2], body[3], body[4], body[5]
		state := portFlags&0x01 != 0
		if links.Update != nil {
			links.Update(channelID, interfaceID, linkType, linkTypeExt, linkGroupID, portFlags, state)
		}
		reply.Data = []byte{errcode.CompletionSuccess}
		return reply
	}
}

func handleGetPortState(links LinkEnableController) HandlerFunc {
	return func(req *ipmb.Message) *ipmb.Message {
		reply, body, ok := withPICMGIdentifier(req)
		if !ok {
			return reply
		}
		if len(body) < 1 {
			reply.Data = []byte{errcode.CompletionInvalidDataField}
			return reply
		}
		channelID := body[0]
		var found *LinkState
		if links.Get != nil {
			for _, l := range links.Get() {
				l := l
				if l.ChannelID == channelID {
					found = &l
					break
				}
			}
		}
		if found == nil {
			reply.Data = []byte{errcode.CompletionRequestedDataAbsent}
			return reply
		}
		flags := found.PortFlags &^ 0x01
		if found.State {
			flags |= 0x01
		}
		reply.Data = []byte{
			errcode.CompletionSuccess,
			PICMGIdentifier,
			found.ChannelID,
			found.InterfaceID,
			found.LinkType,
			found.LinkTypeExt,
			found.LinkGroupID,
			flags,
		}
		return reply
	}
}
