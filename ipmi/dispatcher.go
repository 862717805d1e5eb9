// Package ipmi implements the IPMI command dispatcher: a (netFn, cmd)
// keyed handler table that turns incoming ipmb.Message requests into
// replies, grounded on app.cpp's per-command registration idiom and
// ipmbsvc.h's IPMBSvc::IPMICommandParser lookup.
package ipmi

import (
	"ipmc-core/errcode"
	"ipmc-core/ipmb"
	"ipmc-core/logtree"
)

// NetFn values used by the commands this dispatcher implements.
const (
	NetFnApp     uint8 = 0x06
	NetFnSE      uint8 = 0x04 // Sensor/Event request NetFn; also carries Platform Event Message.
	NetFnStorage uint8 = 0x0A
	NetFnPICMG   uint8 = 0x2C
)

// PICMGIdentifier is the mandatory first data byte of every PICMG
// group-extension command.
const PICMGIdentifier = 0x00

// HandlerFunc processes one incoming request and returns the reply to
// transmit, or nil to silently drop it (matching ipmb.CommandHandler).
type HandlerFunc func(req *ipmb.Message) *ipmb.Message

func commandKey(netFn, cmd uint8) uint16 {
	return uint16(netFn)<<8 | uint16(cmd)
}

// Dispatcher routes incoming IPMB requests to registered handlers by
// (NetFn, Cmd), mirroring the original's static per-command
// registration macro with a Go map in place of its sorted std::map.
type Dispatcher struct {
	log      *logtree.LogTree
	handlers map[uint16]HandlerFunc
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(log *logtree.LogTree) *Dispatcher {
	return &Dispatcher{log: log, handlers: make(map[uint16]HandlerFunc)}
}

// Register binds a handler to (netFn, cmd), the request NetFn (even).
// Registering the same pair twice replaces the previous handler.
func (d *Dispatcher) Register(netFn, cmd uint8, h HandlerFunc) {
	d.handlers[commandKey(netFn, cmd)] = h
}

// Dispatch looks up and invokes the handler for req's (NetFn, Cmd),
// returning an "invalid command" completion reply if none is
// registered. It satisfies ipmb.CommandHandler.
func (d *Dispatcher) Dispatch(req *ipmb.Message) *ipmb.Message {
	h, ok := d.handlers[commandKey(req.NetFn, req.Cmd)]
	if !ok {
		if d.log != nil {
			d.log.Debugf("no handler for netfn %#02x cmd %#02x", req.NetFn, req.Cmd)
		}
		reply := req.PrepareReply()
		reply.Data = []byte{errcode.CompletionInvalidCommand}
		return reply
	}
	return h(req)
}
