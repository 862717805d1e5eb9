package ipmb

import (
	"sync"
	"time"

	"ipmc-core/errcode"
	"ipmc-core/logtree"
	"ipmc-core/statcounter"
	"ipmc-core/tick"
)

// MaxRetries bounds retransmissions per outgoing request after the
// first attempt, matching IPMBSvc::kMaxRetries. With retryDelay's
// schedule the retries can run longer than the 6 s outgoing
// sequence-number window below.
const MaxRetries = 10

// outgoingSeqTTL/incomingSeqTTL bound how long a used sequence number
// is remembered before it may be reused/relearned, in ticks.
const (
	outgoingSeqTTL = 6 * tick.TicksPerSecond
	incomingSeqTTL = 5 * tick.TicksPerSecond
)

// PhysicalBus is the minimum surface the transport needs from a
// physical IPMB bus: send a framed message and receive framed messages
// asynchronously. Production wires this atop a periph.io/x/conn I2C
// bus; tests use an in-memory fake.
type PhysicalBus interface {
	Send(frame []byte) error
	Receive() <-chan []byte
}

// seqKey packs remote address, NetFn, command, and sequence number
// into the composite key used by both sequence ledgers, matching
// IPMBSvc's documented "xxyyzzss" map key.
type seqKey uint32

func makeSeqKey(remoteAddr, netFn, cmd, seq uint8) seqKey {
	return seqKey(uint32(remoteAddr)<<24 | uint32(netFn)<<16 | uint32(cmd)<<8 | uint32(seq))
}

// ResponseCallback is invoked when a response to an outgoing request
// arrives, or with a nil response if delivery was ultimately aborted.
type ResponseCallback func(original, response *Message)

// CommandHandler dispatches an incoming request and returns the reply
// to transmit, or nil to send nothing (malformed/unroutable request).
type CommandHandler func(req *Message) *Message

type pendingMessage struct {
	msg        *Message
	cb         ResponseCallback
	retryCount uint8
	nextRetry  tick.AbsoluteTimeout
	useBusB    bool
}

// Transport is the dual-bus IPMB engine task: it owns sequence number
// assignment, duplicate detection, and retried delivery across two
// redundant physical buses, grounded on ipmbsvc.h.
type Transport struct {
	localAddr uint8
	busA      PhysicalBus
	busB      PhysicalBus
	handler   CommandHandler
	clock     tick.Source
	log       *logtree.LogTree

	statSendqHighWater      *statcounter.HighWater
	statMessagesReceived    *statcounter.Counter
	statMessagesDelivered   *statcounter.Counter
	statSendAttempts        *statcounter.Counter
	statSendFailures        *statcounter.Counter
	statNoAvailableSeq      *statcounter.Counter
	statUnexpectedReplies   *statcounter.Counter

	mu                 sync.Mutex
	outgoingSeqNumbers map[seqKey]tick.Tick
	incomingSeqNumbers map[seqKey]tick.Tick
	pending            []*pendingMessage

	sendCh chan *pendingMessage
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTransport constructs a dual-bus transport bound to localAddr.
// busB may be nil to run single-bus (degraded redundancy).
func NewTransport(localAddr uint8, busA, busB PhysicalBus, handler CommandHandler, clock tick.Source, log *logtree.LogTree) *Transport {
	name := "ipmb"
	return &Transport{
		localAddr:             localAddr,
		busA:                  busA,
		busB:                  busB,
		handler:                handler,
		clock:                  clock,
		log:                    log,
		statSendqHighWater:     statcounter.NewHighWater(name + ".sendq_highwater"),
		statMessagesReceived:   statcounter.New(name + ".messages_received"),
		statMessagesDelivered:  statcounter.New(name + ".messages_delivered"),
		statSendAttempts:       statcounter.New(name + ".send_attempts"),
		statSendFailures:       statcounter.New(name + ".send_failures"),
		statNoAvailableSeq:     statcounter.New(name + ".no_available_seq"),
		statUnexpectedReplies:  statcounter.New(name + ".unexpected_replies"),
		outgoingSeqNumbers:     make(map[seqKey]tick.Tick),
		incomingSeqNumbers:     make(map[seqKey]tick.Tick),
		sendCh:                 make(chan *pendingMessage, 32),
		stopCh:                 make(chan struct{}),
		doneCh:                 make(chan struct{}),
	}
}

// retryDelay returns the ticks to wait before the next retry, matching
// the schedule min(250, 1<<(6+retry)), doubling off a 64-tick base and
// capping at 2.5s.
func retryDelay(retry uint8) uint64 {
	shifted := uint64(1) << (6 + retry)
	if shifted > 250 {
		return 250
	}
	return shifted
}

// setSequenceLocked assigns the next unused sequence number (1-63 of
// IPMB's 6-bit field; zero is reserved) for msg's (remote addr, netfn,
// cmd) tuple, reporting false if the whole space is in flight. Caller
// holds t.mu.
func (t *Transport) setSequenceLocked(msg *Message, now tick.Tick) bool {
	for seq := uint8(1); seq < 64; seq++ {
		key := makeSeqKey(msg.RsSA, msg.NetFn, msg.Cmd, seq)
		if usedAt, ok := t.outgoingSeqNumbers[key]; ok {
			if uint64(now-usedAt) < outgoingSeqTTL {
				continue
			}
		}
		t.outgoingSeqNumbers[key] = now
		msg.RqSeq = seq
		return true
	}
	return false
}

// checkDuplicateLocked reports whether msg (an incoming request) has
// already been seen within the incoming TTL window, recording it
// either way. Caller holds t.mu.
func (t *Transport) checkDuplicateLocked(msg *Message, now tick.Tick) bool {
	key := makeSeqKey(msg.RqSA, msg.NetFn, msg.Cmd, msg.RqSeq)
	usedAt, ok := t.incomingSeqNumbers[key]
	t.incomingSeqNumbers[key] = now
	if !ok {
		return false
	}
	return uint64(now-usedAt) < incomingSeqTTL
}

// Send enqueues an outgoing message. Request messages (even NetFn)
// receive a freshly assigned sequence number and are retried up to
// MaxRetries times, alternating buses each attempt; response messages
// are transmitted once on busA with no sequencing or retry, since IPMI
// responses are never acknowledged.
func (t *Transport) Send(msg *Message, cb ResponseCallback) error {
	isRequest := msg.NetFn%2 == 0
	if !isRequest {
		return t.transmitOnce(msg, false)
	}

	t.mu.Lock()
	now := t.clock.Now()
	if !t.setSequenceLocked(msg, now) {
		t.mu.Unlock()
		t.statNoAvailableSeq.Incr()
		return errcode.New(errcode.HardwareError, "ipmb.send", "no available sequence number for this command")
	}
	pm := &pendingMessage{msg: msg, cb: cb, nextRetry: tick.FromRelative(now, 0)}
	t.pending = append(t.pending, pm)
	t.statSendqHighWater.Observe(uint64(len(t.pending)))
	t.mu.Unlock()

	select {
	case t.sendCh <- pm:
	default:
	}
	return nil
}

func (t *Transport) transmitOnce(msg *Message, useBusB bool) error {
	bus := t.busA
	if useBusB && t.busB != nil {
		bus = t.busB
	}
	t.statSendAttempts.Incr()
	if err := bus.Send(msg.Unparse()); err != nil {
		t.statSendFailures.Incr()
		return err
	}
	return nil
}

// Run drives the transport's single engine-task select loop until
// Stop is called.
func (t *Transport) Run() {
	defer close(t.doneCh)
	sweepTicker := time.NewTicker(50 * time.Millisecond)
	defer sweepTicker.Stop()

	var busBRecv <-chan []byte
	if t.busB != nil {
		busBRecv = t.busB.Receive()
	}

	for {
		select {
		case <-t.stopCh:
			return
		case pm := <-t.sendCh:
			_ = t.transmitOnce(pm.msg, pm.useBusB)
		case frame := <-t.busA.Receive():
			t.handleFrame(frame)
		case frame := <-busBRecv:
			t.handleFrame(frame)
		case <-sweepTicker.C:
			t.sweep()
		}
	}
}

// Stop halts the engine task started by Run.
func (t *Transport) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

func (t *Transport) handleFrame(frame []byte) {
	msg, err := ParseMessage(frame, t.localAddr)
	if err != nil {
		if t.log != nil {
			t.log.Warnf("dropping unparseable ipmb frame: %s", err)
		}
		return
	}
	t.statMessagesReceived.Incr()

	if msg.NetFn%2 == 1 {
		t.handleResponse(msg)
		return
	}
	t.handleRequest(msg)
}

func (t *Transport) handleResponse(msg *Message) {
	t.mu.Lock()
	var matched *pendingMessage
	for i, pm := range t.pending {
		if pm.msg.MatchReply(msg) {
			matched = pm
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	if matched == nil {
		t.statUnexpectedReplies.Incr()
		return
	}
	t.statMessagesDelivered.Incr()
	if matched.cb != nil {
		matched.cb(matched.msg, msg)
	}
}

func (t *Transport) handleRequest(msg *Message) {
	now := t.clock.Now()
	t.mu.Lock()
	duplicate := t.checkDuplicateLocked(msg, now)
	t.mu.Unlock()
	if duplicate {
		msg.Duplicate = true
	}
	if t.handler == nil {
		return
	}
	reply := t.handler(msg)
	if reply == nil {
		return
	}
	_ = t.transmitOnce(reply, false)
}

// sweep retries due pending requests (alternating bus each attempt)
// and abandons any that have exhausted MaxRetries.
func (t *Transport) sweep() {
	now := t.clock.Now()

	t.mu.Lock()
	var toRetry []*pendingMessage
	var abandoned []*pendingMessage
	remaining := t.pending[:0:0]
	for _, pm := range t.pending {
		if !pm.nextRetry.Expired(now) {
			remaining = append(remaining, pm)
			continue
		}
		if pm.retryCount >= MaxRetries {
			abandoned = append(abandoned, pm)
			continue
		}
		pm.retryCount++
		pm.useBusB = !pm.useBusB
		pm.nextRetry = tick.FromRelative(now, retryDelay(pm.retryCount))
		toRetry = append(toRetry, pm)
		remaining = append(remaining, pm)
	}
	t.pending = remaining
	t.mu.Unlock()

	for _, pm := range toRetry {
		_ = t.transmitOnce(pm.msg, pm.useBusB)
	}
	for _, pm := range abandoned {
		t.statSendFailures.Incr()
		if pm.cb != nil {
			pm.cb(pm.msg, nil)
		}
	}
}

// SendSync sends a request and blocks until its response arrives or
// timeoutTicks elapses, matching IPMBSvc::sendSync. Returns nil if
// delivery was aborted or the wait timed out.
func (t *Transport) SendSync(msg *Message, timeoutTicks uint64) *Message {
	respCh := make(chan *Message, 1)
	err := t.Send(msg, func(_, response *Message) {
		respCh <- response
	})
	if err != nil {
		return nil
	}

	var timer *time.Timer
	if timeoutTicks == tick.Forever {
		timer = time.NewTimer(time.Hour * 24 * 365)
	} else {
		timer = time.NewTimer(time.Duration(timeoutTicks) * time.Second / tick.TicksPerSecond)
	}
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp
	case <-timer.C:
		return nil
	}
}
