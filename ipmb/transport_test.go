package ipmb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipmc-core/logtree"
	"ipmc-core/tick"
)

type fakeClock struct{ now tick.Tick }

func (f *fakeClock) Now() tick.Tick { return f.now }

// fakeBus is an in-memory PhysicalBus: Send on one end appears on the
// paired fakeBus's Receive channel, letting tests wire two Transports
// back to back without real hardware.
type fakeBus struct {
	out  chan []byte
	peer *fakeBus
}

func newFakeBusPair() (*fakeBus, *fakeBus) {
	a := &fakeBus{out: make(chan []byte, 16)}
	b := &fakeBus{out: make(chan []byte, 16)}
	a.peer = b
	b.peer = a
	return a, b
}

func (b *fakeBus) Send(frame []byte) error {
	b.peer.out <- frame
	return nil
}

func (b *fakeBus) Receive() <-chan []byte { return b.out }

func TestMessageRoundTripsThroughTransportPair(t *testing.T) {
	busController, busSatellite := newFakeBusPair()
	clock := &fakeClock{}

	var handled *Message
	satelliteHandler := func(req *Message) *Message {
		handled = req
		reply := req.PrepareReply()
		reply.Data = []byte{0x00}
		return reply
	}

	controller := NewTransport(0x20, busController, nil, nil, clock, logtree.NewRoot("controller"))
	satellite := NewTransport(0x82, busSatellite, nil, satelliteHandler, clock, logtree.NewRoot("satellite"))

	go controller.Run()
	go satellite.Run()
	defer controller.Stop()
	defer satellite.Stop()

	req, err := NewMessage(0, 0x20, 0, 0x82, 0x06, 0x01, []byte{0xAA})
	require.NoError(t, err)

	resp := controller.SendSync(req, 2*tick.TicksPerSecond)
	require.NotNil(t, resp)
	require.NotNil(t, handled)
	assert.Equal(t, byte(0xAA), handled.Data[0])
	assert.Equal(t, byte(0x00), resp.Data[0])
}

func TestSendSyncTimesOutWithNoResponder(t *testing.T) {
	busA, busB := newFakeBusPair()
	_ = busB
	clock := &fakeClock{}
	transport := NewTransport(0x20, busA, nil, nil, clock, logtree.NewRoot("controller"))
	go transport.Run()
	defer transport.Stop()

	req, err := NewMessage(0, 0x20, 0, 0x82, 0x06, 0x01, nil)
	require.NoError(t, err)

	resp := transport.SendSync(req, 1)
	assert.Nil(t, resp)
}

func TestSetSequenceLockedExhaustionReportsFalse(t *testing.T) {
	busA, _ := newFakeBusPair()
	clock := &fakeClock{}
	transport := NewTransport(0x20, busA, nil, nil, clock, logtree.NewRoot("controller"))

	for seq := 0; seq < 64; seq++ {
		key := makeSeqKey(0x82, 0x06, 0x01, uint8(seq))
		transport.outgoingSeqNumbers[key] = 0
	}

	msg, err := NewMessage(0, 0x20, 0, 0x82, 0x06, 0x01, nil)
	require.NoError(t, err)
	ok := transport.setSequenceLocked(msg, 0)
	assert.False(t, ok)
}

func TestCheckDuplicateLockedDetectsRepeatWithinTTL(t *testing.T) {
	busA, _ := newFakeBusPair()
	clock := &fakeClock{}
	transport := NewTransport(0x82, busA, nil, nil, clock, logtree.NewRoot("satellite"))

	msg, err := NewMessage(0, 0x20, 0, 0x82, 0x06, 0x01, nil)
	require.NoError(t, err)
	msg.RqSeq = 3

	assert.False(t, transport.checkDuplicateLocked(msg, 0))
	assert.True(t, transport.checkDuplicateLocked(msg, 1))

	clock.now = incomingSeqTTL + 10
	assert.False(t, transport.checkDuplicateLocked(msg, clock.now))
}

func TestRetryDelaySchedule(t *testing.T) {
	assert.Equal(t, uint64(64), retryDelay(0))
	assert.Equal(t, uint64(128), retryDelay(1))
	assert.Equal(t, uint64(250), retryDelay(2))
	assert.Equal(t, uint64(250), retryDelay(9))
}

func TestSweepAbandonsAfterMaxRetries(t *testing.T) {
	busA, _ := newFakeBusPair()
	clock := &fakeClock{}
	transport := NewTransport(0x20, busA, nil, nil, clock, logtree.NewRoot("controller"))

	msg, err := NewMessage(0, 0x20, 0, 0x82, 0x06, 0x01, nil)
	require.NoError(t, err)

	cbCh := make(chan *Message, 1)
	err = transport.Send(msg, func(_, response *Message) { cbCh <- response })
	require.NoError(t, err)

	for i := 0; i <= MaxRetries; i++ {
		clock.now = tick.Tick(uint64(clock.now) + 300)
		transport.sweep()
	}

	select {
	case resp := <-cbCh:
		assert.Nil(t, resp)
	case <-time.After(time.Second):
		t.Fatal("expected abandonment callback")
	}
}
