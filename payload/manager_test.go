package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipmc-core/ipmi"
	"ipmc-core/mz"
	"ipmc-core/mzhw"
	"ipmc-core/sdr"
	"ipmc-core/sensor"
	"ipmc-core/tick"
)

type fakeClock struct{ now tick.Tick }

func (f *fakeClock) Now() tick.Tick { return f.now }

type fakeNotifier struct {
	activated   []uint8
	deactivated []uint8
}

func (n *fakeNotifier) ActivationComplete(fru uint8)   { n.activated = append(n.activated, fru) }
func (n *fakeNotifier) DeactivationComplete(fru uint8) { n.deactivated = append(n.deactivated, fru) }

func newTestManager(clock *fakeClock) (*Manager, *mzhw.FakeRegisters) {
	regs := mzhw.NewFakeRegisters()
	zones := mz.NewController(regs, nil)
	m := NewManager(zones, nil, 0x20, 0x82, clock, nil)
	return m, regs
}

func twoZoneFRU(fru uint8) FRUConfig {
	return FRUConfig{
		FRU: fru,
		Properties: PowerProperties{
			PowerLevels: []uint8{5, 10},
		},
		// Root-first on, leaf-first off: zone 0 is the root (e.g. ETH),
		// zone 1 the leaf (e.g. ELM), matching spec.md's scenario 6.
		PowerOnSequence:  []ZoneStep{{Zone: 0, DelayTicks: 40}, {Zone: 1, DelayTicks: 50}},
		PowerOffSequence: []ZoneStep{{Zone: 1, DelayTicks: 50}, {Zone: 0, DelayTicks: 40}},
	}
}

func TestSetPowerLevelOutOfRangeIsDomainError(t *testing.T) {
	clock := &fakeClock{}
	m, _ := newTestManager(clock)
	m.ConfigureFRU(twoZoneFRU(0))

	err := m.SetPowerLevel(0, 5)
	assert.Error(t, err)
}

func TestSetPowerLevelUnknownFRU(t *testing.T) {
	clock := &fakeClock{}
	m, _ := newTestManager(clock)
	err := m.SetPowerLevel(9, 1)
	assert.Error(t, err)
}

func TestPowerOffSequenceDrivesLeafFirstThenNotifies(t *testing.T) {
	clock := &fakeClock{}
	m, regs := newTestManager(clock)
	m.ConfigureFRU(twoZoneFRU(0))
	notifier := &fakeNotifier{}
	m.SetNotifier(notifier)

	// Bring both zones on directly via the fake so power-off has
	// something to turn off.
	regs.StartPowerOnSequence(0)
	regs.CompleteTransition(0)
	regs.StartPowerOnSequence(1)
	regs.CompleteTransition(1)

	require.NoError(t, m.SetPowerLevel(0, 1))
	m.Tick(clock.now)
	// The power-on step restarted zone 0's sequence; the fake holds it
	// in transition until told the hardware has finished.
	regs.CompleteTransition(0)
	props, err := m.GetPowerProperties(0, false)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), props.DesiredPowerLevel)

	require.NoError(t, m.SetPowerLevel(0, 0))
	// Step 0 (zone 1) fires immediately.
	assert.Equal(t, mzhw.PowerTransOff, regs.ZoneStatus(1))
	assert.Equal(t, mzhw.PowerOn, regs.ZoneStatus(0))

	clock.now = tick.Tick(30)
	m.Tick(clock.now)
	// Deadline (50) not yet reached: zone 0 untouched.
	assert.Equal(t, mzhw.PowerOn, regs.ZoneStatus(0))
	assert.Empty(t, notifier.deactivated)

	clock.now = tick.Tick(50)
	m.Tick(clock.now)
	assert.Equal(t, mzhw.PowerTransOff, regs.ZoneStatus(0))
	assert.Empty(t, notifier.deactivated)

	clock.now = tick.Tick(90)
	m.Tick(clock.now)
	require.Len(t, notifier.deactivated, 1)
	assert.Equal(t, uint8(0), notifier.deactivated[0])

	props, err = m.GetPowerProperties(0, false)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), props.CurrentPowerLevel)
	assert.Equal(t, uint8(0), props.RemainingDelayToStablePower)
}

func TestUpdateLinkEnableUpsertsByIdentity(t *testing.T) {
	clock := &fakeClock{}
	m, _ := newTestManager(clock)

	d := LinkDescriptor{ChannelID: 1, InterfaceID: InterfaceFabric, LinkType: 2, State: true}
	m.UpdateLinkEnable(d)
	require.Len(t, m.Links(), 1)

	d.State = false
	m.UpdateLinkEnable(d)
	links := m.Links()
	require.Len(t, links, 1)
	assert.False(t, links[0].State)
}

type fakeADCReader struct {
	value float64
	err   error
}

func (r *fakeADCReader) Read() (float64, error) { return r.value, r.err }

func TestRefreshOnceSkipsOutOfContextSensor(t *testing.T) {
	clock := &fakeClock{}
	m, regs := newTestManager(clock)

	sen := sensor.New([]byte{0x20, 0, 7}, nil, clock)
	rec := sdr.NewBlankRecord01(0x20, 0, 7, 0x01, 0x02, ipmi.ReadingTypeThreshold, "")
	sen.UpdateThresholdsFromSDR(rec)
	sen.SetThreshold(sdr.ThresholdUNC, 50)

	reader := &fakeADCReader{value: 60}
	m.RegisterADCSensor("vmon", reader, 2, sen, 0x02, ipmi.ReadingTypeThreshold)

	// Zone 2 never configured/powered: sensor stays out of context, so
	// no event should latch even though 60 > UNC(50).
	m.RefreshOnce(tick.Tick(0))
	snap := sen.Value(tick.Tick(0))
	assert.Zero(t, snap.ActiveEvents)

	regs.StartPowerOnSequence(2)
	regs.CompleteTransition(2)
	m.RefreshOnce(tick.Tick(1))
	snap = sen.Value(tick.Tick(1))
	assert.NotZero(t, snap.ActiveEvents&sensor.UNCGoingHigh)
}
