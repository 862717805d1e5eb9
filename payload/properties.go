package payload

// PowerProperties is a FRU's PICMG power-negotiation state, matching
// payload_manager.h's PowerProperties (table 3-82 fields plus the
// selectable power-level arrays).
type PowerProperties struct {
	// SpannedSlots is the number of ATCA/AMC slots this board spans.
	SpannedSlots uint8
	// ControllerLocation is the slot (0=left) carrying the IPM
	// connector.
	ControllerLocation uint8
	// DynamicReconfiguration is true if payload service continues
	// uninterrupted while power levels are reconfigured.
	DynamicReconfiguration bool

	CurrentPowerLevel uint8
	DesiredPowerLevel uint8

	DelayToStablePower          uint8
	RemainingDelayToStablePower uint8

	// PowerMultiplier scales PowerLevels/EarlyPowerLevels into watts.
	PowerMultiplier uint8

	// PowerLevels and EarlyPowerLevels are up to 20 monotonically
	// increasing entries, indexed 1-based by SetPowerLevel (0 means no
	// payload power).
	PowerLevels      []uint8
	EarlyPowerLevels []uint8
}

// clone returns an independent copy, since PowerLevels/EarlyPowerLevels
// are slices and callers must not observe mutation through a shared
// backing array.
func (p PowerProperties) clone() PowerProperties {
	c := p
	c.PowerLevels = append([]uint8(nil), p.PowerLevels...)
	c.EarlyPowerLevels = append([]uint8(nil), p.EarlyPowerLevels...)
	return c
}
