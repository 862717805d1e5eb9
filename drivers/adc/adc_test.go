package adc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelMapsRawToEngineeringUnits(t *testing.T) {
	ch := NewChannel(func() (uint16, error) { return 2048, nil }, 0, 4095, 0, 3300, 1000)

	v, err := ch.Read()
	require.NoError(t, err)
	assert.InDelta(t, 1.65, v, 0.01)
}

func TestChannelDefaultsDivisorToOne(t *testing.T) {
	ch := NewChannel(func() (uint16, error) { return 4095, nil }, 0, 4095, 0, 100, 0)

	v, err := ch.Read()
	require.NoError(t, err)
	assert.Equal(t, float64(100), v)
}

func TestChannelPropagatesSourceError(t *testing.T) {
	ch := NewChannel(func() (uint16, error) { return 0, errors.New("bus fault") }, 0, 4095, 0, 100, 0)

	_, err := ch.Read()
	assert.Error(t, err)
}
