package sdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAssignsSequentialRecordIDs(t *testing.T) {
	repo := NewRepository()
	a := NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	b := NewBlankRecord01(0x20, 0, 2, 0xA0, 0x01, 0x01, "TEMP2")

	idA, err := repo.Add(a, 0)
	require.NoError(t, err)
	idB, err := repo.Add(b, 0)
	require.NoError(t, err)

	assert.Equal(t, uint16(0), idA)
	assert.Equal(t, uint16(1), idB)
	assert.Equal(t, 2, repo.Size())
}

func TestAddReplacesSameKeyRecord(t *testing.T) {
	repo := NewRepository()
	a := NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	_, err := repo.Add(a, 0)
	require.NoError(t, err)

	a2 := NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1-RENAMED")
	_, err = repo.Add(a2, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.Size())
	got, err := repo.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, "TEMP1-RENAMED", got.(*Record01).IDString())
}

func TestMutationRejectedWithStaleReservation(t *testing.T) {
	repo := NewRepository()
	stale := repo.CurrentReservation()
	repo.Reserve() // invalidates `stale`

	a := NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	_, err := repo.Add(a, stale)
	assert.Error(t, err)
}

func TestOneShotReservationAlwaysSucceeds(t *testing.T) {
	repo := NewRepository()
	repo.Reserve()
	a := NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	_, err := repo.Add(a, 0)
	assert.NoError(t, err)
}

func TestRemoveRenumbersRemainingRecords(t *testing.T) {
	repo := NewRepository()
	a := NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	b := NewBlankRecord01(0x20, 0, 2, 0xA0, 0x01, 0x01, "TEMP2")
	_, _ = repo.Add(a, 0)
	idB, _ := repo.Add(b, 0)

	ok, err := repo.Remove(0, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, "TEMP2", got.(*Record01).IDString())
	_ = idB
}

func TestExportImportRoundTrip(t *testing.T) {
	src := NewRepository()
	a := NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	_, err := src.Add(a, 0)
	require.NoError(t, err)

	blob := src.U8Export()

	dst := NewRepository()
	require.NoError(t, dst.U8Import(blob, 0))
	assert.Equal(t, 1, dst.Size())
	got, err := dst.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, "TEMP1", got.(*Record01).IDString())
}

func TestU8ExportEmptyRepositoryIsNineZeroBytes(t *testing.T) {
	repo := NewRepository()
	blob := repo.U8Export()
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0}, blob)

	dst := NewRepository()
	require.NoError(t, dst.U8Import(blob, 0))
	assert.Equal(t, 0, dst.Size())
}

func TestU8ExportSingleRecordIncludesChecksumTimestampAndLengthPrefix(t *testing.T) {
	repo := NewRepository()
	rec := NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	_, err := repo.Add(rec, 0)
	require.NoError(t, err)

	blob := repo.U8Export()
	recBytes := repo.All()[0].Bytes()

	require.Len(t, blob, 1+8+1+len(recBytes))
	var sum byte
	for _, b := range blob {
		sum += b
	}
	assert.Equal(t, byte(0), sum)
	assert.Equal(t, byte(len(recBytes)), blob[9])
	assert.Equal(t, recBytes, blob[10:])
}

func TestU8ImportRejectsBadChecksum(t *testing.T) {
	blob := []byte{0x01, 0, 0, 0, 0, 0, 0, 0, 0}
	repo := NewRepository()
	assert.Error(t, repo.U8Import(blob, 0))
}

func TestRecord01LinearConversionRoundTrips(t *testing.T) {
	r := NewBlankRecord01(0x20, 0, 1, 0xA0, 0x01, 0x01, "TEMP1")
	value := r.ToFloat(100)
	assert.InDelta(t, 100.0, value, 0.001)
	assert.Equal(t, uint8(100), r.FromFloat(value))
}
