package gpudevice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceManagerClampsCapacity(t *testing.T) {
	assert.Equal(t, uint32(DefaultCapacity), clampCapacity(nil))

	tooSmall := uint32(10)
	assert.Equal(t, uint32(MinCapacity), clampCapacity(&tooSmall))

	tooBig := uint32(MaxCapacity) + 1
	assert.Equal(t, uint32(MaxCapacity), clampCapacity(&tooBig))

	exact := uint32(2_000_000)
	assert.Equal(t, exact, clampCapacity(&exact))
}

func TestResourceManagerNewAllocatesPersistentBuffers(t *testing.T) {
	hint := uint32(MinCapacity)
	rm, err := New(Options{CapacityHint: &hint, ArchiveDir: t.TempDir()})
	require.NoError(t, err)
	defer rm.Release()

	assert.Equal(t, hint, rm.Capacity())
	assert.Equal(t, uint64(4), rm.MatchCountBuffer().Size())
	assert.Equal(t, uint64(hint)*4, rm.PositionsBuffer().Size())

	rm.ResetMatchCount()
	assert.Equal(t, uint32(0), rm.MatchCountBuffer().ReadUint32(1)[0])
}

func TestResourceManagerOptimalStorageMode(t *testing.T) {
	hint := uint32(MinCapacity)
	rm, err := New(Options{CapacityHint: &hint, ArchiveDir: t.TempDir()})
	require.NoError(t, err)
	defer rm.Release()

	mode := rm.OptimalStorageMode()
	assert.Contains(t, []string{"shared", "managed"}, mode)
}
