package boot

import (
	"testing"

	"github.com/fennix-project/kernel/mem"
	"github.com/stretchr/testify/require"
)

func TestInitFrameConservation(t *testing.T) {
	bi := Info{
		Memory: []MemoryEntry{
			{Base: 0, Length: 0x200000, Type: Reserved},
			{Base: 0x200000, Length: 0x400000, Type: Usable},
		},
		KernelPhysicalBase: 0x200000,
		KernelSize:         0x100000,
	}
	phys := Init(bi)
	total := phys.Total()
	require.Equal(t, total, phys.Free()+phys.Used()+phys.Reserved())
	require.Greater(t, phys.Reserved(), uint32(0))
}

func TestInitReservesLow1MiB(t *testing.T) {
	bi := Info{
		Memory: []MemoryEntry{
			{Base: 0, Length: 0x400000, Type: Usable},
		},
	}
	phys := Init(bi)
	_, p_pmap, ok := phys.Pmap_new()
	require.True(t, ok)
	require.GreaterOrEqual(t, uint64(p_pmap), uint64(0x100000))
}
