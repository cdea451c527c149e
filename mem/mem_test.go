package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameConservationInvariant(t *testing.T) {
	phys := Phys_init(0, 256, 0, Pa_t(16*PGSIZE))
	require.Equal(t, uint32(256), phys.Total())
	require.Equal(t, uint32(16), phys.Reserved())
	require.Equal(t, phys.Total(), phys.Free()+phys.Used()+phys.Reserved())

	_, pa, ok := phys.Refpg_new()
	require.True(t, ok)
	require.Equal(t, phys.Total(), phys.Free()+phys.Used()+phys.Reserved())

	phys.Refdown(pa)
	require.Equal(t, phys.Total(), phys.Free()+phys.Used()+phys.Reserved())
}

func TestReserveRangeAndUnreserveRange(t *testing.T) {
	phys := Phys_init(0, 256, 0, 0)
	before := phys.Free()

	phys.ReserveRange(0, Pa_t(10*PGSIZE))
	require.Equal(t, before-10, phys.Free())
	require.Equal(t, uint32(10), phys.Reserved())

	phys.UnreserveRange(0, Pa_t(10*PGSIZE))
	require.Equal(t, before, phys.Free())
	require.Equal(t, uint32(0), phys.Reserved())
}

func TestRefupRefdownSharedPage(t *testing.T) {
	phys := Phys_init(0, 256, 0, 0)
	pg, pa, ok := phys.Refpg_new_nozero()
	require.True(t, ok)
	_ = pg

	phys.Refup(pa)
	phys.Refup(pa)
	require.Equal(t, 2, phys.Refcnt(pa))

	require.False(t, phys.Refdown(pa))
	require.Equal(t, 1, phys.Refcnt(pa))
	require.True(t, phys.Refdown(pa))
}

func TestRefdownDoubleFreeIsSafe(t *testing.T) {
	phys := Phys_init(0, 256, 0, 0)
	_, pa, ok := phys.Refpg_new_nozero()
	require.True(t, ok)

	require.True(t, phys.Refdown(pa))
	require.NotPanics(t, func() { phys.Refdown(pa) })
}

func TestRefpgNewZeroesPage(t *testing.T) {
	phys := Phys_init(0, 256, 0, 0)
	pg, _, ok := phys.Refpg_new()
	require.True(t, ok)
	for _, word := range pg {
		require.Zero(t, word)
	}
}

func TestPmapNewAllocatesZeroedPage(t *testing.T) {
	phys := Phys_init(0, 256, 0, 0)
	pmap, pa, ok := phys.Pmap_new()
	require.True(t, ok)
	require.NotZero(t, pa)
	for _, pte := range pmap {
		require.Zero(t, pte)
	}
}

func TestOomHandlerInvokedOnExhaustion(t *testing.T) {
	phys := Phys_init(0, 2, 0, 0)
	var invoked bool
	phys.SetOOMHandler(func(need int) { invoked = true })

	for {
		_, _, ok := phys.Refpg_new()
		if !ok {
			break
		}
	}
	require.True(t, invoked)
}
