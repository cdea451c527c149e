package diag

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildHeaderLayout(t *testing.T) {
	h := BuildHeader(256)
	require.Equal(t, []byte{'D', 'I', 'A', 'G', 0}, h[0:5])
	require.EqualValues(t, 1, binary.LittleEndian.Uint32(h[5:9]))
	require.EqualValues(t, 1, h[9], "is_64 must be set on this build")
	require.EqualValues(t, 256, binary.LittleEndian.Uint32(h[12:16]))
}

func TestBuildDumpRoundTrip(t *testing.T) {
	f := Frame_t{CPU: 1, InterruptNum: 14, ErrorCode: 0x2, IP: 0xdead0000}
	image := []byte("kernel-image-bytes")
	dump := BuildDump(f, image)

	require.Equal(t, []byte{'D', 'I', 'A', 'G', 0}, dump[0:5])
	total := binary.LittleEndian.Uint32(dump[12:16])
	require.EqualValues(t, len(dump), total)

	kernelLenOff := headerSize + len(serializeFrame(f))
	kernelLen := binary.LittleEndian.Uint32(dump[kernelLenOff : kernelLenOff+4])
	require.EqualValues(t, len(image), kernelLen)
	require.Equal(t, image, dump[kernelLenOff+4:])
}

func TestExceptionLockSerializesEntry(t *testing.T) {
	exceptionLock = 0
	ok1 := Enter()
	require.True(t, ok1)
	ok2 := Enter()
	require.False(t, ok2, "a second core must not win the quiescing race")
}

func TestSymbolTableResolve(t *testing.T) {
	st := NewSymbolTable([]SymbolEntry{
		{Name: "pmm_alloc", Addr: 0x1000, Size: 0x100},
		{Name: "_Z7vm_faultPv", Addr: 0x2000, Size: 0x200},
	})
	require.Equal(t, "pmm_alloc", st.Resolve(0x1050))
	require.Equal(t, "vm_fault(void*)", st.Resolve(0x2010))
	require.Equal(t, "", st.Resolve(0x5000))
}

func TestFaultToSignalDefaultsToSegv(t *testing.T) {
	require.EqualValues(t, 11, FaultToSignal(14))
	require.EqualValues(t, 11, FaultToSignal(9999))
}
