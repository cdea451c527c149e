package cmdline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	a, err := Parse("")
	require.NoError(t, err)
	require.Equal(t, "bitmap", a.Alloc)
	require.Equal(t, "multi", a.Tasking)
	require.Equal(t, "/sbin/init", a.Init)
	require.True(t, a.IOC)
	require.True(t, a.SIMD)
	require.False(t, a.Linux)
	require.Empty(t, a.Unknown)
}

func TestParseRecognizedFlags(t *testing.T) {
	a, err := Parse("--alloc=slab --cores 4 --tasking single --linux --quiet")
	require.NoError(t, err)
	require.Equal(t, "slab", a.Alloc)
	require.Equal(t, 4, a.Cores)
	require.Equal(t, "single", a.Tasking)
	require.True(t, a.Linux)
	require.True(t, a.Quiet)
	require.Empty(t, a.Unknown)
}

func TestParseUnknownFlagsAreReportedNotFatal(t *testing.T) {
	a, err := Parse("--alloc=bump --frobnicate --cores 2")
	require.NoError(t, err)
	require.Equal(t, "bump", a.Alloc)
	require.Equal(t, 2, a.Cores)
	require.Contains(t, a.Unknown, "--frobnicate")
}

func TestParseShorthandHelp(t *testing.T) {
	a, err := Parse("-h")
	require.NoError(t, err)
	require.True(t, a.Help)
}

func TestParseDrvDirWithoutVersionLeavesVersionEmpty(t *testing.T) {
	a, err := Parse("--drvdir /boot/drv")
	require.NoError(t, err)
	require.Equal(t, "/boot/drv", a.DrvDir)
	require.Empty(t, a.DrvDirVersion)
}

func TestParseDrvDirSplitsValidManifestVersion(t *testing.T) {
	a, err := Parse("--drvdir /boot/drv@v1.4.0")
	require.NoError(t, err)
	require.Equal(t, "/boot/drv", a.DrvDir)
	require.Equal(t, "v1.4.0", a.DrvDirVersion)
}

func TestParseDrvDirRejectsMalformedManifestVersion(t *testing.T) {
	_, err := Parse("--drvdir /boot/drv@1.4")
	require.Error(t, err)
}
