package bpath

import (
	"testing"

	"github.com/fennix-project/kernel/ustr"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeCollapsesDotAndDotdot(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/a/./b/../c"))
	want := Canonicalize(ustr.Ustr("/a/c"))
	require.Equal(t, string(want), string(got))
	require.Equal(t, "/a/c", string(got))
}

func TestCanonicalizeClampsDotdotAboveRoot(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/../../a"))
	require.Equal(t, "/a", string(got))
}

func TestCanonicalizeEmptyPathIsRoot(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/"))
	require.Equal(t, "/", string(got))
}

func TestCanonicalizeNoTrailingSlash(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/a/b/"))
	require.Equal(t, "/a/b", string(got))
}

func TestSplitDropsDotComponents(t *testing.T) {
	parts := Split(ustr.Ustr("/a/./b//c/."))
	require.Len(t, parts, 3)
	require.Equal(t, "a", string(parts[0]))
	require.Equal(t, "b", string(parts[1]))
	require.Equal(t, "c", string(parts[2]))
}

func TestJoinRelativeAgainstBase(t *testing.T) {
	got := Join(ustr.Ustr("/a/b"), ustr.Ustr("../c"))
	require.Equal(t, "/a/c", string(got))
}

func TestJoinAbsoluteRelIgnoresBase(t *testing.T) {
	got := Join(ustr.Ustr("/a/b"), ustr.Ustr("/x/y"))
	require.Equal(t, "/x/y", string(got))
}
