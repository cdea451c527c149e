// Package bpath canonicalizes VFS paths: it collapses "." and ".."
// components the way spec section 4.C's lookup contract requires, so that
// lookup(root, "a/./b/../c") and lookup(root, "a/c") resolve to the same
// cache node (spec section 8, "Path canonicalization").
package bpath

import "github.com/fennix-project/kernel/ustr"

// MaxSymlinkDepth bounds symlink-following during lookup. spec.md leaves
// the exact bound as an open question ("pick a conservative limit, e.g.
// 40, and document"); SPEC_FULL.md resolves it to 40.
const MaxSymlinkDepth = 40

// Split breaks path into its non-empty, non-"." components. It never
// returns a "." component; at most the caller ever has to handle "..".
func Split(path ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	s := path
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '/' {
			if i > start {
				comp := s[start:i]
				if !comp.Isdot() {
					parts = append(parts, comp)
				}
			}
			start = i + 1
		}
	}
	return parts
}

// Canonicalize collapses "." and ".." components of an absolute path and
// rebuilds it as a clean, absolute Ustr with no trailing slash (except
// for the root itself). ".." above the root is clamped to the root,
// matching the invariant that "root's .. resolves to the root itself".
func Canonicalize(path ustr.Ustr) ustr.Ustr {
	parts := Split(path)
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, p := range parts {
		if p.Isdotdot() {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		stack = append(stack, p)
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	out := ustr.MkUstr()
	for _, p := range stack {
		out = append(out, '/')
		out = append(out, p...)
	}
	return out
}

// Join canonicalizes base extended by rel (rel may itself contain "." and
// ".." components, e.g. a symlink target of "../other").
func Join(base, rel ustr.Ustr) ustr.Ustr {
	if rel.IsAbsolute() {
		return Canonicalize(rel)
	}
	return Canonicalize(base.Extend(rel))
}
