// Package security implements the guards applied at every extraction boundary: lexical path sanitization, symlink
// target validation, and decompression-bomb detection.
package security

import (
	"fmt"
	"math"
	"path"
	"path/filepath"
	"strings"
)

// Violation names the class of an Error.
type Violation string

const (
	// ViolationTraversal indicates an entry path that escapes the extraction root.
	ViolationTraversal Violation = "traversal"
	// ViolationSymlink indicates a symlink whose target escapes the extraction root or is absolute.
	ViolationSymlink Violation = "symlink"
	// ViolationRatio indicates an entry whose declared compression ratio exceeds the configured maximum.
	ViolationRatio Violation = "ratio"
	// ViolationTotal indicates the cumulative extracted size exceeding the configured maximum.
	ViolationTotal Violation = "total"
)

// Error reports a violation caught by the security gate.
//
// Security errors are always fatal: the extraction stops immediately and is never retried.
type Error struct {
	Violation Violation
	Path      string
	Detail    string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf(`security error (%s): "%s"`, e.Violation, e.Path)
	}

	return fmt.Sprintf(`security error (%s): "%s": %s`, e.Violation, e.Path, e.Detail)
}

// DefaultMaxCompressionRatio is the per-entry uncompressed/compressed ratio above which an entry is rejected.
const DefaultMaxCompressionRatio = 100.0

// Limits bounds what an extraction is allowed to write.
//
// The zero value allows any total size, uses DefaultMaxCompressionRatio, and rejects absolute and external symlink
// targets.
type Limits struct {
	// MaxExtractedBytes caps the cumulative uncompressed size of all written entries. 0 means unlimited.
	MaxExtractedBytes int64

	// MaxCompressionRatio caps the per-entry uncompressed/compressed ratio. 0 means DefaultMaxCompressionRatio.
	MaxCompressionRatio float64

	// AllowAbsoluteSymlinks permits symlink entries whose target is an absolute path.
	AllowAbsoluteSymlinks bool

	// AllowExternalSymlinks permits symlink entries whose resolved target lies outside the extraction root.
	AllowExternalSymlinks bool
}

func (l Limits) ratio() float64 {
	if l.MaxCompressionRatio <= 0 {
		return DefaultMaxCompressionRatio
	}

	return l.MaxCompressionRatio
}

// SanitizePath validates the archive entry path name against the base directory and returns the platform-native
// destination path.
//
// The check is purely lexical: name is rejected if it is absolute, or if after cleaning it still starts with "..",
// i.e. it would escape base. The returned path always has base as a prefix.
func SanitizePath(base, name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")

	if path.IsAbs(slashed) || filepath.IsAbs(name) || hasVolumePrefix(name) {
		return "", &Error{Violation: ViolationTraversal, Path: name, Detail: "absolute path"}
	}

	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &Error{Violation: ViolationTraversal, Path: name, Detail: "path escapes extraction root"}
	}

	dst := filepath.Join(base, filepath.FromSlash(cleaned))

	// belt and braces: Join cleans again, so verify the prefix survived.
	if rel, err := filepath.Rel(base, dst); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &Error{Violation: ViolationTraversal, Path: name, Detail: "path escapes extraction root"}
	}

	return dst, nil
}

func hasVolumePrefix(name string) bool {
	return len(name) >= 2 && name[1] == ':' &&
		(('a' <= name[0] && name[0] <= 'z') || ('A' <= name[0] && name[0] <= 'Z'))
}

// ValidateSymlink validates that a symlink written at linkPath (relative to root) pointing at target stays within the
// extraction root.
//
// Relative targets are resolved against the link's parent directory. Absolute targets are rejected unless
// Limits.AllowAbsoluteSymlinks; targets that resolve outside root are rejected unless Limits.AllowExternalSymlinks.
// The resolution is lexical, matching SanitizePath.
func ValidateSymlink(root, linkPath, target string, l Limits) error {
	slashedTarget := strings.ReplaceAll(target, "\\", "/")

	if path.IsAbs(slashedTarget) || filepath.IsAbs(target) || hasVolumePrefix(target) {
		if l.AllowAbsoluteSymlinks {
			return nil
		}

		return &Error{Violation: ViolationSymlink, Path: linkPath, Detail: "absolute symlink target " + target}
	}

	if l.AllowExternalSymlinks {
		return nil
	}

	// resolve target against the link's parent, then check the result is still under root.
	parent := path.Dir(strings.ReplaceAll(linkPath, "\\", "/"))
	resolved := path.Clean(path.Join(parent, slashedTarget))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return &Error{Violation: ViolationSymlink, Path: linkPath, Detail: "symlink target escapes extraction root: " + target}
	}

	_ = root
	return nil
}

// BombGuard tracks cumulative extracted size and applies per-entry ratio checks.
//
// Totals use saturating arithmetic; a crafted archive declaring sizes near math.MaxInt64 must trip the cap, not
// overflow past it.
type BombGuard struct {
	limits Limits
	total  int64
}

// NewBombGuard returns a guard enforcing the given limits.
func NewBombGuard(l Limits) *BombGuard {
	return &BombGuard{limits: l}
}

// CheckEntry rejects an entry whose declared compression ratio exceeds the maximum, or whose uncompressed size would
// push the cumulative total over the cap. A compressed size of 0 means "unknown" and passes the ratio check.
//
// CheckEntry must be called before any bytes of the entry are written.
func (g *BombGuard) CheckEntry(name string, uncompressed, compressed int64) error {
	if compressed > 0 && uncompressed > 0 {
		if ratio := float64(uncompressed) / float64(compressed); ratio > g.limits.ratio() {
			return &Error{Violation: ViolationRatio, Path: name, Detail: "compression ratio exceeds limit"}
		}
	}

	if max := g.limits.MaxExtractedBytes; max > 0 {
		if saturatingAdd(g.total, uncompressed) > max {
			return &Error{Violation: ViolationTotal, Path: name, Detail: "total extracted size exceeds limit"}
		}
	}

	return nil
}

// Allow asks permission to write n more bytes for the named entry, recording them on success.
//
// The check happens before the bytes are written so containers that under-declare sizes cannot sneak past the cap:
// the write that would cross the limit is refused, not reported after the fact.
func (g *BombGuard) Allow(name string, n int64) error {
	if max := g.limits.MaxExtractedBytes; max > 0 && saturatingAdd(g.total, n) > max {
		return &Error{Violation: ViolationTotal, Path: name, Detail: "total extracted size exceeds limit"}
	}

	g.total = saturatingAdd(g.total, n)
	return nil
}

// Total returns the cumulative number of bytes committed so far.
func (g *BombGuard) Total() int64 {
	return g.total
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}

	return a + b
}
