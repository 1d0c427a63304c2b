// Package resolver maps the backend's type identifiers onto candidate source
// files.
package resolver

import (
	"path"
	"strings"
)

// DefaultExtension is appended to resolved source paths.
const DefaultExtension = ".java"

// SourceRoots resolves a dotted type identifier against a list of source
// folders. For "com.acme.Foo" and root "/src/main/java" it proposes
// "/src/main/java/com/acme/Foo.java". Nested type suffixes after '$' are
// dropped. The raw identifier is always proposed last so library classes
// can still be handed to an opener that knows how to fetch them.
type SourceRoots struct {
	Roots []string
	// Extension defaults to DefaultExtension when empty.
	Extension string
}

// NewSourceRoots returns a resolver over roots with the default extension.
func NewSourceRoots(roots ...string) *SourceRoots {
	return &SourceRoots{Roots: roots}
}

// ResolveCandidates returns candidate paths in preference order.
func (s *SourceRoots) ResolveCandidates(typeID string) []string {
	if typeID == "" {
		return nil
	}
	ext := s.Extension
	if ext == "" {
		ext = DefaultExtension
	}
	outer := typeID
	if i := strings.IndexByte(outer, '$'); i > 0 {
		outer = outer[:i]
	}
	rel := strings.ReplaceAll(outer, ".", "/") + ext

	out := make([]string, 0, len(s.Roots)+1)
	for _, root := range s.Roots {
		if root == "" {
			continue
		}
		out = append(out, path.Join(root, rel))
	}
	return append(out, typeID)
}
