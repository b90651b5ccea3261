// internal/pathtree/path.go
package pathtree

import (
	"errors"
	"strings"
)

// DefaultSeparator separates the segments of a dotted path
const DefaultSeparator = '.'

var (
	// ErrInvalidPath is returned for empty paths or paths with empty segments
	ErrInvalidPath = errors.New("pathtree: invalid path")

	// ErrConflict is returned when an item and a folder would share a path
	ErrConflict = errors.New("pathtree: path conflicts with existing entry")
)

// Path is a parsed hierarchical identifier. Segments keep their original
// case; comparisons use the lower-cased form.
type Path struct {
	segments []string
	sep      rune
}

// Parse splits s on sep. Leading and trailing separators are ignored.
func Parse(s string, sep rune) (Path, error) {
	s = strings.Trim(strings.TrimSpace(s), string(sep))
	if s == "" {
		return Path{}, ErrInvalidPath
	}

	segments := strings.Split(s, string(sep))
	for _, seg := range segments {
		if seg == "" {
			return Path{}, ErrInvalidPath
		}
	}
	return Path{segments: segments, sep: sep}, nil
}

// MustParse is Parse for literals known to be valid
func MustParse(s string, sep rune) Path {
	p, err := Parse(s, sep)
	if err != nil {
		panic(err)
	}
	return p
}

// Segments returns a copy of the path segments
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// KeySegments returns the lower-cased segments
func (p Path) KeySegments() []string {
	out := make([]string, len(p.segments))
	for i, seg := range p.segments {
		out[i] = fold(seg)
	}
	return out
}

// Len is the number of segments
func (p Path) Len() int {
	return len(p.segments)
}

// Separator returns the rune used between segments
func (p Path) Separator() rune {
	return p.sep
}

// Key returns the canonical case-insensitive form of the path
func (p Path) Key() string {
	return strings.Join(p.KeySegments(), string(p.sep))
}

func (p Path) String() string {
	return strings.Join(p.segments, string(p.sep))
}

func fold(s string) string {
	return strings.ToLower(s)
}
