// Package dfs holds the values shared by every driftfs interface: the
// distributed filesystem path and the domain error model.
package dfs

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Path is an immutable distributed filesystem path.
//
// The string representation is a forward-slash-delimited sequence of
// components; the root directory renders as a single forward slash. The
// forward slash is the delimiter and the colon is reserved for
// application use, so neither may appear inside a component.
//
// The zero value is the root path.
type Path struct {
	components []string
}

// Root is the path of the root directory.
var Root = Path{}

// ParsePath creates a path from its string form.
//
// The string must begin with a forward slash and must not contain a
// colon. Empty components between slashes are dropped, so "/a//b" parses
// the same as "/a/b".
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, NewError(ErrIllegalArgument, "path string is empty")
	}
	if s[0] != '/' {
		return Path{}, NewPathError(ErrIllegalArgument, "path does not begin with a forward slash", s)
	}

	var components []string
	for _, component := range strings.Split(s, "/") {
		if component == "" {
			continue
		}
		if !componentLegal(component) {
			return Path{}, NewPathError(ErrIllegalArgument, "path component contains a reserved character", s)
		}
		components = append(components, component)
	}
	return Path{components: components}, nil
}

// MustParsePath is ParsePath for compile-time-constant path strings.
// It panics on a malformed string.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Append creates a new path by appending one component to an existing
// path. The component must be non-empty and must not contain a slash or
// a colon.
func (p Path) Append(component string) (Path, error) {
	if component == "" {
		return Path{}, NewError(ErrIllegalArgument, "path component is empty")
	}
	if !componentLegal(component) {
		return Path{}, NewPathError(ErrIllegalArgument, "path component contains a reserved character", component)
	}

	components := make([]string, 0, len(p.components)+1)
	components = append(components, p.components...)
	components = append(components, component)
	return Path{components: components}, nil
}

// Components returns the components of the path in order. The returned
// slice is a copy; mutating it does not affect the path.
func (p Path) Components() []string {
	components := make([]string, len(p.components))
	copy(components, p.components)
	return components
}

// IsRoot reports whether the path is the root directory.
func (p Path) IsRoot() bool {
	return len(p.components) == 0
}

// Parent returns the path of this path's parent directory. The root
// directory has no parent.
func (p Path) Parent() (Path, error) {
	if p.IsRoot() {
		return Path{}, NewError(ErrIllegalArgument, "the root directory has no parent")
	}
	components := make([]string, len(p.components)-1)
	copy(components, p.components[:len(p.components)-1])
	return Path{components: components}, nil
}

// Last returns the last component of the path. The root directory has no
// last component.
func (p Path) Last() (string, error) {
	if p.IsRoot() {
		return "", NewError(ErrIllegalArgument, "the root directory has no last component")
	}
	return p.components[len(p.components)-1], nil
}

// IsSubpath reports whether p is a subpath of other, that is, whether
// other's component sequence is a prefix of p's. Every path is a subpath
// of itself, and every path is a subpath of the root.
//
// The comparison is by whole components: "/ab" is not a subpath of "/a".
func (p Path) IsSubpath(other Path) bool {
	if len(other.components) > len(p.components) {
		return false
	}
	for i, component := range other.components {
		if p.components[i] != component {
			return false
		}
	}
	return true
}

// Equal reports whether two paths share all the same components.
func (p Path) Equal(other Path) bool {
	return p.String() == other.String()
}

// String returns the string form of the path. The result may be passed
// back to ParsePath to obtain an equal path.
func (p Path) String() string {
	if len(p.components) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.components, "/")
}

// HostPath maps the path to a location on the host filesystem under the
// given root directory. The mapping is byte-for-byte: "/a/b/c.txt" under
// root "/srv/data" becomes "/srv/data/a/b/c.txt".
func (p Path) HostPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(p.String()))
}

// ListFiles enumerates all regular files in a directory tree on the host
// filesystem. Directories themselves are not reported. One path is
// returned per file, relative to the given directory.
func ListFiles(directory string) ([]Path, error) {
	info, err := os.Stat(directory)
	if err != nil {
		return nil, NewPathError(ErrNotFound, "directory does not exist", directory)
	}
	if !info.IsDir() {
		return nil, NewPathError(ErrIllegalArgument, "not a directory", directory)
	}

	var paths []Path
	err = filepath.WalkDir(directory, func(hostPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(directory, hostPath)
		if err != nil {
			return err
		}
		p, err := ParsePath("/" + filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, NewPathError(ErrIO, "directory walk failed: "+err.Error(), directory)
	}
	return paths, nil
}

func componentLegal(component string) bool {
	return !strings.ContainsAny(component, "/:")
}
