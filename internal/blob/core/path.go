package core

import (
	"fmt"
	"net/url"
	"strings"
)

// Separator splits the container name from the object name.
const Separator = "/"

// Path addresses a container, or a blob within a container.
// The object name is opaque: it may contain separators and is never
// segmented further.
type Path struct {
	Container string
	Object    string
}

// ParsePath splits s on the first separator after an optional leading one.
// Input without a separator addresses a container only. Malformed input
// yields a degenerate Path; backends validate it.
func ParsePath(s string) Path {
	s = strings.TrimPrefix(s, Separator)
	container, object, _ := strings.Cut(s, Separator)
	return Path{Container: container, Object: object}
}

// ContainerPath returns the Path addressing only the named container.
func ContainerPath(name string) Path { return Path{Container: name} }

// Concat appends suffix to the object name. No separator is inserted.
func (p Path) Concat(suffix string) Path {
	if suffix == "" {
		return p
	}
	return Path{Container: p.Container, Object: p.Object + suffix}
}

// IsContainer reports whether p addresses a container rather than a blob.
func (p Path) IsContainer() bool { return p.Object == "" }

func (p Path) String() string { return p.Container + Separator + p.Object }

// PathFromURL recovers the Path of a blob URL produced by a backend whose
// account URL is base. The object segment is percent-decoded; the query is
// ignored.
func PathFromURL(base, raw string) (Path, error) {
	b, err := url.Parse(base)
	if err != nil {
		return Path{}, fmt.Errorf("parse base url: %w", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Path{}, fmt.Errorf("parse url: %w", err)
	}
	if !strings.EqualFold(u.Host, b.Host) {
		return Path{}, fmt.Errorf("url %s is not under %s", raw, base)
	}
	rest := strings.TrimPrefix(u.EscapedPath(), strings.TrimSuffix(b.EscapedPath(), Separator))
	container, object, _ := strings.Cut(strings.TrimPrefix(rest, Separator), Separator)
	decoded, err := url.PathUnescape(object)
	if err != nil {
		return Path{}, fmt.Errorf("decode object name: %w", err)
	}
	return Path{Container: container, Object: decoded}, nil
}
