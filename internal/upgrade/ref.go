package upgrade

import (
	"fmt"
	"strings"

	"github.com/conn-castle/keg/internal/messages"
)

// Ref identifies a package by name and version.
// An empty Version means "whatever is installed" when a Ref names a CLI candidate.
type Ref struct {
	Name    string
	Version string
}

// ParseRef parses "name" or "name@version".
func ParseRef(raw string) (Ref, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Ref{}, fmt.Errorf(messages.UpgradeRefEmpty)
	}
	name, version, found := strings.Cut(trimmed, "@")
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return Ref{}, fmt.Errorf(messages.UpgradeRefInvalidFmt, raw)
	}
	if found && version == "" {
		return Ref{}, fmt.Errorf(messages.UpgradeRefInvalidFmt, raw)
	}
	return Ref{Name: name, Version: version}, nil
}

// String formats the ref as name@version, or just the name when no version is set.
func (r Ref) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}
