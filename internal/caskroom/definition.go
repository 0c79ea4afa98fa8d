package caskroom

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/upgrade"
)

// ErrDefinitionNotFound is returned when no definition file exists for a package.
var ErrDefinitionNotFound = errors.New("package definition not found")

// Artifact kinds.
const (
	ArtifactApp    = "app"
	ArtifactBinary = "binary"
)

// Artifact is one payload entry placed outside the caskroom on install.
type Artifact struct {
	Kind   string `toml:"kind" yaml:"kind"`
	Source string `toml:"source" yaml:"source"`
	Target string `toml:"target,omitempty" yaml:"target,omitempty"`
}

// TargetName returns the file name used in the target directory.
func (a Artifact) TargetName() string {
	if a.Target != "" {
		return a.Target
	}
	return filepath.Base(a.Source)
}

// Definition describes the available version of a package.
type Definition struct {
	Name          string     `toml:"name" yaml:"name"`
	Version       string     `toml:"version" yaml:"version"`
	URL           string     `toml:"url" yaml:"url"`
	SHA256        string     `toml:"sha256,omitempty" yaml:"sha256,omitempty"`
	AutoUpdates   bool       `toml:"auto_updates,omitempty" yaml:"auto_updates,omitempty"`
	Caveats       string     `toml:"caveats,omitempty" yaml:"caveats,omitempty"`
	ConflictsWith []string   `toml:"conflicts_with,omitempty" yaml:"conflicts_with,omitempty"`
	DependsOn     []string   `toml:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Artifacts     []Artifact `toml:"artifacts" yaml:"artifacts"`

	// file and source record where the definition came from, for receipts and diffs.
	file   string
	source string
}

// Ref returns the name@version this definition installs.
func (d *Definition) Ref() upgrade.Ref {
	return upgrade.Ref{Name: d.Name, Version: d.Version}
}

// IsLatest reports whether the definition tracks an unversioned upstream build.
func (d *Definition) IsLatest() bool {
	return d.Version == LatestVersion
}

var definitionExtensions = []string{".toml", ".yaml", ".yml"}

// loadDefinition reads the definition for name from dir.
func loadDefinition(sys System, dir string, name string) (*Definition, error) {
	for _, ext := range definitionExtensions {
		file := filepath.Join(dir, name+ext)
		data, err := sys.ReadFile(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf(messages.CaskroomReadFailedFmt, file, err)
		}
		def, err := ParseDefinition(file, data)
		if err != nil {
			return nil, err
		}
		if def.Name != name {
			return nil, fmt.Errorf(messages.CaskroomDefinitionNameMismatchFmt, file, def.Name, name)
		}
		return def, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, name)
}

// ParseDefinition decodes a TOML or YAML definition, chosen by file extension.
func ParseDefinition(file string, data []byte) (*Definition, error) {
	var def Definition
	switch strings.ToLower(filepath.Ext(file)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf(messages.CaskroomDefinitionInvalidFmt, file, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf(messages.CaskroomDefinitionInvalidFmt, file, err)
		}
	default:
		return nil, fmt.Errorf(messages.CaskroomDefinitionFormatFmt, file)
	}
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf(messages.CaskroomDefinitionInvalidFmt, file, err)
	}
	def.file = file
	def.source = string(data)
	return &def, nil
}

func (d *Definition) validate() error {
	if err := validateRef(d.Ref()); err != nil {
		return err
	}
	if strings.TrimSpace(d.URL) == "" {
		return errors.New(messages.CaskroomDefinitionURLRequired)
	}
	if d.SHA256 != "" && !isHexDigest(d.SHA256) {
		return fmt.Errorf(messages.CaskroomDefinitionSHAInvalidFmt, d.SHA256)
	}
	for i, artifact := range d.Artifacts {
		switch artifact.Kind {
		case ArtifactApp, ArtifactBinary:
		default:
			return fmt.Errorf(messages.CaskroomArtifactKindInvalidFmt, i, artifact.Kind)
		}
		if !isRelativeInside(artifact.Source) {
			return fmt.Errorf(messages.CaskroomArtifactSourceInvalidFmt, i, artifact.Source)
		}
		if !isPathComponent(artifact.TargetName()) {
			return fmt.Errorf(messages.CaskroomArtifactTargetInvalidFmt, i, artifact.TargetName())
		}
	}
	return nil
}

func isHexDigest(value string) bool {
	if len(value) != 64 {
		return false
	}
	for _, r := range value {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// isRelativeInside reports whether p is a relative slash path that stays inside its root.
func isRelativeInside(p string) bool {
	if p == "" || path.IsAbs(p) || filepath.IsAbs(p) {
		return false
	}
	clean := path.Clean(filepath.ToSlash(p))
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}
