package caskroom

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/upgrade"
)

const (
	definitionsDirName = "definitions"
	caskroomDirName    = "Caskroom"
	cacheDirName       = "cache"
	stagingDirName     = ".staging"
	trashDirName       = ".trash"
	lockFileName       = ".keg.lock"
	receiptFileName    = ".keg-receipt.toml"
	markerFileName     = ".keg-upgrade.json"

	// LatestVersion marks a definition that always points at the newest upstream build.
	LatestVersion = "latest"
)

// Layout resolves paths under a keg prefix.
type Layout struct {
	Prefix string
}

// DefinitionsDir holds available package definitions.
func (l Layout) DefinitionsDir() string {
	return filepath.Join(l.Prefix, definitionsDirName)
}

// CaskroomDir holds one directory per installed package.
func (l Layout) CaskroomDir() string {
	return filepath.Join(l.Prefix, caskroomDirName)
}

// PackageDir holds every version directory of one package.
func (l Layout) PackageDir(name string) string {
	return filepath.Join(l.CaskroomDir(), name)
}

// VersionDir holds the staged payload and receipt of one package version.
func (l Layout) VersionDir(ref upgrade.Ref) string {
	return filepath.Join(l.PackageDir(ref.Name), ref.Version)
}

// StagingDir holds an installed version while an upgrade replaces it.
func (l Layout) StagingDir(ref upgrade.Ref) string {
	return filepath.Join(l.PackageDir(ref.Name), stagingDirName, ref.Version)
}

// TrashDir holds a finalized version until its files are deleted.
func (l Layout) TrashDir(ref upgrade.Ref) string {
	return filepath.Join(l.PackageDir(ref.Name), trashDirName, ref.Version)
}

// CacheDir holds downloaded artifacts.
func (l Layout) CacheDir() string {
	return filepath.Join(l.Prefix, cacheDirName)
}

// LockPath is the file locked for the duration of a batch.
func (l Layout) LockPath() string {
	return filepath.Join(l.Prefix, lockFileName)
}

// validateRef rejects names and versions that are not bare path components.
func validateRef(ref upgrade.Ref) error {
	for _, part := range []string{ref.Name, ref.Version} {
		if !isPathComponent(part) {
			return fmt.Errorf(messages.CaskroomInvalidRefFmt, ref)
		}
	}
	return nil
}

func isPathComponent(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed != value {
		return false
	}
	if strings.HasPrefix(value, ".") {
		return false
	}
	return filepath.Base(value) == value && !strings.ContainsAny(value, `/\`)
}
