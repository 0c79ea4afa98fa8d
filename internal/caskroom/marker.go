package caskroom

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/upgrade"
)

const markerSchemaVersion = 1

// PendingUpgrade describes a staged version left behind by an upgrade that
// neither finalized nor reverted, usually because the process died.
type PendingUpgrade struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	StartedAt     time.Time `json:"started_at"`
	// Path is the staging directory holding the previous version.
	Path string `json:"-"`
}

// Ref returns the staged name@version.
func (p PendingUpgrade) Ref() upgrade.Ref {
	return upgrade.Ref{Name: p.Name, Version: p.Version}
}

func newMarker(ref upgrade.Ref, now time.Time) (PendingUpgrade, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return PendingUpgrade{}, fmt.Errorf(messages.CaskroomMarkerIDFailedFmt, err)
	}
	return PendingUpgrade{
		SchemaVersion: markerSchemaVersion,
		ID:            id.String(),
		Name:          ref.Name,
		Version:       ref.Version,
		StartedAt:     now.UTC(),
	}, nil
}

func writeMarker(sys System, dir string, marker PendingUpgrade) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf(messages.CaskroomMarkerEncodeFailedFmt, err)
	}
	data = append(data, '\n')
	file := filepath.Join(dir, markerFileName)
	if err := sys.WriteFileAtomic(file, data, 0o644); err != nil {
		return fmt.Errorf(messages.CaskroomWriteFailedFmt, file, err)
	}
	return nil
}

func readMarker(sys System, dir string) (PendingUpgrade, error) {
	file := filepath.Join(dir, markerFileName)
	data, err := sys.ReadFile(file)
	if err != nil {
		return PendingUpgrade{}, err
	}
	var marker PendingUpgrade
	if err := json.Unmarshal(data, &marker); err != nil {
		return PendingUpgrade{}, fmt.Errorf(messages.CaskroomMarkerInvalidFmt, file, err)
	}
	if marker.SchemaVersion != markerSchemaVersion {
		return PendingUpgrade{}, fmt.Errorf(messages.CaskroomMarkerSchemaFmt, file, marker.SchemaVersion, markerSchemaVersion)
	}
	if _, err := ulid.ParseStrict(marker.ID); err != nil {
		return PendingUpgrade{}, fmt.Errorf(messages.CaskroomMarkerInvalidFmt, file, err)
	}
	marker.Path = dir
	return marker, nil
}

// PendingUpgrades lists staged versions that still carry an upgrade marker,
// ordered by start time.
func (c *Caskroom) PendingUpgrades() ([]PendingUpgrade, error) {
	names, err := c.packageNames()
	if err != nil {
		return nil, err
	}
	var pending []PendingUpgrade
	for _, name := range names {
		stagingRoot := filepath.Join(c.layout.PackageDir(name), stagingDirName)
		entries, err := c.sys.ReadDir(stagingRoot)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf(messages.CaskroomReadFailedFmt, stagingRoot, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			marker, err := readMarker(c.sys, filepath.Join(stagingRoot, entry.Name()))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, err
			}
			pending = append(pending, marker)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartedAt.Before(pending[j].StartedAt)
	})
	return pending, nil
}
