package caskroom

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/upgrade"
)

// session performs installation mechanics for one package version.
//
// A session opened for an installed version uses its receipt; one opened for
// the available version uses its definition. When both exist for the same
// ref (a greedy "latest" upgrade) the definition drives new-version work and
// the receipt drives staging.
type session struct {
	room    *Caskroom
	ref     upgrade.Ref
	cfg     upgrade.Config
	opts    upgrade.SessionOptions
	def     *Definition
	receipt *Receipt
	log     logr.Logger
	ctx     context.Context

	download     []byte
	downloadName string
	staged       bool
	// placed lists artifacts this session moved or linked into target dirs.
	placed         []Artifact
	installStarted bool
}

var _ upgrade.Session = (*session)(nil)

func (s *session) context() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *session) definition() (*Definition, error) {
	if s.def == nil {
		return nil, fmt.Errorf(messages.CaskroomNoDefinitionFmt, s.ref)
	}
	return s.def, nil
}

func (s *session) installedReceipt() (*Receipt, error) {
	if s.receipt == nil {
		return nil, fmt.Errorf(messages.CaskroomNotInstalledFmt, s.ref)
	}
	return s.receipt, nil
}

func (s *session) binaries() bool {
	return s.opts.Binaries == nil || *s.opts.Binaries
}

func (s *session) quarantine() bool {
	return s.opts.Quarantine == nil || *s.opts.Quarantine
}

func (s *session) requireSHA() bool {
	return s.opts.RequireSHA != nil && *s.opts.RequireSHA
}

// CheckConflicts fails when a package the definition conflicts with is
// installed, or when a fresh install finds another version already present.
func (s *session) CheckConflicts() error {
	def, err := s.definition()
	if err != nil {
		return err
	}
	for _, other := range def.ConflictsWith {
		installed, err := s.room.IsInstalled(other)
		if err != nil {
			return err
		}
		if installed {
			return fmt.Errorf(messages.CaskroomConflictFmt, def.Name, other)
		}
	}
	if !s.opts.Upgrade {
		installed, err := s.room.IsInstalled(def.Name)
		if err != nil {
			return err
		}
		if installed {
			return fmt.Errorf("%w: %s", ErrAlreadyInstalled, def.Name)
		}
	}
	return nil
}

// Caveats returns the definition's caveats text.
func (s *session) Caveats() string {
	if s.def == nil {
		return ""
	}
	return strings.TrimSpace(s.def.Caveats)
}

// Fetch checks dependencies and downloads the payload into the cache,
// verifying its checksum. A cached download with a matching checksum is reused.
func (s *session) Fetch() error {
	def, err := s.definition()
	if err != nil {
		return err
	}
	if !s.opts.SkipDependencies {
		for _, dep := range def.DependsOn {
			installed, err := s.room.IsInstalled(dep)
			if err != nil {
				return err
			}
			if !installed {
				return fmt.Errorf(messages.CaskroomDependencyMissingFmt, def.Name, dep)
			}
		}
	}
	if def.SHA256 == "" && s.requireSHA() {
		return fmt.Errorf(messages.CaskroomSHARequiredFmt, s.ref)
	}

	name := downloadName(def.URL)
	cacheFile := filepath.Join(s.room.layout.CacheDir(), def.Name+"--"+def.Version+"--"+name)
	if def.SHA256 != "" && !def.IsLatest() {
		if cached, err := s.room.sys.ReadFile(cacheFile); err == nil && verifySHA256(cached, def.SHA256) == nil {
			s.log.V(1).Info("using cached download", "path", cacheFile)
			s.download, s.downloadName = cached, name
			return nil
		}
	}

	data, err := s.room.readSource(s.context(), def.URL)
	if err != nil {
		return err
	}
	if def.SHA256 != "" {
		if err := verifySHA256(data, def.SHA256); err != nil {
			return fmt.Errorf(messages.CaskroomDownloadFailedFmt, def.URL, err)
		}
	} else {
		s.log.Info("no checksum to verify", "url", def.URL)
	}
	if err := s.room.sys.MkdirAll(s.room.layout.CacheDir(), 0o755); err != nil {
		return fmt.Errorf(messages.CaskroomCreateDirFailedFmt, s.room.layout.CacheDir(), err)
	}
	if err := s.room.sys.WriteFileAtomic(cacheFile, data, 0o644); err != nil {
		return fmt.Errorf(messages.CaskroomWriteFailedFmt, cacheFile, err)
	}
	s.download, s.downloadName = data, name
	return nil
}

// readSource loads a definition URL. Local paths are resolved against the
// definitions directory; remote URLs go through the fetcher.
func (c *Caskroom) readSource(ctx context.Context, raw string) ([]byte, error) {
	local := raw
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		if u.Scheme != "file" {
			return c.fetcher.Fetch(ctx, raw)
		}
		local = u.Path
	}
	if !filepath.IsAbs(local) {
		local = filepath.Join(c.layout.DefinitionsDir(), local)
	}
	data, err := c.sys.ReadFile(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %w", ErrDownloadNotFound, err)
		}
		return nil, fmt.Errorf(messages.CaskroomDownloadFailedFmt, raw, err)
	}
	return data, nil
}

func downloadName(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(filepath.ToSlash(p))
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}

// Stage unpacks the fetched payload into the version directory.
func (s *session) Stage() error {
	if s.download == nil {
		return fmt.Errorf(messages.CaskroomNotFetchedFmt, s.ref)
	}
	dir := s.room.layout.VersionDir(s.ref)
	if _, err := s.room.sys.Lstat(dir); err == nil {
		if !s.opts.Force && !s.opts.Upgrade {
			return fmt.Errorf(messages.CaskroomVersionDirExistsFmt, dir)
		}
		if err := s.room.sys.RemoveAll(dir); err != nil {
			return fmt.Errorf(messages.CaskroomRemoveFailedFmt, dir, err)
		}
	}
	if err := s.room.sys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf(messages.CaskroomCreateDirFailedFmt, dir, err)
	}
	if isTarball(s.downloadName) {
		if err := extractTarball(s.room.sys, s.download, dir); err != nil {
			return err
		}
	} else {
		file := filepath.Join(dir, s.downloadName)
		if err := s.room.sys.WriteFileAtomic(file, s.download, 0o755); err != nil {
			return fmt.Errorf(messages.CaskroomWriteFailedFmt, file, err)
		}
	}
	s.staged = true
	s.log.V(1).Info("staged payload", "dir", dir)
	return nil
}

// InstallArtifacts moves apps into appdir and links binaries into bindir,
// then writes the receipt that marks the version installed.
func (s *session) InstallArtifacts() error {
	def, err := s.definition()
	if err != nil {
		return err
	}
	dir := s.room.layout.VersionDir(s.ref)
	s.installStarted = true
	s.placed = nil
	if err := s.placeArtifacts(def.Artifacts, dir, s.quarantine(), def.URL); err != nil {
		return err
	}
	receipt := &Receipt{
		Name:           def.Name,
		Version:        def.Version,
		SHA256:         def.SHA256,
		AutoUpdates:    def.AutoUpdates,
		InstalledAt:    s.room.now().UTC(),
		Binaries:       s.binaries(),
		Quarantine:     s.quarantine(),
		Config:         s.cfg.Clone(),
		Artifacts:      def.Artifacts,
		DefinitionFile: filepath.Base(def.file),
		Definition:     def.source,
	}
	if err := writeReceipt(s.room.sys, dir, receipt); err != nil {
		return err
	}
	s.receipt = receipt
	return nil
}

// placeArtifacts installs artifacts whose sources live under dir.
func (s *session) placeArtifacts(artifacts []Artifact, dir string, quarantine bool, origin string) error {
	sys := s.room.sys
	for _, artifact := range artifacts {
		if artifact.Kind == ArtifactBinary && !s.binaries() {
			continue
		}
		src, dst, err := s.artifactPaths(artifact, dir)
		if err != nil {
			return err
		}
		if _, err := sys.Lstat(src); err != nil {
			return fmt.Errorf(messages.CaskroomArtifactMissingFmt, artifact.Source, err)
		}
		if _, err := sys.Lstat(dst); err == nil {
			if !s.opts.Force {
				return fmt.Errorf(messages.CaskroomTargetExistsFmt, dst)
			}
			if err := sys.RemoveAll(dst); err != nil {
				return fmt.Errorf(messages.CaskroomRemoveFailedFmt, dst, err)
			}
		}
		if err := sys.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf(messages.CaskroomCreateDirFailedFmt, filepath.Dir(dst), err)
		}
		switch artifact.Kind {
		case ArtifactApp:
			if err := sys.Rename(src, dst); err != nil {
				return fmt.Errorf(messages.CaskroomMoveFailedFmt, src, dst, err)
			}
			s.placed = append(s.placed, artifact)
			if quarantine {
				if err := applyQuarantine(sys, dst, quarantineValue(s.room.now(), origin)); err != nil {
					return fmt.Errorf(messages.CaskroomQuarantineFailedFmt, dst, err)
				}
			}
		case ArtifactBinary:
			if err := sys.Symlink(src, dst); err != nil {
				return fmt.Errorf(messages.CaskroomLinkFailedFmt, dst, src, err)
			}
			s.placed = append(s.placed, artifact)
		}
		s.log.V(1).Info("installed artifact", "kind", artifact.Kind, "target", dst)
	}
	return nil
}

func (s *session) artifactPaths(artifact Artifact, dir string) (string, string, error) {
	key := ConfigAppDir
	if artifact.Kind == ArtifactBinary {
		key = ConfigBinDir
	}
	targetDir := s.cfg[key]
	if targetDir == "" {
		return "", "", fmt.Errorf(messages.CaskroomConfigKeyMissingFmt, key)
	}
	src := filepath.Join(dir, filepath.FromSlash(artifact.Source))
	return src, filepath.Join(targetDir, artifact.TargetName()), nil
}

// UninstallArtifacts reverses InstallArtifacts. A session that placed
// artifacts removes exactly those; a session on an installed version removes
// what its receipt records. Targets that belong to something else are left alone.
func (s *session) UninstallArtifacts() error {
	return s.removeArtifacts(s.artifactsToRemove(), s.room.layout.VersionDir(s.ref))
}

func (s *session) artifactsToRemove() []Artifact {
	if s.installStarted {
		return s.placed
	}
	if s.receipt != nil && !s.staged {
		return s.receipt.Artifacts
	}
	return nil
}

func (s *session) removeArtifacts(artifacts []Artifact, dir string) error {
	sys := s.room.sys
	var errs []error
	for i := len(artifacts) - 1; i >= 0; i-- {
		artifact := artifacts[i]
		src, dst, err := s.artifactPaths(artifact, dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := sys.Lstat(dst); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf(messages.CaskroomStatFailedFmt, dst, err))
			}
			continue
		}
		switch artifact.Kind {
		case ArtifactApp:
			if _, err := sys.Lstat(src); err == nil {
				// Source still staged: the target was never ours.
				continue
			}
			if err := sys.MkdirAll(filepath.Dir(src), 0o755); err != nil {
				errs = append(errs, fmt.Errorf(messages.CaskroomCreateDirFailedFmt, filepath.Dir(src), err))
				continue
			}
			if err := sys.Rename(dst, src); err != nil {
				errs = append(errs, fmt.Errorf(messages.CaskroomMoveFailedFmt, dst, src, err))
			}
		case ArtifactBinary:
			link, err := sys.Readlink(dst)
			if err != nil || link != src {
				continue
			}
			if err := sys.Remove(dst); err != nil {
				errs = append(errs, fmt.Errorf(messages.CaskroomRemoveFailedFmt, dst, err))
			}
		}
	}
	return errors.Join(errs...)
}

// PurgeVersionedFiles removes the version directory.
func (s *session) PurgeVersionedFiles() error {
	dir := s.room.layout.VersionDir(s.ref)
	if err := s.room.sys.RemoveAll(dir); err != nil {
		return fmt.Errorf(messages.CaskroomRemoveFailedFmt, dir, err)
	}
	s.staged = false
	s.removeEmptyPackageDir()
	return nil
}

// removeEmptyPackageDir drops the package directory once nothing is left in it.
func (s *session) removeEmptyPackageDir() {
	dir := s.room.layout.PackageDir(s.ref.Name)
	entries, err := s.room.sys.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = s.room.sys.Remove(dir)
	}
}

// StartUpgrade uninstalls the installed version's artifacts and moves its
// version directory into staging. On failure it puts everything back.
func (s *session) StartUpgrade() error {
	receipt, err := s.installedReceipt()
	if err != nil {
		return err
	}
	sys := s.room.sys
	versionDir := s.room.layout.VersionDir(s.ref)
	stagingDir := s.room.layout.StagingDir(s.ref)

	if _, err := sys.Lstat(stagingDir); err == nil {
		return fmt.Errorf(messages.CaskroomStagingExistsFmt, stagingDir)
	}
	if err := s.removeArtifacts(receipt.Artifacts, versionDir); err != nil {
		return errors.Join(err, s.restoreArtifacts(receipt, versionDir))
	}
	if err := sys.MkdirAll(filepath.Dir(stagingDir), 0o755); err != nil {
		err = fmt.Errorf(messages.CaskroomCreateDirFailedFmt, filepath.Dir(stagingDir), err)
		return errors.Join(err, s.restoreArtifacts(receipt, versionDir))
	}
	if err := sys.Rename(versionDir, stagingDir); err != nil {
		err = fmt.Errorf(messages.CaskroomMoveFailedFmt, versionDir, stagingDir, err)
		return errors.Join(err, s.restoreArtifacts(receipt, versionDir))
	}
	marker, err := newMarker(s.ref, s.room.now())
	if err == nil {
		err = writeMarker(sys, stagingDir, marker)
	}
	if err != nil {
		if moveErr := sys.Rename(stagingDir, versionDir); moveErr != nil {
			return errors.Join(err, moveErr)
		}
		return errors.Join(err, s.restoreArtifacts(receipt, versionDir))
	}
	s.log.V(1).Info("staged installed version", "dir", stagingDir, "marker", marker.ID)
	return nil
}

// restoreArtifacts reinstalls the artifacts recorded in receipt from dir.
func (s *session) restoreArtifacts(receipt *Receipt, dir string) error {
	restore := *s
	restore.opts.Force = true
	binaries := receipt.Binaries
	restore.opts.Binaries = &binaries
	restore.cfg = upgrade.Config(receipt.Config).Clone()
	for key, value := range s.cfg {
		if _, ok := restore.cfg[key]; !ok {
			restore.cfg[key] = value
		}
	}
	var pending []Artifact
	for _, artifact := range receipt.Artifacts {
		src, dst, err := restore.artifactPaths(artifact, dir)
		if err != nil {
			return err
		}
		if artifact.Kind == ArtifactApp {
			if _, err := s.room.sys.Lstat(src); err != nil {
				// Still in place.
				continue
			}
		} else if link, err := s.room.sys.Readlink(dst); err == nil && link == src {
			continue
		}
		pending = append(pending, artifact)
	}
	return restore.placeArtifacts(pending, dir, false, "")
}

// FinalizeUpgrade discards the staged previous version. The staging directory
// is moved to the trash in a single rename, and only that rename can fail the
// step: deleting the trash afterwards is best effort.
func (s *session) FinalizeUpgrade() error {
	sys := s.room.sys
	stagingDir := s.room.layout.StagingDir(s.ref)
	trashDir := s.room.layout.TrashDir(s.ref)

	if err := sys.RemoveAll(trashDir); err != nil {
		s.log.V(1).Info("clear trash", "dir", trashDir, "error", err.Error())
	}
	if err := sys.MkdirAll(filepath.Dir(trashDir), 0o755); err != nil {
		return fmt.Errorf(messages.CaskroomCreateDirFailedFmt, filepath.Dir(trashDir), err)
	}
	if err := sys.Rename(stagingDir, trashDir); err != nil {
		s.removeIfEmpty(filepath.Dir(trashDir))
		return fmt.Errorf(messages.CaskroomMoveFailedFmt, stagingDir, trashDir, err)
	}
	s.removeEmptyStagingRoot()
	if err := sys.RemoveAll(trashDir); err != nil {
		s.log.V(1).Info("remove finalized version", "dir", trashDir, "error", err.Error())
		return nil
	}
	s.removeIfEmpty(filepath.Dir(trashDir))
	return nil
}

func (s *session) removeEmptyStagingRoot() {
	s.removeIfEmpty(filepath.Dir(s.room.layout.StagingDir(s.ref)))
}

func (s *session) removeIfEmpty(dir string) {
	entries, err := s.room.sys.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = s.room.sys.Remove(dir)
	}
}

// RevertUpgrade moves the staged version back and reinstalls its artifacts.
func (s *session) RevertUpgrade() error {
	receipt, err := s.installedReceipt()
	if err != nil {
		return err
	}
	sys := s.room.sys
	versionDir := s.room.layout.VersionDir(s.ref)
	stagingDir := s.room.layout.StagingDir(s.ref)

	if _, err := sys.Lstat(stagingDir); err != nil {
		return fmt.Errorf(messages.CaskroomStagingMissingFmt, stagingDir, err)
	}
	if _, err := sys.Lstat(filepath.Join(stagingDir, receiptFileName)); err != nil {
		return fmt.Errorf(messages.CaskroomStagingIncompleteFmt, stagingDir, err)
	}
	if _, err := sys.Lstat(versionDir); err == nil {
		return fmt.Errorf(messages.CaskroomVersionDirExistsFmt, versionDir)
	}
	if err := sys.Rename(stagingDir, versionDir); err != nil {
		return fmt.Errorf(messages.CaskroomMoveFailedFmt, stagingDir, versionDir, err)
	}
	if err := sys.Remove(filepath.Join(versionDir, markerFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf(messages.CaskroomRemoveFailedFmt, filepath.Join(versionDir, markerFileName), err)
	}
	s.removeEmptyStagingRoot()
	if err := s.restoreArtifacts(receipt, versionDir); err != nil {
		return err
	}
	s.log.V(1).Info("restored previous version", "dir", versionDir)
	return nil
}
