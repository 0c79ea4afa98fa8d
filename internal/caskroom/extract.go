package caskroom

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/conn-castle/keg/internal/messages"
)

// isTarball reports whether a download name looks like a gzip-compressed tar archive.
func isTarball(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz")
}

var errParentLinked = errors.New("parent is a symlink")

// checkParentsNotLinked walks the parent directories of name below dest and
// fails when one of them is a symlink, so a link placed by an earlier entry
// cannot redirect later entries outside dest.
func checkParentsNotLinked(sys System, dest string, name string) error {
	dir := path.Dir(name)
	if dir == "." {
		return nil
	}
	current := dest
	for _, part := range strings.Split(dir, "/") {
		current = filepath.Join(current, part)
		info, err := sys.Lstat(current)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf(messages.CaskroomStatFailedFmt, current, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return errParentLinked
		}
	}
	return nil
}

// extractTarball unpacks a .tar.gz payload into dest. Entries that would
// escape dest are rejected.
func extractTarball(sys System, data []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf(messages.CaskroomArchiveInvalidFmt, err)
	}
	defer func() {
		_ = gz.Close()
	}()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf(messages.CaskroomArchiveInvalidFmt, err)
		}
		name := strings.TrimPrefix(path.Clean(hdr.Name), "./")
		if name == "." {
			continue
		}
		if !isRelativeInside(name) {
			return fmt.Errorf(messages.CaskroomArchiveEntryUnsafeFmt, hdr.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if err := checkParentsNotLinked(sys, dest, name); err != nil {
			if errors.Is(err, errParentLinked) {
				return fmt.Errorf(messages.CaskroomArchiveEntryUnsafeFmt, hdr.Name)
			}
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := sys.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf(messages.CaskroomCreateDirFailedFmt, target, err)
			}
		case tar.TypeReg:
			if err := sys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf(messages.CaskroomCreateDirFailedFmt, filepath.Dir(target), err)
			}
			content, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf(messages.CaskroomArchiveInvalidFmt, err)
			}
			if err := sys.WriteFileAtomic(target, content, os.FileMode(hdr.Mode).Perm()); err != nil {
				return fmt.Errorf(messages.CaskroomWriteFailedFmt, target, err)
			}
		case tar.TypeSymlink:
			linkTarget := path.Join(path.Dir(name), hdr.Linkname)
			if path.IsAbs(hdr.Linkname) || !isRelativeInside(linkTarget) {
				return fmt.Errorf(messages.CaskroomArchiveEntryUnsafeFmt, hdr.Name)
			}
			if err := sys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf(messages.CaskroomCreateDirFailedFmt, filepath.Dir(target), err)
			}
			if err := sys.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf(messages.CaskroomWriteFailedFmt, target, err)
			}
		default:
			// Devices, fifos and hard links have no place in a package payload.
			return fmt.Errorf(messages.CaskroomArchiveEntryTypeFmt, hdr.Name, hdr.Typeflag)
		}
	}
}
