package caskroom

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conn-castle/keg/internal/testutil"
)

// faultSystem allows deterministic error injection for the caskroom System
// interface without chmod-based permission tricks.
type faultSystem struct {
	base       System
	readErrs   map[string]error
	removeErrs map[string]error
	// partialRemoveErrs deletes the receipt under a path before failing RemoveAll.
	partialRemoveErrs map[string]error
	renameErrs        map[string]error
	linkErrs          map[string]error
	writeErrs         map[string]error
	xattrErrs         map[string]error
}

func newFaultSystem(base System) *faultSystem {
	return &faultSystem{
		base:              base,
		readErrs:          map[string]error{},
		removeErrs:        map[string]error{},
		partialRemoveErrs: map[string]error{},
		renameErrs:        map[string]error{},
		linkErrs:          map[string]error{},
		writeErrs:         map[string]error{},
		xattrErrs:         map[string]error{},
	}
}

func normalizePath(path string) string {
	return filepath.Clean(path)
}

func (f *faultSystem) Lstat(name string) (os.FileInfo, error) { return f.base.Lstat(name) }
func (f *faultSystem) Stat(name string) (os.FileInfo, error)  { return f.base.Stat(name) }
func (f *faultSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	return f.base.ReadDir(name)
}
func (f *faultSystem) Readlink(name string) (string, error) { return f.base.Readlink(name) }
func (f *faultSystem) MkdirAll(path string, perm os.FileMode) error {
	return f.base.MkdirAll(path, perm)
}
func (f *faultSystem) Remove(name string) error { return f.base.Remove(name) }

func (f *faultSystem) ReadFile(name string) ([]byte, error) {
	if err, ok := f.readErrs[normalizePath(name)]; ok {
		return nil, err
	}
	return f.base.ReadFile(name)
}

func (f *faultSystem) RemoveAll(path string) error {
	if err, ok := f.removeErrs[normalizePath(path)]; ok {
		return err
	}
	if err, ok := f.partialRemoveErrs[normalizePath(path)]; ok {
		_ = f.base.Remove(filepath.Join(path, receiptFileName))
		return err
	}
	return f.base.RemoveAll(path)
}

// Rename faults are keyed by destination.
func (f *faultSystem) Rename(oldpath string, newpath string) error {
	if err, ok := f.renameErrs[normalizePath(newpath)]; ok {
		return err
	}
	return f.base.Rename(oldpath, newpath)
}

// Symlink faults fire once so a later restore of the same link can succeed.
func (f *faultSystem) Symlink(oldname string, newname string) error {
	if err, ok := f.linkErrs[normalizePath(newname)]; ok {
		delete(f.linkErrs, normalizePath(newname))
		return err
	}
	return f.base.Symlink(oldname, newname)
}

func (f *faultSystem) WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	if err, ok := f.writeErrs[normalizePath(filename)]; ok {
		return err
	}
	return f.base.WriteFileAtomic(filename, data, perm)
}

func (f *faultSystem) Setxattr(path string, attr string, value []byte) error {
	if err, ok := f.xattrErrs[normalizePath(path)]; ok {
		return err
	}
	return f.base.Setxattr(path, attr, value)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestCaskroom returns a caskroom on a temp prefix backed by a faultSystem.
func newTestCaskroom(t *testing.T) (*Caskroom, *faultSystem) {
	t.Helper()
	sys := newFaultSystem(RealSystem{})
	room, err := New(t.TempDir(), Options{System: sys, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return room, sys
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	testutil.WriteFile(t, path, data)
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

var (
	sha256Hex = testutil.SHA256Hex
	tarball   = testutil.Tarball
)

// writeDemoPackage publishes name at version into the caskroom's definitions dir.
func writeDemoPackage(t *testing.T, room *Caskroom, name string, version string, extra ...string) {
	t.Helper()
	testutil.PublishPackage(t, room.Layout().DefinitionsDir(), name, version, extra...)
}

func appPath(room *Caskroom, name string) string {
	return filepath.Join(room.Defaults()[ConfigAppDir], testutil.AppName(name))
}

func binPath(room *Caskroom, name string) string {
	return filepath.Join(room.Defaults()[ConfigBinDir], name)
}
