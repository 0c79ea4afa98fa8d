package caskroom

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conn-castle/keg/internal/upgrade"
)

func TestNew_RequiresPrefix(t *testing.T) {
	_, err := New("  ", Options{})
	require.Error(t, err)
}

func TestNew_DefaultsOverride(t *testing.T) {
	prefix := t.TempDir()
	room, err := New(prefix, Options{Defaults: upgrade.Config{ConfigAppDir: "/custom/apps", ConfigBinDir: ""}})
	require.NoError(t, err)
	require.Equal(t, "/custom/apps", room.Defaults()[ConfigAppDir])
	require.Equal(t, filepath.Join(prefix, "bin"), room.Defaults()[ConfigBinDir])
}

func TestInstall_PlacesArtifactsAndWritesReceipt(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "1.0", `caveats = "Restart your shell."`)

	ref, err := room.Install(context.Background(), "demo", nil, upgrade.SessionOptions{})
	require.NoError(t, err)
	require.Equal(t, upgrade.Ref{Name: "demo", Version: "1.0"}, ref)

	require.Equal(t, "1.0", readTestFile(t, filepath.Join(appPath(room, "demo"), "version.txt")))
	link, err := os.Readlink(binPath(room, "demo"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(room.Layout().VersionDir(ref), "bin", "demo"), link)

	receipt, err := readReceipt(RealSystem{}, room.Layout().VersionDir(ref))
	require.NoError(t, err)
	require.Equal(t, "demo", receipt.Name)
	require.Equal(t, "1.0", receipt.Version)
	require.True(t, receipt.Binaries)
	require.True(t, receipt.Quarantine)
	require.True(t, testNow.Equal(receipt.InstalledAt))
	require.Equal(t, "demo.toml", receipt.DefinitionFile)
	require.Contains(t, receipt.Definition, `version = "1.0"`)
	require.Equal(t, room.Defaults()[ConfigAppDir], receipt.Config[ConfigAppDir])

	pkgs, err := room.Installed()
	require.NoError(t, err)
	require.Equal(t, []upgrade.Package{{
		Ref:    ref,
		Config: upgrade.Config(receipt.Config),
	}}, pkgs)
}

func TestInstall_AlreadyInstalled(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "1.0")
	_, err := room.Install(context.Background(), "demo", nil, upgrade.SessionOptions{})
	require.NoError(t, err)

	_, err = room.Install(context.Background(), "demo", nil, upgrade.SessionOptions{})
	require.ErrorIs(t, err, ErrAlreadyInstalled)
}

func TestInstall_WithoutBinaries(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "1.0")
	off := false

	_, err := room.Install(context.Background(), "demo", nil, upgrade.SessionOptions{Binaries: &off})
	require.NoError(t, err)

	_, err = os.Lstat(binPath(room, "demo"))
	require.True(t, os.IsNotExist(err), "binary link should not exist, got %v", err)
	_, err = os.Stat(appPath(room, "demo"))
	require.NoError(t, err)
}

func TestInstall_ConflictAndDependencies(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "base", "1.0")
	writeDemoPackage(t, room, "rival", "1.0", `conflicts_with = ["base"]`)
	writeDemoPackage(t, room, "plugin", "1.0", `depends_on = ["base"]`)

	_, err := room.Install(context.Background(), "plugin", nil, upgrade.SessionOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "depends on base")

	_, err = room.Install(context.Background(), "plugin", nil, upgrade.SessionOptions{SkipDependencies: true})
	require.NoError(t, err)

	_, err = room.Install(context.Background(), "base", nil, upgrade.SessionOptions{})
	require.NoError(t, err)
	_, err = room.Install(context.Background(), "rival", nil, upgrade.SessionOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "conflicts with installed package base")
}

func TestInstall_TargetExists(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "1.0")
	foreign := filepath.Join(appPath(room, "demo"), "foreign.txt")
	writeTestFile(t, foreign, []byte("not ours"))

	_, err := room.Install(context.Background(), "demo", nil, upgrade.SessionOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
	require.Equal(t, "not ours", readTestFile(t, foreign))
	_, err = os.Stat(room.Layout().PackageDir("demo"))
	require.True(t, os.IsNotExist(err), "failed install should leave no caskroom entry, got %v", err)

	_, err = room.Install(context.Background(), "demo", nil, upgrade.SessionOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, "1.0", readTestFile(t, filepath.Join(appPath(room, "demo"), "version.txt")))
}

func TestInstall_RequireSHA(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeTestFile(t, filepath.Join(room.Layout().DefinitionsDir(), "tool"), []byte("#!/bin/sh\n"))
	writeTestFile(t, filepath.Join(room.Layout().DefinitionsDir(), "tool.yaml"), []byte(`name: tool
version: "3.1"
url: tool
artifacts:
  - kind: binary
    source: tool
`))
	on := true

	_, err := room.Install(context.Background(), "tool", nil, upgrade.SessionOptions{RequireSHA: &on})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no sha256 checksum")

	_, err = room.Install(context.Background(), "tool", nil, upgrade.SessionOptions{})
	require.NoError(t, err)
	link, err := os.Readlink(binPath(room, "tool"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(room.Layout().VersionDir(upgrade.Ref{Name: "tool", Version: "3.1"}), "tool"), link)
}

func TestInstall_ChecksumMismatch(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "1.0")
	payload := filepath.Join(room.Layout().DefinitionsDir(), "payloads", "demo-1.0.tar.gz")
	writeTestFile(t, payload, tarball(t, map[string]string{"Demo.app/version.txt": "tampered"}))

	_, err := room.Install(context.Background(), "demo", nil, upgrade.SessionOptions{})
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestOutdated(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "2.0")
	writeDemoPackage(t, room, "selfup", "2.0", "auto_updates = true")

	tests := []struct {
		name   string
		pkg    upgrade.Package
		greedy bool
		want   bool
	}{
		{name: "older version", pkg: upgrade.Package{Ref: upgrade.Ref{Name: "demo", Version: "1.0"}}, want: true},
		{name: "same version", pkg: upgrade.Package{Ref: upgrade.Ref{Name: "demo", Version: "2.0"}}, want: false},
		{name: "auto updates skipped", pkg: upgrade.Package{Ref: upgrade.Ref{Name: "selfup", Version: "1.0"}}, want: false},
		{name: "auto updates greedy", pkg: upgrade.Package{Ref: upgrade.Ref{Name: "selfup", Version: "1.0"}}, greedy: true, want: true},
		{name: "installed auto updates flag", pkg: upgrade.Package{Ref: upgrade.Ref{Name: "demo", Version: "1.0"}, AutoUpdates: true}, want: false},
		{name: "no definition", pkg: upgrade.Package{Ref: upgrade.Ref{Name: "ghost", Version: "1.0"}}, greedy: true, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := room.Outdated(tt.pkg, tt.greedy)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestOutdated_Latest(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "nightly", LatestVersion)
	_, err := room.Install(context.Background(), "nightly", nil, upgrade.SessionOptions{})
	require.NoError(t, err)
	pkg := upgrade.Package{Ref: upgrade.Ref{Name: "nightly", Version: LatestVersion}}

	outdated, err := room.Outdated(pkg, false)
	require.NoError(t, err)
	require.False(t, outdated, "latest packages are only upgraded greedily")

	outdated, err = room.Outdated(pkg, true)
	require.NoError(t, err)
	require.False(t, outdated, "matching checksum means nothing changed")

	defPath := filepath.Join(room.Layout().DefinitionsDir(), "nightly.toml")
	receipt, err := readReceipt(RealSystem{}, room.Layout().VersionDir(pkg.Ref))
	require.NoError(t, err)
	rebuilt := strings.Replace(readTestFile(t, defPath), receipt.SHA256, strings.Repeat("0", 64), 1)
	writeTestFile(t, defPath, []byte(rebuilt))
	outdated, err = room.Outdated(pkg, true)
	require.NoError(t, err)
	require.True(t, outdated)
}

func TestAvailableAndDefinitionErrors(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "2.0")

	ref, err := room.Available("demo")
	require.NoError(t, err)
	require.Equal(t, upgrade.Ref{Name: "demo", Version: "2.0"}, ref)

	_, err = room.Available("missing")
	require.ErrorIs(t, err, ErrDefinitionNotFound)

	_, err = room.Available("../escape")
	require.Error(t, err)

	writeTestFile(t, filepath.Join(room.Layout().DefinitionsDir(), "renamed.toml"), []byte(`name = "other"
version = "1.0"
url = "x"
`))
	_, err = room.Available("renamed")
	require.Error(t, err)
	require.Contains(t, err.Error(), `declares name "other"`)
}

func TestDefinitionDiff(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "1.0")
	_, err := room.Install(context.Background(), "demo", nil, upgrade.SessionOptions{})
	require.NoError(t, err)
	writeDemoPackage(t, room, "demo", "2.0")

	diff, err := room.DefinitionDiff(upgrade.Ref{Name: "demo", Version: "1.0"}, upgrade.Ref{Name: "demo", Version: "2.0"})
	require.NoError(t, err)
	require.Contains(t, diff, `-version = "1.0"`)
	require.Contains(t, diff, `+version = "2.0"`)

	_, err = room.DefinitionDiff(upgrade.Ref{Name: "demo", Version: "0.9"}, upgrade.Ref{Name: "demo", Version: "2.0"})
	require.Error(t, err)
}

func TestSession_UnknownVersion(t *testing.T) {
	room, _ := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "2.0")

	_, err := room.Session(upgrade.Ref{Name: "demo", Version: "1.5"}, nil, upgrade.SessionOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "neither installed nor available")
}

func TestInstalled_IgnoresUnfinishedVersions(t *testing.T) {
	room, _ := newTestCaskroom(t)
	require.NoError(t, os.MkdirAll(filepath.Join(room.Layout().PackageDir("half"), "1.0"), 0o755))
	writeTestFile(t, filepath.Join(room.Layout().CaskroomDir(), "stray-file"), []byte("x"))

	pkgs, err := room.Installed()
	require.NoError(t, err)
	require.Empty(t, pkgs)
}

func TestInstalled_ReadError(t *testing.T) {
	room, sys := newTestCaskroom(t)
	writeDemoPackage(t, room, "demo", "1.0")
	_, err := room.Install(context.Background(), "demo", nil, upgrade.SessionOptions{})
	require.NoError(t, err)

	receiptPath := filepath.Join(room.Layout().VersionDir(upgrade.Ref{Name: "demo", Version: "1.0"}), receiptFileName)
	sys.readErrs[normalizePath(receiptPath)] = errors.New("disk on fire")
	_, err = room.Installed()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "disk on fire"))
}
