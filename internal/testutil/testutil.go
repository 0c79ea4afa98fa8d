// Package testutil builds package fixtures for tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool {
	return &v
}

// SHA256Hex returns the hex sha256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Tarball builds a .tar.gz holding files. Entries are sorted so output is deterministic.
func Tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		content := files[name]
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}); err != nil {
			t.Fatalf("tar header %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// AppName is the app bundle name PublishPackage uses for name ("demo" -> "Demo.app").
func AppName(name string) string {
	return strings.ToUpper(name[:1]) + name[1:] + ".app"
}

// PublishPackage writes name at version into definitionsDir: a tarball holding
// Demo.app and a bin/<name> tool, plus a TOML definition pinning its checksum.
// extra holds additional top-level TOML lines. It returns the payload bytes.
func PublishPackage(t *testing.T, definitionsDir string, name string, version string, extra ...string) []byte {
	t.Helper()
	payload := Tarball(t, map[string]string{
		"Demo.app/version.txt": version,
		"bin/" + name:          "#!/bin/sh\necho " + version + "\n",
	})
	payloadName := fmt.Sprintf("payloads/%s-%s.tar.gz", name, version)
	WriteFile(t, filepath.Join(definitionsDir, payloadName), payload)

	def := fmt.Sprintf(`name = %q
version = %q
url = %q
sha256 = %q
%s

[[artifacts]]
kind = "app"
source = "Demo.app"
target = %q

[[artifacts]]
kind = "binary"
source = "bin/%s"
`, name, version, payloadName, SHA256Hex(payload), strings.Join(extra, "\n"), AppName(name), name)
	WriteFile(t, filepath.Join(definitionsDir, name+".toml"), []byte(def))
	return payload
}
