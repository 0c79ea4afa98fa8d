// Package caskroom is the on-disk package store: definitions, installed
// versions, staging and the installer sessions the upgrade engine drives.
package caskroom

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aymanbagabas/go-udiff"
	"github.com/go-logr/logr"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/upgrade"
)

// Config keys understood by sessions.
const (
	ConfigAppDir = "appdir"
	ConfigBinDir = "bindir"
)

// ErrAlreadyInstalled is returned by Install when some version of the package is installed.
var ErrAlreadyInstalled = errors.New("package is already installed")

// Options configures a Caskroom.
type Options struct {
	System  System
	Fetcher *Fetcher
	// Defaults fill config keys a session leaves unset.
	Defaults upgrade.Config
	Logger   logr.Logger
	Now      func() time.Time
}

// Caskroom implements upgrade.Catalog, upgrade.Installer and
// upgrade.DefinitionDiffer on top of a prefix directory.
type Caskroom struct {
	layout   Layout
	sys      System
	fetcher  *Fetcher
	defaults upgrade.Config
	log      logr.Logger
	now      func() time.Time
}

var (
	_ upgrade.Catalog          = (*Caskroom)(nil)
	_ upgrade.Installer        = (*Caskroom)(nil)
	_ upgrade.DefinitionDiffer = (*Caskroom)(nil)
)

// New returns a Caskroom rooted at prefix.
func New(prefix string, opts Options) (*Caskroom, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, errors.New(messages.CaskroomPrefixRequired)
	}
	abs, err := filepath.Abs(prefix)
	if err != nil {
		return nil, fmt.Errorf(messages.CaskroomPrefixResolveFmt, prefix, err)
	}
	c := &Caskroom{
		layout:  Layout{Prefix: abs},
		sys:     opts.System,
		fetcher: opts.Fetcher,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if c.sys == nil {
		c.sys = RealSystem{}
	}
	if c.fetcher == nil {
		c.fetcher = NewFetcher(FetcherOptions{Logger: opts.Logger})
	}
	if c.log.GetSink() == nil {
		c.log = logr.Discard()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.defaults = upgrade.Config{
		ConfigAppDir: filepath.Join(abs, "Applications"),
		ConfigBinDir: filepath.Join(abs, "bin"),
	}
	for key, value := range opts.Defaults {
		if value != "" {
			c.defaults[key] = value
		}
	}
	return c, nil
}

// Layout returns the resolved prefix layout.
func (c *Caskroom) Layout() Layout {
	return c.layout
}

// Defaults returns the config applied to sessions before their own values.
func (c *Caskroom) Defaults() upgrade.Config {
	return c.defaults.Clone()
}

// packageNames lists directories under the caskroom.
func (c *Caskroom) packageNames() ([]string, error) {
	root := c.layout.CaskroomDir()
	entries, err := c.sys.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf(messages.CaskroomReadFailedFmt, root, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && isPathComponent(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// installedReceipt returns the receipt of the installed version of name, or nil.
// When several versions carry receipts the most recently installed wins.
func (c *Caskroom) installedReceipt(name string) (*Receipt, error) {
	dir := c.layout.PackageDir(name)
	entries, err := c.sys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf(messages.CaskroomReadFailedFmt, dir, err)
	}
	var newest *Receipt
	for _, entry := range entries {
		if !entry.IsDir() || !isPathComponent(entry.Name()) {
			continue
		}
		receipt, err := readReceiptIfPresent(c.sys, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if receipt == nil {
			continue
		}
		if newest == nil || receipt.InstalledAt.After(newest.InstalledAt) {
			newest = receipt
		}
	}
	return newest, nil
}

// Installed lists every package with an installed version, sorted by name.
func (c *Caskroom) Installed() ([]upgrade.Package, error) {
	names, err := c.packageNames()
	if err != nil {
		return nil, err
	}
	var pkgs []upgrade.Package
	for _, name := range names {
		receipt, err := c.installedReceipt(name)
		if err != nil {
			return nil, err
		}
		if receipt == nil {
			continue
		}
		pkgs = append(pkgs, upgrade.Package{
			Ref:         receipt.Ref(),
			AutoUpdates: receipt.AutoUpdates,
			Config:      upgrade.Config(receipt.Config).Clone(),
		})
	}
	sort.Slice(pkgs, func(i, j int) bool {
		return pkgs[i].Ref.Name < pkgs[j].Ref.Name
	})
	return pkgs, nil
}

// IsInstalled reports whether any version of name is installed.
func (c *Caskroom) IsInstalled(name string) (bool, error) {
	receipt, err := c.installedReceipt(name)
	return receipt != nil, err
}

// Definition loads the available definition for name.
func (c *Caskroom) Definition(name string) (*Definition, error) {
	if !isPathComponent(name) {
		return nil, fmt.Errorf(messages.CaskroomInvalidNameFmt, name)
	}
	return loadDefinition(c.sys, c.layout.DefinitionsDir(), name)
}

// Available returns the version the definition for name installs.
func (c *Caskroom) Available(name string) (upgrade.Ref, error) {
	def, err := c.Definition(name)
	if err != nil {
		return upgrade.Ref{}, err
	}
	return def.Ref(), nil
}

// Outdated reports whether pkg differs from its available definition.
//
// Without greedy, packages that update themselves (auto_updates or a "latest"
// version) are never outdated. A greedy "latest" package is outdated unless the
// installed checksum matches a pinned definition checksum. Packages without a
// definition are never outdated.
func (c *Caskroom) Outdated(pkg upgrade.Package, greedy bool) (bool, error) {
	def, err := c.Definition(pkg.Ref.Name)
	if err != nil {
		if errors.Is(err, ErrDefinitionNotFound) {
			c.log.V(1).Info("no definition for installed package", "package", pkg.Ref.String())
			return false, nil
		}
		return false, err
	}
	if !greedy && (pkg.AutoUpdates || def.AutoUpdates || def.IsLatest()) {
		return false, nil
	}
	if !def.IsLatest() {
		return def.Version != pkg.Ref.Version, nil
	}
	if pkg.Ref.Version != LatestVersion || def.SHA256 == "" {
		return true, nil
	}
	receipt, err := readReceiptIfPresent(c.sys, c.layout.VersionDir(pkg.Ref))
	if err != nil {
		return false, err
	}
	return receipt == nil || receipt.SHA256 != def.SHA256, nil
}

// DefinitionDiff returns a unified diff between the definition recorded when
// old was installed and the definition that installs new.
func (c *Caskroom) DefinitionDiff(old upgrade.Ref, new upgrade.Ref) (string, error) {
	receipt, err := readReceiptIfPresent(c.sys, c.layout.VersionDir(old))
	if err != nil {
		return "", err
	}
	if receipt == nil {
		return "", fmt.Errorf(messages.CaskroomNotInstalledFmt, old)
	}
	def, err := c.Definition(new.Name)
	if err != nil {
		return "", err
	}
	return udiff.Unified(old.String(), new.String(), receipt.Definition, def.source), nil
}

// Session opens an installer session for ref. The installed receipt and the
// available definition are both loaded when present; a session needs at least one.
func (c *Caskroom) Session(ref upgrade.Ref, cfg upgrade.Config, opts upgrade.SessionOptions) (upgrade.Session, error) {
	return c.openSession(ref, cfg, opts)
}

func (c *Caskroom) openSession(ref upgrade.Ref, cfg upgrade.Config, opts upgrade.SessionOptions) (*session, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	receipt, err := readReceiptIfPresent(c.sys, c.layout.VersionDir(ref))
	if err != nil {
		return nil, err
	}
	def, err := c.Definition(ref.Name)
	switch {
	case errors.Is(err, ErrDefinitionNotFound):
		def = nil
	case err != nil:
		return nil, err
	case def.Version != ref.Version:
		def = nil
	}
	if receipt == nil && def == nil {
		return nil, fmt.Errorf(messages.CaskroomNoSuchVersionFmt, ref)
	}

	merged := c.defaults.Clone()
	for key, value := range cfg {
		if value != "" {
			merged[key] = value
		}
	}
	return &session{
		room:    c,
		ref:     ref,
		cfg:     merged,
		opts:    opts,
		def:     def,
		receipt: receipt,
		log:     c.log.WithValues("package", ref.String()),
	}, nil
}

// Install installs the available version of name for the first time.
// A failure after staging removes everything the attempt created.
func (c *Caskroom) Install(ctx context.Context, name string, cfg upgrade.Config, opts upgrade.SessionOptions) (upgrade.Ref, error) {
	installed, err := c.IsInstalled(name)
	if err != nil {
		return upgrade.Ref{}, err
	}
	if installed {
		return upgrade.Ref{}, fmt.Errorf("%w: %s", ErrAlreadyInstalled, name)
	}
	def, err := c.Definition(name)
	if err != nil {
		return upgrade.Ref{}, err
	}
	opts.Upgrade = false
	sess, err := c.openSession(def.Ref(), cfg, opts)
	if err != nil {
		return upgrade.Ref{}, err
	}
	sess.ctx = ctx

	if err := sess.CheckConflicts(); err != nil {
		return upgrade.Ref{}, err
	}
	if err := sess.Fetch(); err != nil {
		return upgrade.Ref{}, err
	}
	if err := sess.Stage(); err != nil {
		return upgrade.Ref{}, errors.Join(err, sess.PurgeVersionedFiles())
	}
	if err := sess.InstallArtifacts(); err != nil {
		return upgrade.Ref{}, errors.Join(err, sess.UninstallArtifacts(), sess.PurgeVersionedFiles())
	}
	return def.Ref(), nil
}
