package upgrade

import "time"

// Session performs the installation mechanics for one package version.
// The transaction only orders these calls; it never touches the filesystem itself.
//
// StartUpgrade, FinalizeUpgrade and RevertUpgrade are only called on the session
// of the installed (old) version. UninstallArtifacts must be safe to call when
// nothing was installed.
type Session interface {
	CheckConflicts() error
	Caveats() string
	Fetch() error
	Stage() error
	InstallArtifacts() error
	UninstallArtifacts() error
	PurgeVersionedFiles() error
	StartUpgrade() error
	FinalizeUpgrade() error
	RevertUpgrade() error
}

// Installer creates sessions for package versions.
type Installer interface {
	Session(ref Ref, cfg Config, opts SessionOptions) (Session, error)
}

// Package describes an installed package.
type Package struct {
	Ref         Ref
	AutoUpdates bool
	Config      Config
}

// Catalog answers questions about installed and available packages.
type Catalog interface {
	// Installed lists every installed package.
	Installed() ([]Package, error)
	// Available returns the latest available version of a package.
	Available(name string) (Ref, error)
	// Outdated reports whether pkg should be upgraded. When greedy is false,
	// auto-updating packages are never outdated.
	Outdated(pkg Package, greedy bool) (bool, error)
}

// DefinitionDiffer is optionally implemented by a Catalog to describe what
// changed between two versions of a package definition.
type DefinitionDiffer interface {
	DefinitionDiff(old Ref, new Ref) (string, error)
}

// Reporter receives user-facing progress output.
type Reporter interface {
	Notice(msg string)
	Heading(msg string)
	Line(msg string)
	Caveats(name string, text string)
	Success(msg string)
}

// Observer receives transaction outcomes, for example to export metrics.
type Observer interface {
	TransactionFinished(name string, elapsed time.Duration, err error)
	CompensationFinished(step Step, err error)
}

type nopReporter struct{}

func (nopReporter) Notice(string)          {}
func (nopReporter) Heading(string)         {}
func (nopReporter) Line(string)            {}
func (nopReporter) Caveats(string, string) {}
func (nopReporter) Success(string)         {}

type nopObserver struct{}

func (nopObserver) TransactionFinished(string, time.Duration, error) {}
func (nopObserver) CompensationFinished(Step, error)                 {}
