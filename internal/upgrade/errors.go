package upgrade

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conn-castle/keg/internal/messages"
)

// Error classes. Use errors.Is to test which step an upgrade error came from.
var (
	ErrNotInstalled = errors.New("package is not installed")
	ErrConflict     = errors.New("conflict check failed")
	ErrFetch        = errors.New("fetch failed")
	ErrStaging      = errors.New("moving old version to staging failed")
	ErrStage        = errors.New("staging new version failed")
	ErrInstall      = errors.New("installing artifacts failed")
	ErrFinalize     = errors.New("finalizing upgrade failed")
	ErrUninstall    = errors.New("uninstalling artifacts failed")
	ErrPurge        = errors.New("purging versioned files failed")
	ErrRevert       = errors.New("reverting upgrade failed")
	ErrCompensation = errors.New("compensation failed")
	ErrAbandoned    = errors.New("upgrade abandoned")
)

// Step names one action of the upgrade transaction, including compensating actions.
type Step int

const (
	StepCheckConflicts Step = iota + 1
	StepCaveats
	StepFetch
	StepStartUpgrade
	StepStage
	StepInstallArtifacts
	StepFinalizeUpgrade
	StepUninstallArtifacts
	StepPurgeVersionedFiles
	StepRevertUpgrade
)

var stepNames = map[Step]string{
	StepCheckConflicts:      "check_conflicts",
	StepCaveats:             "caveats",
	StepFetch:               "fetch",
	StepStartUpgrade:        "start_upgrade",
	StepStage:               "stage",
	StepInstallArtifacts:    "install_artifacts",
	StepFinalizeUpgrade:     "finalize_upgrade",
	StepUninstallArtifacts:  "uninstall_artifacts",
	StepPurgeVersionedFiles: "purge_versioned_files",
	StepRevertUpgrade:       "revert_upgrade",
}

var stepClasses = map[Step]error{
	StepCheckConflicts:      ErrConflict,
	StepFetch:               ErrFetch,
	StepStartUpgrade:        ErrStaging,
	StepStage:               ErrStage,
	StepInstallArtifacts:    ErrInstall,
	StepFinalizeUpgrade:     ErrFinalize,
	StepUninstallArtifacts:  ErrUninstall,
	StepPurgeVersionedFiles: ErrPurge,
	StepRevertUpgrade:       ErrRevert,
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// StepError reports a failed session call.
type StepError struct {
	Step    Step
	Package Ref
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf(messages.UpgradeStepFailedFmt, e.Step, e.Package, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is matches the error class of the failed step.
func (e *StepError) Is(target error) bool {
	class, ok := stepClasses[e.Step]
	return ok && class == target
}

// CompensationError reports that undoing a failed transaction failed too.
// Both the original cause and every compensation failure stay reachable through errors.Is/As.
type CompensationError struct {
	Cause    error
	Failures []error
}

func (e *CompensationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		parts = append(parts, failure.Error())
	}
	return fmt.Sprintf(messages.UpgradeCompensationFailedFmt, e.Cause, strings.Join(parts, "; "))
}

func (e *CompensationError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures)+1)
	out = append(out, e.Cause)
	out = append(out, e.Failures...)
	return out
}

// Is reports true for ErrCompensation.
func (e *CompensationError) Is(target error) bool {
	return target == ErrCompensation
}

// PackageError labels an error with the package it belongs to.
type PackageError struct {
	Name string
	Err  error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf(messages.UpgradePackageErrorFmt, e.Name, e.Err)
}

func (e *PackageError) Unwrap() error {
	return e.Err
}

// MultiError aggregates the failures of a batch with more than one failed package.
type MultiError struct {
	Errors []*PackageError
}

func (e *MultiError) Error() string {
	var b strings.Builder
	b.WriteString(messages.UpgradeMultipleErrorsHeader)
	for _, err := range e.Errors {
		b.WriteString("\n  ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *MultiError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		out = append(out, err)
	}
	return out
}

// batchError collapses per-package failures into the error reported for the batch.
func batchError(failures []*PackageError) error {
	switch len(failures) {
	case 0:
		return nil
	case 1:
		return failures[0]
	default:
		return &MultiError{Errors: failures}
	}
}
