package upgrade

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/conn-castle/keg/internal/messages"
)

// Transaction replaces one installed package version with a new one.
// It either fully upgrades the package or compensates back to the installed version.
type Transaction struct {
	Installer    Installer
	Reporter     Reporter
	Observer     Observer
	Logger       logr.Logger
	GlobalConfig Config
	MergePolicy  MergePolicy
}

// txState tracks how far the transaction got, for deciding what to undo.
type txState struct {
	stagingStarted        bool
	newArtifactsInstalled bool
}

// Execute upgrades old to newRef.
func (t *Transaction) Execute(old Package, newRef Ref, opts Options) error {
	if t.Installer == nil {
		return fmt.Errorf(messages.UpgradeInstallerRequired)
	}
	opts = opts.Normalized()
	reporter := t.reporter()
	log := t.logger()

	log.V(1).Info("starting upgrade", "package", old.Ref.Name, "from", old.Ref.Version, "to", newRef.Version)

	oldSession, err := t.Installer.Session(old.Ref, old.Config.Clone(), opts.oldSessionOptions())
	if err != nil {
		return fmt.Errorf(messages.UpgradeSessionFailedFmt, old.Ref, err)
	}
	newConfig := MergeConfig(t.GlobalConfig, old.Config, t.MergePolicy)
	newSession, err := t.Installer.Session(newRef, newConfig, opts.newSessionOptions())
	if err != nil {
		return fmt.Errorf(messages.UpgradeSessionFailedFmt, newRef, err)
	}

	reporter.Heading(fmt.Sprintf(messages.UpgradeTransactionHeadingFmt, old.Ref))

	state := &txState{}
	s := &saga{
		pkg:      newRef,
		steps:    upgradeSteps(old.Ref, oldSession, newSession, state, reporter, newRef.Name),
		log:      log,
		observer: t.observer(),
	}
	if err := s.run(); err != nil {
		return err
	}
	log.V(1).Info("upgrade finished", "package", newRef.Name, "version", newRef.Version)
	return nil
}

// upgradeSteps lists the upgrade actions in execution order. Compensations are
// armed so that a failure unwinds as: uninstall new artifacts, purge new
// versioned files, revert the old version out of staging. Steps run by
// oldSession report oldRef.
func upgradeSteps(oldRef Ref, oldSession Session, newSession Session, state *txState, reporter Reporter, name string) []sagaStep {
	uninstall := &sagaAction{step: StepUninstallArtifacts, run: func() error {
		if !state.newArtifactsInstalled {
			return nil
		}
		if err := newSession.UninstallArtifacts(); err != nil {
			return err
		}
		state.newArtifactsInstalled = false
		return nil
	}}
	purge := &sagaAction{step: StepPurgeVersionedFiles, run: newSession.PurgeVersionedFiles}
	revert := &sagaAction{step: StepRevertUpgrade, pkg: oldRef, run: func() error {
		if !state.stagingStarted {
			return nil
		}
		if err := oldSession.RevertUpgrade(); err != nil {
			return err
		}
		state.stagingStarted = false
		return nil
	}}

	return []sagaStep{
		{action: sagaAction{step: StepCheckConflicts, run: newSession.CheckConflicts}},
		{action: sagaAction{step: StepCaveats, run: func() error {
			if caveats := newSession.Caveats(); caveats != "" {
				reporter.Caveats(name, caveats)
			}
			return nil
		}}},
		{action: sagaAction{step: StepFetch, run: newSession.Fetch}},
		{
			action: sagaAction{step: StepStartUpgrade, pkg: oldRef, run: func() error {
				if err := oldSession.StartUpgrade(); err != nil {
					return err
				}
				state.stagingStarted = true
				return nil
			}},
			compensate: revert,
		},
		{action: sagaAction{step: StepStage, run: newSession.Stage}, compensate: purge, compensateOnFailure: true},
		{
			action: sagaAction{step: StepInstallArtifacts, run: func() error {
				state.newArtifactsInstalled = true
				return newSession.InstallArtifacts()
			}},
			compensate:          uninstall,
			compensateOnFailure: true,
		},
		{action: sagaAction{step: StepFinalizeUpgrade, pkg: oldRef, run: oldSession.FinalizeUpgrade}},
	}
}

func (t *Transaction) reporter() Reporter {
	if t.Reporter == nil {
		return nopReporter{}
	}
	return t.Reporter
}

func (t *Transaction) observer() Observer {
	if t.Observer == nil {
		return nopObserver{}
	}
	return t.Observer
}

func (t *Transaction) logger() logr.Logger {
	if t.Logger.GetSink() == nil {
		return logr.Discard()
	}
	return t.Logger
}
