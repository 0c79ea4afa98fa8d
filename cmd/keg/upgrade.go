package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/metrics"
	"github.com/conn-castle/keg/internal/report"
	"github.com/conn-castle/keg/internal/upgrade"
)

type upgradeFlags struct {
	force        bool
	skipDeps     bool
	greedy       bool
	dryRun       bool
	binaries     bool
	noBinaries   bool
	quarantine   bool
	noQuarantine bool
	requireSHA   bool
	verbose      bool
	quiet        bool
}

func newUpgradeCmd(root *rootFlags) *cobra.Command {
	flags := &upgradeFlags{}
	cmd := &cobra.Command{
		Use:   messages.UpgradeUse,
		Short: messages.UpgradeShort,
		Long:  messages.UpgradeLong,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			e, err := openEnv(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runUpgrade(cmd, e, args, opts, flags.quiet)
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&flags.force, "force", "f", false, messages.UpgradeFlagForce)
	f.BoolVar(&flags.skipDeps, "skip-deps", false, messages.UpgradeFlagSkipDeps)
	f.BoolVarP(&flags.greedy, "greedy", "g", false, messages.UpgradeFlagGreedy)
	f.BoolVarP(&flags.dryRun, "dry-run", "n", false, messages.UpgradeFlagDryRun)
	f.BoolVar(&flags.binaries, "binaries", false, messages.UpgradeFlagBinaries)
	f.BoolVar(&flags.noBinaries, "no-binaries", false, messages.UpgradeFlagNoBinaries)
	f.BoolVar(&flags.quarantine, "quarantine", false, messages.UpgradeFlagQuarantine)
	f.BoolVar(&flags.noQuarantine, "no-quarantine", false, messages.UpgradeFlagNoQuarantine)
	f.BoolVar(&flags.requireSHA, "require-sha", false, messages.UpgradeFlagRequireSHA)
	f.BoolVarP(&flags.verbose, "verbose", "v", false, messages.UpgradeFlagVerbose)
	f.BoolVarP(&flags.quiet, "quiet", "q", false, messages.UpgradeFlagQuiet)
	return cmd
}

// options turns the flags into upgrade options. Settings left unset on the
// command line are filled from keg.toml by withConfig.
func (f *upgradeFlags) options(cmd *cobra.Command) (upgrade.Options, error) {
	if f.binaries && f.noBinaries {
		return upgrade.Options{}, flagConflict("binaries", "no-binaries")
	}
	if f.quarantine && f.noQuarantine {
		return upgrade.Options{}, flagConflict("quarantine", "no-quarantine")
	}
	if f.verbose && f.quiet {
		return upgrade.Options{}, flagConflict("verbose", "quiet")
	}
	opts := upgrade.Options{
		Force:            f.force,
		SkipDependencies: f.skipDeps,
		Greedy:           f.greedy,
		DryRun:           f.dryRun,
		Verbose:          f.verbose || (!f.quiet && isTerminal()),
		Binaries:         tristate(f.binaries, f.noBinaries),
		Quarantine:       tristate(f.quarantine, f.noQuarantine),
	}
	if cmd.Flags().Changed("require-sha") {
		requireSHA := f.requireSHA
		opts.RequireSHA = &requireSHA
	}
	return opts, nil
}

func tristate(on bool, off bool) *bool {
	switch {
	case on:
		v := true
		return &v
	case off:
		v := false
		return &v
	default:
		return nil
	}
}

func runUpgrade(cmd *cobra.Command, e *env, names []string, opts upgrade.Options, quiet bool) error {
	opts = withConfig(opts, e)
	printer := report.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), report.Options{Quiet: quiet})

	if !opts.DryRun {
		lock, err := e.room.Lock(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				e.log.V(1).Info("release lock", "error", err.Error())
			}
		}()
	}
	warnPending(e, printer)

	recorder := metrics.New()
	coordinator := &upgrade.Coordinator{
		Catalog:      e.room,
		Installer:    e.room,
		Reporter:     printer,
		Observer:     recorder,
		Logger:       e.log.WithName("upgrade"),
		GlobalConfig: e.cfg.GlobalConfig(),
		MergePolicy:  e.cfg.MergePolicy(),
	}
	_, err := coordinator.Upgrade(cmd.Context(), names, opts)

	if path := e.cfg.Metrics.Textfile; path != "" && !opts.DryRun {
		if writeErr := recorder.WriteTextfile(path); writeErr != nil {
			printer.Warning(fmt.Sprintf(messages.MetricsWarningFmt, writeErr))
		}
	}
	return err
}

// withConfig applies keg.toml [upgrade] settings the flags left open.
func withConfig(opts upgrade.Options, e *env) upgrade.Options {
	settings := e.cfg.Upgrade
	opts.Greedy = opts.Greedy || settings.Greedy
	if opts.Binaries == nil {
		opts.Binaries = settings.Binaries
	}
	if opts.Quarantine == nil {
		opts.Quarantine = settings.Quarantine
	}
	if opts.RequireSHA == nil {
		opts.RequireSHA = settings.RequireSHA
	}
	return opts
}

// warnPending reports upgrades an interrupted process left in staging.
func warnPending(e *env, printer *report.Printer) {
	pending, err := e.room.PendingUpgrades()
	if err != nil {
		e.log.V(1).Info("scan pending upgrades", "error", err.Error())
		return
	}
	if len(pending) == 0 {
		return
	}
	printer.Warning(messages.ReportPendingUpgrade)
	for _, p := range pending {
		printer.Warning(fmt.Sprintf(messages.ReportPendingLineFmt, p.Ref(), p.StartedAt.Format(time.RFC3339), p.Path))
	}
}
