package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/report"
	"github.com/conn-castle/keg/internal/upgrade"
)

func newInstallCmd(root *rootFlags) *cobra.Command {
	flags := &upgradeFlags{}
	cmd := &cobra.Command{
		Use:   messages.InstallUse,
		Short: messages.InstallShort,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			e, err := openEnv(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runInstall(cmd, e, args, withConfig(opts, e))
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&flags.force, "force", "f", false, messages.UpgradeFlagForce)
	f.BoolVar(&flags.skipDeps, "skip-deps", false, messages.UpgradeFlagSkipDeps)
	f.BoolVar(&flags.binaries, "binaries", false, messages.UpgradeFlagBinaries)
	f.BoolVar(&flags.noBinaries, "no-binaries", false, messages.UpgradeFlagNoBinaries)
	f.BoolVar(&flags.quarantine, "quarantine", false, messages.UpgradeFlagQuarantine)
	f.BoolVar(&flags.noQuarantine, "no-quarantine", false, messages.UpgradeFlagNoQuarantine)
	f.BoolVar(&flags.requireSHA, "require-sha", false, messages.UpgradeFlagRequireSHA)
	return cmd
}

// runInstall installs each name in order and keeps going after a failure.
func runInstall(cmd *cobra.Command, e *env, names []string, opts upgrade.Options) error {
	lock, err := e.room.Lock(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			e.log.V(1).Info("release lock", "error", err.Error())
		}
	}()

	printer := report.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), report.Options{})
	sessionOpts := upgrade.SessionOptions{
		Force:            opts.Force,
		SkipDependencies: opts.SkipDependencies,
		Binaries:         opts.Binaries,
		Quarantine:       opts.Quarantine,
		RequireSHA:       opts.RequireSHA,
	}
	var errs []error
	for _, name := range names {
		ref, err := e.room.Install(cmd.Context(), name, nil, sessionOpts)
		if err != nil {
			errs = append(errs, fmt.Errorf(messages.InstallFailedFmt, name, err))
			continue
		}
		if def, err := e.room.Definition(name); err == nil && def.Caveats != "" {
			printer.Caveats(name, def.Caveats)
		}
		printer.Success(fmt.Sprintf(messages.InstallSucceededFmt, ref.Name, ref.Version))
	}
	return errors.Join(errs...)
}
