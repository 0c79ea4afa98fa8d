package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/conn-castle/keg/internal/caskroom"
	"github.com/conn-castle/keg/internal/config"
	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/terminal"
)

// Seams for tests.
var (
	lookupEnv  = os.LookupEnv
	isTerminal = terminal.IsStdoutTerminal
)

type rootFlags struct {
	prefix string
	debug  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           messages.RootUse,
		Short:         messages.RootShort,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Flags().Bool("version", false, messages.RootVersionFlag)
	cmd.PersistentFlags().StringVar(&flags.prefix, "prefix", "", messages.RootFlagPrefix)
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, messages.RootFlagDebug)

	cmd.AddCommand(
		newUpgradeCmd(flags),
		newInstallCmd(flags),
		newPendingCmd(flags),
	)
	return cmd
}

// env is what every subcommand needs: the resolved prefix, its config and a caskroom.
type env struct {
	paths config.Paths
	cfg   *config.Config
	log   logr.Logger
	room  *caskroom.Caskroom
}

// openEnv resolves the prefix, loads keg.toml and builds the caskroom.
func openEnv(flags *rootFlags, stderr io.Writer) (*env, error) {
	paths, err := config.ResolvePaths(flags.prefix, lookupEnv)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(flags.debug, stderr)
	logger.V(1).Info("resolved prefix", "prefix", paths.Prefix, "config", paths.ConfigPath)

	fetchOpts := caskroom.FetcherOptions{
		Timeout:    cfg.FetchTimeout(),
		Retries:    cfg.FetchRetries(),
		S3Region:   cfg.Fetch.S3Region,
		S3Endpoint: cfg.Fetch.S3Endpoint,
		Logger:     logger.WithName("fetch"),
	}
	room, err := caskroom.New(paths.Prefix, caskroom.Options{
		Fetcher:  caskroom.NewFetcher(fetchOpts),
		Defaults: cfg.GlobalConfig(),
		Logger:   logger.WithName("caskroom"),
	})
	if err != nil {
		return nil, err
	}
	return &env{paths: paths, cfg: cfg, log: logger, room: room}, nil
}

// newLogger returns a stdr logger at verbosity 1 when debug is set.
func newLogger(debug bool, stderr io.Writer) logr.Logger {
	if !debug {
		return logr.Discard()
	}
	stdr.SetVerbosity(1)
	return stdr.New(log.New(stderr, messages.RootDebugPrefix, log.LstdFlags))
}

func flagConflict(a string, b string) error {
	return fmt.Errorf(messages.FlagConflictFmt, a, b)
}
