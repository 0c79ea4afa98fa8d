package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conn-castle/keg/internal/messages"
)

func newPendingCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   messages.PendingUse,
		Short: messages.PendingShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			pending, err := e.room.PendingUpgrades()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				_, err := fmt.Fprintln(out, messages.PendingNone)
				return err
			}
			for _, p := range pending {
				line := fmt.Sprintf(messages.ReportPendingLineFmt, p.Ref(), p.StartedAt.Format(time.RFC3339), p.Path)
				if _, err := fmt.Fprintln(out, line); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
