package cli

import (
	"github.com/spf13/cobra"

	"github.com/pi314/dpush/internal/worker"
)

func newDCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:                "d [drive args...]",
		Short:              "Wrapper to drive",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := worker.Passthrough(cmd.Context(), a.cfg.DriveBin, args, a.streams.In, a.streams.Out, a.streams.Err)
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitCodeError{Code: code}
			}
			return nil
		},
	}
}
