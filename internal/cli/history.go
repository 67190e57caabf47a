package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pi314/dpush/internal/db"
	"github.com/pi314/dpush/internal/journal"
	"github.com/pi314/dpush/internal/types"
)

var statusColors = map[types.TaskStatus]*color.Color{
	types.TaskWorking:     color.New(color.FgBlue),
	types.TaskInfo:        color.New(color.FgCyan),
	types.TaskSucceed:     color.New(color.FgGreen),
	types.TaskFailed:      color.New(color.FgRed),
	types.TaskInterrupted: color.New(color.FgYellow),
	types.TaskCanceled:    color.New(color.FgHiBlack),
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent task events from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Journal == "" {
				return errors.New("journal is disabled")
			}
			conn, err := db.Init(a.cfg.Journal)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer conn.Close()

			events, err := journal.New(conn, a.log).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Fprintln(a.streams.Out, formatEvent(e))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	return cmd
}

func formatEvent(e journal.Event) string {
	tag := "[" + string(e.Status) + "]"
	if c, ok := statusColors[e.Status]; ok {
		tag = c.Sprint(tag)
	}
	line := fmt.Sprintf("%s %s %s", e.At.Format("2006-01-02 15:04:05"), tag, e.Cmd)
	if len(e.Args) > 0 {
		line += " " + strings.Join(e.Args, " ")
	}
	if e.Cwd != "" {
		line += " (" + e.Cwd + ")"
	}
	return line
}
