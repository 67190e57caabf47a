package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/pi314/dpush/internal/config"
	"github.com/pi314/dpush/pkg/logger"
)

// ExitCodeError carries a specific process exit code. A nil Err exits
// silently.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e == nil {
		return "exit status 1"
	}
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Streams are the stdio the commands talk to.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

type app struct {
	streams Streams
	v       *viper.Viper
	cfgFile string
	verbose bool
	cfg     config.Config
	log     *logger.FileLogger
}

// interactive reports whether In is a terminal.
func (a *app) interactive() bool {
	f, ok := a.streams.In.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func NewRootCommand(streams Streams) *cobra.Command {
	return newRootCommand(streams, logger.New(streams.Err))
}

func newRootCommand(streams Streams, log *logger.FileLogger) *cobra.Command {
	a := &app{
		streams: streams,
		v:       config.NewViper(),
		log:     log,
	}

	root := &cobra.Command{
		Use:           "dpush",
		Short:         "A task queue with a built-in wrapper to drive",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfgFile != "" {
				a.v.SetConfigFile(a.cfgFile)
			}
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.verbose {
				a.log.SetLevel(logger.LevelDebug)
			}
			return nil
		},
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default "+config.DefaultPath()+")")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.String("host", "", "task queue host")
	pf.Int("port", 0, "task queue port")
	pf.String("log-file", "", "task log file")
	pf.String("journal", "", "sqlite journal path (empty string in config disables)")
	pf.String("drive-bin", "", "drive executable")
	for key, flag := range map[string]string{
		"host":      "host",
		"port":      "port",
		"log_file":  "log-file",
		"journal":   "journal",
		"drive_bin": "drive-bin",
	} {
		a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(newDCommand(a))
	root.AddCommand(newTQCommand(a))
	root.AddCommand(newHistoryCommand(a))
	root.AddCommand(newConfigCommand(a))

	return root
}

// Execute runs the command tree against the process stdio and returns the
// exit code.
func Execute() int {
	streams := Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
	return run(newRootCommand(streams, logger.Default()), streams)
}

func run(root *cobra.Command, streams Streams) int {
	err := root.Execute()
	if err == nil {
		return 0
	}

	var ece *ExitCodeError
	if errors.As(err, &ece) {
		if ece.Err != nil {
			fmt.Fprintf(streams.Err, "Error: %v\n", ece.Err)
		}
		return ece.Code
	}
	fmt.Fprintf(streams.Err, "Error: %v\n", err)
	return 1
}
