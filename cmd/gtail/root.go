package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cliFlags holds the raw flag values before they are resolved into
// config.Options.
type cliFlags struct {
	lines          string
	bytes          string
	follow         string
	followRename   bool
	retry          bool
	sleepInterval  float64
	maxUnchanged   uint
	pids           []int
	quiet          bool
	silent         bool
	verbose        bool
	zeroTerminated bool
	disableInotify bool
	presumePipe    bool
	configPath     string
	logLevel       string
	logFormat      string
}

func newRootCommand() *cobra.Command {
	cmd, _ := rootCommand()
	return cmd
}

func rootCommand() (*cobra.Command, *cliFlags) {
	fl := &cliFlags{}

	cmd := &cobra.Command{
		Use:           "gtail [flags] [file ...]",
		Short:         "Print the last part of files and optionally follow them",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, fl)
		},
	}

	registerFlags(cmd.Flags(), fl)

	cmd.MarkFlagsMutuallyExclusive("lines", "bytes")
	cmd.MarkFlagsMutuallyExclusive("quiet", "verbose")

	return cmd, fl
}

func registerFlags(f *pflag.FlagSet, fl *cliFlags) {
	f.StringVarP(&fl.lines, "lines", "n", "10", "output the last NUM lines, or +NUM to start at line NUM")
	f.StringVarP(&fl.bytes, "bytes", "c", "", "output the last NUM bytes, or +NUM to start at byte NUM")
	f.StringVarP(&fl.follow, "follow", "f", "", "output appended data as the file grows; mode is descriptor or name")
	f.BoolVarP(&fl.followRename, "follow-retry", "F", false, "same as --follow=name --retry")
	f.BoolVar(&fl.retry, "retry", false, "keep trying to open a file if it is inaccessible")
	f.Float64VarP(&fl.sleepInterval, "sleep-interval", "s", 1.0, "with -f, sleep approximately NUM seconds between iterations")
	f.UintVar(&fl.maxUnchanged, "max-unchanged-stats", 5, "with --follow=name, reopen a file which has not changed size after NUM iterations")
	f.IntSliceVar(&fl.pids, "pid", nil, "with -f, terminate after process PID dies; repeatable")
	f.BoolVarP(&fl.quiet, "quiet", "q", false, "never output headers giving file names")
	f.BoolVar(&fl.silent, "silent", false, "same as --quiet")
	f.BoolVarP(&fl.verbose, "verbose", "v", false, "always output headers giving file names")
	f.BoolVarP(&fl.zeroTerminated, "zero-terminated", "z", false, "line delimiter is NUL, not newline")
	f.BoolVar(&fl.disableInotify, "disable-inotify", false, "force polling even where change notification is available")
	f.BoolVar(&fl.presumePipe, "presume-input-pipe", false, "")
	f.StringVar(&fl.configPath, "config", "", "defaults file path")
	f.StringVar(&fl.logLevel, "log-level", "info", "diagnostic verbosity (debug, info, warn, error)")
	f.StringVar(&fl.logFormat, "log-format", "console", "diagnostic format (console, json)")

	// Plain -f selects descriptor following.
	f.Lookup("follow").NoOptDefVal = "descriptor"
	f.Lookup("presume-input-pipe").Hidden = true
	f.Lookup("silent").Hidden = true
}
