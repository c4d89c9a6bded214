package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"gtail/internal/config"
	"gtail/internal/extract"
	"gtail/internal/filespec"
	"gtail/internal/follow"
	"gtail/internal/liveness"
	"gtail/internal/logging"
	"gtail/internal/output"
)

// errPartialFailure reports that at least one file could not be read.
// The per-file diagnostics have already been emitted, so main prints
// nothing further for it.
var errPartialFailure = errors.New("partial failure")

func run(cmd *cobra.Command, args []string, fl *cliFlags) error {
	opts, err := resolveOptions(cmd, args, fl)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{
		Level:  opts.LogLevel,
		Format: opts.LogFormat,
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	if opts.Retry && !opts.Following() {
		log.Warn("--retry ignored; --retry is useful only when following")
		opts.Retry = false
	} else if opts.Retry && opts.Follow == config.FollowDescriptor {
		log.Warn("--retry only effective for the initial open")
	}
	if len(opts.PIDs) > 0 && !opts.Following() {
		log.Warn("PID ignored; --pid is useful only when following")
		opts.PIDs = nil
	}

	forever := opts.Following()
	if !forever && ((opts.Count == 0 && !opts.FromStart) ||
		(opts.FromStart && opts.Count == config.CountAll)) {
		return nil
	}

	mon := liveness.New(opts.PIDs)
	if mon.Watching() && !mon.Supported() {
		log.Warn("--pid is not supported on this system")
	}

	if forever && hasStdin(opts.Paths) {
		var stdinMode os.FileMode
		if info, err := os.Stdin.Stat(); err == nil {
			stdinMode = info.Mode()
		}
		if stdinTTYWarning(&opts, stdinMode, isatty.IsTerminal(os.Stdin.Fd())) {
			log.Warn("following standard input indefinitely is ineffective")
		}
	}

	reg := filespec.NewRegistry(opts.Paths)
	out := output.NewWriter(os.Stdout, opts.PrintHeaders())

	ok := true
	for _, f := range reg.Specs() {
		fileOK, err := tailFile(f, &opts, out, log, forever)
		if err != nil {
			return err
		}
		ok = ok && fileOK
	}

	// POSIX: with no file operands and stdin a pipe or FIFO, following
	// is dropped after the initial window.
	if forever && ignoreFifoAndPipe(reg.Specs()) {
		forever = false
	}

	if forever {
		info, err := os.Stdout.Stat()
		if err != nil {
			return fmt.Errorf("standard output: %w", err)
		}
		monitorOutput := info.Mode().Type()&os.ModeNamedPipe != 0

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		eng := follow.New(follow.Params{
			Options:       &opts,
			Registry:      reg,
			Output:        out,
			Logger:        log,
			Liveness:      mon,
			MonitorOutput: monitorOutput,
			InitialOK:     ok,
		})
		if err := eng.Run(ctx); err != nil {
			return err
		}
	}

	if err := out.Flush(); err != nil {
		return err
	}
	if !ok {
		return errPartialFailure
	}
	return nil
}

func hasStdin(paths []string) bool {
	for _, p := range paths {
		if p == filespec.Stdin {
			return true
		}
	}
	return false
}

// stdinTTYWarning reports whether following stdin deserves the
// ineffectiveness warning. A single non-regular stdin followed by
// descriptor with no watched writers is read with blocking I/O, where
// waiting on a terminal is deliberate, so that case stays silent.
func stdinTTYWarning(opts *config.Options, stdinMode os.FileMode, isTTY bool) bool {
	if !isTTY {
		return false
	}
	blockingStdin := len(opts.PIDs) == 0 &&
		opts.Follow == config.FollowDescriptor &&
		len(opts.Paths) == 1 && !stdinMode.IsRegular()
	return !blockingStdin
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// resolveOptions folds the flags and the optional defaults file into a
// validated config.Options.
func resolveOptions(cmd *cobra.Command, args []string, fl *cliFlags) (config.Options, error) {
	opts := config.Default()
	flags := cmd.Flags()

	opts.Paths = args
	if len(opts.Paths) == 0 {
		opts.Paths = []string{filespec.Stdin}
	}

	countArg := fl.lines
	if flags.Changed("bytes") {
		opts.Lines = false
		countArg = fl.bytes
	}
	n, fromStart, err := parseCount(countArg)
	if err != nil {
		return opts, err
	}
	opts.Count = n
	opts.FromStart = fromStart

	if fl.followRename {
		opts.Follow = config.FollowName
		opts.Retry = true
	} else if flags.Changed("follow") {
		switch fl.follow {
		case "descriptor":
			opts.Follow = config.FollowDescriptor
		case "name":
			opts.Follow = config.FollowName
		default:
			return opts, fmt.Errorf("invalid argument %q for --follow", fl.follow)
		}
	}
	opts.Retry = opts.Retry || fl.retry

	if fl.quiet || fl.silent {
		opts.Headers = config.HeaderNever
	}
	if fl.verbose {
		opts.Headers = config.HeaderAlways
	}
	if fl.zeroTerminated {
		opts.Terminator = 0
	}

	opts.SleepInterval = secondsToDuration(fl.sleepInterval)
	opts.MaxUnchangedStats = fl.maxUnchanged
	opts.PIDs = fl.pids
	opts.DisableInotify = fl.disableInotify
	opts.PresumePipe = fl.presumePipe
	opts.LogLevel = fl.logLevel
	opts.LogFormat = fl.logFormat

	path := fl.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	file, err := config.LoadFile(path)
	if err != nil {
		return opts, err
	}
	file.Apply(&opts, flags.Changed("sleep-interval"), flags.Changed("max-unchanged-stats"))

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// tailFile opens one operand, emits its initial window, and in follow
// mode records the open descriptor and fingerprint for the engine. The
// returned error is non-nil only for fatal output failures; read
// failures are diagnosed here and reported through the bool.
func tailFile(f *filespec.FileSpec, opts *config.Options, out *output.Writer, log *slog.Logger, forever bool) (bool, error) {
	// Avoid blocking in open or read when another operand or a watched
	// writer still needs service; an idle FIFO must not stall the rest.
	nonblocking := forever && (len(opts.PIDs) > 0 || len(opts.Paths) > 1)

	var file *os.File
	if f.IsStdin() {
		file = os.Stdin
	} else {
		flags := os.O_RDONLY
		if nonblocking {
			flags |= syscall.O_NONBLOCK
		}
		var err error
		file, err = os.OpenFile(f.Name, flags, 0)
		if err != nil {
			if forever {
				f.MarkClosed(err)
				f.Ignore = !opts.Retry
			}
			log.Error("cannot open for reading", "file", f.Pretty(), "error", err)
			return false, nil
		}
	}

	if err := out.SwitchTo(f.Pretty()); err != nil {
		return false, err
	}

	readPos, tailErr := extract.Tail(out, f.Pretty(), file, extract.Options{
		Lines:       opts.Lines,
		Count:       opts.Count,
		FromStart:   opts.FromStart,
		Terminator:  opts.Terminator,
		PresumePipe: opts.PresumePipe || f.IsStdin(),
	})
	ok := tailErr == nil
	if tailErr != nil {
		if output.IsWriteError(tailErr) {
			return false, tailErr
		}
		log.Error("error reading", "file", f.Pretty(), "error", tailErr)
	}

	if !forever {
		if !f.IsStdin() {
			file.Close()
		}
		return ok, nil
	}

	info, statErr := file.Stat()
	switch {
	case statErr != nil:
		ok = false
		log.Error("error reading", "file", f.Pretty(), "error", statErr)
		f.MarkClosed(statErr)
	case !filespec.IsTailableMode(info.Mode()):
		ok = false
		f.Tailable = false
		f.Ignore = !(opts.Retry && opts.FollowByName())
		suffix := ""
		if f.Ignore {
			suffix = "; giving up on this name"
		}
		log.Error("cannot follow end of this type of file"+suffix, "file", f.Pretty())
		f.MarkClosed(filespec.ErrUntailable)
	case !ok:
		f.MarkClosed(tailErr)
	default:
		blocking := filespec.BlockingOn
		if f.IsStdin() {
			blocking = filespec.BlockingUnknown
		} else if nonblocking {
			blocking = filespec.BlockingOff
		}
		f.RecordOpen(file, readPos, info, blocking)
		f.Tailable = true
		f.Remote = follow.IsRemote(file, f.Pretty(), log)
	}
	return ok, nil
}

// ignoreFifoAndPipe drops a stdin operand that is a pipe or FIFO from the
// follow set and reports whether nothing viable remains.
func ignoreFifoAndPipe(specs []*filespec.FileSpec) bool {
	viable := 0
	for _, f := range specs {
		if f.IsStdin() && !f.Ignore && f.File != nil &&
			f.Mode.Type()&os.ModeNamedPipe != 0 {
			f.MarkClosed(filespec.ErrIgnoredPipe)
			f.Ignore = true
		} else {
			viable++
		}
	}
	return viable == 0
}
