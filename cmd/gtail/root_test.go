package main

import (
	"path/filepath"
	"testing"

	"gtail/internal/config"
)

// resolveFor parses args and resolves them against an absent defaults
// file, so the test host's real configuration cannot leak in.
func resolveFor(t *testing.T, args ...string) (config.Options, error) {
	t.Helper()
	cmd, fl := rootCommand()
	args = append(args, "--config", filepath.Join(t.TempDir(), "absent.toml"))
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return resolveOptions(cmd, cmd.Flags().Args(), fl)
}

func TestDefaultsResolveToStdin(t *testing.T) {
	opts, err := resolveFor(t)
	if err != nil {
		t.Fatal(err)
	}
	if len(opts.Paths) != 1 || opts.Paths[0] != "-" {
		t.Fatalf("paths %v", opts.Paths)
	}
	if !opts.Lines || opts.Count != 10 || opts.Following() {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}

func TestFollowShorthand(t *testing.T) {
	opts, err := resolveFor(t, "-f", "a.log")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Follow != config.FollowDescriptor {
		t.Fatalf("follow mode %v", opts.Follow)
	}
	if len(opts.Paths) != 1 || opts.Paths[0] != "a.log" {
		t.Fatalf("paths %v", opts.Paths)
	}
}

func TestFollowName(t *testing.T) {
	opts, err := resolveFor(t, "--follow=name", "a.log")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Follow != config.FollowName {
		t.Fatalf("follow mode %v", opts.Follow)
	}
}

func TestFollowRejectsUnknownMode(t *testing.T) {
	if _, err := resolveFor(t, "--follow=inode", "a.log"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestCapitalFImpliesNameAndRetry(t *testing.T) {
	opts, err := resolveFor(t, "-F", "a.log")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Follow != config.FollowName || !opts.Retry {
		t.Fatalf("got follow=%v retry=%v", opts.Follow, opts.Retry)
	}
}

func TestLinesFromStart(t *testing.T) {
	opts, err := resolveFor(t, "-n", "+5", "a.log")
	if err != nil {
		t.Fatal(err)
	}
	if !opts.FromStart || opts.Count != 4 {
		t.Fatalf("got fromStart=%v count=%d", opts.FromStart, opts.Count)
	}
}

func TestBytesFlag(t *testing.T) {
	opts, err := resolveFor(t, "-c", "2K", "a.log")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Lines || opts.Count != 2048 {
		t.Fatalf("got lines=%v count=%d", opts.Lines, opts.Count)
	}
}

func TestQuietAndZeroTerminated(t *testing.T) {
	opts, err := resolveFor(t, "-q", "-z", "a.log", "b.log")
	if err != nil {
		t.Fatal(err)
	}
	if opts.PrintHeaders() {
		t.Fatal("quiet must suppress headers")
	}
	if opts.Terminator != 0 {
		t.Fatalf("terminator %q", opts.Terminator)
	}
}

func TestStdinByNameRejected(t *testing.T) {
	if _, err := resolveFor(t, "--follow=name"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestSleepAndPidFlags(t *testing.T) {
	opts, err := resolveFor(t, "-f", "-s", "0.25", "--pid", "42", "--pid", "43", "a.log")
	if err != nil {
		t.Fatal(err)
	}
	if opts.SleepInterval.Milliseconds() != 250 {
		t.Fatalf("sleep %v", opts.SleepInterval)
	}
	if len(opts.PIDs) != 2 || opts.PIDs[0] != 42 || opts.PIDs[1] != 43 {
		t.Fatalf("pids %v", opts.PIDs)
	}
}
