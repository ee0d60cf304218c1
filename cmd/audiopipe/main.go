package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tiroq/audiopipe/internal/diaglog"
	"github.com/tiroq/audiopipe/internal/pipeline"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usageText = `Usage: audiopipe <command> [flags] [args]

Commands:
  download [url]   extract audio with yt-dlp into Downloaded_WAV (prompts for a URL when none is given)
  convert          convert Downloaded_WAV files to 16 kHz mono WAV in Converted_WAV
  diarize          write speaker turns for Converted_WAV files into Timestamps
  transcribe       write speaker-labeled transcripts for Converted_WAV files into Transcriptions
  run [url]        download, convert, diarize and transcribe
  watch            process files as they appear in Downloaded_WAV
  check            verify tools, credentials and transcription backends
  export-diag      bundle the diagnostic log (AUDIOPIPE_DEBUG=true) into the current directory
  version          print the version

Run "audiopipe <command> -h" for the flags of a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) (code int) {
	diaglog.Version = Version

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "PANIC in audiopipe: %v\n", r)
			code = exitFailure
		}
	}()

	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return exitUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usageText)
		return exitOK
	case "version", "--version":
		fmt.Fprintf(stdout, "audiopipe %s\n", Version)
		return exitOK
	case "export-diag", "--export-diag":
		return exportDiag(rest, stdout, stderr)
	case "download", "convert", "diarize", "transcribe", "run", "watch", "check":
	default:
		fmt.Fprintf(stderr, "Unknown command %q.\n\n%s", cmd, usageText)
		return exitUsage
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f cliFlags
	f.register(fs, cmd)
	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if err := checkArgs(cmd, fs.Args(), f.batchFile); err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprint(stderr, usageText)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, f, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitFailure
	}
	defer a.Close()

	var reports []*pipeline.Report
	switch cmd {
	case "download":
		reports, err = a.download(ctx, fs.Args(), stdin, stdout)
	case "convert":
		reports, err = a.convert(ctx)
	case "diarize":
		reports, err = a.diarize(ctx)
	case "transcribe":
		reports, err = a.transcribe(ctx)
	case "run":
		reports, err = a.runAll(ctx, fs.Args(), stdin, stdout)
	case "watch":
		err = a.watch(ctx)
	case "check":
		err = a.check(ctx, stdout)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.log.Warn("interrupted")
		} else {
			a.log.WithError(err).Errorf("%s failed", cmd)
		}
		return exitFailure
	}
	if err := pipeline.LogReports(a.log, reports...); err != nil {
		a.log.WithError(err).Error("some files failed")
		return exitFailure
	}
	return exitOK
}

// checkArgs validates positional arguments before any collaborator is built.
func checkArgs(cmd string, args []string, batchFile string) error {
	switch cmd {
	case "download", "run":
		if len(args) > 1 {
			return errors.New("Too many arguments.")
		}
		if batchFile != "" && len(args) == 1 {
			return errors.New("a URL and -batch-file are mutually exclusive")
		}
	default:
		if len(args) > 0 {
			return fmt.Errorf("%s takes no arguments, got %q", cmd, args)
		}
	}
	return nil
}

func exportDiag(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export-diag", flag.ContinueOnError)
	fs.SetOutput(stderr)
	logPath := fs.String("log", diaglog.DefaultPath(), "diagnostic log to export")
	dest := fs.String("out", ".", "directory for the bundle")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	path, n, err := diaglog.Export(*logPath, *dest)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(stderr, "hint: run with AUDIOPIPE_DEBUG=true to enable logging")
			return exitFailure
		}
		return exitUsage
	}
	fmt.Fprintf(stdout, "Wrote: %s (%d lines)\n", path, n)
	return exitOK
}
