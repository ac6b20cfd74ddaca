// dardanelles is the command line client for a dardanelles gateway. It
// exports graph datasets to datapackage archives, uploads and downloads
// them, and inspects archives locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"dardanelles/internal/apperr"
	"dardanelles/internal/client"
	"dardanelles/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes usage mistakes, an unreachable gateway and
// rejected requests.
func exitCode(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindUnreachable:
		return 3
	case apperr.KindUnknown:
		var usage usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	default:
		return 4
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

type globals struct {
	url    string
	apiKey string
	stdout io.Writer
	stderr io.Writer
}

func (g *globals) client() (*client.Client, error) {
	return client.New(g.url, client.WithAPIKey(g.apiKey))
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, g *globals, args []string) error
}

func commands() []command {
	return []command{
		{"catalog", "list archives stored on the gateway", runCatalog},
		{"upload", "upload an archive file", runUpload},
		{"publish", "export a dataset file and upload it", runPublish},
		{"download", "download an archive by hash", runDownload},
		{"import", "download an archive and summarise its graph", runImport},
		{"lookup", "show the catalog entry for a hash", runLookup},
		{"status", "show the upload state of a hash", runStatus},
		{"export", "export a dataset file to a local archive", runExport},
		{"inspect", "decode a local archive and summarise it", runInspect},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	g := &globals{stdout: stdout, stderr: stderr}
	flagSet := pflag.NewFlagSet("dardanelles", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&g.url, "url", firstNonEmpty(os.Getenv("DARDANELLES_URL"), client.DefaultURL), "gateway base URL")
	flagSet.StringVar(&g.apiKey, "api-key", os.Getenv("DARDANELLES_API_KEY"), "API key for uploads")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintf(stdout, "dardanelles %s\n", version.Version)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return usagef("missing command")
	}
	for _, cmd := range commands() {
		if cmd.name == rest[0] {
			return cmd.run(ctx, g, rest[1:])
		}
	}
	return usagef("unknown command %q", rest[0])
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage:\n  dardanelles [flags] <command> [args]\n\nCommands:\n")
	for _, cmd := range commands() {
		fmt.Fprintf(w, "  %-9s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintf(w, "\nFlags:\n")
	flagSet.PrintDefaults()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
