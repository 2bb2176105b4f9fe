package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/sheerbytes/filegate/internal/client"
	"github.com/sheerbytes/filegate/internal/config"
	"github.com/sheerbytes/filegate/internal/logging"
	"github.com/sheerbytes/filegate/internal/progress"
	"github.com/sheerbytes/filegate/internal/termio"
)

const version = "v0.1.0"

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	errColor  = color.New(color.FgRed, color.Bold)
	infoColor = color.New(color.FgCyan)
)

func main() {
	termio.Init()
	color.NoColor = color.NoColor || !termio.IsTerminal(termio.StdoutFile())
	// errors go to stderr, which may be redirected on its own
	if !termio.IsTerminal(termio.StderrFile()) {
		errColor.DisableColor()
	}

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}
	if hasVersionFlag(args) {
		fmt.Fprintln(termio.Stdout(), version)
		return
	}
	if hasHelpFlag(args) {
		printUsage()
		return
	}

	cfg, rest, err := config.ParseClientConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if len(rest) == 0 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, rest[0], rest[1:]); err != nil {
		errColor.Fprint(termio.Stderr(), "error: ")
		fmt.Fprintln(termio.Stderr(), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ClientConfig, cmdName string, args []string) error {
	switch cmdName {
	case "ls", "put", "get", "say":
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	logger := logging.NewWithWriter(termio.Stderr(), "filegate", cfg.LogLevel)
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	c, err := client.Dial(dialCtx, cfg.Addr, logger)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	switch cmdName {
	case "ls":
		return runList(ctx, c)
	case "put":
		return runPut(ctx, c, args)
	case "get":
		return runGet(ctx, c, args)
	default:
		return runSay(ctx, c, args)
	}
}

func runList(ctx context.Context, c *client.Client) error {
	entries, err := c.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		infoColor.Fprintln(termio.Stdout(), "no files")
		return nil
	}

	var total uint64
	table := tablewriter.NewWriter(termio.Stdout())
	table.Header("Name", "Size", "Bytes")
	for _, e := range entries {
		total += e.Size
		if err := table.Append([]string{e.Name, progress.FormatBytes(e.Size), strconv.FormatUint(e.Size, 10)}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(termio.Stdout(), "%d files, %s\n", len(entries), progress.FormatBytes(total))
	return nil
}

func runPut(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: filegate put <file|dir> [remote]")
	}
	local := args[0]
	remote := ""
	if len(args) == 2 {
		remote = args[1]
	}

	info, err := os.Stat(local)
	if err != nil {
		return err
	}
	if info.IsDir() {
		n, err := c.UploadDir(ctx, local, remote, func(name string, stats progress.Stats) {
			okColor.Fprint(termio.Stdout(), "sent ")
			fmt.Fprintln(termio.Stdout(), progress.Summary(name, stats))
		})
		if err != nil {
			return err
		}
		okColor.Fprintf(termio.Stdout(), "uploaded %d files\n", n)
		return nil
	}

	if remote == "" {
		remote = filepath.Base(local)
	}
	bar := newProgressPrinter(termio.Stdout(), remote)
	if err := c.UploadFile(ctx, local, remote, bar.update); err != nil {
		bar.abort()
		return err
	}
	bar.finish("sent ")
	return nil
}

func runGet(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: filegate get <name> [dir]")
	}
	dir := "."
	if len(args) == 2 {
		dir = args[1]
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	bar := newProgressPrinter(termio.Stdout(), args[0])
	dest, err := c.DownloadFile(ctx, args[0], dir, bar.update)
	if err != nil {
		bar.abort()
		return err
	}
	bar.finish("saved ")
	infoColor.Fprintln(termio.Stdout(), dest)
	return nil
}

func runSay(ctx context.Context, c *client.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: filegate say <text>")
	}
	reply, err := c.Send(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprint(termio.Stdout(), reply)
	if !strings.HasSuffix(reply, "\n") {
		fmt.Fprintln(termio.Stdout())
	}
	return nil
}

// progressPrinter redraws a single progress line on terminals and stays quiet
// elsewhere until the transfer finishes.
type progressPrinter struct {
	w     io.Writer
	label string
	tty   bool
	last  progress.Stats
	drawn bool
}

func newProgressPrinter(w io.Writer, label string) *progressPrinter {
	return &progressPrinter{w: w, label: label, tty: termio.IsTerminal(termio.StdoutFile())}
}

func (p *progressPrinter) update(stats progress.Stats) {
	p.last = stats
	if !p.tty {
		return
	}
	fmt.Fprintf(p.w, "\r\033[K%s", progress.Line(p.label, stats))
	p.drawn = true
}

func (p *progressPrinter) abort() {
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}

func (p *progressPrinter) finish(verb string) {
	if p.drawn {
		fmt.Fprint(p.w, "\r\033[K")
	}
	okColor.Fprint(p.w, verb)
	fmt.Fprintln(p.w, progress.Summary(p.label, p.last))
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: filegate [--addr HOST:PORT] <command> [args]")
	fmt.Fprintln(termio.Stderr(), "commands:")
	fmt.Fprintln(termio.Stderr(), "  ls                      list files on the server")
	fmt.Fprintln(termio.Stderr(), "  put <file|dir> [remote] upload a file, or every file below a directory")
	fmt.Fprintln(termio.Stderr(), "  get <name> [dir]        download a file into dir (default .)")
	fmt.Fprintln(termio.Stderr(), "  say <text>              send a chat message and print the reply")
	fmt.Fprintln(termio.Stderr(), "flags:")
	fmt.Fprintln(termio.Stderr(), "  --addr TARGET           host:port, quic://host:port or ws://host:port/ws (default localhost:8080)")
	fmt.Fprintln(termio.Stderr(), "  --timeout DURATION      dial timeout (default 5s)")
	fmt.Fprintln(termio.Stderr(), "  --log-level LEVEL       debug, info, warn or error")
	fmt.Fprintln(termio.Stderr(), "  --version               print the version")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}
