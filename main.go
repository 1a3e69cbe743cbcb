package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/pflag"

	"github.com/monetutil/mapiproxy/mapi"
	"github.com/monetutil/mapiproxy/netx"
	"github.com/monetutil/mapiproxy/proxy"
	"github.com/monetutil/mapiproxy/render"
)

var version = "dev"

const (
	exitOK       = 0
	exitUsage    = 1
	exitInternal = 2
	exitSignal   = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("mapiproxy", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mapiproxy — watch MAPI traffic between a MonetDB client and server\n\nUsage:\n  mapiproxy [flags] LISTEN_ADDR FORWARD_ADDR\n\nAddresses are a bare port, host:port, [v6]:port, or a /path unix socket.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	level := mapi.Messages
	addModeFlag(fs, &level, mapi.Messages, "messages", "m", "render at message granularity (default)")
	addModeFlag(fs, &level, mapi.Blocks, "blocks", "b", "render at block granularity")
	addModeFlag(fs, &level, mapi.Raw, "raw", "r", "render each read as it arrives")
	binary := fs.BoolP("binary", "B", false, "force hex-dump rendering")
	colorWhen := fs.String("color", "auto", "colorize output: always, auto or never")
	maxMessage := fs.Int("max-message", mapi.DefaultMessageCap, "per-direction message safety cap in bytes")
	showVersion := fs.Bool("version", false, "show version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	if *showVersion {
		fmt.Printf("mapiproxy %s\n", version)
		return exitOK
	}

	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}

	listen, err := netx.ParseEndpoint(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	forward, err := netx.ParseEndpoint(fs.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	r, err := newRenderer(os.Stdout, *colorWhen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := proxy.New(listen, forward)
	if err := p.Listen(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	defer func() { _ = p.Close() }()
	log.Printf("proxying %s -> %s", listen, forward)

	serveErr := make(chan error, 1)
	go func() { serveErr <- p.Serve(ctx) }()

	insp := mapi.NewInspector(r, level, *binary, mapi.WithMessageCap(*maxMessage))
	insp.Run(p.Events())

	if err := r.Err(); err != nil {
		// A closed pager or downstream pipe is a normal way to stop reading.
		if errors.Is(err, syscall.EPIPE) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "mapiproxy: write output: %v\n", err)
		return exitInternal
	}
	if err := <-serveErr; err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInternal
	}
	if ctx.Err() != nil {
		return exitSignal
	}
	return exitOK
}

// modeValue makes -m/-b/-r a last-one-wins group: each occurrence overwrites
// the shared target.
type modeValue struct {
	target *mapi.Level
	level  mapi.Level
}

func (v modeValue) String() string   { return "" }
func (v modeValue) Type() string     { return "" }
func (v modeValue) Set(string) error { *v.target = v.level; return nil }

func addModeFlag(fs *pflag.FlagSet, target *mapi.Level, level mapi.Level, name, shorthand, usage string) {
	fs.VarP(modeValue{target: target, level: level}, name, shorthand, usage)
	fs.Lookup(name).NoOptDefVal = "true"
}

// newRenderer picks the color or plain renderer per --color.
func newRenderer(f *os.File, when string) (render.Renderer, error) {
	switch when {
	case "always":
		return render.NewANSI(f, termenv.ANSI), nil
	case "never":
		return render.NewPlain(f), nil
	case "auto":
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return render.NewANSI(f, termenv.ANSI), nil
		}
		return render.NewPlain(f), nil
	}
	return nil, fmt.Errorf("invalid --color value %q (want always, auto or never)", when)
}
