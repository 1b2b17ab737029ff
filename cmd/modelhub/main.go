package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Chanpoe/ModelHub/pkg/engine"
)

// globalFlags are shared by every command.
type globalFlags struct {
	config   string
	env      string
	provider string
	system   string
	verbose  bool
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.config, "config", "", "path to configuration file (default: modelhub.yaml, modelhub.toml or ~/.modelhub/config.yaml)")
	fs.StringVar(&g.env, "env", ".env", "path to .env file (ignored if missing)")
	fs.StringVar(&g.provider, "provider", "", "provider to talk to (default: default_provider from config)")
	fs.StringVar(&g.system, "system", "", "system prompt (overrides system_prompt from config)")
	fs.BoolVar(&g.verbose, "v", false, "log turn activity and debug output to stderr")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel is called explicitly above
	}
}

func run(ctx context.Context, args []string) error {
	// Handle subcommands before flag parsing.
	if len(args) > 0 {
		switch args[0] {
		case "ask":
			return runAsk(ctx, args[1:])
		case "compare":
			return runCompare(ctx, args[1:])
		}
	}

	var g globalFlags

	fs := flag.NewFlagSet("modelhub", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: modelhub [flags]\n       modelhub <command> [flags] <question>\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n  ask      Send one question and print the reply\n  compare  Send one question to several providers concurrently\n")
	}
	g.register(fs)
	_ = fs.Parse(args)

	eng, err := setup(g)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	sess, err := eng.NewSession(g.provider, g.system)
	if err != nil {
		return err
	}

	stop := logEvents(eng.Events(), slog.Default())
	defer stop()

	r := newREPL(eng, sess, os.Stdin, os.Stdout, newRenderer(os.Stdout))

	return r.run(ctx)
}

func runAsk(ctx context.Context, args []string) error {
	var g globalFlags

	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: modelhub ask [flags] <question>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	g.register(fs)
	image := fs.String("image", "", "image URL, data URI, file or base64 payload to send with the question")
	_ = fs.Parse(args)

	question := strings.Join(fs.Args(), " ")
	if question == "" && *image == "" {
		fs.Usage()
		return fmt.Errorf("ask: a question is required")
	}

	eng, err := setup(g)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	d, err := eng.NewDialog(g.provider, g.system)
	if err != nil {
		return err
	}

	var reply string
	if *image != "" {
		img, err := loadImage(*image)
		if err != nil {
			return err
		}
		reply, err = d.SendImages(ctx, question, img)
		if err != nil {
			return err
		}
	} else {
		reply, err = d.SendText(ctx, question)
		if err != nil {
			return err
		}
	}

	render := newRenderer(os.Stdout)
	fmt.Fprintln(os.Stdout, render(reply))

	return nil
}

func runCompare(ctx context.Context, args []string) error {
	var g globalFlags

	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: modelhub compare [flags] <question>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	g.register(fs)
	providers := fs.String("providers", "", "comma-separated providers (default: all configured)")
	_ = fs.Parse(args)

	question := strings.Join(fs.Args(), " ")
	if question == "" {
		fs.Usage()
		return fmt.Errorf("compare: a question is required")
	}

	eng, err := setup(g)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	names := splitList(*providers)
	if len(names) == 0 {
		names = eng.Providers()
	}

	results := compare(ctx, eng, names, g.system, question)

	render := newRenderer(os.Stdout)
	printResults(os.Stdout, results, render)

	for _, r := range results {
		if r.err == nil {
			return nil
		}
	}

	return fmt.Errorf("compare: every provider failed")
}

// setup loads .env and config, configures logging and builds the engine.
func setup(g globalFlags) (*engine.Engine, error) {
	if err := loadDotEnv(g.env); err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	path, err := resolveConfigPath(g.config)
	if err != nil {
		return nil, err
	}

	cfg, err := engine.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	return engine.New(cfg, engine.WithLogger(logger))
}
