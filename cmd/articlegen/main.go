package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ArticleGen/internal/backend"
	"ArticleGen/internal/config"
	"ArticleGen/internal/generator"
	"ArticleGen/internal/history"
	"ArticleGen/internal/prompt"
	"ArticleGen/internal/telemetry"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
var Version = "0.0.0-dev"

func main() {
	if err := run(); err != nil {
		// the generator prints its own failures
		if !errors.Is(err, generator.ErrReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	var configFile string
	var backendName, model, inputDir, outputDir, headingMode string
	var frontMatter, skipGenerated, debug, showVersion bool

	flag.StringVar(&configFile, "config", "", "Path to the config file (default ./articlegen.yaml)")
	flag.StringVar(&backendName, "backend", "", "Chat completion backend (grok|openai)")
	flag.StringVar(&model, "model", "", "Model name")
	flag.StringVar(&inputDir, "dir", "", "Directory to look for markdown files in")
	flag.StringVar(&outputDir, "out", "", "Directory to write articles to")
	flag.StringVar(&headingMode, "heading-mode", "", "Heading detection (line|commonmark)")
	flag.BoolVar(&frontMatter, "front-matter", false, "Prepend YAML front matter to articles")
	flag.BoolVar(&skipGenerated, "skip-generated", false, "Skip headings that already have an article")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(Version)
		return nil
	}

	// only flags given on the command line override the config
	var overrides config.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			overrides.Backend = &backendName
		case "model":
			overrides.Model = &model
		case "dir":
			overrides.InputDir = &inputDir
		case "out":
			overrides.OutputDir = &outputDir
		case "heading-mode":
			overrides.HeadingMode = &headingMode
		case "front-matter":
			overrides.FrontMatter = &frontMatter
		case "skip-generated":
			overrides.SkipGenerated = &skipGenerated
		case "debug":
			overrides.Debug = &debug
		}
	})

	cfg, err := config.Load(configFile, overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	if cfg.Debug {
		logger.Debug("debug mode enabled", "backend", cfg.Backend, "endpoint", cfg.Endpoint, "model", cfg.Model)
	}

	var store *history.Store
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer store.Close()
	}

	prompts, err := prompt.FromFiles(cfg.SystemPromptFile, cfg.UserPromptFile)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(backend.Options{
		Endpoint:           cfg.Endpoint,
		APIKey:             cfg.APIKey,
		Proxy:              cfg.Proxy,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Timeout:            cfg.Timeout,
		Logger:             logger,
		Tracer:             tracer,
		Meter:              meter,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}

	gen, err := generator.New(generator.Options{
		Config:  *cfg,
		Client:  client,
		Prompts: prompts,
		Store:   store,
		Logger:  logger,
		Tracer:  tracer,
		In:      os.Stdin,
		Out:     os.Stdout,
	})
	if err != nil {
		return err
	}

	if err := gen.Run(ctx); err != nil {
		logger.Error("run finished with error", "error", err)
		if errors.Is(err, context.Canceled) {
			fmt.Println("\nInterrupted")
			return nil
		}
		return err
	}
	return nil
}
