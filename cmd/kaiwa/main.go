// Package main is the kaiwa CLI entry point.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kaiwa/internal/cli"
	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/extract"
	"github.com/hyperjump/kaiwa/internal/indexer"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/server"
	"github.com/hyperjump/kaiwa/internal/session"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/watcher"
	"github.com/hyperjump/kaiwa/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kaiwa/config.yaml"

// evictInterval is how often the server sweeps idle sessions.
const evictInterval = time.Minute

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists; a missing default file yields built-in defaults.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; API keys may already be in the environment.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "chat":
		runChat()
	case "ask":
		runAsk()
	case "version", "--version", "-v":
		fmt.Printf("kaiwa version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// argsReorder moves any flags (and their values) that appear after the file
// arguments to the front so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// Components holds initialized services shared by every session.
type Components struct {
	Embedder  embedding.Embedder
	Generator llm.Generator
	Indexer   *indexer.Indexer
	Store     storage.TranscriptStore
	Logger    *zap.Logger
}

// Deps returns the session dependencies backed by c.
func (c *Components) Deps() session.Deps {
	return session.Deps{
		Indexer:   c.Indexer,
		Embedder:  c.Embedder,
		Generator: c.Generator,
		Store:     c.Store,
		Logger:    c.Logger,
	}
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.New(&cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	generator, err := llm.New(&cfg.Generation, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	idx, err := indexer.FromConfig(cfg, embedder, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize indexer: %w", err)
	}
	c := &Components{
		Embedder:  embedder,
		Generator: generator,
		Indexer:   idx,
		Logger:    logger,
	}
	if cfg.Storage.TranscriptPath != "" {
		store, err := storage.NewSQLiteStore(cfg.Storage.TranscriptPath)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize transcript store: %w", err)
		}
		c.Store = store
	}
	logger.Info("components initialized",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("dimensions", embedder.Dimensions()),
		zap.String("generation_provider", cfg.Generation.Provider),
		zap.String("model", generator.Model()),
		zap.String("retrieval_mode", cfg.Retrieval.Mode),
		zap.Bool("transcripts", c.Store != nil))
	return c, nil
}

// setup loads config and builds the logger and components for a subcommand.
func setup(configPath string, debug bool) (*config.Config, *Components, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	logger, err := utils.NewLogger(level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.String("log_level", level))
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return cfg, components, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, components, err := setup(*configPath, *debug)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	logger := components.Logger
	defer logger.Sync()
	defer components.Close()

	manager := session.NewManager(components.Deps(), session.OptionsFromConfig(cfg),
		cfg.Session.MaxSessions, cfg.Session.IdleTTL)
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx, evictInterval)

	srv := server.NewServer(manager, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = srv.Stop(stopCtx)
}

// loadFiles reads paths and processes them in place of the session's current documents.
// Concurrent loads from the watcher and /reload each replace the index whole.
func loadFiles(ctx context.Context, sess *session.Session, paths []string) (*models.ProcessReport, error) {
	docs := make([]*models.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := extract.ReadDocument(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		docs = append(docs, doc)
	}
	return sess.Replace(ctx, docs)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	question := fs.String("q", "", "question to ask (required)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	showSources := fs.Bool("sources", false, "print the cited chunks after the answer (text output)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if strings.TrimSpace(*question) == "" || fs.NArg() < 1 {
		fmt.Println("Usage: kaiwa ask -q <question> [flags] <file>...")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg, components, err := setup(*configPath, *debug)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer components.Close()
	defer components.Logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	sess := session.New(uuid.New().String(), components.Deps(), session.OptionsFromConfig(cfg))
	defer sess.Close()

	if _, err := loadFiles(ctx, sess, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Processing failed: %s\n", models.UserMessage(err))
		components.Logger.Debug("processing failed", zap.Error(err))
		os.Exit(1)
	}
	answer, err := sess.Ask(ctx, *question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %s\n", models.UserMessage(err))
		components.Logger.Debug("ask failed", zap.Error(err))
		os.Exit(1)
	}
	if err := cli.WriteAnswer(os.Stdout, answer, format, *showSources); err != nil {
		os.Exit(1)
	}
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "reprocess the files when they change on disk")
	outputFormat := fs.String("output", "text", "output format: text or json")
	showSources := fs.Bool("sources", false, "print the cited chunks after each answer (text output)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kaiwa chat [flags] <file>...")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg, components, err := setup(*configPath, *debug)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer components.Close()
	defer components.Logger.Sync()
	logger := components.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	sess := session.New(uuid.New().String(), components.Deps(), session.OptionsFromConfig(cfg))
	defer sess.Close()

	paths := fs.Args()
	report, err := loadFiles(ctx, sess, paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Processing failed: %s\n", models.UserMessage(err))
		logger.Debug("processing failed", zap.Error(err))
		os.Exit(1)
	}
	_ = cli.WriteReport(os.Stderr, report, cli.OutputText)

	if *watch {
		w, err := watcher.NewWatcher(paths, func(changed []string) {
			fmt.Fprintf(os.Stderr, "\n%d file(s) changed, reprocessing...\n", len(changed))
			report, err := loadFiles(ctx, sess, paths)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Reprocessing failed, keeping previous index: %s\n", models.UserMessage(err))
				logger.Warn("watch reprocess failed", zap.Strings("changed", changed), zap.Error(err))
				return
			}
			_ = cli.WriteReport(os.Stderr, report, cli.OutputText)
		}, watcher.WithDebounce(cfg.Watch.Debounce), watcher.WithLogger(logger))
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if err := w.Start(ctx); err != nil {
			fmt.Printf("Failed to start watcher: %v\n", err)
			os.Exit(1)
		}
		defer w.Stop()
	}

	repl := &chatLoop{
		sess:        sess,
		paths:       paths,
		format:      format,
		showSources: *showSources,
		logger:      logger,
	}
	if err := repl.run(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// chatLoop is the interactive question loop of the chat command.
type chatLoop struct {
	sess        *session.Session
	paths       []string
	format      cli.OutputFormat
	showSources bool
	logger      *zap.Logger
}

const chatHelp = `Commands:
  /history   show the conversation so far
  /reload    re-read and reprocess the files (resets history)
  /help      show this help
  /quit      exit
Anything else is asked as a question.`

// run reads lines from in until EOF, /quit or ctx cancellation. Question failures
// are printed and the loop continues; only I/O errors end it early.
func (c *chatLoop) run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	prompt := func() {
		if c.format == cli.OutputText {
			fmt.Fprint(out, "> ")
		}
	}
	prompt()
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
		case "/history":
			if err := cli.WriteHistory(out, c.sess.History(), c.format); err != nil {
				return err
			}
		case "/reload":
			report, err := loadFiles(ctx, c.sess, c.paths)
			if err != nil {
				fmt.Fprintf(out, "error: %s\n", models.UserMessage(err))
				c.logger.Debug("reload failed", zap.Error(err))
				break
			}
			if err := cli.WriteReport(out, report, c.format); err != nil {
				return err
			}
		default:
			answer, err := c.sess.Ask(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "error: %s\n", models.UserMessage(err))
				c.logger.Debug("ask failed", zap.Error(err))
				break
			}
			if err := cli.WriteAnswer(out, answer, c.format, c.showSources); err != nil {
				return err
			}
		}
		prompt()
	}
	return scanner.Err()
}

func printUsage() {
	fmt.Println(`kaiwa - Chat with your documents

Usage:
  kaiwa server [flags]                 Start the HTTP API
  kaiwa chat [flags] <file>...         Interactive chat over the given documents
  kaiwa ask -q <question> <file>...    Answer one question and exit
  kaiwa version                        Show version
  kaiwa help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kaiwa/config.yaml, or ./config.yaml if present)
  --debug            Enable debug logging

Chat Flags:
  --watch            Reprocess the documents when they change on disk
  --sources          Print cited chunks after each answer
  --output string    Output format: text or json (default: text)

Ask Flags:
  -q string          Question to ask
  --sources          Print cited chunks after the answer
  --output string    Output format: text or json (default: text)

Supported documents: ` + strings.Join(extract.SupportedExtensions(), ", ") + `

Examples:
  kaiwa server
  kaiwa chat report.pdf notes.md
  kaiwa chat -watch handbook.docx
  kaiwa ask -q "What was Q3 revenue?" --sources finance.xlsx
  kaiwa ask -q "Summarize" --output json paper.pdf`)
}
