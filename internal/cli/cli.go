// Package cli provides the designdoc command line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgallion1/designdoc/internal/config"
	"github.com/dgallion1/designdoc/internal/llm"
	"github.com/dgallion1/designdoc/internal/model"
	"github.com/dgallion1/designdoc/internal/pipeline"
	"github.com/dgallion1/designdoc/internal/store"
	"github.com/dgallion1/designdoc/internal/summarize"
	"github.com/dgallion1/designdoc/internal/tokenizer"
)

const (
	rootUse              = "designdoc"
	rootShortDescription = "turn a code repository into a design document"
	rootLongDescription  = `designdoc summarizes every source file of a local directory or GitHub
repository with a language model, condenses the summaries level by level,
and writes a Markdown design document.

Use token or cost to size a repository before spending anything.`

	logLevelFlagName  = "log-level"
	logFormatFlagName = "log-format"
	modelFlagName     = "model"
	outFlagName       = "out"
	yesFlagName       = "yes"
	htmlFlagName      = "html"
	fromFlagName      = "from"
	freshFlagName     = "fresh"

	resultFormat = "Result: %v\n"
)

// App holds the process-wide dependencies shared by commands.
type App struct {
	Config config.Config
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// IsTerminal reports whether Stdin is interactive.
	IsTerminal func() bool
	// Model replaces the provider router when set.
	Model summarize.Model
	// Resolver replaces tiktoken token counting when set.
	Resolver func(model.Tier) (tokenizer.Counter, error)

	stats *llm.Stats
}

// NewApp builds an App from the environment and the process streams.
func NewApp() *App {
	return &App{
		Config: config.Load(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		IsTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

// Execute runs the designdoc application.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return NewApp().Command().ExecuteContext(ctx)
}

// Command builds the root cobra command.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:          rootUse,
		Short:        rootShortDescription,
		Long:         rootLongDescription,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.Config.Validate()
		},
	}
	root.SetIn(a.Stdin)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)
	root.PersistentFlags().StringVar(&a.Config.LogLevel, logLevelFlagName, a.Config.LogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.Config.LogFormat, logFormatFlagName, a.Config.LogFormat, "log format (text, json)")

	root.AddCommand(
		a.tokenCommand(),
		a.costCommand(),
		a.mapCommand(),
		a.generateCommand(),
		a.serveCommand(),
	)
	return root
}

// logger builds the slog logger. Logs go to stderr; stdout carries results.
func (a *App) logger(defaultFormat string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(a.Config.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	format := a.Config.LogFormat
	if format == "" {
		format = defaultFormat
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(a.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(a.Stderr, opts))
}

func (a *App) catalog() (*model.Catalog, error) {
	if a.Config.TiersFile == "" {
		return model.DefaultCatalog(), nil
	}
	return model.LoadCatalog(a.Config.TiersFile)
}

func (a *App) tokenizer(log *slog.Logger) *tokenizer.Tokenizer {
	opts := []tokenizer.Option{tokenizer.WithLogger(log)}
	if a.Resolver != nil {
		opts = append(opts, tokenizer.WithResolver(a.Resolver))
	}
	return tokenizer.New(opts...)
}

// providerKeys names the setting that enables each provider.
var providerKeys = map[string]string{
	model.ProviderOpenAI:    "OPENAI_API_KEY",
	model.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// router registers a client for every provider with a configured key and
// checks that the configured stage tiers can all be served.
func (a *App) router(catalog *model.Catalog) (*llm.Router, error) {
	if err := a.Config.ValidateProviders(); err != nil {
		return nil, err
	}
	if a.stats == nil {
		a.stats = llm.NewStats(0)
	}
	r := llm.NewRouter(a.Config.Temperature)
	if a.Config.OpenAIAPIKey != "" {
		r.Register(model.ProviderOpenAI, llm.NewOpenAIClient(a.Config.OpenAIAPIKey, a.Config.OpenAIBaseURL, a.stats))
	}
	if a.Config.AnthropicAPIKey != "" {
		r.Register(model.ProviderAnthropic, llm.NewAnthropicClient(a.Config.AnthropicAPIKey, a.Config.AnthropicBaseURL, a.stats))
	}

	for _, name := range []string{a.Config.MapTier, a.Config.CollapseTier, a.Config.ReduceTier} {
		tier, err := catalog.Lookup(name)
		if err != nil {
			r.Close()
			return nil, err
		}
		if !r.Has(tier.Provider) {
			r.Close()
			return nil, fmt.Errorf("tier %s uses provider %s; set %s", tier.Name, tier.Provider, providerKeys[tier.Provider])
		}
	}
	return r, nil
}

// runner wires a pipeline runner. withModel also opens the provider clients
// and the checkpoint database; the returned func releases them. fresh
// empties the checkpoint database first.
func (a *App) runner(ctx context.Context, log *slog.Logger, withModel, fresh bool) (*pipeline.Runner, func(), error) {
	catalog, err := a.catalog()
	if err != nil {
		return nil, nil, err
	}
	tok := a.tokenizer(log)
	if !withModel {
		return pipeline.NewRunner(a.Config, catalog, tok, nil, nil, log), func() {}, nil
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	m := a.Model
	if m == nil {
		r, err := a.router(catalog)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, r.Close)
		m = r
	}

	var cp summarize.Checkpoint
	if a.Config.CheckpointDB != "" {
		db, err := a.checkpoints(ctx, log, fresh)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := db.Close(); err != nil {
				log.Warn("close checkpoints", "error", err)
			}
		})
		cp = db
	}
	return pipeline.NewRunner(a.Config, catalog, tok, m, cp, log), cleanup, nil
}

func (a *App) checkpoints(ctx context.Context, log *slog.Logger, fresh bool) (*store.Checkpoints, error) {
	path := a.Config.CheckpointDB
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	db, err := store.OpenCheckpoints(path)
	if err != nil {
		return nil, err
	}
	if fresh {
		if err := db.Clear(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("clear checkpoints: %w", err)
		}
		log.Info("checkpoints cleared", "path", path)
		return db, nil
	}
	counts, err := db.Counts(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	args := []any{"path", path}
	for _, stage := range []string{summarize.StageMap, summarize.StageCollapse, summarize.StageReduce} {
		args = append(args, stage, counts[stage])
	}
	log.Info("checkpoints loaded", args...)
	return db, nil
}
