// Command gameweaver runs the tabletop Game Master server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/gameweaver/internal/app"
	"github.com/MrWong99/gameweaver/internal/config"
	"github.com/MrWong99/gameweaver/internal/observe"
	"github.com/MrWong99/gameweaver/internal/resilience"
	"github.com/MrWong99/gameweaver/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/gameweaver/pkg/provider/embeddings/openai"
	"github.com/MrWong99/gameweaver/pkg/provider/llm"
	"github.com/MrWong99/gameweaver/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/gameweaver/pkg/provider/llm/openai"
	"github.com/MrWong99/gameweaver/pkg/provider/voice"
	oavoice "github.com/MrWong99/gameweaver/pkg/provider/voice/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	watch := flag.Bool("watch", true, "reload log level and catalog when the config file changes")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "gameweaver: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gameweaver: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "gameweaver: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("gameweaver starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.Setup(ctx, observe.ProviderConfig{
		ServiceVersion:    version,
		RuntimeCollectors: cfg.Server.RuntimeMetrics,
	})
	if err != nil {
		slog.Error("failed to set up telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithMetrics(tel.Metrics, tel.Handler()),
		app.WithVersion(version),
	}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath, level))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	addr, err := application.Listen()
	if err != nil {
		slog.Error("failed to listen", "err", err)
		shutdownApp(application)
		return 1
	}
	slog.Info("server ready, press Ctrl+C to shut down", "addr", addr)

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	slog.Info("shutdown signal received, stopping")
	if err := shutdownApp(application); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

func shutdownApp(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.Shutdown(ctx)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the shipped provider factories into reg.
// "openai" uses the OpenAI SDK directly, every other LLM name goes through
// any-llm.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyllm.Backends {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	reg.RegisterVoice("openai", func(entry config.ProviderEntry) (voice.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("openai voice: api_key is required")
		}
		var opts []oavoice.Option
		if entry.Model != "" {
			opts = append(opts, oavoice.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oavoice.WithBaseURL(entry.BaseURL))
		}
		return oavoice.New(entry.APIKey, opts...), nil
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates the configured providers. Unregistered names
// are skipped with a warning; factory errors abort startup. With fallbacks
// configured the LLM becomes a [resilience.LLMFallback].
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := createOptional("llm", entry, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		if p != nil && len(cfg.Providers.LLMFallbacks) > 0 {
			fb := resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{})
			for _, fe := range cfg.Providers.LLMFallbacks {
				fp, err := createOptional("llm", fe, reg.CreateLLM)
				if err != nil {
					return nil, err
				}
				if fp != nil {
					fb.AddFallback(fe.Name, fp)
				}
			}
			slog.Info("llm failover order", "providers", fb.Names())
			p = fb
		}
		ps.LLM = p
	}

	if entry := cfg.Providers.Voice; entry.Name != "" {
		p, err := createOptional("voice", entry, reg.CreateVoice)
		if err != nil {
			return nil, err
		}
		ps.Voice = p
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := createOptional("embeddings", entry, reg.CreateEmbeddings)
		if err != nil {
			return nil, err
		}
		ps.Embeddings = p
	}

	return ps, nil
}

func createOptional[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := create(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		var zero T
		return zero, nil
	case err != nil:
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Gameweaver, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printRow("LLM fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)))
	printProvider("Voice", cfg.Providers.Voice.Name, cfg.Providers.Voice.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printRow("Storage", string(cfg.Storage.Backend))
	printRow("Game system", orDefault(cfg.Game.SystemName, "(default)"))
	if cfg.MCP.Enabled {
		printRow("MCP", cfg.MCP.Path)
	} else {
		printRow("MCP", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString returns opts[key] when it is a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt returns opts[key] when it is a YAML integer.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses opts[key] as a Go duration string.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
