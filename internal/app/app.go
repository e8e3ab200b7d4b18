// Package app wires the gameweaver subsystems into a running server.
//
// New builds everything from the config, Run serves until the context is
// cancelled, and Shutdown tears the pieces down in order. Tests inject
// doubles through the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/gameweaver/internal/bestiary"
	"github.com/MrWong99/gameweaver/internal/config"
	"github.com/MrWong99/gameweaver/internal/game"
	"github.com/MrWong99/gameweaver/internal/health"
	"github.com/MrWong99/gameweaver/internal/hub"
	"github.com/MrWong99/gameweaver/internal/mcp"
	"github.com/MrWong99/gameweaver/internal/narrator"
	"github.com/MrWong99/gameweaver/internal/observe"
	"github.com/MrWong99/gameweaver/internal/relay"
	"github.com/MrWong99/gameweaver/internal/server"
	"github.com/MrWong99/gameweaver/pkg/audio"
	"github.com/MrWong99/gameweaver/pkg/provider/embeddings"
	"github.com/MrWong99/gameweaver/pkg/provider/llm"
	"github.com/MrWong99/gameweaver/pkg/provider/voice"
	"github.com/MrWong99/gameweaver/pkg/store"
	"github.com/MrWong99/gameweaver/pkg/store/memory"
	"github.com/MrWong99/gameweaver/pkg/store/postgres"
	"github.com/MrWong99/gameweaver/pkg/store/sqlite"
)

// serverStopTimeout bounds the HTTP drain when Run's context ends.
const serverStopTimeout = 5 * time.Second

// Providers holds one value per collaborator slot. Nil means not configured.
type Providers struct {
	LLM        llm.Provider
	Voice      voice.Provider
	Embeddings embeddings.Provider
}

// App owns every subsystem of the server.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	store     store.Store
	metrics   *observe.Metrics
	metricsH  http.Handler
	logLevel  *slog.LevelVar
	catalog   *bestiary.Catalog
	clients   *hub.Registry
	narrator  *narrator.Narrator
	relay     *relay.Coordinator
	session   *game.Session
	autosaver *game.Autosaver
	server    *server.Server
	watcher   *config.Watcher

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures New.
type Option func(*App)

// WithStore injects the persistence collaborator instead of opening the
// configured backend. The caller keeps ownership.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics instruments every subsystem and serves handler at /metrics.
func WithMetrics(m *observe.Metrics, handler http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsH = handler
	}
}

// WithVersion is reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithConfigWatch reloads path while running. Log level changes are applied
// to level, catalog changes to the bestiary.
func WithConfigWatch(path string, level *slog.LevelVar) Option {
	return func(a *App) {
		a.logLevel = level
		w, err := config.NewWatcher(path, a.applyConfigChange)
		if err != nil {
			slog.Warn("config reload disabled", "path", path, "err", err)
			return
		}
		a.watcher = w
	}
}

// New builds the app. providers may be nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers, version: "dev"}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initCatalog(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	a.clients = hub.New(hub.WithMetrics(a.metrics))
	a.narrator = narrator.New(providers.LLM, a.store, narrator.Config{
		SystemName:    cfg.Game.SystemName,
		HistoryWindow: cfg.Game.HistoryWindow,
		MaxTokens:     cfg.Game.MaxResponseTokens,
		FallbackLine:  cfg.Game.FallbackLine,
	}, narrator.WithMetrics(a.metrics))

	a.initRelay()

	// A nil *relay.Coordinator must not become a non-nil game.Relay.
	var r game.Relay
	if a.relay != nil {
		r = a.relay
	}
	a.session = game.New(a.store, a.clients, a.narrator, a.catalog, r, game.Config{
		OpeningScene: cfg.Game.OpeningScene,
		SaveDir:      cfg.Game.SaveDir,
	}, game.WithMetrics(a.metrics))

	if cfg.Game.AutosaveInterval > 0 {
		a.autosaver = game.NewAutosaver(a.session, cfg.Game.AutosaveInterval)
	}

	a.initServer()
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Storage.Backend {
	case config.StorageMemory:
		a.store = memory.New()
	case config.StoragePostgres:
		var opts []postgres.Option
		if emb := a.providers.Embeddings; emb != nil {
			if want := a.cfg.Storage.EmbeddingDimensions; want > 0 && emb.Dimensions() != want {
				return fmt.Errorf("embedding dimensions %d do not match storage.embedding_dimensions %d", emb.Dimensions(), want)
			}
			opts = append(opts, postgres.WithEmbedder(emb))
		}
		s, err := postgres.Open(ctx, a.cfg.Storage.PostgresDSN, opts...)
		if err != nil {
			return err
		}
		a.store = s
	default:
		s, err := sqlite.Open(a.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.store = s
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("store opened", "backend", a.cfg.Storage.Backend)
	return nil
}

func (a *App) initCatalog() error {
	a.catalog = bestiary.New()
	if path := a.cfg.Game.CatalogFile; path != "" {
		n, err := a.catalog.LoadFile(path)
		if err != nil {
			return err
		}
		slog.Info("catalog entries loaded", "path", path, "count", n)
	}
	return nil
}

func (a *App) initRelay() {
	if a.providers.Voice == nil {
		slog.Info("no voice provider configured; voice commands are disabled")
		return
	}
	a.relay = relay.New(a.providers.Voice, a.clients, a.store, relay.Config{
		SampleRate:   a.cfg.Voice.SampleRate,
		PollInterval: a.cfg.Voice.PollInterval,
		StopTimeout:  a.cfg.Voice.StopTimeout,
		Voice:        a.cfg.Voice.Voice,
		DumpDir:      a.cfg.Voice.DebugDumpDir,
		Input:        audio.Format{SampleRate: a.cfg.Voice.InputSampleRate, Channels: a.cfg.Voice.InputChannels},
	},
		relay.WithMetrics(a.metrics),
		relay.WithInstructions(a.voiceInstructions),
	)
}

// voiceInstructions is the system prompt of a new voice session: the
// configured text, or the Game Master prompt for the current scene.
func (a *App) voiceInstructions(ctx context.Context) string {
	if a.cfg.Voice.Instructions != "" {
		return a.cfg.Voice.Instructions
	}
	return a.narrator.SystemPrompt(ctx, a.session.Scene())
}

func (a *App) initServer() {
	checks := []health.Checker{{Name: "store", Check: a.store.Ping}}
	if a.relay != nil {
		checks = append(checks, health.Checker{Name: "relay", Check: func(context.Context) error {
			if !a.relay.Ready() {
				return errors.New("relay scheduler not running")
			}
			return nil
		}})
	}

	var opts []server.Option
	if a.metrics != nil || a.metricsH != nil {
		opts = append(opts, server.WithMetrics(a.metrics, a.metricsH))
	}
	if a.cfg.MCP.Enabled {
		opts = append(opts, server.WithMCP(mcp.Handler(mcp.NewServer(a.session, a.version))))
	}

	a.server = server.New(server.Config{
		ListenAddr:     a.cfg.Server.ListenAddr,
		PortRetries:    a.cfg.Server.PortRetries,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		MCPPath:        a.cfg.MCP.Path,
	}, a.clients, a.session, health.New(checks...), opts...)
}

// Session returns the game session.
func (a *App) Session() *game.Session { return a.session }

// Clients returns the connected-client registry.
func (a *App) Clients() *hub.Registry { return a.clients }

// Listen binds the HTTP listener and returns its address. Run calls it when
// it was not called before.
func (a *App) Listen() (string, error) {
	addr, err := a.server.Listen()
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// Run serves HTTP and runs the relay scheduler, autosave and config watcher
// until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	if a.autosaver != nil {
		a.autosaver.Start(gctx)
	}
	if a.watcher != nil {
		g.Go(func() error {
			a.watcher.Run(gctx)
			return nil
		})
	}
	g.Go(a.server.Serve)
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverStopTimeout)
		defer cancel()
		return a.server.Shutdown(stopCtx)
	})

	slog.Info("app running", "voice", a.relay != nil, "mcp", a.cfg.MCP.Enabled)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops voice, saves a changed game one last time and runs the
// closers. Closers left when ctx expires are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.relay != nil {
			a.relay.Disable()
		}
		if a.autosaver != nil {
			a.autosaver.Stop()
			if saved, err := a.autosaver.SaveNow(ctx); err != nil {
				slog.Warn("final save failed", "err", err)
			} else if saved {
				slog.Info("game saved on shutdown")
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// applyConfigChange applies the hot-reloadable part of a config edit.
func (a *App) applyConfigChange(_, _ *config.Config, d config.Diff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CatalogChanged && d.NewCatalogFile != "" {
		n, err := a.catalog.LoadFile(d.NewCatalogFile)
		if err != nil {
			slog.Warn("catalog reload failed", "path", d.NewCatalogFile, "err", err)
		} else {
			slog.Info("catalog entries loaded", "path", d.NewCatalogFile, "count", n)
		}
	}
	if len(d.Restart) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.Restart)
	}
}

// ParseLevel maps a config log level onto slog.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
