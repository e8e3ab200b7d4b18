package config

import "slices"

// Diff lists the changes between two configs that the running server can
// apply without a restart. Everything else takes effect on the next start.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CatalogChanged is set when game.catalog_file points elsewhere.
	CatalogChanged bool
	NewCatalogFile string

	// Restart names the changed sections that are only read at startup.
	Restart []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && !d.CatalogChanged && len(d.Restart) == 0
}

// Compare diffs old against new.
func Compare(old, new *Config) Diff {
	var d Diff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Game.CatalogFile != new.Game.CatalogFile {
		d.CatalogChanged = true
		d.NewCatalogFile = new.Game.CatalogFile
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !serverEqual(oldServer, newServer) {
		d.Restart = append(d.Restart, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.Restart = append(d.Restart, "providers")
	}
	if old.Storage != new.Storage {
		d.Restart = append(d.Restart, "storage")
	}
	oldGame, newGame := old.Game, new.Game
	oldGame.CatalogFile, newGame.CatalogFile = "", ""
	if oldGame != newGame {
		d.Restart = append(d.Restart, "game")
	}
	if old.Voice != new.Voice {
		d.Restart = append(d.Restart, "voice")
	}
	if old.MCP != new.MCP {
		d.Restart = append(d.Restart, "mcp")
	}
	return d
}

func serverEqual(a, b ServerConfig) bool {
	return a.ListenAddr == b.ListenAddr &&
		a.PortRetries == b.PortRetries &&
		a.RuntimeMetrics == b.RuntimeMetrics &&
		slices.Equal(a.AllowedOrigins, b.AllowedOrigins)
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.Voice, b.Voice) &&
		entryEqual(a.Embeddings, b.Embeddings) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual)
}

// entryEqual ignores Options, which hold arbitrary YAML values.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
