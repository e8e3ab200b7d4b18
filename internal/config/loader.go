package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"voice":      {"openai"},
	"embeddings": {"openai"},
}

// envOverrides are the environment variables that take precedence over the
// YAML file.
type envOverrides struct {
	ListenAddr   string `env:"GAMEWEAVER_LISTEN_ADDR"`
	LogLevel     string `env:"GAMEWEAVER_LOG_LEVEL"`
	Storage      string `env:"GAMEWEAVER_STORAGE"`
	SQLitePath   string `env:"GAMEWEAVER_SQLITE_PATH"`
	PostgresDSN  string `env:"GAMEWEAVER_POSTGRES_DSN"`
	SaveDir      string `env:"GAMEWEAVER_SAVE_DIR"`
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %q: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path and returns the validated config with
// environment overrides and defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. Unknown keys are rejected. An
// empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the GAMEWEAVER_* variables and OPENAI_API_KEY onto cfg.
// The API key only fills openai entries that have none.
func ApplyEnv(cfg *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}

	setIf(&cfg.Server.ListenAddr, ov.ListenAddr)
	if ov.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(ov.LogLevel))
	}
	if ov.Storage != "" {
		cfg.Storage.Backend = StorageBackend(strings.ToLower(ov.Storage))
	}
	setIf(&cfg.Storage.SQLitePath, ov.SQLitePath)
	setIf(&cfg.Storage.PostgresDSN, ov.PostgresDSN)
	setIf(&cfg.Game.SaveDir, ov.SaveDir)

	if ov.OpenAIAPIKey != "" {
		entries := []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.Voice, &cfg.Providers.Embeddings}
		for i := range cfg.Providers.LLMFallbacks {
			entries = append(entries, &cfg.Providers.LLMFallbacks[i])
		}
		for _, e := range entries {
			if e.Name == "openai" && e.APIKey == "" {
				e.APIKey = ov.OpenAIAPIKey
			}
		}
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ApplyDefaults fills zero values. The storage backend defaults to postgres
// when only a DSN is given, sqlite otherwise.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Storage.Backend == "" {
		if cfg.Storage.PostgresDSN != "" {
			cfg.Storage.Backend = StoragePostgres
		} else {
			cfg.Storage.Backend = StorageSQLite
		}
	}
	if cfg.Storage.Backend == StorageSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = DefaultSQLitePath
	}

	if cfg.Game.HistoryWindow <= 0 {
		cfg.Game.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Game.MaxResponseTokens <= 0 {
		cfg.Game.MaxResponseTokens = DefaultMaxTokens
	}
	if cfg.Game.SaveDir == "" {
		cfg.Game.SaveDir = DefaultSaveDir
	}
	if cfg.Game.AutosaveInterval == 0 {
		cfg.Game.AutosaveInterval = DefaultAutosaveInterval
	}

	if cfg.Voice.SampleRate <= 0 {
		cfg.Voice.SampleRate = DefaultSampleRate
	}
	if cfg.Voice.PollInterval <= 0 {
		cfg.Voice.PollInterval = DefaultPollInterval
	}
	if cfg.Voice.StopTimeout <= 0 {
		cfg.Voice.StopTimeout = DefaultStopTimeout
	}

	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
}

// Validate checks cfg for coherence and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PortRetries < 0 {
		errs = append(errs, fmt.Errorf("server.port_retries must not be negative, got %d", cfg.Server.PortRetries))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("voice", cfg.Providers.Voice.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; the Game Master will only answer with the fallback line")
	}

	switch b := cfg.Storage.Backend; {
	case b != "" && !b.IsValid():
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, sqlite, postgres", b))
	case b == StoragePostgres && cfg.Storage.PostgresDSN == "":
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}
	if cfg.Storage.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions must not be negative, got %d", cfg.Storage.EmbeddingDimensions))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.Backend != StoragePostgres {
		slog.Warn("providers.embeddings only takes effect with the postgres backend", "backend", cfg.Storage.Backend)
	}

	if cfg.Game.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("game.history_window must not be negative, got %d", cfg.Game.HistoryWindow))
	}
	if cfg.Game.MaxResponseTokens < 0 {
		errs = append(errs, fmt.Errorf("game.max_response_tokens must not be negative, got %d", cfg.Game.MaxResponseTokens))
	}

	if cfg.Voice.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.sample_rate must not be negative, got %d", cfg.Voice.SampleRate))
	}
	if cfg.Voice.InputChannels < 0 || cfg.Voice.InputChannels > 2 {
		errs = append(errs, fmt.Errorf("voice.input_channels must be 0, 1 or 2, got %d", cfg.Voice.InputChannels))
	}
	if cfg.Voice.StopTimeout < 0 || cfg.Voice.PollInterval < 0 {
		errs = append(errs, errors.New("voice.stop_timeout and voice.poll_interval must not be negative"))
	}

	if cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning when name is set but not built in.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known := ValidProviderNames[kind]
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
