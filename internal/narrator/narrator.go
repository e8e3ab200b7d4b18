// Package narrator produces Game Master narration through the text-generation
// collaborator.
//
// Every call builds a fresh system prompt from the game system, the current
// scene, the party and the most recent event log entries. Narration never
// fails from the caller's point of view: any error degrades to a fixed
// fallback line so the session keeps going.
package narrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/gameweaver/internal/observe"
	"github.com/MrWong99/gameweaver/pkg/provider/llm"
	"github.com/MrWong99/gameweaver/pkg/store"
)

// Defaults applied by [New] for zero-valued [Config] fields.
const (
	DefaultSystemName    = "Mörk Borg"
	DefaultHistoryWindow = 10
	DefaultMaxTokens     = 500
	DefaultFallbackLine  = "The Game Master pauses for a moment, lost in thought..."
	DefaultScene         = "intro"
)

// Config tunes a Narrator.
type Config struct {
	SystemName    string
	HistoryWindow int
	MaxTokens     int
	Temperature   float64
	FallbackLine  string
	Timeout       time.Duration
}

// History is the slice of the event log the narrator reads. store.Store
// satisfies it.
type History interface {
	Query(ctx context.Context, limit int, eventType string) ([]store.Event, error)
}

// Scene is the per-call game context.
type Scene struct {
	Name    string
	Players []string
}

// Narrator turns player prompts into Game Master replies.
type Narrator struct {
	llm     llm.Provider
	history History
	cfg     Config
	metrics *observe.Metrics
}

// Option configures a Narrator.
type Option func(*Narrator)

// WithMetrics records narration latency and outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(n *Narrator) { n.metrics = m }
}

// New returns a Narrator. history may be nil, in which case prompts carry no
// recent events. Without a provider every reply is the fallback line.
func New(p llm.Provider, history History, cfg Config, opts ...Option) *Narrator {
	if cfg.SystemName == "" {
		cfg.SystemName = DefaultSystemName
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.FallbackLine == "" {
		cfg.FallbackLine = DefaultFallbackLine
	}
	n := &Narrator{llm: p, history: history, cfg: cfg}
	for _, o := range opts {
		o(n)
	}
	return n
}

// FallbackLine returns the line used when narration fails.
func (n *Narrator) FallbackLine() string { return n.cfg.FallbackLine }

// SystemPrompt builds the Game Master instructions for scene. A failing
// history query is logged and the prompt is built without history.
func (n *Narrator) SystemPrompt(ctx context.Context, scene Scene) string {
	var events []store.Event
	if n.history != nil {
		var err error
		events, err = n.history.Query(ctx, n.cfg.HistoryWindow, "")
		if err != nil {
			observe.Logger(ctx).Warn("narrator: history unavailable", "err", err)
		}
	}

	name := scene.Name
	if name == "" {
		name = DefaultScene
	}
	players := "None"
	if len(scene.Players) > 0 {
		players = strings.Join(scene.Players, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the Game Master for a %s roleplaying game.\n", n.cfg.SystemName)
	b.WriteString("Maintain a grim, atmospheric and slightly menacing tone.\n")
	fmt.Fprintf(&b, "Current scene: %s\n", name)
	fmt.Fprintf(&b, "Players: %s\n", players)
	b.WriteString("Recent game history:\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "%s: %s\n", ev.Type, ev.Description)
	}
	b.WriteString("\nRespond as a descriptive, atmospheric game master. Be concise yet vivid. ")
	b.WriteString("Call for dice rolls when appropriate but do not roll dice yourself. ")
	b.WriteString("Provide only the narration itself, for example: The air grows cold.")
	return b.String()
}

// Narrate asks the model to respond to prompt. It returns the fallback line
// when the model fails or replies with nothing.
func (n *Narrator) Narrate(ctx context.Context, scene Scene, prompt string) string {
	ctx, span := observe.StartSpan(ctx, "narrator.Narrate")
	defer span.End()

	if n.llm == nil {
		return n.cfg.FallbackLine
	}

	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		SystemPrompt: n.SystemPrompt(ctx, scene),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:    n.cfg.MaxTokens,
		Temperature:  n.cfg.Temperature,
		User:         observe.ClientID(ctx),
	}

	start := time.Now()
	resp, err := n.llm.Complete(ctx, req)
	n.record(ctx, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		if errors.Is(err, llm.ErrRateLimited) {
			observe.Logger(ctx).Warn("narrator: rate limited", "err", err)
		} else {
			observe.Logger(ctx).Error("narrator: completion failed", "err", err)
		}
		return n.cfg.FallbackLine
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		observe.Logger(ctx).Warn("narrator: empty completion")
		return n.cfg.FallbackLine
	}
	if resp.Truncated() {
		observe.Logger(ctx).Debug("narrator: reply hit the token limit", "max_tokens", n.cfg.MaxTokens)
	}
	span.SetAttributes(
		attribute.Int("narrator.completion_tokens", resp.Usage.CompletionTokens),
		attribute.String("narrator.finish_reason", resp.FinishReason),
	)
	return text
}

func (n *Narrator) record(ctx context.Context, d time.Duration, err error) {
	if n.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		n.metrics.RecordProviderError(ctx, "llm", "complete")
	}
	n.metrics.RecordProviderRequest(ctx, "llm", "complete", status)
	n.metrics.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(observe.Attr("status", status)))
}
