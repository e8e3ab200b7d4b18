// Package game owns the state of one running game and dispatches boundary
// events against it.
//
// A [Session] is created at process start and passed to the transport layer.
// It holds the battle manager, the quest ledger, the party and the current
// scene, and talks to the event log, the narrator, the reference catalog and
// the voice relay. Every state change is broadcast to all connected clients
// while the change's lock is still held, so clients observe mutations in the
// order they were applied.
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/gameweaver/internal/apperr"
	"github.com/MrWong99/gameweaver/internal/battle"
	"github.com/MrWong99/gameweaver/internal/bestiary"
	"github.com/MrWong99/gameweaver/internal/dice"
	"github.com/MrWong99/gameweaver/internal/hub"
	"github.com/MrWong99/gameweaver/internal/narrator"
	"github.com/MrWong99/gameweaver/internal/observe"
	"github.com/MrWong99/gameweaver/internal/quest"
	"github.com/MrWong99/gameweaver/pkg/store"
)

// Defaults applied by [New] for zero-valued [Config] fields.
const (
	DefaultHistoryLimit = 20
	DefaultSearchLimit  = 5
	BackupFileName      = "game_state.json"
)

// Outbox delivers messages to connected clients. *hub.Registry satisfies it.
type Outbox interface {
	Broadcast(msg hub.Message)
	Send(clientID string, msg hub.Message) bool
}

// Narrator produces Game Master replies. *narrator.Narrator satisfies it.
type Narrator interface {
	Narrate(ctx context.Context, scene narrator.Scene, prompt string) string
}

// Relay is the voice relay as seen by the session. *relay.Coordinator
// satisfies it.
type Relay interface {
	Enable(ctx context.Context) error
	Disable()
	PushChunk(chunk []byte) bool
}

// Player is a member of the party.
type Player struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CharacterName string `json:"character_name"`
	Description   string `json:"description,omitempty"`
}

// State is the persisted form of a game.
type State struct {
	Scene    string         `json:"current_scene"`
	Players  []Player       `json:"players"`
	Quests   []quest.Quest  `json:"quests"`
	Battle   *battle.Battle `json:"battle_state"`
	InBattle bool           `json:"in_battle"`
	SavedAt  time.Time      `json:"saved_at"`
}

// Config tunes a Session.
type Config struct {
	// OpeningScene is the scene of a fresh game. Defaults to "intro".
	OpeningScene string

	// SaveDir receives a JSON backup on every save. Empty disables backups.
	SaveDir string

	// HistoryLimit is the number of events the history command shows.
	HistoryLimit int

	// SearchLimit caps search results.
	SearchLimit int
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics records handled events and battle mutations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithRoller overrides the dice roller.
func WithRoller(r *dice.Roller) Option {
	return func(s *Session) { s.roller = r }
}

// WithBattleManager overrides the battle manager.
func WithBattleManager(m *battle.Manager) Option {
	return func(s *Session) { s.battles = m }
}

// WithIDGenerator overrides the player identifier source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Session) { s.newID = fn }
}

// WithClock overrides the time source used for save timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is the explicitly owned game state. All methods are safe for
// concurrent use.
type Session struct {
	cfg      Config
	store    store.Store
	out      Outbox
	narrator Narrator
	catalog  *bestiary.Catalog
	relay    Relay
	metrics  *observe.Metrics
	roller   *dice.Roller
	newID    func() string
	now      func() time.Time

	// battleMu and questMu keep broadcasts in mutation order.
	battleMu sync.Mutex
	battles  *battle.Manager
	questMu  sync.Mutex
	quests   *quest.Ledger

	mu      sync.Mutex
	players []Player
	scene   string

	// rev counts state changes; the autosaver compares it.
	rev atomic.Uint64
}

// New returns a Session with an empty party, no battle and no quests. relay
// may be nil, in which case voice commands fail with apperr.ErrNotReady.
func New(st store.Store, out Outbox, n Narrator, catalog *bestiary.Catalog, r Relay, cfg Config, opts ...Option) *Session {
	if cfg.OpeningScene == "" {
		cfg.OpeningScene = narrator.DefaultScene
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if catalog == nil {
		catalog = bestiary.New()
	}
	s := &Session{
		cfg:      cfg,
		store:    st,
		out:      out,
		narrator: n,
		catalog:  catalog,
		relay:    r,
		newID:    uuid.NewString,
		now:      time.Now,
		quests:   &quest.Ledger{},
		scene:    cfg.OpeningScene,
	}
	for _, o := range opts {
		o(s)
	}
	if s.battles == nil {
		s.battles = battle.NewManager()
	}
	if s.roller == nil {
		s.roller = dice.NewRoller(nil)
	}
	return s
}

// Catalog returns the reference catalog.
func (s *Session) Catalog() *bestiary.Catalog { return s.catalog }

// Roller returns the dice roller.
func (s *Session) Roller() *dice.Roller { return s.roller }

// BattleState returns the current battle snapshot. It fails with
// apperr.ErrInactiveBattle when no battle is running.
func (s *Session) BattleState() (battle.Battle, error) { return s.battles.State() }

// Quests returns a copy of the quest ledger.
func (s *Session) Quests() []quest.Quest { return s.quests.Quests() }

// Players returns a copy of the party.
func (s *Session) Players() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.players)
}

// Scene returns the narrator context: current scene and character names.
func (s *Session) Scene() narrator.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.players))
	for _, p := range s.players {
		name := p.CharacterName
		if name == "" {
			name = "Unknown"
		}
		names = append(names, name)
	}
	return narrator.Scene{Name: s.scene, Players: names}
}

// StartBattle begins a battle and broadcasts its first snapshot.
func (s *Session) StartBattle(ctx context.Context, roster []battle.Combatant) (battle.Battle, error) {
	s.battleMu.Lock()
	defer s.battleMu.Unlock()

	b, err := s.battles.Start(roster)
	if err != nil {
		return battle.Battle{}, err
	}
	s.broadcastBattle(ctx, "start", b)
	s.rev.Add(1)

	names := make([]string, 0, len(b.Combatants))
	for _, c := range b.Combatants {
		names = append(names, c.Name)
	}
	s.appendEvent(ctx, store.TypeBattleStarted, "Battle started: "+strings.Join(names, ", "))
	return b, nil
}

// UpdateHP sets a combatant's HP and broadcasts the result.
func (s *Session) UpdateHP(ctx context.Context, name string, hp int) (battle.Battle, error) {
	return s.mutateBattle(ctx, "update_hp", func() (battle.Battle, error) {
		return s.battles.UpdateHP(name, hp)
	})
}

// SetTarget marks name as the only targeted combatant and broadcasts the
// result.
func (s *Session) SetTarget(ctx context.Context, name string) (battle.Battle, error) {
	return s.mutateBattle(ctx, "set_target", func() (battle.Battle, error) {
		return s.battles.SetTarget(name)
	})
}

// AdvanceTurn gives the turn to name and broadcasts the result.
func (s *Session) AdvanceTurn(ctx context.Context, name string) (battle.Battle, error) {
	return s.mutateBattle(ctx, "advance_turn", func() (battle.Battle, error) {
		return s.battles.AdvanceTurn(name)
	})
}

// EndBattle ends the battle and broadcasts the final snapshot.
func (s *Session) EndBattle(ctx context.Context) (battle.Battle, error) {
	b, err := s.mutateBattle(ctx, "end", s.battles.End)
	if err != nil {
		return b, err
	}
	s.appendEvent(ctx, store.TypeBattleEnded, "Battle ended.")
	return b, nil
}

func (s *Session) mutateBattle(ctx context.Context, op string, fn func() (battle.Battle, error)) (battle.Battle, error) {
	s.battleMu.Lock()
	defer s.battleMu.Unlock()

	b, err := fn()
	if err != nil {
		return battle.Battle{}, err
	}
	s.broadcastBattle(ctx, op, b)
	s.rev.Add(1)
	return b, nil
}

func (s *Session) broadcastBattle(ctx context.Context, op string, b battle.Battle) {
	s.out.Broadcast(hub.Message{Event: hub.EventBattleState, Data: b})
	if s.metrics != nil {
		s.metrics.RecordBattleMutation(ctx, op)
	}
}

// AddQuest appends a quest and broadcasts the whole ledger.
func (s *Session) AddQuest(ctx context.Context, title, description string, objectives, rewards []string) ([]quest.Quest, error) {
	s.questMu.Lock()
	defer s.questMu.Unlock()

	qs, err := s.quests.Add(title, description, objectives, rewards)
	if err != nil {
		return nil, err
	}
	s.out.Broadcast(hub.Message{Event: hub.EventQuestUpdate, Data: QuestsData{Quests: qs}})
	s.rev.Add(1)
	s.appendEvent(ctx, store.TypeQuestAdded, "Quest added: "+qs[len(qs)-1].Title)
	return qs, nil
}

// AddPlayer adds a party member, stores the character and broadcasts the
// party.
func (s *Session) AddPlayer(ctx context.Context, p Player) (Player, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.CharacterName = strings.TrimSpace(p.CharacterName)
	p.Description = strings.TrimSpace(p.Description)
	if p.Name == "" || p.CharacterName == "" {
		return Player{}, apperr.New(apperr.ErrValidation, "A player needs a name and a character name.")
	}
	p.ID = s.newID()

	data, err := json.Marshal(p)
	if err != nil {
		return Player{}, fmt.Errorf("game: encode player: %w", err)
	}
	if err := s.store.Put(ctx, store.KeyCharacterPrefix+p.ID, data); err != nil {
		return Player{}, apperr.Wrap(apperr.ErrExternalService, err, "Failed to store character.")
	}

	s.mu.Lock()
	s.players = append(s.players, p)
	players := slices.Clone(s.players)
	s.out.Broadcast(hub.Message{Event: hub.EventGameState, Data: PlayersData{Players: players}})
	s.mu.Unlock()
	s.rev.Add(1)

	slog.Info("player added", "player_id", p.ID, "character", p.CharacterName)
	return p, nil
}

// Revision returns a counter that grows with every state change.
func (s *Session) Revision() uint64 { return s.rev.Load() }

// Snapshot returns the persistable state of the game.
func (s *Session) Snapshot() State {
	st := State{
		Quests:  s.quests.Quests(),
		SavedAt: s.now().UTC(),
	}
	if b, err := s.battles.State(); err == nil {
		st.Battle = &b
		st.InBattle = true
	}
	s.mu.Lock()
	st.Scene = s.scene
	st.Players = slices.Clone(s.players)
	s.mu.Unlock()
	if st.Players == nil {
		st.Players = []Player{}
	}
	return st
}

// Save writes the game state to the state store and, when a save directory
// is configured, a JSON backup file. A failing backup is logged only.
func (s *Session) Save(ctx context.Context) error {
	st := s.Snapshot()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("game: encode state: %w", err)
	}
	if err := s.store.Put(ctx, store.KeyGameState, data); err != nil {
		return apperr.Wrap(apperr.ErrExternalService, err, "Failed to save game state.")
	}
	if err := s.writeBackup(st); err != nil {
		slog.Warn("game: write backup", "dir", s.cfg.SaveDir, "err", err)
	}
	return nil
}

func (s *Session) writeBackup(st State) error {
	if s.cfg.SaveDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.SaveDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "    ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.cfg.SaveDir, BackupFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load restores the last saved state. It reports false when nothing was
// saved.
func (s *Session) Load(ctx context.Context) (bool, error) {
	data, ok, err := s.store.Get(ctx, store.KeyGameState)
	if err != nil {
		return false, apperr.Wrap(apperr.ErrExternalService, err, "Failed to load game state.")
	}
	if !ok {
		return false, nil
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return false, apperr.Wrap(apperr.ErrExternalService, err, "Saved game state is corrupt.")
	}

	s.questMu.Lock()
	s.quests.Restore(st.Quests)
	s.questMu.Unlock()

	s.battleMu.Lock()
	if st.InBattle && st.Battle != nil {
		s.battles.Restore(*st.Battle)
	} else {
		s.battles.Restore(battle.Battle{})
	}
	s.battleMu.Unlock()

	s.mu.Lock()
	s.players = slices.Clone(st.Players)
	if st.Scene != "" {
		s.scene = st.Scene
	}
	s.mu.Unlock()

	slog.Info("game state loaded", "players", len(st.Players), "quests", len(st.Quests), "in_battle", st.InBattle)
	return true, nil
}

// appendEvent writes to the event log. Failures are logged and swallowed.
func (s *Session) appendEvent(ctx context.Context, eventType, description string) {
	if _, err := s.store.Append(ctx, eventType, description); err != nil {
		observe.Logger(ctx).Warn("game: append event", "type", eventType, "err", err)
	}
}

// QuestsData is the payload of quest_update.
type QuestsData struct {
	Quests []quest.Quest `json:"quests"`
}

// PlayersData is the payload of game_state.
type PlayersData struct {
	Players []Player `json:"players"`
}

// HistoryData is the payload of history.
type HistoryData struct {
	History []store.Event `json:"history"`
}

// SearchData is the payload of search_results.
type SearchData struct {
	Query   string        `json:"query"`
	Results []store.Event `json:"results"`
}
