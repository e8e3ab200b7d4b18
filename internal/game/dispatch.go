package game

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/gameweaver/internal/apperr"
	"github.com/MrWong99/gameweaver/internal/battle"
	"github.com/MrWong99/gameweaver/internal/hub"
	"github.com/MrWong99/gameweaver/internal/observe"
)

// Inbound boundary events.
const (
	InCommand        = "command"
	InGetBattleState = "get_battle_state"
	InStartBattle    = "start_battle"
	InBattleAction   = "battle_action"
	InEndBattle      = "end_battle"
	InAddQuest       = "add_quest"
	InAddPlayer      = "add_player"
	InVoiceToggle    = "voice_toggle"
	InVoiceChunk     = "voice_chunk"
)

// Battle actions carried by battle_action.
const (
	ActionUpdateHP = "update_hp"
	ActionTarget   = "target"
	ActionNextTurn = "next_turn"
)

// Envelope is one inbound JSON frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type handlerFunc func(s *Session, ctx context.Context, clientID string, data json.RawMessage) error

var handlers = map[string]handlerFunc{
	InCommand:        (*Session).handleCommand,
	InGetBattleState: (*Session).handleGetBattleState,
	InStartBattle:    (*Session).handleStartBattle,
	InBattleAction:   (*Session).handleBattleAction,
	InEndBattle:      (*Session).handleEndBattle,
	InAddQuest:       (*Session).handleAddQuest,
	InAddPlayer:      (*Session).handleAddPlayer,
	InVoiceToggle:    (*Session).handleVoiceToggle,
	InVoiceChunk:     (*Session).handleVoiceChunk,
}

// Handle dispatches one inbound event from clientID. Errors never escape:
// they are reported to the caller as a system message with the error flag
// set. A panicking handler is recovered the same way.
func (s *Session) Handle(ctx context.Context, clientID string, env Envelope) {
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			observe.Logger(ctx).Error("game: handler panic", "event", env.Event, "panic", r)
			s.out.Send(clientID, hub.Failure("Internal error."))
		}
		if s.metrics != nil {
			s.metrics.RecordEvent(ctx, env.Event, status)
		}
	}()

	h, ok := handlers[env.Event]
	if !ok {
		status = "unknown"
		s.out.Send(clientID, hub.Failure(fmt.Sprintf("Unknown event %q.", env.Event)))
		return
	}
	if err := h(s, ctx, clientID, env.Data); err != nil {
		status = "error"
		observe.Logger(ctx).Info("event failed", "event", env.Event, "client_id", clientID, "err", err)
		s.out.Send(clientID, hub.Failure(apperr.Message(err)))
	}
}

// decode unmarshals data into v. Missing data leaves v untouched.
func decode(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.ErrValidation, err, "Malformed event data.")
	}
	return nil
}

// handleCommand answers with a response event instead of a system event.
func (s *Session) handleCommand(ctx context.Context, clientID string, data json.RawMessage) error {
	var in struct {
		Command string `json:"command"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	reply, err := s.Command(ctx, clientID, in.Command)
	if err != nil {
		s.out.Send(clientID, hub.Response(apperr.Message(err), true))
		return nil
	}
	if reply != "" {
		s.out.Send(clientID, hub.Response(reply, false))
	}
	return nil
}

func (s *Session) handleGetBattleState(_ context.Context, clientID string, _ json.RawMessage) error {
	b, err := s.BattleState()
	if errors.Is(err, apperr.ErrInactiveBattle) {
		s.out.Send(clientID, hub.System(apperr.Message(err)))
		return nil
	}
	if err != nil {
		return err
	}
	s.out.Send(clientID, hub.Message{Event: hub.EventBattleState, Data: b})
	return nil
}

func (s *Session) handleStartBattle(ctx context.Context, _ string, data json.RawMessage) error {
	var in struct {
		Combatants []battle.Combatant `json:"combatants"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := s.StartBattle(ctx, in.Combatants)
	return err
}

func (s *Session) handleBattleAction(ctx context.Context, _ string, data json.RawMessage) error {
	var in struct {
		Action string          `json:"action"`
		Target string          `json:"target"`
		HP     json.RawMessage `json:"hp"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	if in.Target == "" {
		return apperr.New(apperr.ErrValidation, "Battle action %q needs a target.", in.Action)
	}

	var err error
	switch in.Action {
	case ActionUpdateHP:
		hp, perr := parseHP(in.HP)
		if perr != nil {
			return perr
		}
		_, err = s.UpdateHP(ctx, in.Target, hp)
	case ActionTarget:
		_, err = s.SetTarget(ctx, in.Target)
	case ActionNextTurn:
		_, err = s.AdvanceTurn(ctx, in.Target)
	default:
		return apperr.New(apperr.ErrValidation, "Unknown battle action %q.", in.Action)
	}
	return err
}

// parseHP accepts a JSON number or a string holding an integer. Fractions
// are truncated.
func parseHP(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, apperr.New(apperr.ErrValidation, "Invalid HP value: missing")
	}

	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, apperr.New(apperr.ErrValidation, "Invalid HP value: %s", raw)
		}
		n, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return 0, apperr.New(apperr.ErrValidation, "Invalid HP value: %s", str)
		}
		return n, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, apperr.New(apperr.ErrValidation, "Invalid HP value: %s", raw)
	}
	return int(f), nil
}

func (s *Session) handleEndBattle(ctx context.Context, _ string, _ json.RawMessage) error {
	_, err := s.EndBattle(ctx)
	return err
}

func (s *Session) handleAddQuest(ctx context.Context, _ string, data json.RawMessage) error {
	var in struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Objectives  []string `json:"objectives"`
		Rewards     []string `json:"rewards"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := s.AddQuest(ctx, in.Title, in.Description, in.Objectives, in.Rewards)
	return err
}

func (s *Session) handleAddPlayer(ctx context.Context, _ string, data json.RawMessage) error {
	var in Player
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := s.AddPlayer(ctx, in)
	return err
}

func (s *Session) handleVoiceToggle(ctx context.Context, _ string, data json.RawMessage) error {
	var in struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	if !in.Enabled {
		s.DisableVoice()
		return nil
	}
	return s.EnableVoice(ctx)
}

func (s *Session) handleVoiceChunk(_ context.Context, _ string, data json.RawMessage) error {
	var in struct {
		Audio string `json:"audio"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	chunk, err := base64.StdEncoding.DecodeString(in.Audio)
	if err != nil {
		return apperr.Wrap(apperr.ErrValidation, err, "Voice chunk is not valid base64.")
	}
	s.PushVoiceChunk(chunk)
	return nil
}
