package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/gameweaver/internal/apperr"
	"github.com/MrWong99/gameweaver/internal/command"
	"github.com/MrWong99/gameweaver/internal/dice"
	"github.com/MrWong99/gameweaver/internal/hub"
	"github.com/MrWong99/gameweaver/pkg/store"
)

// Reply texts of the text commands.
const (
	IntroPrompt      = "Introduce the game and set the scene for the players."
	MsgNoGame        = "No existing game found. Please add players to start a new game."
	MsgNoPlayers     = "No players found. Start a new game to add players."
	MsgShowPlayers   = "Displaying players..."
	MsgSaved         = "Game state saved!"
	MsgNoHistory     = "No game history found."
	MsgShowHistory   = "Displaying game history..."
	MsgNoResults     = "No matching events found."
	MsgVoiceStarting = "Attempting to start voice interaction..."
	MsgVoiceStopping = "Attempting to stop voice interaction..."
)

// Command runs one text command typed by the client clientID and returns the
// reply for that client. Some commands also send a structured payload to the
// caller (players, history, search).
func (s *Session) Command(ctx context.Context, clientID, input string) (string, error) {
	cmd, err := command.Parse(input)
	if err != nil {
		return "", err
	}
	reply, err := s.run(ctx, clientID, cmd)
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordEvent(ctx, "command:"+cmd.Name(), status)
	}
	return reply, err
}

func (s *Session) run(ctx context.Context, clientID string, cmd command.Command) (string, error) {
	switch c := cmd.(type) {
	case command.Help:
		return command.HelpText, nil
	case command.Start:
		return s.start(ctx)
	case command.Players:
		return s.showPlayers(clientID), nil
	case command.Save:
		if err := s.Save(ctx); err != nil {
			return "", err
		}
		return MsgSaved, nil
	case command.History:
		return s.showHistory(ctx, clientID)
	case command.VoiceOn:
		if err := s.EnableVoice(ctx); err != nil {
			return "", err
		}
		return MsgVoiceStarting, nil
	case command.VoiceOff:
		s.DisableVoice()
		return MsgVoiceStopping, nil
	case command.Roll:
		return s.roll(c.Notation)
	case command.LookupMonster:
		e, err := s.catalog.Monster(c.Target)
		if err != nil {
			return "", err
		}
		return e.Summary(), nil
	case command.LookupItem:
		e, err := s.catalog.Item(c.Target)
		if err != nil {
			return "", err
		}
		return e.Summary(), nil
	case command.Search:
		return s.search(ctx, clientID, c.Query)
	case command.Narrate:
		return s.narrate(ctx, c.Text), nil
	default:
		return "", apperr.New(apperr.ErrValidation, "Unknown command %q.", cmd.Name())
	}
}

// start resumes a saved game when the party is empty, then narrates an
// introduction.
func (s *Session) start(ctx context.Context) (string, error) {
	if len(s.Players()) == 0 {
		if _, err := s.Load(ctx); err != nil {
			return "", err
		}
		if len(s.Players()) == 0 {
			return MsgNoGame, nil
		}
	}
	intro := s.narrator.Narrate(ctx, s.Scene(), IntroPrompt)
	s.appendEvent(ctx, store.TypeGameStarted, intro)
	return intro, nil
}

func (s *Session) showPlayers(clientID string) string {
	players := s.Players()
	if len(players) == 0 {
		return MsgNoPlayers
	}
	s.out.Send(clientID, hub.Message{Event: hub.EventGameState, Data: PlayersData{Players: players}})
	return MsgShowPlayers
}

func (s *Session) showHistory(ctx context.Context, clientID string) (string, error) {
	events, err := s.store.Query(ctx, s.cfg.HistoryLimit, "")
	if err != nil {
		return "", apperr.Wrap(apperr.ErrExternalService, err, "Failed to read game history.")
	}
	if len(events) == 0 {
		return MsgNoHistory, nil
	}
	s.out.Send(clientID, hub.Message{Event: hub.EventHistory, Data: HistoryData{History: events}})
	return MsgShowHistory, nil
}

func (s *Session) search(ctx context.Context, clientID, query string) (string, error) {
	if query == "" {
		return "", apperr.New(apperr.ErrValidation, "Usage: search <text>")
	}
	events, err := s.store.Search(ctx, query, s.cfg.SearchLimit)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrExternalService, err, "Search failed.")
	}
	if len(events) == 0 {
		return MsgNoResults, nil
	}
	s.out.Send(clientID, hub.Message{Event: hub.EventSearchResults, Data: SearchData{Query: query, Results: events}})

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d event(s):", len(events))
	for _, e := range events {
		fmt.Fprintf(&b, "\n- %s: %s", e.Type, e.Description)
	}
	return b.String(), nil
}

func (s *Session) roll(notation string) (string, error) {
	res, err := s.roller.RollString(notation)
	if errors.Is(err, dice.ErrInvalid) {
		return "", apperr.New(apperr.ErrValidation, dice.Usage)
	}
	if err != nil {
		return "", err
	}
	return "Roll Result: " + res.String(), nil
}

func (s *Session) narrate(ctx context.Context, text string) string {
	reply := s.narrator.Narrate(ctx, s.Scene(), text)
	s.appendEvent(ctx, store.TypePlayerCommand, fmt.Sprintf("Player: %s\nGM: %s", text, reply))
	return reply
}

// EnableVoice starts the voice relay.
func (s *Session) EnableVoice(ctx context.Context) error {
	if s.relay == nil {
		return apperr.New(apperr.ErrNotReady, "Voice is not configured.")
	}
	return s.relay.Enable(ctx)
}

// DisableVoice stops the voice relay. It is a no-op when voice is off.
func (s *Session) DisableVoice() {
	if s.relay != nil {
		s.relay.Disable()
	}
}

// PushVoiceChunk forwards a microphone chunk to the relay. It reports false
// when the chunk was dropped.
func (s *Session) PushVoiceChunk(chunk []byte) bool {
	if s.relay == nil || len(chunk) == 0 {
		return false
	}
	return s.relay.PushChunk(chunk)
}
