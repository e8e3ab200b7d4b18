// Package mcp exposes read-mostly game tools over the Model Context Protocol.
//
// Five tools are registered by [NewServer]:
//   - "roll_dice"      rolls a dice expression such as "2d6+3".
//   - "lookup_monster" returns a bestiary entry by name.
//   - "lookup_item"    returns an item entry by name.
//   - "battle_state"   returns the current battle snapshot.
//   - "quest_log"      returns the quest ledger.
//
// [Handler] serves the server over streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/gameweaver/internal/apperr"
	"github.com/MrWong99/gameweaver/internal/battle"
	"github.com/MrWong99/gameweaver/internal/bestiary"
	"github.com/MrWong99/gameweaver/internal/dice"
	"github.com/MrWong99/gameweaver/internal/quest"
)

// ServerName is reported to MCP clients.
const ServerName = "gameweaver"

// Game is the state the tools read. *game.Session satisfies it.
type Game interface {
	BattleState() (battle.Battle, error)
	Quests() []quest.Quest
	Catalog() *bestiary.Catalog
	Roller() *dice.Roller
}

// RollInput is the input of roll_dice.
type RollInput struct {
	Notation string `json:"notation" jsonschema:"dice expression such as d20, 2d6 or 3d8+2"`
}

// RollOutput is the output of roll_dice.
type RollOutput struct {
	Notation string `json:"notation"`
	Rolls    []int  `json:"rolls"`
	Modifier int    `json:"modifier"`
	Total    int    `json:"total"`
	Critical string `json:"critical,omitempty"`
	Text     string `json:"text"`
}

// LookupInput is the input of lookup_monster and lookup_item.
type LookupInput struct {
	Name string `json:"name" jsonschema:"name of the monster or item, case-insensitive"`
}

// LookupOutput is the output of lookup_monster and lookup_item.
type LookupOutput struct {
	Found      bool            `json:"found"`
	Summary    string          `json:"summary"`
	Entry      *bestiary.Entry `json:"entry,omitempty"`
	Suggestion string          `json:"suggestion,omitempty"`
}

// BattleOutput is the output of battle_state.
type BattleOutput struct {
	InBattle bool           `json:"in_battle"`
	Battle   *battle.Battle `json:"battle,omitempty"`
}

// QuestLogOutput is the output of quest_log.
type QuestLogOutput struct {
	Quests []quest.Quest `json:"quests"`
}

// NewServer returns an MCP server with the game tools registered.
func NewServer(g Game, version string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerName, Version: version}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "roll_dice",
		Description: "Roll dice in NdS+M notation. A single d20 reports critical successes and failures.",
	}, rollDice(g))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "lookup_monster",
		Description: "Look up a monster's stats, attacks and special abilities.",
	}, lookup(g, bestiary.KindMonster))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "lookup_item",
		Description: "Look up an item's type, value and properties.",
	}, lookup(g, bestiary.KindItem))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "battle_state",
		Description: "Return the combatants, HP and turn order of the current battle.",
	}, battleState(g))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "quest_log",
		Description: "Return all quests with their objectives and rewards.",
	}, questLog(g))
	return srv
}

// Handler serves srv over the streamable HTTP transport.
func Handler(srv *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
}

func rollDice(g Game) mcpsdk.ToolHandlerFor[RollInput, RollOutput] {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest, in RollInput) (*mcpsdk.CallToolResult, RollOutput, error) {
		res, err := g.Roller().RollString(in.Notation)
		if err != nil {
			return nil, RollOutput{}, errors.New(dice.Usage)
		}
		return nil, RollOutput{
			Notation: res.Notation,
			Rolls:    res.Rolls,
			Modifier: res.Expr.Modifier,
			Total:    res.Total,
			Critical: res.Critical,
			Text:     res.String(),
		}, nil
	}
}

// lookup reports a miss as a successful call with Found false, so the model
// can use the suggestion.
func lookup(g Game, kind bestiary.Kind) mcpsdk.ToolHandlerFor[LookupInput, LookupOutput] {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest, in LookupInput) (*mcpsdk.CallToolResult, LookupOutput, error) {
		c := g.Catalog()
		var (
			e   bestiary.Entry
			err error
		)
		if kind == bestiary.KindItem {
			e, err = c.Item(in.Name)
		} else {
			e, err = c.Monster(in.Name)
		}
		if errors.Is(err, apperr.ErrNotFound) {
			out := LookupOutput{Summary: apperr.Message(err)}
			out.Suggestion, _ = c.Suggest(kind, in.Name)
			return nil, out, nil
		}
		if err != nil {
			return nil, LookupOutput{}, err
		}
		return nil, LookupOutput{Found: true, Summary: e.Summary(), Entry: &e}, nil
	}
}

func battleState(g Game) mcpsdk.ToolHandlerFor[struct{}, BattleOutput] {
	return func(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, BattleOutput, error) {
		b, err := g.BattleState()
		if errors.Is(err, apperr.ErrInactiveBattle) {
			return nil, BattleOutput{}, nil
		}
		if err != nil {
			return nil, BattleOutput{}, err
		}
		return nil, BattleOutput{InBattle: true, Battle: &b}, nil
	}
}

func questLog(g Game) mcpsdk.ToolHandlerFor[struct{}, QuestLogOutput] {
	return func(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, QuestLogOutput, error) {
		qs := g.Quests()
		if qs == nil {
			qs = []quest.Quest{}
		}
		return nil, QuestLogOutput{Quests: qs}, nil
	}
}
