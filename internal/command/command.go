// Package command decodes the free-text commands players type into a closed
// set of variants.
//
// [Parse] is the only constructor. Keyword commands ("help", "voice on") match
// exactly, ignoring case and surrounding space. Argument commands ("roll",
// "lookup monster") match by prefix, the longest registered prefix winning,
// and carry the rest of the line as their argument. Anything else is
// [Narrate].
package command

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/gameweaver/internal/apperr"
)

// Command is one decoded player command. The concrete types below are the
// only implementations.
type Command interface {
	// Name is the canonical keyword, used for metrics and logs.
	Name() string
	isCommand()
}

type (
	Help     struct{}
	Start    struct{}
	Players  struct{}
	Save     struct{}
	History  struct{}
	VoiceOn  struct{}
	VoiceOff struct{}

	Roll          struct{ Notation string }
	LookupMonster struct{ Target string }
	LookupItem    struct{ Target string }
	Search        struct{ Query string }

	// Narrate is free text for the Game Master. Text keeps the player's
	// original casing.
	Narrate struct{ Text string }
)

func (Help) Name() string          { return "help" }
func (Start) Name() string         { return "start" }
func (Players) Name() string       { return "players" }
func (Save) Name() string          { return "save" }
func (History) Name() string       { return "history" }
func (VoiceOn) Name() string       { return "voice on" }
func (VoiceOff) Name() string      { return "voice off" }
func (Roll) Name() string          { return "roll" }
func (LookupMonster) Name() string { return "lookup monster" }
func (LookupItem) Name() string    { return "lookup item" }
func (Search) Name() string        { return "search" }
func (Narrate) Name() string       { return "narrate" }

func (Help) isCommand()          {}
func (Start) isCommand()         {}
func (Players) isCommand()       {}
func (Save) isCommand()          {}
func (History) isCommand()       {}
func (VoiceOn) isCommand()       {}
func (VoiceOff) isCommand()      {}
func (Roll) isCommand()          {}
func (LookupMonster) isCommand() {}
func (LookupItem) isCommand()    {}
func (Search) isCommand()        {}
func (Narrate) isCommand()       {}

var keywords = map[string]Command{
	"help":      Help{},
	"start":     Start{},
	"players":   Players{},
	"save":      Save{},
	"history":   History{},
	"voice on":  VoiceOn{},
	"voice off": VoiceOff{},
}

type prefixRule struct {
	prefix string
	build  func(arg string) Command
}

// prefixes is sorted longest first so that "lookup monster" wins over any
// shorter overlapping prefix.
var prefixes = sortedRules([]prefixRule{
	{"roll", func(a string) Command { return Roll{Notation: a} }},
	{"lookup monster", func(a string) Command { return LookupMonster{Target: a} }},
	{"lookup item", func(a string) Command { return LookupItem{Target: a} }},
	{"search", func(a string) Command { return Search{Query: a} }},
})

func sortedRules(rules []prefixRule) []prefixRule {
	slices.SortStableFunc(rules, func(a, b prefixRule) int {
		return cmp.Compare(len(b.prefix), len(a.prefix))
	})
	return rules
}

// Parse decodes input. Blank input is a validation error.
func Parse(input string) (Command, error) {
	in := strings.TrimSpace(input)
	if in == "" {
		return nil, apperr.New(apperr.ErrValidation, "Command must not be empty.")
	}

	if c, ok := keywords[strings.ToLower(strings.Join(strings.Fields(in), " "))]; ok {
		return c, nil
	}

	for _, r := range prefixes {
		if arg, ok := cutPrefixWord(in, r.prefix); ok {
			return r.build(arg), nil
		}
	}
	return Narrate{Text: in}, nil
}

// cutPrefixWord reports whether s starts with prefix, ignoring case, followed
// by whitespace or the end of s, and returns the trimmed remainder.
func cutPrefixWord(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	rest := s[len(prefix):]
	if rest != "" && !unicode.IsSpace(rune(rest[0])) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// HelpText lists the commands players can type.
const HelpText = `Available Commands:

help - Show this help message
start - Start or resume a game
players - List current players
voice on - Enable speech recognition
voice off - Disable speech recognition
save - Save current game state
history - Show recent game history
roll <dice> - Roll dice (e.g., 'roll d20', 'roll 2d6+1')
lookup monster <name> - Look up monster stats
lookup item <name> - Look up item details
search <text> - Search the game history

You can also just type what your character is doing or saying.`
