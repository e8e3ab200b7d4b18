// Package quest keeps the append-only quest log of a game session.
package quest

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/gameweaver/internal/apperr"
)

// StatusActive is the status of every newly added quest.
const StatusActive = "active"

// Objective is one step of a [Quest].
type Objective struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Quest is an entry in the [Ledger].
type Quest struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Objectives  []Objective `json:"objectives"`
	Rewards     []string    `json:"rewards"`
	Status      string      `json:"status"`
}

// Ledger is a thread-safe ordered list of quests. The zero value is ready to
// use.
type Ledger struct {
	mu     sync.Mutex
	quests []Quest
}

// Add appends a new quest and returns the full updated ledger. Title,
// description and at least one non-blank objective are required; a failed call
// does not consume an identifier.
func (l *Ledger) Add(title, description string, objectives, rewards []string) ([]Quest, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)

	objs := make([]Objective, 0, len(objectives))
	for _, o := range objectives {
		if o = strings.TrimSpace(o); o != "" {
			objs = append(objs, Objective{Text: o})
		}
	}
	if title == "" || description == "" || len(objs) == 0 {
		return nil, fmt.Errorf("quest: add: %w", apperr.New(apperr.ErrValidation,
			"Quest requires title, description, and objectives."))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.quests = append(l.quests, Quest{
		ID:          "quest_" + strconv.Itoa(len(l.quests)+1),
		Title:       title,
		Description: description,
		Objectives:  objs,
		Rewards:     nonNil(slices.Clone(rewards)),
		Status:      StatusActive,
	})
	return cloneAll(l.quests), nil
}

// Quests returns a copy of the ledger in insertion order.
func (l *Ledger) Quests() []Quest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneAll(l.quests)
}

// Len returns the number of quests.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.quests)
}

// Restore replaces the ledger with saved quests. Numbering continues after
// the restored entries.
func (l *Ledger) Restore(quests []Quest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quests = cloneAll(quests)
}

func cloneAll(qs []Quest) []Quest {
	out := make([]Quest, len(qs))
	for i, q := range qs {
		q.Objectives = slices.Clone(q.Objectives)
		q.Rewards = nonNil(slices.Clone(q.Rewards))
		out[i] = q
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
