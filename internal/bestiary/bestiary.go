// Package bestiary is the reference catalog of monsters and items players can
// look up during a session.
//
// A [Catalog] starts with a small built-in set and can be extended from a
// YAML file. Lookups are case-insensitive; a miss suggests the closest known
// name by Jaro-Winkler similarity.
package bestiary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/gameweaver/internal/apperr"
)

// Kind separates monsters from items.
type Kind string

const (
	KindMonster Kind = "monster"
	KindItem    Kind = "item"
)

// suggestThreshold is the minimum Jaro-Winkler similarity for a suggestion.
const suggestThreshold = 0.8

// Stats are the Mörk Borg ability scores of a monster.
type Stats struct {
	Strength  int `json:"str" yaml:"str"`
	Agility   int `json:"agi" yaml:"agi"`
	Presence  int `json:"pre" yaml:"pre"`
	Toughness int `json:"tou" yaml:"tou"`
	HP        int `json:"hp" yaml:"hp"`
	AC        int `json:"ac" yaml:"ac"`
}

// Entry is one catalog record.
type Entry struct {
	Name        string   `json:"name" yaml:"name"`
	Kind        Kind     `json:"kind" yaml:"-"`
	Description string   `json:"description" yaml:"description"`
	Stats       *Stats   `json:"stats,omitempty" yaml:"stats,omitempty"`
	Attacks     []string `json:"attacks,omitempty" yaml:"attacks,omitempty"`
	Special     string   `json:"special,omitempty" yaml:"special,omitempty"`
	ItemType    string   `json:"type,omitempty" yaml:"type,omitempty"`
	Value       int      `json:"value,omitempty" yaml:"value,omitempty"`
	Properties  string   `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// JSON renders the entry as indented JSON for display.
func (e Entry) JSON() string {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return e.Name
	}
	return string(b)
}

// Summary renders the entry as the multi-line text shown in chat.
func (e Entry) Summary() string {
	var b strings.Builder
	if e.Kind == KindItem {
		fmt.Fprintf(&b, "Item: %s", e.Name)
		if e.ItemType != "" {
			fmt.Fprintf(&b, " (%s)", e.ItemType)
		}
		fmt.Fprintf(&b, "\nValue: %d silver", e.Value)
		if e.Properties != "" {
			fmt.Fprintf(&b, "\nProperties: %s", e.Properties)
		}
	} else {
		fmt.Fprintf(&b, "Monster: %s", e.Name)
		if s := e.Stats; s != nil {
			fmt.Fprintf(&b, "\nStats: STR %d, AGI %d, PRE %d, TOU %d", s.Strength, s.Agility, s.Presence, s.Toughness)
			fmt.Fprintf(&b, "\nHP: %d, AC: %d", s.HP, s.AC)
		}
		if len(e.Attacks) > 0 {
			fmt.Fprintf(&b, "\nAttacks: %s", strings.Join(e.Attacks, ", "))
		}
		if e.Special != "" {
			fmt.Fprintf(&b, "\nSpecial: %s", e.Special)
		}
	}
	if e.Description != "" {
		fmt.Fprintf(&b, "\nDesc: %s", e.Description)
	}
	return b.String()
}

// File is the YAML layout accepted by [Catalog.LoadFromReader].
//
//	monsters:
//	  - name: Grave Hound
//	    description: A starving dog that fed on corpses.
//	    stats: {str: 10, agi: 14, pre: 4, tou: 10, hp: 12, ac: 11}
//	    attacks: ["Bite (1d6)"]
//	items:
//	  - name: Black Salt
//	    type: consumable
//	    value: 15
type File struct {
	Monsters []Entry `yaml:"monsters"`
	Items    []Entry `yaml:"items"`
}

// Catalog is a thread-safe set of entries keyed by kind and lower-cased name.
type Catalog struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]Entry
}

// New returns a Catalog holding the built-in entries.
func New() *Catalog {
	c := &Catalog{entries: map[Kind]map[string]Entry{
		KindMonster: {},
		KindItem:    {},
	}}
	for _, e := range builtin() {
		_ = c.Add(e)
	}
	return c
}

// Add inserts or replaces an entry.
func (c *Catalog) Add(e Entry) error {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return apperr.New(apperr.ErrValidation, "Catalog entry requires a name.")
	}
	if e.Kind != KindMonster && e.Kind != KindItem {
		return apperr.New(apperr.ErrValidation, "Catalog entry %q has unknown kind %q.", e.Name, e.Kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Kind][strings.ToLower(e.Name)] = e
	return nil
}

// Monster looks up a monster by name.
func (c *Catalog) Monster(name string) (Entry, error) { return c.lookup(KindMonster, name) }

// Item looks up an item by name.
func (c *Catalog) Item(name string) (Entry, error) { return c.lookup(KindItem, name) }

func (c *Catalog) lookup(kind Kind, name string) (Entry, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	c.mu.RLock()
	e, ok := c.entries[kind][key]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	label := "Monster"
	if kind == KindItem {
		label = "Item"
	}
	msg := fmt.Sprintf("%s '%s' not found.", label, strings.TrimSpace(name))
	if s, ok := c.Suggest(kind, name); ok {
		msg += fmt.Sprintf(" Did you mean '%s'?", s)
	}
	return Entry{}, apperr.New(apperr.ErrNotFound, "%s", msg)
}

// Suggest returns the known name of the given kind closest to name, if any
// scores above the similarity threshold.
func (c *Catalog) Suggest(kind Kind, name string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	best, bestScore := "", 0.0
	for key, e := range c.entries[kind] {
		score := matchr.JaroWinkler(needle, key, false)
		if score > bestScore || (score == bestScore && e.Name < best) {
			best, bestScore = e.Name, score
		}
	}
	if bestScore < suggestThreshold {
		return "", false
	}
	return best, true
}

// Names lists the entry names of one kind in sorted order.
func (c *Catalog) Names(kind Kind) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries[kind]))
	for _, e := range c.entries[kind] {
		names = append(names, e.Name)
	}
	slices.Sort(names)
	return names
}

// LoadFile adds every entry of the YAML file at path.
func (c *Catalog) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("bestiary: open %q: %w", path, err)
	}
	defer f.Close()

	n, err := c.LoadFromReader(f)
	if err != nil {
		return n, fmt.Errorf("bestiary: load %q: %w", path, err)
	}
	return n, nil
}

// LoadFromReader adds every entry of a YAML [File] read from r and returns
// how many were added. Unknown keys are rejected.
func (c *Catalog) LoadFromReader(r io.Reader) (int, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return 0, fmt.Errorf("bestiary: decode yaml: %w", err)
	}

	n := 0
	for _, e := range f.Monsters {
		e.Kind = KindMonster
		if err := c.Add(e); err != nil {
			return n, err
		}
		n++
	}
	for _, e := range f.Items {
		e.Kind = KindItem
		if err := c.Add(e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func builtin() []Entry {
	return []Entry{
		{
			Name:        "Skeleton Warrior",
			Kind:        KindMonster,
			Stats:       &Stats{Strength: 12, Agility: 10, Presence: 6, Toughness: 8, HP: 20, AC: 14},
			Attacks:     []string{"Rusted Sword (1d6)", "Bone Claw (1d4)"},
			Special:     "Undead: Immune to poison and disease. Takes half damage from piercing weapons.",
			Description: "A grinning skeleton clad in rusted armor...",
		},
		{
			Name:        "Dark Cultist",
			Kind:        KindMonster,
			Stats:       &Stats{Strength: 10, Agility: 12, Presence: 14, Toughness: 10, HP: 18, AC: 12},
			Attacks:     []string{"Ritual Dagger (1d4+2)", "Dark Incantation (1d8, 30ft range)"},
			Special:     "Sacrificial Rite: Can sacrifice 2 HP to add +2 to any roll.",
			Description: "A robed figure with ritual scars...",
		},
		{
			Name:        "Hexblade",
			Kind:        KindItem,
			ItemType:    "weapon",
			Value:       120,
			Properties:  "Longsword (1d8). On crit, target Presence save or cursed (-2 rolls) 1d4 turns.",
			Description: "A wicked blade with shifting runes...",
		},
		{
			Name:        "Scroll of Unmaking",
			Kind:        KindItem,
			ItemType:    "scroll",
			Value:       200,
			Properties:  "One-time use. Target non-magical object up to door size is disintegrated.",
			Description: "A yellowed parchment, script hurts eyes...",
		},
	}
}
