package battle

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/gameweaver/internal/apperr"
)

// Manager serialises all mutations of the current battle. The zero value is
// not usable; call [NewManager].
type Manager struct {
	mu     sync.Mutex
	battle *Battle
	newID  func() string
}

// Option configures a [Manager].
type Option func(*Manager)

// WithIDGenerator overrides the battle identifier source. Defaults to random
// UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager returns a [Manager] with no active battle.
func NewManager(opts ...Option) *Manager {
	m := &Manager{newID: uuid.NewString}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins a new battle with the given roster. It fails with
// [apperr.ErrConflict] when a battle is already active and with
// [apperr.ErrValidation] for an empty roster, blank names or duplicate names.
// MaxHP defaults to HP when zero. Turn and target flags in the input are
// ignored.
func (m *Manager) Start(roster []Combatant) (Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.battle != nil && m.battle.Active {
		return Battle{}, fmt.Errorf("battle: start: %w",
			apperr.New(apperr.ErrConflict, "A battle is already in progress."))
	}
	if len(roster) == 0 {
		return Battle{}, fmt.Errorf("battle: start: %w",
			apperr.New(apperr.ErrValidation, "A battle needs at least one combatant."))
	}

	combatants := make([]Combatant, 0, len(roster))
	seen := make(map[string]struct{}, len(roster))
	for _, c := range roster {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return Battle{}, fmt.Errorf("battle: start: %w",
				apperr.New(apperr.ErrValidation, "Every combatant needs a name."))
		}
		if _, dup := seen[c.Name]; dup {
			return Battle{}, fmt.Errorf("battle: start: %w",
				apperr.New(apperr.ErrValidation, "Duplicate combatant name %q.", c.Name))
		}
		seen[c.Name] = struct{}{}
		if c.MaxHP == 0 {
			c.MaxHP = c.HP
		}
		c.IsActiveTurn = false
		c.Targeted = false
		combatants = append(combatants, c)
	}

	m.battle = &Battle{
		ID:               m.newID(),
		Combatants:       combatants,
		CurrentTurnIndex: NoTurn,
		Active:           true,
	}
	return m.battle.clone(), nil
}

// UpdateHP sets the HP of the combatant whose name matches exactly. The value
// is stored as given: negative and above-maximum values are kept.
func (m *Manager) UpdateHP(name string, hp int) (Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.activeLocked("update hp")
	if err != nil {
		return Battle{}, err
	}
	i := b.indexOf(name)
	if i < 0 {
		return Battle{}, fmt.Errorf("battle: update hp: %w", notFound(name))
	}
	b.Combatants[i].HP = hp
	return b.clone(), nil
}

// SetTarget marks the named combatant as the only target. An unknown name
// leaves every flag unchanged and returns [apperr.ErrNotFound].
func (m *Manager) SetTarget(name string) (Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.activeLocked("set target")
	if err != nil {
		return Battle{}, err
	}
	if b.indexOf(name) < 0 {
		return Battle{}, fmt.Errorf("battle: set target: %w", notFound(name))
	}
	for i := range b.Combatants {
		b.Combatants[i].Targeted = b.Combatants[i].Name == name
	}
	return b.clone(), nil
}

// AdvanceTurn hands the turn to the named combatant. The current index is
// reset before the search, so an unknown name leaves the battle with no active
// combatant. That outcome is still a successful mutation.
func (m *Manager) AdvanceTurn(name string) (Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.activeLocked("advance turn")
	if err != nil {
		return Battle{}, err
	}
	b.CurrentTurnIndex = NoTurn
	for i := range b.Combatants {
		if b.Combatants[i].Name == name {
			b.CurrentTurnIndex = i
			b.Combatants[i].IsActiveTurn = true
		} else {
			b.Combatants[i].IsActiveTurn = false
		}
	}
	return b.clone(), nil
}

// End finishes the active battle and returns its final snapshot with Active
// set to false.
func (m *Manager) End() (Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.activeLocked("end")
	if err != nil {
		return Battle{}, err
	}
	b.Active = false
	final := b.clone()
	m.battle = nil
	return final, nil
}

// State returns a snapshot of the active battle.
func (m *Manager) State() (Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.activeLocked("state")
	if err != nil {
		return Battle{}, err
	}
	return b.clone(), nil
}

// InBattle reports whether a battle is active.
func (m *Manager) InBattle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.battle != nil && m.battle.Active
}

// Restore replaces the current battle with a previously saved snapshot. An
// inactive snapshot clears the current battle.
func (m *Manager) Restore(b Battle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !b.Active {
		m.battle = nil
		return
	}
	c := b.clone()
	m.battle = &c
}

func (m *Manager) activeLocked(op string) (*Battle, error) {
	if m.battle == nil || !m.battle.Active {
		return nil, fmt.Errorf("battle: %s: %w", op,
			apperr.New(apperr.ErrInactiveBattle, "Not currently in battle."))
	}
	return m.battle, nil
}

func notFound(name string) error {
	return apperr.New(apperr.ErrNotFound, "Combatant %q not found.", name)
}
