// Package dice parses and rolls standard dice notation such as "d20", "2d6"
// or "3d8+2".
//
// All functions are safe for concurrent use. The package-level [Roll] uses
// [math/rand/v2]'s automatically seeded global source; tests inject a
// deterministic source through [NewRoller].
package dice

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Limits on a single expression.
const (
	MaxCount = 100
	MaxSides = 1000
)

// Usage is the hint returned to players for unparseable notation.
const Usage = "Invalid dice notation. Use format like 'd20', '2d6', or '3d8+2'."

// Critical notes appended to a natural 20 or 1 on a single d20.
const (
	CriticalSuccess = "✨ Critical Success! ✨"
	CriticalFailure = "💀 Critical Failure! 💀"
)

var notation = regexp.MustCompile(`^(\d+)?d(\d+)([+-]\d+)?$`)

// Expr is a parsed dice expression.
type Expr struct {
	Count    int
	Sides    int
	Modifier int
}

// String formats the expression in canonical NdS[+-M] form.
func (e Expr) String() string {
	s := fmt.Sprintf("%dd%d", e.Count, e.Sides)
	switch {
	case e.Modifier > 0:
		s += "+" + strconv.Itoa(e.Modifier)
	case e.Modifier < 0:
		s += strconv.Itoa(e.Modifier)
	}
	return s
}

// ErrInvalid wraps every parse failure.
var ErrInvalid = errors.New("dice: invalid notation")

// Parse parses NdS[+-M]. The count defaults to 1. Surrounding space and case
// are ignored.
func Parse(s string) (Expr, error) {
	m := notation.FindStringSubmatch(strings.ToLower(strings.Join(strings.Fields(s), "")))
	if m == nil {
		return Expr{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	e := Expr{Count: 1}
	var err error
	if m[1] != "" {
		if e.Count, err = strconv.Atoi(m[1]); err != nil {
			return Expr{}, fmt.Errorf("%w: count %q", ErrInvalid, m[1])
		}
	}
	if e.Sides, err = strconv.Atoi(m[2]); err != nil {
		return Expr{}, fmt.Errorf("%w: sides %q", ErrInvalid, m[2])
	}
	if m[3] != "" {
		if e.Modifier, err = strconv.Atoi(m[3]); err != nil {
			return Expr{}, fmt.Errorf("%w: modifier %q", ErrInvalid, m[3])
		}
	}

	if e.Count < 1 || e.Count > MaxCount {
		return Expr{}, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalid, MaxCount)
	}
	if e.Sides < 1 || e.Sides > MaxSides {
		return Expr{}, fmt.Errorf("%w: sides must be between 1 and %d", ErrInvalid, MaxSides)
	}
	return e, nil
}

// Result is the outcome of rolling an [Expr].
type Result struct {
	Expr     Expr   `json:"-"`
	Notation string `json:"expression"`
	Rolls    []int  `json:"rolls"`
	Sum      int    `json:"sum"`
	Total    int    `json:"total"`
	Critical string `json:"critical,omitempty"`
}

// String renders the result for players, e.g.
// "Rolling 2d6+3. Result: Rolls: [4, 2] = 6 + 3 = 9. Total: 9".
func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rolling %s. Result: Rolls: [", r.Notation)
	for i, v := range r.Rolls {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(v))
	}
	fmt.Fprintf(&b, "] = %d", r.Sum)
	switch {
	case r.Expr.Modifier > 0:
		fmt.Fprintf(&b, " + %d = %d", r.Expr.Modifier, r.Total)
	case r.Expr.Modifier < 0:
		fmt.Fprintf(&b, " - %d = %d", -r.Expr.Modifier, r.Total)
	}
	if r.Critical != "" {
		b.WriteString(" " + r.Critical)
	}
	fmt.Fprintf(&b, ". Total: %d", r.Total)
	return b.String()
}

// Roller rolls expressions against a random source.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller returns a Roller drawing from src. A nil src uses the global
// generator.
func NewRoller(src rand.Source) *Roller {
	r := &Roller{}
	if src != nil {
		r.rng = rand.New(src)
	}
	return r
}

func (r *Roller) intN(n int) int {
	if r == nil || r.rng == nil {
		return rand.IntN(n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

// Roll rolls e.
func (r *Roller) Roll(e Expr) Result {
	res := Result{Expr: e, Notation: e.String(), Rolls: make([]int, e.Count)}
	for i := range e.Count {
		v := r.intN(e.Sides) + 1
		res.Rolls[i] = v
		res.Sum += v
	}
	res.Total = res.Sum + e.Modifier

	if e.Count == 1 && e.Sides == 20 {
		switch res.Rolls[0] {
		case 20:
			res.Critical = CriticalSuccess
		case 1:
			res.Critical = CriticalFailure
		}
	}
	return res
}

// RollString parses and rolls s.
func (r *Roller) RollString(s string) (Result, error) {
	e, err := Parse(s)
	if err != nil {
		return Result{}, err
	}
	return r.Roll(e), nil
}

var global = NewRoller(nil)

// Roll parses and rolls s with the global generator.
func Roll(s string) (Result, error) { return global.RollString(s) }
