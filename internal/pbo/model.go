// Package pbo builds linear pseudo-Boolean models, writes them in the OPB
// text format and reads solver answers back.
package pbo

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Op is the relational operator of a constraint.
type Op int

const (
	GE Op = iota
	LE
	EQ
)

func (o Op) String() string {
	switch o {
	case LE:
		return "<="
	case EQ:
		return "="
	default:
		return ">="
	}
}

// Lit is a literal: a positive variable id, or its negation as -id.
type Lit int

func (l Lit) Var() int {
	if l < 0 {
		return int(-l)
	}
	return int(l)
}

func (l Lit) Not() Lit { return -l }

// Term is coef * lit.
type Term struct {
	Coef int
	Lit  Lit
}

// Constraint is sum(terms) op bound.
type Constraint struct {
	Terms []Term
	Op    Op
	Bound int
}

// Holds evaluates the constraint under an assignment indexed by variable id.
func (c Constraint) Holds(value func(id int) bool) bool {
	sum := 0
	for _, t := range c.Terms {
		v := value(t.Lit.Var())
		if t.Lit < 0 {
			v = !v
		}
		if v {
			sum += t.Coef
		}
	}
	switch c.Op {
	case LE:
		return sum <= c.Bound
	case EQ:
		return sum == c.Bound
	default:
		return sum >= c.Bound
	}
}

// Model is a variable dictionary plus constraints and a minimisation objective.
// Variable ids are handed out sequentially from 1; a Model is not safe for
// concurrent use.
type Model struct {
	ids           map[string]int
	names         []string
	constraints   []Constraint
	objective     []Term
	contradiction bool
}

func NewModel() *Model {
	return &Model{ids: map[string]int{}}
}

// Var returns the literal for name, allocating a fresh id on first use.
func (m *Model) Var(name string) Lit {
	if id, ok := m.ids[name]; ok {
		return Lit(id)
	}
	m.names = append(m.names, name)
	id := len(m.names)
	m.ids[name] = id
	return Lit(id)
}

// Lookup returns the literal for an existing name.
func (m *Model) Lookup(name string) (Lit, bool) {
	id, ok := m.ids[name]
	return Lit(id), ok
}

// Name returns the dictionary key of a variable id.
func (m *Model) Name(id int) string {
	if id < 1 || id > len(m.names) {
		return ""
	}
	return m.names[id-1]
}

func (m *Model) NumVars() int { return len(m.names) }
func (m *Model) NumConstraints() int { return len(m.constraints) }

// Contradiction reports whether a constraint with no terms can never hold.
func (m *Model) Contradiction() bool { return m.contradiction }

// Add appends sum(terms) op bound. Zero coefficients are dropped; a constraint
// left without terms is evaluated on the spot instead of being stored.
func (m *Model) Add(terms []Term, op Op, bound int) {
	kept := make([]Term, 0, len(terms))
	for _, t := range terms {
		if t.Coef != 0 {
			kept = append(kept, t)
		}
	}
	c := Constraint{Terms: kept, Op: op, Bound: bound}
	if len(kept) == 0 {
		if !c.Holds(func(int) bool { return false }) {
			m.contradiction = true
		}
		return
	}
	m.constraints = append(m.constraints, c)
}

// Minimize appends terms to the objective.
func (m *Model) Minimize(terms ...Term) {
	for _, t := range terms {
		if t.Coef != 0 {
			m.objective = append(m.objective, t)
		}
	}
}

func (m *Model) Constraints() []Constraint { return m.constraints }
func (m *Model) Objective() []Term { return m.objective }

// Cost evaluates the objective for the given set of true variable ids.
func (m *Model) Cost(trueVars []int) int {
	set := make(map[int]bool, len(trueVars))
	for _, id := range trueVars {
		set[id] = true
	}
	total := 0
	for _, t := range m.objective {
		v := set[t.Lit.Var()]
		if t.Lit < 0 {
			v = !v
		}
		if v {
			total += t.Coef
		}
	}
	return total
}

// Ones returns unit-coefficient terms over lits.
func Ones(lits ...Lit) []Term {
	out := make([]Term, len(lits))
	for i, l := range lits {
		out[i] = Term{Coef: 1, Lit: l}
	}
	return out
}

// Scaled returns terms with the same coefficient over lits.
func Scaled(coef int, lits ...Lit) []Term {
	out := make([]Term, len(lits))
	for i, l := range lits {
		out[i] = Term{Coef: coef, Lit: l}
	}
	return out
}

// WriteOPB serialises the model:
//
//	* #variable= N #constraint= M
//	min: 3 x1 5 x2 ;
//	1 x1 1 ~x2 >= 1 ;
//
// Only >= and = are written; a <= constraint is negated into >= form.
func (m *Model) WriteOPB(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "* #variable= %d #constraint= %d\n", len(m.names), len(m.constraints))
	if len(m.objective) > 0 {
		bw.WriteString("min:")
		writeTerms(bw, m.objective)
		bw.WriteString(" ;\n")
	}
	for _, c := range m.constraints {
		c = c.opb()
		var sb strings.Builder
		writeTerms(&sb, c.Terms)
		fmt.Fprintf(bw, "%s %s %d ;\n", strings.TrimPrefix(sb.String(), " "), c.Op, c.Bound)
	}
	return bw.Flush()
}

// opb rewrites sum <= b as -sum >= -b.
func (c Constraint) opb() Constraint {
	if c.Op != LE {
		return c
	}
	terms := make([]Term, len(c.Terms))
	for i, t := range c.Terms {
		terms[i] = Term{Coef: -t.Coef, Lit: t.Lit}
	}
	return Constraint{Terms: terms, Op: GE, Bound: -c.Bound}
}

func writeTerms(w io.Writer, terms []Term) {
	for _, t := range terms {
		neg := ""
		if t.Lit < 0 {
			neg = "~"
		}
		fmt.Fprintf(w, " %d %sx%d", t.Coef, neg, t.Lit.Var())
	}
}
