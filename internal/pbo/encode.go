package pbo

import (
	"errors"
	"fmt"
	"math/bits"

	"cvrptw/internal/vrp"
)

// ErrUncoveredCustomer is returned when a customer has no permitted arc into
// or out of it in any vehicle, so no assignment can visit it.
var ErrUncoveredCustomer = errors.New("customer has no permitted arcs")

// Strategy selects the subtour elimination encoding.
type Strategy string

const (
	// MTZ orders customers with per-vehicle bit-vector positions.
	MTZ Strategy = "mtz"
	// Induction tracks pairwise reachability closed under arc use.
	Induction Strategy = "induction"
)

func (s Strategy) Valid() bool { return s == MTZ || s == Induction }

// EncodeOptions configures Encode.
type EncodeOptions struct {
	Strategy Strategy
	// Dense creates a variable for every arc and pins the forbidden ones to
	// false with one constraint instead of leaving them out of the model.
	Dense bool
}

// Arc is one w[i][j][v] variable: From -> To driven by source route Vehicle.
type Arc struct {
	From, To int
	Vehicle  int
}

// Encoding is a populated model plus what is needed to decode an answer.
type Encoding struct {
	Model *Model
	// Encoded lists the source route index of every encoded vehicle.
	Encoded []int
	routes  int
	size    int
	arcs    map[int]Arc
}

// Routes is the number of routes a decoded solution has.
func (e *Encoding) Routes() int { return e.routes }

// Arc returns the arc a variable id stands for.
func (e *Encoding) Arc(id int) (Arc, bool) {
	a, ok := e.arcs[id]
	return a, ok
}

type encoder struct {
	inst *vrp.Instance
	opts EncodeOptions
	m    *Model
	enc  *Encoding

	mats   []*vrp.ArcMatrix
	w      []map[[2]int]Lit
	t      []map[int]Lit
	in     [][]Lit
	out    [][]Lit
	pinned []Lit
}

// Encode builds the exact refinement model. Each matrix is the arc universe
// of one source route; routes whose matrix leaves the depot isolated are not
// encoded and decode as empty routes.
func Encode(inst *vrp.Instance, matrices []*vrp.ArcMatrix, opts EncodeOptions) (*Encoding, error) {
	if opts.Strategy == "" {
		opts.Strategy = MTZ
	}
	if !opts.Strategy.Valid() {
		return nil, fmt.Errorf("encode: unknown strategy %q", opts.Strategy)
	}
	n := inst.Size()
	e := &encoder{
		inst: inst,
		opts: opts,
		m:    NewModel(),
		in:   make([][]Lit, n),
		out:  make([][]Lit, n),
	}
	e.enc = &Encoding{Model: e.m, routes: len(matrices), size: n, arcs: map[int]Arc{}}
	for idx, mat := range matrices {
		if mat.Size() != n {
			return nil, fmt.Errorf("encode: matrix %d is %dx%d, instance has %d nodes", idx, mat.Size(), mat.Size(), n)
		}
		if mat.DepotLinked() {
			e.mats = append(e.mats, mat)
			e.enc.Encoded = append(e.enc.Encoded, idx)
		}
	}

	e.arcVars()
	for c := 1; c < n; c++ {
		if len(e.in[c]) == 0 || len(e.out[c]) == 0 {
			return nil, fmt.Errorf("encode: customer %d: %w", c, ErrUncoveredCustomer)
		}
	}
	e.flow()
	e.visits()
	switch opts.Strategy {
	case Induction:
		e.induction()
	default:
		e.mtz()
	}
	e.capacity()
	e.timeWindows()
	if len(e.pinned) > 0 {
		e.m.Add(Ones(e.pinned...), EQ, 0)
	}
	e.objective()
	return e.enc, nil
}

func (e *encoder) arcVars() {
	n := e.inst.Size()
	e.w = make([]map[[2]int]Lit, len(e.mats))
	e.t = make([]map[int]Lit, len(e.mats))
	for v, mat := range e.mats {
		e.w[v] = map[[2]int]Lit{}
		e.t[v] = map[int]Lit{}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				permitted := mat.Permitted(i, j)
				if !permitted && !e.opts.Dense {
					continue
				}
				lit := e.m.Var(fmt.Sprintf("w_%d_%d_%d", i, j, v))
				e.enc.arcs[lit.Var()] = Arc{From: i, To: j, Vehicle: e.enc.Encoded[v]}
				if !permitted {
					e.pinned = append(e.pinned, lit)
					continue
				}
				e.w[v][[2]int{i, j}] = lit
				e.out[i] = append(e.out[i], lit)
				e.in[j] = append(e.in[j], lit)
			}
		}
		for c := 1; c < n; c++ {
			if touches(mat, c) {
				e.t[v][c] = e.m.Var(fmt.Sprintf("t_%d_%d", c, v))
			}
		}
	}
}

func touches(mat *vrp.ArcMatrix, c int) bool {
	for k := 0; k < mat.Size(); k++ {
		if mat.Permitted(c, k) || mat.Permitted(k, c) {
			return true
		}
	}
	return false
}

// flow: depot degree per vehicle, customer degree across vehicles and no
// two-customer cycles.
func (e *encoder) flow() {
	n := e.inst.Size()
	for v := range e.mats {
		var leave, enter []Lit
		for j := 1; j < n; j++ {
			if lit, ok := e.w[v][[2]int{0, j}]; ok {
				leave = append(leave, lit)
			}
			if lit, ok := e.w[v][[2]int{j, 0}]; ok {
				enter = append(enter, lit)
			}
		}
		e.m.Add(Ones(leave...), EQ, 1)
		e.m.Add(Ones(enter...), EQ, 1)
	}
	for c := 1; c < n; c++ {
		e.m.Add(Ones(e.out[c]...), EQ, 1)
		e.m.Add(Ones(e.in[c]...), EQ, 1)
	}
	for v := range e.mats {
		for i := 1; i < n; i++ {
			for j := i + 1; j < n; j++ {
				a, okA := e.w[v][[2]int{i, j}]
				b, okB := e.w[v][[2]int{j, i}]
				if okA && okB {
					e.m.Add(Ones(a.Not(), b.Not()), GE, 1)
				}
			}
		}
	}
}

// visits links arcs to visit indicators and keeps each customer on at most
// one vehicle.
func (e *encoder) visits() {
	n := e.inst.Size()
	for v := range e.mats {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				w, ok := e.w[v][[2]int{i, j}]
				if !ok {
					continue
				}
				for _, end := range [2]int{i, j} {
					if end != 0 {
						e.m.Add(Ones(w.Not(), e.t[v][end]), GE, 1)
					}
				}
			}
		}
	}
	for c := 1; c < n; c++ {
		var ts []Lit
		for v := range e.mats {
			if lit, ok := e.t[v][c]; ok {
				ts = append(ts, lit)
			}
		}
		if len(ts) > 1 {
			e.m.Add(Ones(ts...), LE, 1)
		}
	}
}

// weight returns 2^b for each bit of a bit-vector.
func weight(b int) int { return 1 << b }

// mtz: with w[i][j][v] set, u_j >= u_i + 1, linearised with M = n-1 over
// positions encoded in bits.Len(n-2) bits.
func (e *encoder) mtz() {
	n := e.inst.Size()
	width := bits.Len(uint(max(n-2, 0)))
	big := n - 1
	for v := range e.mats {
		u := func(c int) []Lit {
			lits := make([]Lit, width)
			for b := range lits {
				lits[b] = e.m.Var(fmt.Sprintf("u_%d_%d_%d", c, b, v))
			}
			return lits
		}
		pos := map[int][]Lit{}
		for c := 1; c < n; c++ {
			if _, ok := e.t[v][c]; ok {
				pos[c] = u(c)
			}
		}
		for i := 1; i < n; i++ {
			for j := 1; j < n; j++ {
				w, ok := e.w[v][[2]int{i, j}]
				if !ok {
					continue
				}
				terms := make([]Term, 0, 2*width+1)
				for b := 0; b < width; b++ {
					terms = append(terms, Term{Coef: weight(b), Lit: pos[j][b]})
					terms = append(terms, Term{Coef: -weight(b), Lit: pos[i][b]})
				}
				terms = append(terms, Term{Coef: -big, Lit: w})
				e.m.Add(terms, GE, 1-big)
			}
		}
	}
}

// induction: c[i][j][v] >= w[i][j][v], w[i][j][v] and c[j][k][v] imply
// c[i][k][v], and no customer reaches itself.
func (e *encoder) induction() {
	n := e.inst.Size()
	reach := func(i, j, v int) Lit { return e.m.Var(fmt.Sprintf("c_%d_%d_%d", i, j, v)) }
	for v := range e.mats {
		var members []int
		for c := 1; c < n; c++ {
			if _, ok := e.t[v][c]; ok {
				members = append(members, c)
			}
		}
		for i := 1; i < n; i++ {
			for j := 1; j < n; j++ {
				w, ok := e.w[v][[2]int{i, j}]
				if !ok {
					continue
				}
				e.m.Add(Ones(w.Not(), reach(i, j, v)), GE, 1)
				for _, k := range members {
					e.m.Add(Ones(w.Not(), reach(j, k, v).Not(), reach(i, k, v)), GE, 1)
				}
			}
		}
	}
	for c := 1; c < n; c++ {
		var self []Lit
		for v := range e.mats {
			if lit, ok := e.m.Lookup(fmt.Sprintf("c_%d_%d_%d", c, c, v)); ok {
				self = append(self, lit)
			}
		}
		if len(self) > 0 {
			e.m.Add(Ones(self...), EQ, 0)
		}
	}
}

func (e *encoder) capacity() {
	n := e.inst.Size()
	for v := range e.mats {
		var terms []Term
		for c := 1; c < n; c++ {
			if lit, ok := e.t[v][c]; ok {
				terms = append(terms, Term{Coef: -e.inst.Customer(c).Demand, Lit: lit})
			}
		}
		e.m.Add(terms, GE, -e.inst.Capacity())
	}
}

// timeWindows encodes service start times as bits.Len(depot due) bit-vectors.
// Precedence on i->j uses M = due_i + s_i + D_ij - ready_j and is skipped
// when it cannot bind.
func (e *encoder) timeWindows() {
	n := e.inst.Size()
	depot := e.inst.Depot()
	width := bits.Len(uint(max(depot.DueDate, 0)))
	T := make([][]Lit, n)
	for c := 0; c < n; c++ {
		T[c] = make([]Lit, width)
		for b := range T[c] {
			T[c][b] = e.m.Var(fmt.Sprintf("T_%d_%d", c, b))
		}
	}
	value := func(c, coef int) []Term {
		terms := make([]Term, width)
		for b := range terms {
			terms[b] = Term{Coef: coef * weight(b), Lit: T[c][b]}
		}
		return terms
	}
	e.m.Add(value(0, 1), EQ, 0)
	for c := 1; c < n; c++ {
		cc := e.inst.Customer(c)
		if cc.ReadyTime > 0 {
			e.m.Add(value(c, 1), GE, cc.ReadyTime)
		}
		if cc.DueDate < 1<<width-1 {
			e.m.Add(value(c, -1), GE, -cc.DueDate)
		}
	}

	service := func(c int) int {
		if c == 0 {
			return 0
		}
		return e.inst.Customer(c).ServiceTime
	}
	latest := func(c int) int {
		if c == 0 {
			return 0
		}
		return e.inst.Customer(c).DueDate
	}
	for i := 0; i < n; i++ {
		for j := 1; j < n; j++ {
			used := e.arcsAcross(i, j)
			if len(used) == 0 {
				continue
			}
			step := service(i) + e.inst.Dist(i, j)
			big := latest(i) + step - e.inst.Customer(j).ReadyTime
			if big <= 0 {
				continue
			}
			terms := value(j, 1)
			if i != 0 {
				terms = append(terms, value(i, -1)...)
			}
			terms = append(terms, Scaled(-big, used...)...)
			e.m.Add(terms, GE, step-big)
		}
	}
	for i := 1; i < n; i++ {
		used := e.arcsAcross(i, 0)
		if len(used) == 0 {
			continue
		}
		terms := append(value(i, -1), Scaled(-(service(i) + e.inst.Dist(i, 0)), used...)...)
		e.m.Add(terms, GE, -depot.DueDate)
	}
}

func (e *encoder) arcsAcross(i, j int) []Lit {
	var out []Lit
	for v := range e.mats {
		if lit, ok := e.w[v][[2]int{i, j}]; ok {
			out = append(out, lit)
		}
	}
	return out
}

func (e *encoder) objective() {
	n := e.inst.Size()
	for v := range e.mats {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if lit, ok := e.w[v][[2]int{i, j}]; ok {
					e.m.Minimize(Term{Coef: e.inst.Dist(i, j), Lit: lit})
				}
			}
		}
	}
}
