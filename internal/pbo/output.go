package pbo

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Status is the verdict on a solver's "s" line.
type Status int

const (
	StatusUnknown Status = iota
	StatusSatisfiable
	StatusOptimal
	StatusUnsatisfiable
)

func (s Status) String() string {
	switch s {
	case StatusSatisfiable:
		return "satisfiable"
	case StatusOptimal:
		return "optimal"
	case StatusUnsatisfiable:
		return "unsatisfiable"
	default:
		return "unknown"
	}
}

// Output is a parsed solver answer.
type Output struct {
	Status Status
	// Objective is the last "o" value reported, when HasObjective is set.
	Objective    int
	HasObjective bool
	// Values are the signed literals from "v" lines in order.
	Values []int
}

// TrueVars returns the ids assigned true.
func (o *Output) TrueVars() []int {
	out := make([]int, 0, len(o.Values))
	for _, v := range o.Values {
		if v > 0 {
			out = append(out, v)
		}
	}
	return out
}

// ParseOutput reads the competition-style answer stream: "s" status lines,
// "o" objective progress and "v" literal lines. Comment lines are ignored.
func ParseOutput(r io.Reader) (*Output, error) {
	out := &Output{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		tag, rest, _ := strings.Cut(line, " ")
		switch tag {
		case "s":
			out.Status = parseStatus(strings.TrimSpace(rest))
		case "o":
			if v, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				out.Objective, out.HasObjective = v, true
			}
		case "v":
			for _, tok := range strings.Fields(rest) {
				lit, err := parseLiteral(tok)
				if err != nil {
					return nil, err
				}
				if lit != 0 {
					out.Values = append(out.Values, lit)
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read solver output: %w", err)
	}
	return out, nil
}

func parseStatus(s string) Status {
	switch {
	case strings.HasPrefix(s, "UNSATISFIABLE"):
		return StatusUnsatisfiable
	case strings.HasPrefix(s, "OPTIMUM"):
		return StatusOptimal
	case strings.HasPrefix(s, "SATISFIABLE"):
		return StatusSatisfiable
	default:
		return StatusUnknown
	}
}

// parseLiteral accepts 12, -12, x12, -x12, ~x12 and c12.
func parseLiteral(tok string) (int, error) {
	neg := false
	if strings.HasPrefix(tok, "-") || strings.HasPrefix(tok, "~") {
		neg, tok = true, tok[1:]
	}
	tok = strings.TrimLeft(tok, "xc")
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("solver output: bad literal %q", tok)
	}
	if neg {
		v = -v
	}
	return v, nil
}
