// Package instance reads and writes CVRPTW problems in the Solomon text
// layout and in the JSON document accepted by the HTTP API.
package instance

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"cvrptw/internal/vrp"
)

// ErrFormat is returned for malformed instance text.
var ErrFormat = errors.New("malformed instance")

const (
	fleetLine    = 4 // "vehicle_count capacity"
	customerLine = 9 // first customer row, the depot
)

// Load reads a Solomon instance file.
func Load(path string) (*vrp.Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	defer func() { _ = f.Close() }()
	inst, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", path, err)
	}
	return inst, nil
}

// Parse reads the Solomon layout: line 1 holds the name, line 5 the vehicle
// count and capacity, and every non-blank line from line 10 on one customer
// as "id x y demand ready due service", starting with the depot.
func Parse(r io.Reader) (*vrp.Instance, error) {
	sc := bufio.NewScanner(r)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read instance: %w", err)
	}
	if len(lines) <= customerLine {
		return nil, fmt.Errorf("%w: %d lines, want at least %d", ErrFormat, len(lines), customerLine+1)
	}
	name := strings.TrimSpace(lines[0])
	fleet, err := fields(lines[fleetLine], 2)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, fleetLine+1, err)
	}
	var customers []vrp.Customer
	for i := customerLine; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		f, err := fields(lines[i], 7, 1, 2)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, i+1, err)
		}
		customers = append(customers, vrp.Customer{
			ID:          int(f[0]),
			Pos:         vrp.Point{X: f[1], Y: f[2]},
			Demand:      int(f[3]),
			ReadyTime:   int(f[4]),
			DueDate:     int(f[5]),
			ServiceTime: int(f[6]),
		})
	}
	inst, err := vrp.NewInstance(name, int(fleet[0]), int(fleet[1]), customers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return inst, nil
}

// fields splits line into want numbers. Coordinates may be decimal; every
// other column must hold an integer value.
func fields(line string, want int, decimal ...int) ([]float64, error) {
	parts := strings.Fields(line)
	if len(parts) != want {
		return nil, fmt.Errorf("got %d fields, want %d", len(parts), want)
	}
	out := make([]float64, want)
	for i, s := range parts {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d %q is not a number", i+1, s)
		}
		if v != math.Trunc(v) && !slices.Contains(decimal, i) {
			return nil, fmt.Errorf("field %d %q is not an integer", i+1, s)
		}
		out[i] = v
	}
	return out, nil
}

// Write renders inst in the Solomon layout accepted by Parse.
func Write(w io.Writer, inst *vrp.Instance) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n\nVEHICLE\nNUMBER     CAPACITY\n  %d         %d\n\nCUSTOMER\n", inst.Name(), inst.Vehicles(), inst.Capacity())
	fmt.Fprintf(bw, "CUST NO.  XCOORD.   YCOORD.    DEMAND   READY TIME  DUE DATE   SERVICE   TIME\n\n")
	for _, c := range inst.Customers() {
		fmt.Fprintf(bw, "%5d %10s %10s %10d %10d %10d %10d\n",
			c.ID, coord(c.Pos.X), coord(c.Pos.Y), c.Demand, c.ReadyTime, c.DueDate, c.ServiceTime)
	}
	return bw.Flush()
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
