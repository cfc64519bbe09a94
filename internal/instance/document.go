package instance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cvrptw/internal/vrp"
)

// Row is one customer in the JSON document.
type Row struct {
	ID          int     `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Demand      int     `json:"demand"`
	ReadyTime   int     `json:"readyTime"`
	DueDate     int     `json:"dueDate"`
	ServiceTime int     `json:"serviceTime"`
}

// Document is the JSON form of an instance. Customers[0] is the depot.
type Document struct {
	Name      string `json:"name"`
	Vehicles  int    `json:"vehicles"`
	Capacity  int    `json:"capacity"`
	Customers []Row  `json:"customers"`
}

// Build validates the document and returns the instance.
func (d Document) Build() (*vrp.Instance, error) {
	cs := make([]vrp.Customer, len(d.Customers))
	for i, r := range d.Customers {
		cs[i] = vrp.Customer{
			ID:          r.ID,
			Pos:         vrp.Point{X: r.X, Y: r.Y},
			Demand:      r.Demand,
			ReadyTime:   r.ReadyTime,
			DueDate:     r.DueDate,
			ServiceTime: r.ServiceTime,
		}
	}
	return vrp.NewInstance(d.Name, d.Vehicles, d.Capacity, cs)
}

// FromInstance converts inst into its JSON document.
func FromInstance(inst *vrp.Instance) Document {
	d := Document{Name: inst.Name(), Vehicles: inst.Vehicles(), Capacity: inst.Capacity()}
	for _, c := range inst.Customers() {
		d.Customers = append(d.Customers, Row{
			ID: c.ID, X: c.Pos.X, Y: c.Pos.Y, Demand: c.Demand,
			ReadyTime: c.ReadyTime, DueDate: c.DueDate, ServiceTime: c.ServiceTime,
		})
	}
	return d
}

// Decode reads either a JSON document or Solomon text, chosen by content type.
// An empty content type is sniffed from the first non-space byte.
func Decode(r io.Reader, contentType string) (*vrp.Instance, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read instance body: %w", err)
	}
	isJSON := strings.Contains(contentType, "json")
	if contentType == "" {
		trimmed := bytes.TrimSpace(body)
		isJSON = len(trimmed) > 0 && trimmed[0] == '{'
	}
	if !isJSON {
		return Parse(bytes.NewReader(body))
	}
	var d Document
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	inst, err := d.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return inst, nil
}
