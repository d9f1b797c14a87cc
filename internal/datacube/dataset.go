// Package datacube holds the labeled (time, y, x) array model shared by the
// imagery client, the merge step and the Zarr writer.
package datacube

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Dimension names in storage order.
const (
	DimTime = "time"
	DimY    = "y"
	DimX    = "x"
)

var Dims = []string{DimTime, DimY, DimX}

var ErrShape = errors.New("datacube: data length does not match coordinates")

type Variable struct {
	Name  string
	Data  []float64 // row-major [time][y][x], NaN is no-data
	Attrs map[string]any
}

type Dataset struct {
	Time  []time.Time
	Y     []float64
	X     []float64
	Vars  map[string]*Variable
	Attrs map[string]any
}

func New(t []time.Time, y, x []float64) *Dataset {
	ts := make([]time.Time, len(t))
	for i, v := range t {
		ts[i] = v.UTC()
	}
	return &Dataset{
		Time:  ts,
		Y:     append([]float64(nil), y...),
		X:     append([]float64(nil), x...),
		Vars:  map[string]*Variable{},
		Attrs: map[string]any{},
	}
}

func (d *Dataset) Shape() (nt, ny, nx int) {
	return len(d.Time), len(d.Y), len(d.X)
}

func (d *Dataset) Size() int {
	nt, ny, nx := d.Shape()
	return nt * ny * nx
}

// Index returns the flat offset of (t, y, x).
func (d *Dataset) Index(t, y, x int) int {
	return (t*len(d.Y)+y)*len(d.X) + x
}

func (d *Dataset) AddVariable(name string, data []float64, attrs map[string]any) error {
	if name == "" {
		return errors.New("datacube: empty variable name")
	}
	if len(data) != d.Size() {
		return fmt.Errorf("%w: variable %s has %d values, want %d", ErrShape, name, len(data), d.Size())
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	d.Vars[name] = &Variable{Name: name, Data: data, Attrs: attrs}
	return nil
}

// VarNames returns data variable names sorted.
func (d *Dataset) VarNames() []string {
	out := make([]string, 0, len(d.Vars))
	for k := range d.Vars {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CRS returns the "crs" attribute or "".
func (d *Dataset) CRS() string {
	if d.Attrs == nil {
		return ""
	}
	s, _ := d.Attrs["crs"].(string)
	return s
}

// NewFilled allocates a NaN-filled slice of n values.
func NewFilled(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
