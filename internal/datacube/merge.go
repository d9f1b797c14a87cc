package datacube

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	ErrEmptyMerge   = errors.New("datacube: nothing to merge")
	ErrConflict     = errors.New("datacube: conflicting values")
	ErrIncompatible = errors.New("datacube: incompatible datasets")
)

// Merge outer-joins datasets on (time, y, x). Coordinates are the sorted union
// of the inputs, cells no input covers are NaN. A variable present in several
// inputs must agree wherever both sides hold a value.
func Merge(ds ...*Dataset) (*Dataset, error) {
	in := make([]*Dataset, 0, len(ds))
	for _, d := range ds {
		if d != nil {
			in = append(in, d)
		}
	}
	if len(in) == 0 {
		return nil, ErrEmptyMerge
	}

	crs := ""
	for i, d := range in {
		if err := checkAxes(d); err != nil {
			return nil, fmt.Errorf("dataset %d: %w", i, err)
		}
		c := d.CRS()
		if c == "" {
			continue
		}
		if crs != "" && c != crs {
			return nil, fmt.Errorf("%w: crs %q vs %q", ErrIncompatible, crs, c)
		}
		crs = c
	}

	times := unionTimes(in)
	ys := unionFloats(in, func(d *Dataset) []float64 { return d.Y })
	xs := unionFloats(in, func(d *Dataset) []float64 { return d.X })

	out := New(times, ys, xs)
	for _, d := range in {
		for k, v := range d.Attrs {
			if _, ok := out.Attrs[k]; !ok {
				out.Attrs[k] = v
			}
		}
	}

	tIdx := make(map[int64]int, len(times))
	for i, t := range times {
		tIdx[t.UnixNano()] = i
	}
	yIdx := indexOf(ys)
	xIdx := indexOf(xs)

	for _, d := range in {
		tm := make([]int, len(d.Time))
		for i, t := range d.Time {
			tm[i] = tIdx[t.UTC().UnixNano()]
		}
		ym := make([]int, len(d.Y))
		for i, y := range d.Y {
			ym[i] = yIdx[y]
		}
		xm := make([]int, len(d.X))
		for i, x := range d.X {
			xm[i] = xIdx[x]
		}

		for _, name := range d.VarNames() {
			src := d.Vars[name]
			dst, ok := out.Vars[name]
			if !ok {
				dst = &Variable{Name: name, Data: NewFilled(out.Size()), Attrs: copyAttrs(src.Attrs)}
				out.Vars[name] = dst
			}
			for ti := range d.Time {
				for yi := range d.Y {
					for xi := range d.X {
						v := src.Data[d.Index(ti, yi, xi)]
						if math.IsNaN(v) {
							continue
						}
						j := out.Index(tm[ti], ym[yi], xm[xi])
						cur := dst.Data[j]
						if !math.IsNaN(cur) && cur != v {
							return nil, fmt.Errorf("%w: %s at time=%s y=%v x=%v (%v vs %v)",
								ErrConflict, name, d.Time[ti].Format(time.RFC3339), d.Y[yi], d.X[xi], cur, v)
						}
						dst.Data[j] = v
					}
				}
			}
		}
	}
	return out, nil
}

func checkAxes(d *Dataset) error {
	for _, v := range d.Vars {
		if len(v.Data) != d.Size() {
			return fmt.Errorf("%w: %v", ErrIncompatible, ErrShape)
		}
	}
	seenT := make(map[int64]struct{}, len(d.Time))
	for _, t := range d.Time {
		k := t.UTC().UnixNano()
		if _, dup := seenT[k]; dup {
			return fmt.Errorf("%w: duplicate time %s", ErrIncompatible, t.Format(time.RFC3339))
		}
		seenT[k] = struct{}{}
	}
	for _, axis := range []struct {
		name string
		vals []float64
	}{{DimY, d.Y}, {DimX, d.X}} {
		seen := make(map[float64]struct{}, len(axis.vals))
		for _, v := range axis.vals {
			if math.IsNaN(v) {
				return fmt.Errorf("%w: NaN %s coordinate", ErrIncompatible, axis.name)
			}
			if _, dup := seen[v]; dup {
				return fmt.Errorf("%w: duplicate %s coordinate %v", ErrIncompatible, axis.name, v)
			}
			seen[v] = struct{}{}
		}
	}
	return nil
}

func unionTimes(ds []*Dataset) []time.Time {
	seen := map[int64]time.Time{}
	for _, d := range ds {
		for _, t := range d.Time {
			seen[t.UTC().UnixNano()] = t.UTC()
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func unionFloats(ds []*Dataset, axis func(*Dataset) []float64) []float64 {
	seen := map[float64]struct{}{}
	var out []float64
	for _, d := range ds {
		for _, v := range axis(d) {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func indexOf(vals []float64) map[float64]int {
	m := make(map[float64]int, len(vals))
	for i, v := range vals {
		m[v] = i
	}
	return m
}

func copyAttrs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
