package datacube

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func mustDataset(t *testing.T, times []time.Time, y, x []float64, vars map[string][]float64) *Dataset {
	t.Helper()
	d := New(times, y, x)
	d.Attrs["crs"] = "EPSG:32633"
	for name, data := range vars {
		if err := d.AddVariable(name, data, nil); err != nil {
			t.Fatalf("AddVariable(%s): %v", name, err)
		}
	}
	return d
}

func TestMerge_EmptyFails(t *testing.T) {
	if _, err := Merge(); !errors.Is(err, ErrEmptyMerge) {
		t.Fatalf("got %v want ErrEmptyMerge", err)
	}
	if _, err := Merge(nil, nil); !errors.Is(err, ErrEmptyMerge) {
		t.Fatalf("got %v want ErrEmptyMerge for nil inputs", err)
	}
}

func TestMerge_OuterJoinDistinctVariables(t *testing.T) {
	a := mustDataset(t, []time.Time{day(1), day(3)}, []float64{10}, []float64{1, 2},
		map[string][]float64{"NDVI": {0.1, 0.2, 0.3, 0.4}})
	b := mustDataset(t, []time.Time{day(2), day(3)}, []float64{10}, []float64{2, 3},
		map[string][]float64{"EVI": {1, 2, 3, 4}})

	out, err := Merge(a, b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got, want := out.VarNames(), []string{"EVI", "NDVI"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("vars got %v want %v", got, want)
	}
	if got, want := out.Time, []time.Time{day(1), day(2), day(3)}; !reflect.DeepEqual(got, want) {
		t.Fatalf("time got %v want %v", got, want)
	}
	if got, want := out.X, []float64{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("x got %v want %v", got, want)
	}
	if out.CRS() != "EPSG:32633" {
		t.Fatalf("crs not carried: %v", out.Attrs)
	}

	ndvi := out.Vars["NDVI"].Data
	// day(3), x=2 comes from a[1][0][1]
	if v := ndvi[out.Index(2, 0, 1)]; v != 0.4 {
		t.Fatalf("NDVI(day3,x=2) got %v want 0.4", v)
	}
	// day(2) never observed by a
	if v := ndvi[out.Index(1, 0, 0)]; !math.IsNaN(v) {
		t.Fatalf("NDVI(day2,x=1) got %v want NaN", v)
	}
	evi := out.Vars["EVI"].Data
	if v := evi[out.Index(2, 0, 2)]; v != 4 {
		t.Fatalf("EVI(day3,x=3) got %v want 4", v)
	}
	if v := evi[out.Index(0, 0, 0)]; !math.IsNaN(v) {
		t.Fatalf("EVI(day1,x=1) got %v want NaN", v)
	}
}

func TestMerge_SameVariableAgreesOrConflicts(t *testing.T) {
	nan := math.NaN()
	a := mustDataset(t, []time.Time{day(1)}, []float64{0}, []float64{0, 1},
		map[string][]float64{"NDVI": {0.5, nan}})
	b := mustDataset(t, []time.Time{day(1)}, []float64{0}, []float64{0, 1},
		map[string][]float64{"NDVI": {0.5, 0.7}})

	out, err := Merge(a, b)
	if err != nil {
		t.Fatalf("agreeing merge: %v", err)
	}
	if v := out.Vars["NDVI"].Data[1]; v != 0.7 {
		t.Fatalf("NaN should be filled by other side, got %v", v)
	}

	c := mustDataset(t, []time.Time{day(1)}, []float64{0}, []float64{0, 1},
		map[string][]float64{"NDVI": {0.9, nan}})
	if _, err := Merge(a, c); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v want ErrConflict", err)
	}
}

func TestMerge_IncompatibleInputs(t *testing.T) {
	a := mustDataset(t, []time.Time{day(1)}, []float64{0}, []float64{0},
		map[string][]float64{"NDVI": {1}})
	b := mustDataset(t, []time.Time{day(1)}, []float64{0}, []float64{0},
		map[string][]float64{"EVI": {1}})
	b.Attrs["crs"] = "EPSG:4326"
	if _, err := Merge(a, b); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("crs mismatch: got %v want ErrIncompatible", err)
	}

	dup := mustDataset(t, []time.Time{day(1), day(1)}, []float64{0}, []float64{0},
		map[string][]float64{"NDVI": {1, 2}})
	if _, err := Merge(dup); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("duplicate time: got %v want ErrIncompatible", err)
	}

	bad := New([]time.Time{day(1)}, []float64{0}, []float64{0, 1})
	bad.Vars["NDVI"] = &Variable{Name: "NDVI", Data: []float64{1}}
	if _, err := Merge(bad); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("short data: got %v want ErrIncompatible", err)
	}
}

func TestAddVariable_ShapeChecked(t *testing.T) {
	d := New([]time.Time{day(1)}, []float64{0, 1}, []float64{0, 1})
	if err := d.AddVariable("NDVI", []float64{1, 2, 3}, nil); !errors.Is(err, ErrShape) {
		t.Fatalf("got %v want ErrShape", err)
	}
	if err := d.AddVariable("NDVI", []float64{1, 2, 3, 4}, nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
