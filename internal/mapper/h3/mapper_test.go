package h3mapper

import (
	"reflect"
	"sort"
	"testing"

	"github.com/paulmach/orb"
)

const fieldWKT = "POLYGON((18.00 59.32, 18.12 59.32, 18.12 59.38, 18.00 59.38, 18.00 59.32))"

func TestCellsForWKT_SortedUniqueDeterministic(t *testing.T) {
	m := New()

	cells, err := m.CellsForWKT(fieldWKT, 8)
	if err != nil {
		t.Fatalf("CellsForWKT err: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty cells for polygon")
	}
	if !sort.StringsAreSorted(cells) {
		t.Fatalf("cells must be sorted")
	}
	if hasDups(cells) {
		t.Fatalf("cells must be de-duplicated")
	}

	again, err := m.CellsForWKT(fieldWKT, 8)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !reflect.DeepEqual(cells, again) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestCellsForGeometry_MultiPolygonUnion(t *testing.T) {
	m := New()
	a := orb.Polygon{{{18.00, 59.32}, {18.12, 59.32}, {18.12, 59.38}, {18.00, 59.38}, {18.00, 59.32}}}
	b := orb.Polygon{{{18.20, 59.32}, {18.30, 59.32}, {18.30, 59.38}, {18.20, 59.38}, {18.20, 59.32}}}

	ca, err := m.CellsForGeometry(a, 8)
	if err != nil {
		t.Fatalf("a: %v", err)
	}
	cm, err := m.CellsForGeometry(orb.MultiPolygon{a, b}, 8)
	if err != nil {
		t.Fatalf("multi: %v", err)
	}
	if len(cm) <= len(ca) {
		t.Fatalf("multipolygon coverage (%d) should exceed single polygon (%d)", len(cm), len(ca))
	}
	if !sort.StringsAreSorted(cm) || hasDups(cm) {
		t.Fatalf("multipolygon cells must be sorted + unique")
	}
}

func TestBounds_InvalidResolutionAndDegenerateInput(t *testing.T) {
	m := New()

	if _, err := m.CellsForWKT(fieldWKT, -1); err == nil {
		t.Fatalf("expected error for res=-1")
	}
	if _, err := m.CellsForWKT(fieldWKT, 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
	if _, err := m.CellsForWKT("POINT(1 2)", 8); err == nil {
		t.Fatalf("expected error for non-polygonal geometry")
	}
	if _, err := m.CellsForGeometry(orb.Polygon{}, 8); err == nil {
		t.Fatalf("expected error for empty polygon")
	}
}

func hasDups(s []string) bool {
	seen := map[string]struct{}{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
