package zarr

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/mohammed-shakir/analytics-datacube/internal/datacube"
)

var storeRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_analytics-datacube\.zarr$`)

func sample(t *testing.T) *datacube.Dataset {
	t.Helper()
	ds := datacube.New(
		[]time.Time{time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		[]float64{10, 20, 30},
		[]float64{1, 2, 3},
	)
	ds.Attrs["crs"] = "EPSG:32633"
	data := make([]float64, ds.Size())
	for i := range data {
		data[i] = float64(i)
	}
	data[4] = math.NaN()
	if err := ds.AddVariable("NDVI", data, nil); err != nil {
		t.Fatalf("AddVariable: %v", err)
	}
	return ds
}

func readChunk(t *testing.T, path string, compressed bool) []float64 {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			t.Fatalf("zstd reader: %v", err)
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(raw, nil)
		if err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out
}

func TestWrite_LayoutAndConsolidatedMetadata(t *testing.T) {
	w, err := NewWriter(Options{ChunkTime: 1, ChunkSpace: 2, Compressor: CompressorZstd})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	dir := t.TempDir()
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	path, err := w.Write(sample(t), dir, now)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if base := filepath.Base(path); !storeRe.MatchString(base) || base != "2024-03-09_14-05-07_analytics-datacube.zarr" {
		t.Fatalf("store name got %q", base)
	}

	for _, rel := range []string{".zgroup", ".zattrs", ".zmetadata", "NDVI/.zarray", "NDVI/.zattrs", "time/0", "x/0", "y/0", "NDVI/1.1.1"} {
		if _, err := os.Stat(filepath.Join(path, rel)); err != nil {
			t.Fatalf("missing %s: %v", rel, err)
		}
	}

	b, err := os.ReadFile(filepath.Join(path, ".zmetadata"))
	if err != nil {
		t.Fatalf("read .zmetadata: %v", err)
	}
	var consolidated struct {
		Metadata map[string]json.RawMessage `json:"metadata"`
		Format   int                        `json:"zarr_consolidated_format"`
	}
	if err := json.Unmarshal(b, &consolidated); err != nil {
		t.Fatalf("decode .zmetadata: %v", err)
	}
	if consolidated.Format != 1 {
		t.Fatalf("consolidated format got %d want 1", consolidated.Format)
	}
	var arr arrayMeta
	if err := json.Unmarshal(consolidated.Metadata["NDVI/.zarray"], &arr); err != nil {
		t.Fatalf("decode NDVI/.zarray: %v", err)
	}
	if arr.DType != "<f8" || arr.FillValue != "NaN" || arr.Compressor["id"] != "zstd" {
		t.Fatalf("unexpected array meta: %+v", arr)
	}
	if len(arr.Shape) != 3 || arr.Shape[0] != 2 || arr.Shape[1] != 3 || arr.Shape[2] != 3 {
		t.Fatalf("shape got %v", arr.Shape)
	}
	var attrs map[string]any
	if err := json.Unmarshal(consolidated.Metadata["NDVI/.zattrs"], &attrs); err != nil {
		t.Fatalf("decode NDVI/.zattrs: %v", err)
	}
	dims, _ := attrs["_ARRAY_DIMENSIONS"].([]any)
	if len(dims) != 3 || dims[0] != "time" || dims[1] != "y" || dims[2] != "x" {
		t.Fatalf("_ARRAY_DIMENSIONS got %v", attrs["_ARRAY_DIMENSIONS"])
	}

	// time=1, y=2..3, x=2..3 holds only (1,2,2) = 9+6+2 = 17; rest is padding
	edge := readChunk(t, filepath.Join(path, "NDVI", "1.1.1"), true)
	if len(edge) != 4 || edge[0] != 17 || !math.IsNaN(edge[1]) || !math.IsNaN(edge[3]) {
		t.Fatalf("edge chunk got %v", edge)
	}
	first := readChunk(t, filepath.Join(path, "NDVI", "0.0.0"), true)
	if first[0] != 0 || first[1] != 1 || first[2] != 3 || !math.IsNaN(first[3]) {
		t.Fatalf("first chunk got %v", first)
	}
}

func TestWrite_UncompressedTimeCoordinate(t *testing.T) {
	w, err := NewWriter(Options{Compressor: CompressorNone})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	path, err := w.Write(sample(t), t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(path, "time", "0"))
	if err != nil {
		t.Fatalf("read time: %v", err)
	}
	if len(raw) != 16 {
		t.Fatalf("time chunk len got %d want 16", len(raw))
	}
	if got := int64(binary.LittleEndian.Uint64(raw)); got != time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC).Unix() {
		t.Fatalf("time[0] got %d", got)
	}
	if chunk := readChunk(t, filepath.Join(path, "NDVI", "0.0.0"), false); len(chunk) != 9 {
		t.Fatalf("uncompressed chunk size got %d want 9", len(chunk))
	}
}

func TestWrite_Failures(t *testing.T) {
	w, err := NewWriter(DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	dir := t.TempDir()
	now := time.Now()
	if _, err := w.Write(sample(t), dir, now); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if _, err := w.Write(sample(t), dir, now); err == nil {
		t.Fatalf("expected error when store already exists")
	}
	if _, err := w.Write(nil, dir, now); err == nil {
		t.Fatalf("expected error for nil dataset")
	}
	empty := datacube.New(nil, nil, nil)
	if _, err := w.Write(empty, dir, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected error for dataset without variables")
	}
	if _, err := NewWriter(Options{Compressor: "lz4"}); err == nil {
		t.Fatalf("expected error for unsupported compressor")
	}
}
