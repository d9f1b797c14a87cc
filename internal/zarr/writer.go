// Package zarr writes datacube datasets as Zarr v2 directory stores with
// consolidated metadata.
package zarr

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/mohammed-shakir/analytics-datacube/internal/datacube"
)

const (
	storeSuffix    = "_analytics-datacube.zarr"
	timestampFmt   = "2006-01-02_15-04-05"
	timeUnits      = "seconds since 1970-01-01"
	timeCalendar   = "proleptic_gregorian"
	CompressorZstd = "zstd"
	CompressorNone = "none"
)

type Options struct {
	ChunkTime  int
	ChunkSpace int
	Compressor string // "zstd" or "none"
	Level      int
}

func DefaultOptions() Options {
	return Options{ChunkTime: 1, ChunkSpace: 256, Compressor: CompressorZstd, Level: 3}
}

type Writer struct {
	opts Options
	enc  *zstd.Encoder
}

func NewWriter(opts Options) (*Writer, error) {
	if opts.ChunkTime <= 0 {
		opts.ChunkTime = 1
	}
	if opts.ChunkSpace <= 0 {
		opts.ChunkSpace = 256
	}
	w := &Writer{opts: opts}
	switch strings.ToLower(opts.Compressor) {
	case "", CompressorZstd:
		w.opts.Compressor = CompressorZstd
		if w.opts.Level <= 0 {
			w.opts.Level = 3
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(w.opts.Level)))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		w.enc = enc
	case CompressorNone:
		w.opts.Compressor = CompressorNone
	default:
		return nil, fmt.Errorf("unsupported compressor %q", opts.Compressor)
	}
	return w, nil
}

// StoreName is the store directory name for a run started at now.
func StoreName(now time.Time) string {
	return now.Format(timestampFmt) + storeSuffix
}

// Write serializes ds under dir and returns the store path. A partially
// written store is removed on failure.
func (w *Writer) Write(ds *datacube.Dataset, dir string, now time.Time) (string, error) {
	if ds == nil {
		return "", errors.New("zarr: nil dataset")
	}
	if len(ds.Vars) == 0 {
		return "", errors.New("zarr: dataset has no variables")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(dir, StoreName(now))
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", fmt.Errorf("create store: %w", err)
	}
	if err := w.writeStore(ds, path); err != nil {
		_ = os.RemoveAll(path)
		return "", err
	}
	return path, nil
}

func (w *Writer) writeStore(ds *datacube.Dataset, root string) error {
	meta := map[string]any{}
	put := func(rel string, v any) error {
		meta[rel] = v
		return writeJSON(filepath.Join(root, filepath.FromSlash(rel)), v)
	}

	if err := put(".zgroup", map[string]int{"zarr_format": 2}); err != nil {
		return err
	}
	if err := put(".zattrs", attrsOrEmpty(ds.Attrs)); err != nil {
		return err
	}

	nt, ny, nx := ds.Shape()

	secs := make([]int64, nt)
	for i, t := range ds.Time {
		secs[i] = t.Unix()
	}
	coords := []struct {
		name  string
		arr   arrayMeta
		attrs map[string]any
		raw   []byte
	}{
		{datacube.DimTime, w.meta([]int{nt}, []int{max(1, nt)}, "<i8", nil),
			map[string]any{"units": timeUnits, "calendar": timeCalendar, "standard_name": "time"}, int64Bytes(secs)},
		{datacube.DimY, w.meta([]int{ny}, []int{max(1, ny)}, "<f8", "NaN"),
			map[string]any{"standard_name": "projection_y_coordinate"}, float64Bytes(ds.Y)},
		{datacube.DimX, w.meta([]int{nx}, []int{max(1, nx)}, "<f8", "NaN"),
			map[string]any{"standard_name": "projection_x_coordinate"}, float64Bytes(ds.X)},
	}
	for _, c := range coords {
		if err := os.Mkdir(filepath.Join(root, c.name), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", c.name, err)
		}
		c.attrs["_ARRAY_DIMENSIONS"] = []string{c.name}
		if err := put(c.name+"/.zarray", c.arr); err != nil {
			return err
		}
		if err := put(c.name+"/.zattrs", c.attrs); err != nil {
			return err
		}
		if len(c.raw) == 0 {
			continue
		}
		if err := w.writeChunk(filepath.Join(root, c.name, "0"), c.raw); err != nil {
			return fmt.Errorf("%s chunk: %w", c.name, err)
		}
	}

	chunks := []int{
		clamp(w.opts.ChunkTime, nt),
		clamp(w.opts.ChunkSpace, ny),
		clamp(w.opts.ChunkSpace, nx),
	}
	for _, name := range ds.VarNames() {
		v := ds.Vars[name]
		if err := os.Mkdir(filepath.Join(root, name), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		attrs := attrsOrEmpty(v.Attrs)
		attrs["_ARRAY_DIMENSIONS"] = datacube.Dims
		if err := put(name+"/.zarray", w.meta([]int{nt, ny, nx}, chunks, "<f8", "NaN")); err != nil {
			return err
		}
		if err := put(name+"/.zattrs", attrs); err != nil {
			return err
		}
		if err := w.writeVariable(ds, v, filepath.Join(root, name), chunks); err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
	}

	return writeJSON(filepath.Join(root, ".zmetadata"), map[string]any{
		"metadata":                 meta,
		"zarr_consolidated_format": 1,
	})
}

// writeVariable emits every (t, y, x) chunk; edge chunks are NaN padded to full size.
func (w *Writer) writeVariable(ds *datacube.Dataset, v *datacube.Variable, dir string, chunks []int) error {
	nt, ny, nx := ds.Shape()
	ct, cy, cx := chunks[0], chunks[1], chunks[2]
	buf := make([]float64, ct*cy*cx)

	for t0 := 0; t0 < nt; t0 += ct {
		for y0 := 0; y0 < ny; y0 += cy {
			for x0 := 0; x0 < nx; x0 += cx {
				i := 0
				for t := t0; t < t0+ct; t++ {
					for y := y0; y < y0+cy; y++ {
						for x := x0; x < x0+cx; x++ {
							if t < nt && y < ny && x < nx {
								buf[i] = v.Data[ds.Index(t, y, x)]
							} else {
								buf[i] = math.NaN()
							}
							i++
						}
					}
				}
				key := strconv.Itoa(t0/ct) + "." + strconv.Itoa(y0/cy) + "." + strconv.Itoa(x0/cx)
				if err := w.writeChunk(filepath.Join(dir, key), float64Bytes(buf)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (w *Writer) writeChunk(path string, raw []byte) error {
	if w.enc != nil {
		raw = w.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	}
	return os.WriteFile(path, raw, 0o644)
}

type arrayMeta struct {
	Chunks             []int             `json:"chunks"`
	Compressor         map[string]any    `json:"compressor"`
	DType              string            `json:"dtype"`
	FillValue          any               `json:"fill_value"`
	Filters            []json.RawMessage `json:"filters"`
	Order              string            `json:"order"`
	Shape              []int             `json:"shape"`
	ZarrFormat         int               `json:"zarr_format"`
	DimensionSeparator string            `json:"dimension_separator"`
}

func (w *Writer) meta(shape, chunks []int, dtype string, fill any) arrayMeta {
	var comp map[string]any
	if w.enc != nil {
		comp = map[string]any{"id": CompressorZstd, "level": w.opts.Level}
	}
	return arrayMeta{
		Chunks:             chunks,
		Compressor:         comp,
		DType:              dtype,
		FillValue:          fill,
		Order:              "C",
		Shape:              shape,
		ZarrFormat:         2,
		DimensionSeparator: ".",
	}
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func attrsOrEmpty(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clamp(chunk, n int) int {
	if n <= 0 {
		return 1
	}
	return min(chunk, n)
}

func float64Bytes(vals []float64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func int64Bytes(vals []int64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[i*8:], uint64(v))
	}
	return b
}
