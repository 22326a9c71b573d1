// Package export writes simulation output as Arrow IPC streams so runs can be
// loaded into dataframe tools without a custom parser.
//
// Every stream carries the run identity and parameters as schema metadata.
package export

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/models"
)

// BatchRows is the maximum row count of one record batch.
const BatchRows = 1 << 16

// Dataset names one exportable table.
type Dataset string

const (
	DatasetPaths     Dataset = "paths"
	DatasetTerminals Dataset = "terminals"
	DatasetHistogram Dataset = "histogram"
	DatasetLoss      Dataset = "loss"
)

// ParseDataset maps a dataset name to a Dataset.
func ParseDataset(s string) (Dataset, error) {
	switch d := Dataset(s); d {
	case DatasetPaths, DatasetTerminals, DatasetHistogram, DatasetLoss:
		return d, nil
	default:
		return "", fmt.Errorf("unknown dataset %q (valid: paths, terminals, histogram, loss)", s)
	}
}

// Meta identifies the run a stream was taken from.
type Meta struct {
	RunID   string
	Process models.Process
	Params  models.Params
	Extra   map[string]string
}

func (m Meta) metadata(ds Dataset) arrow.Metadata {
	keys := []string{"dataset", "run_id", "process", "s0", "mu", "sigma", "t", "steps", "paths", "seed"}
	values := []string{
		string(ds),
		m.RunID,
		string(m.Process),
		formatFloat(m.Params.S0),
		formatFloat(m.Params.Mu),
		formatFloat(m.Params.Sigma),
		formatFloat(m.Params.T),
		strconv.Itoa(m.Params.Steps),
		strconv.Itoa(m.Params.Paths),
		strconv.FormatUint(uint64(m.Params.Seed), 10),
	}
	extra := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		keys = append(keys, k)
		values = append(values, m.Extra[k])
	}
	return arrow.NewMetadata(keys, values)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Schemas of the exported tables, without metadata.
var (
	pathFields = []arrow.Field{
		{Name: "path", Type: arrow.PrimitiveTypes.Int32},
		{Name: "step", Type: arrow.PrimitiveTypes.Int32},
		{Name: "t", Type: arrow.PrimitiveTypes.Float64},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
	}
	terminalFields = []arrow.Field{
		{Name: "index", Type: arrow.PrimitiveTypes.Int64},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
		{Name: "log_value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}
	histogramFields = []arrow.Field{
		{Name: "lo", Type: arrow.PrimitiveTypes.Float64},
		{Name: "hi", Type: arrow.PrimitiveTypes.Float64},
		{Name: "center", Type: arrow.PrimitiveTypes.Float64},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
		{Name: "density", Type: arrow.PrimitiveTypes.Float64},
	}
	lossFields = []arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Float64},
		{Name: "expected_loss", Type: arrow.PrimitiveTypes.Float64},
		{Name: "argmin", Type: arrow.FixedWidthTypes.Boolean},
	}
)

// stream owns a record builder and an IPC writer over one schema.
type stream struct {
	b *array.RecordBuilder
	w *ipc.Writer
}

func newStream(out io.Writer, mem memory.Allocator, fields []arrow.Field, md arrow.Metadata) *stream {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schema := arrow.NewSchema(fields, &md)
	return &stream{
		b: array.NewRecordBuilder(mem, schema),
		w: ipc.NewWriter(out, ipc.WithSchema(schema), ipc.WithAllocator(mem)),
	}
}

// flush writes the rows built so far as one batch. Empty batches are skipped.
func (s *stream) flush() error {
	rec := s.b.NewRecord()
	defer rec.Release()
	if rec.NumRows() == 0 {
		return nil
	}
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("writing record batch: %w", err)
	}
	return nil
}

func (s *stream) close() error {
	err := s.flush()
	s.b.Release()
	if cerr := s.w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing stream: %w", cerr)
	}
	return err
}

// WritePaths writes one row per path point, one batch per path.
func WritePaths(out io.Writer, mem memory.Allocator, meta Meta, paths [][]models.Point) error {
	s := newStream(out, mem, pathFields, meta.metadata(DatasetPaths))
	pathCol := s.b.Field(0).(*array.Int32Builder)
	stepCol := s.b.Field(1).(*array.Int32Builder)
	tCol := s.b.Field(2).(*array.Float64Builder)
	valueCol := s.b.Field(3).(*array.Float64Builder)

	for i, path := range paths {
		for k, p := range path {
			pathCol.Append(int32(i))
			stepCol.Append(int32(k))
			tCol.Append(p.X)
			valueCol.Append(p.Y)
		}
		if err := s.flush(); err != nil {
			_ = s.close()
			return err
		}
	}
	return s.close()
}

// WriteTerminals writes the terminal sample in ingestion order. log_value is
// null for the Wiener process and for non-positive values.
func WriteTerminals(out io.Writer, mem memory.Allocator, meta Meta, samples []float64) error {
	s := newStream(out, mem, terminalFields, meta.metadata(DatasetTerminals))
	indexCol := s.b.Field(0).(*array.Int64Builder)
	valueCol := s.b.Field(1).(*array.Float64Builder)
	logCol := s.b.Field(2).(*array.Float64Builder)

	for i, x := range samples {
		indexCol.Append(int64(i))
		valueCol.Append(x)
		if meta.Process.LogDomain() && x > 0 {
			logCol.Append(math.Log(x))
		} else {
			logCol.AppendNull()
		}
		if (i+1)%BatchRows == 0 {
			if err := s.flush(); err != nil {
				_ = s.close()
				return err
			}
		}
	}
	return s.close()
}

// WriteHistogram writes one row per bin.
func WriteHistogram(out io.Writer, mem memory.Allocator, meta Meta, bins []models.Bin) error {
	s := newStream(out, mem, histogramFields, meta.metadata(DatasetHistogram))
	for _, bin := range bins {
		s.b.Field(0).(*array.Float64Builder).Append(bin.Lo)
		s.b.Field(1).(*array.Float64Builder).Append(bin.Hi)
		s.b.Field(2).(*array.Float64Builder).Append(bin.Center)
		s.b.Field(3).(*array.Int64Builder).Append(int64(bin.Count))
		s.b.Field(4).(*array.Float64Builder).Append(bin.Density)
	}
	return s.close()
}

// WriteLossCurve writes the expected-loss curve with the grid minimiser
// flagged. The loss family and minimisers go into the schema metadata.
func WriteLossCurve(out io.Writer, mem memory.Allocator, meta Meta, res *decision.Result) error {
	extra := map[string]string{
		"loss":        res.Loss.String(),
		"a_star":      formatFloat(float64(res.AStar)),
		"min_loss":    formatFloat(float64(res.MinLoss)),
		"closed_form": formatFloat(float64(res.ClosedForm)),
		"n":           strconv.Itoa(res.N),
	}
	for k, v := range meta.Extra {
		extra[k] = v
	}
	meta.Extra = extra

	s := newStream(out, mem, lossFields, meta.metadata(DatasetLoss))
	aCol := s.b.Field(0).(*array.Float64Builder)
	lossCol := s.b.Field(1).(*array.Float64Builder)
	minCol := s.b.Field(2).(*array.BooleanBuilder)
	for i, p := range res.Curve {
		aCol.Append(p.X)
		lossCol.Append(p.Y)
		minCol.Append(i == res.ArgMin)
	}
	return s.close()
}

// Run holds the parts of a finished run each dataset is taken from. Only the
// part the requested dataset needs has to be set.
type Run struct {
	Meta
	Paths     [][]models.Point
	Samples   []float64
	Histogram []models.Bin
	Loss      *decision.Result
}

// Write writes dataset ds of run to out.
func Write(out io.Writer, mem memory.Allocator, ds Dataset, run Run) error {
	switch ds {
	case DatasetPaths:
		return WritePaths(out, mem, run.Meta, run.Paths)
	case DatasetTerminals:
		return WriteTerminals(out, mem, run.Meta, run.Samples)
	case DatasetHistogram:
		return WriteHistogram(out, mem, run.Meta, run.Histogram)
	case DatasetLoss:
		if run.Loss == nil {
			return fmt.Errorf("loss dataset needs a decision analysis")
		}
		return WriteLossCurve(out, mem, run.Meta, run.Loss)
	default:
		_, err := ParseDataset(string(ds))
		return err
	}
}
