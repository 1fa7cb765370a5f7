// Package converter collates samples into Apache Arrow records and back.
package converter

import (
	"slices"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

const defaultBatchSize = 1024

// SampleConverter builds Arrow record batches from samples. Each sample is
// one row; the list offsets of the nested columns carry the per-sample
// tensor structure.
type SampleConverter struct {
	allocator memory.Allocator
	logger    zerolog.Logger
	batchSize int
}

// NewSampleConverter creates a converter that allocates from allocator.
func NewSampleConverter(allocator memory.Allocator, logger zerolog.Logger) *SampleConverter {
	return &SampleConverter{
		allocator: allocator,
		logger:    logger.With().Str("component", "converter").Logger(),
		batchSize: defaultBatchSize,
	}
}

// SetBatchSize sets the number of samples per record batch.
func (c *SampleConverter) SetBatchSize(size int) {
	if size > 0 {
		c.batchSize = size
	}
}

// ToRecords collates samples into record batches sharing one schema. The
// caller owns the returned records and must release them. An empty sample
// list yields no records.
func (c *SampleConverter) ToRecords(samples []*models.Sample, meta *models.ArtifactMeta) (*arrow.Schema, []arrow.Record) {
	schema := models.GetSampleSchema(meta)
	builder := array.NewRecordBuilder(c.allocator, schema)
	defer builder.Release()

	start := time.Now()
	records := make([]arrow.Record, 0, (len(samples)+c.batchSize-1)/c.batchSize)
	for lo := 0; lo < len(samples); lo += c.batchSize {
		hi := min(lo+c.batchSize, len(samples))
		for _, s := range samples[lo:hi] {
			appendSample(builder, s)
		}
		records = append(records, builder.NewRecord())
	}

	c.logger.Debug().
		Int("samples", len(samples)).
		Int("batches", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Collated samples")

	return schema, records
}

func appendSample(b *array.RecordBuilder, s *models.Sample) {
	b.Field(0).(*array.Int64Builder).Append(s.QueryID)
	appendFloat32Matrix(b.Field(1).(*array.ListBuilder), s.NodeAttr)
	appendInt64Matrix(b.Field(2).(*array.ListBuilder), s.EdgeIndex)
	appendFloat32Matrix(b.Field(3).(*array.ListBuilder), s.EdgeAttr)
	appendFloat32List(b.Field(4).(*array.ListBuilder), s.GraphAttr)
	appendFloat32Matrix(b.Field(5).(*array.ListBuilder), s.PlanAttr)
	appendInt64List(b.Field(6).(*array.ListBuilder), s.PlanOrder)
	b.Field(7).(*array.Float64Builder).Append(s.Latency)
	b.Field(8).(*array.Float64Builder).Append(s.LatencyT)
	b.Field(9).(*array.BooleanBuilder).Append(s.OptChoice)
	b.Field(10).(*array.Float64Builder).Append(s.OptCost)
	b.Field(11).(*array.Int64Builder).Append(s.NumJoins)
	b.Field(12).(*array.Int64Builder).Append(s.NumNodes)
}

func appendFloat32List(lb *array.ListBuilder, values []float32) {
	lb.Append(true)
	lb.ValueBuilder().(*array.Float32Builder).AppendValues(values, nil)
}

func appendInt64List(lb *array.ListBuilder, values []int64) {
	lb.Append(true)
	lb.ValueBuilder().(*array.Int64Builder).AppendValues(values, nil)
}

func appendFloat32Matrix(lb *array.ListBuilder, m [][]float32) {
	lb.Append(true)
	rows := lb.ValueBuilder().(*array.ListBuilder)
	for _, row := range m {
		appendFloat32List(rows, row)
	}
}

func appendInt64Matrix(lb *array.ListBuilder, m [][]int64) {
	lb.Append(true)
	rows := lb.ValueBuilder().(*array.ListBuilder)
	for _, row := range m {
		appendInt64List(rows, row)
	}
}

// sampleColumns holds the typed columns of one record.
type sampleColumns struct {
	queryID   *array.Int64
	nodeAttr  *array.List
	edgeIndex *array.List
	edgeAttr  *array.List
	graphAttr *array.List
	planAttr  *array.List
	planOrder *array.List
	latency   *array.Float64
	latencyT  *array.Float64
	optChoice *array.Boolean
	optCost   *array.Float64
	numJoins  *array.Int64
	numNodes  *array.Int64
}

func column[T arrow.Array](rec arrow.Record, name string) (T, error) {
	var zero T
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return zero, errors.Newf(errors.CodeDecode, "record has no column %q", name)
	}
	col, ok := rec.Column(idx[0]).(T)
	if !ok {
		return zero, errors.Newf(errors.CodeDecode, "column %q has unexpected type %s", name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}

func lookupColumns(rec arrow.Record) (*sampleColumns, error) {
	var (
		cols sampleColumns
		err  error
	)
	if cols.queryID, err = column[*array.Int64](rec, models.ColQueryID); err != nil {
		return nil, err
	}
	if cols.nodeAttr, err = column[*array.List](rec, models.ColNodeAttr); err != nil {
		return nil, err
	}
	if cols.edgeIndex, err = column[*array.List](rec, models.ColEdgeIndex); err != nil {
		return nil, err
	}
	if cols.edgeAttr, err = column[*array.List](rec, models.ColEdgeAttr); err != nil {
		return nil, err
	}
	if cols.graphAttr, err = column[*array.List](rec, models.ColGraphAttr); err != nil {
		return nil, err
	}
	if cols.planAttr, err = column[*array.List](rec, models.ColPlanAttr); err != nil {
		return nil, err
	}
	if cols.planOrder, err = column[*array.List](rec, models.ColPlanOrder); err != nil {
		return nil, err
	}
	if cols.latency, err = column[*array.Float64](rec, models.ColLatency); err != nil {
		return nil, err
	}
	if cols.latencyT, err = column[*array.Float64](rec, models.ColLatencyT); err != nil {
		return nil, err
	}
	if cols.optChoice, err = column[*array.Boolean](rec, models.ColOptChoice); err != nil {
		return nil, err
	}
	if cols.optCost, err = column[*array.Float64](rec, models.ColOptCost); err != nil {
		return nil, err
	}
	if cols.numJoins, err = column[*array.Int64](rec, models.ColNumJoins); err != nil {
		return nil, err
	}
	if cols.numNodes, err = column[*array.Int64](rec, models.ColNumNodes); err != nil {
		return nil, err
	}
	return &cols, nil
}

// FromRecord decodes every row of rec into a sample. The returned samples
// own their memory; rec may be released afterwards.
func (c *SampleConverter) FromRecord(rec arrow.Record) ([]*models.Sample, error) {
	cols, err := lookupColumns(rec)
	if err != nil {
		return nil, err
	}

	samples := make([]*models.Sample, rec.NumRows())
	for i := range samples {
		s := &models.Sample{
			QueryID:   cols.queryID.Value(i),
			Latency:   cols.latency.Value(i),
			LatencyT:  cols.latencyT.Value(i),
			OptChoice: cols.optChoice.Value(i),
			OptCost:   cols.optCost.Value(i),
			NumJoins:  cols.numJoins.Value(i),
			NumNodes:  cols.numNodes.Value(i),
		}
		if s.NodeAttr, err = float32Matrix(cols.nodeAttr, i); err != nil {
			return nil, errors.Wrapf(err, errors.CodeDecode, "row %d: %s", i, models.ColNodeAttr)
		}
		if s.EdgeIndex, err = int64Matrix(cols.edgeIndex, i); err != nil {
			return nil, errors.Wrapf(err, errors.CodeDecode, "row %d: %s", i, models.ColEdgeIndex)
		}
		if s.EdgeAttr, err = float32Matrix(cols.edgeAttr, i); err != nil {
			return nil, errors.Wrapf(err, errors.CodeDecode, "row %d: %s", i, models.ColEdgeAttr)
		}
		if s.GraphAttr, err = float32List(cols.graphAttr, i); err != nil {
			return nil, errors.Wrapf(err, errors.CodeDecode, "row %d: %s", i, models.ColGraphAttr)
		}
		if s.PlanAttr, err = float32Matrix(cols.planAttr, i); err != nil {
			return nil, errors.Wrapf(err, errors.CodeDecode, "row %d: %s", i, models.ColPlanAttr)
		}
		if s.PlanOrder, err = int64List(cols.planOrder, i); err != nil {
			return nil, errors.Wrapf(err, errors.CodeDecode, "row %d: %s", i, models.ColPlanOrder)
		}
		samples[i] = s
	}
	return samples, nil
}

func float32List(col *array.List, i int) ([]float32, error) {
	values, ok := col.ListValues().(*array.Float32)
	if !ok {
		return nil, errors.New(errors.CodeDecode, "list values are not float32")
	}
	start, end := col.ValueOffsets(i)
	return slices.Clone(values.Float32Values()[start:end]), nil
}

func int64List(col *array.List, i int) ([]int64, error) {
	values, ok := col.ListValues().(*array.Int64)
	if !ok {
		return nil, errors.New(errors.CodeDecode, "list values are not int64")
	}
	start, end := col.ValueOffsets(i)
	return slices.Clone(values.Int64Values()[start:end]), nil
}

func float32Matrix(col *array.List, i int) ([][]float32, error) {
	rows, ok := col.ListValues().(*array.List)
	if !ok {
		return nil, errors.New(errors.CodeDecode, "matrix rows are not lists")
	}
	start, end := col.ValueOffsets(i)
	out := make([][]float32, 0, end-start)
	for r := start; r < end; r++ {
		row, err := float32List(rows, int(r))
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func int64Matrix(col *array.List, i int) ([][]int64, error) {
	rows, ok := col.ListValues().(*array.List)
	if !ok {
		return nil, errors.New(errors.CodeDecode, "matrix rows are not lists")
	}
	start, end := col.ValueOffsets(i)
	out := make([][]int64, 0, end-start)
	for r := start; r < end; r++ {
		row, err := int64List(rows, int(r))
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
