package models

import (
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
)

// Column names of a collated sample collection.
const (
	ColQueryID   = "query_id"
	ColNodeAttr  = "x_s"
	ColEdgeIndex = "edge_index_s"
	ColEdgeAttr  = "edge_attr_s"
	ColGraphAttr = "graph_attr"
	ColPlanAttr  = "plan_attr"
	ColPlanOrder = "plan_ord"
	ColLatency   = "y"
	ColLatencyT  = "y_t"
	ColOptChoice = "opt_choice"
	ColOptCost   = "opt_cost"
	ColNumJoins  = "num_joins"
	ColNumNodes  = "num_nodes"
)

// Schema metadata keys of a collated sample collection.
const (
	MetaFilesID     = "roq.files_id"
	MetaSplit       = "roq.split"
	MetaRunID       = "roq.run_id"
	MetaSeed        = "roq.seed"
	MetaSampleCount = "roq.sample_count"
)

func float32Matrix() arrow.DataType {
	return arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Float32))
}

// GetSampleSchema returns the Arrow schema of a collated sample collection.
// Every sample is one row; list offsets index the per-sample tensors.
func GetSampleSchema(meta *ArtifactMeta) *arrow.Schema {
	fields := []arrow.Field{
		{Name: ColQueryID, Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: ColNodeAttr, Type: float32Matrix(), Nullable: false},
		{Name: ColEdgeIndex, Type: arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Int64)), Nullable: false},
		{Name: ColEdgeAttr, Type: float32Matrix(), Nullable: false},
		{Name: ColGraphAttr, Type: arrow.ListOf(arrow.PrimitiveTypes.Float32), Nullable: false},
		{Name: ColPlanAttr, Type: float32Matrix(), Nullable: false},
		{Name: ColPlanOrder, Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: false},
		{Name: ColLatency, Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: ColLatencyT, Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: ColOptChoice, Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
		{Name: ColOptCost, Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: ColNumJoins, Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: ColNumNodes, Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	}

	if meta == nil {
		return arrow.NewSchema(fields, nil)
	}

	md := arrow.NewMetadata(
		[]string{MetaFilesID, MetaSplit, MetaRunID, MetaSeed, MetaSampleCount},
		[]string{
			meta.FilesID,
			meta.Split,
			meta.RunID,
			strconv.FormatInt(meta.Seed, 10),
			strconv.Itoa(meta.SampleCount),
		},
	)
	return arrow.NewSchema(fields, &md)
}

// ArtifactMetaFromSchema reads the artifact metadata back from a schema.
func ArtifactMetaFromSchema(schema *arrow.Schema) *ArtifactMeta {
	md := schema.Metadata()
	get := func(key string) string {
		if idx := md.FindKey(key); idx >= 0 {
			return md.Values()[idx]
		}
		return ""
	}

	meta := &ArtifactMeta{
		FilesID: get(MetaFilesID),
		Split:   get(MetaSplit),
		RunID:   get(MetaRunID),
	}
	meta.Seed, _ = strconv.ParseInt(get(MetaSeed), 10, 64)
	meta.SampleCount, _ = strconv.Atoi(get(MetaSampleCount))
	return meta
}
