package models

import (
	"fmt"
	"time"

	"github.com/M2oDA-Lab/roq/pkg/errors"
)

// Split names one of the three sample partitions.
type Split string

const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
)

// Splits lists the partitions in the order they are materialized.
var Splits = []Split{SplitTrain, SplitVal, SplitTest}

// ParseSplit validates a caller supplied split name.
func ParseSplit(name string) (Split, error) {
	switch Split(name) {
	case SplitTrain, SplitVal, SplitTest:
		return Split(name), nil
	}
	return "", errors.Newf(errors.CodeInvalidArgument,
		"split '%s' found, but expected either 'train', 'val', or 'test'", name)
}

// suffix is the artifact file suffix used for the split.
func (s Split) suffix() string {
	switch s {
	case SplitTrain:
		return "tr"
	case SplitVal:
		return "val"
	case SplitTest:
		return "ts"
	}
	return string(s)
}

// RawFileName returns the raw input file name of a dataset.
func RawFileName(filesID string) string {
	return fmt.Sprintf("labeled_query_plans_%s.msgpack", filesID)
}

// ArtifactName returns the processed artifact name of one split.
func ArtifactName(filesID string, split Split) string {
	return fmt.Sprintf("proc_data_%s_%s", filesID, split.suffix())
}

// NoSplitArtifactName returns the processed artifact name of the unsplit
// variant.
func NoSplitArtifactName(filesID string) string {
	return fmt.Sprintf("proc_data_%s", filesID)
}

// Assignment partitions the unique query ids of a dataset.
type Assignment struct {
	Train []int64 `json:"train"`
	Val   []int64 `json:"val"`
	Test  []int64 `json:"test"`
}

// IDs returns the query ids of the given split.
func (a *Assignment) IDs(split Split) []int64 {
	switch split {
	case SplitTrain:
		return a.Train
	case SplitVal:
		return a.Val
	case SplitTest:
		return a.Test
	}
	return nil
}

// Run describes one processing run of a dataset.
type Run struct {
	RunID            string    `json:"run_id"`
	FilesID          string    `json:"files_id"`
	Seed             int64     `json:"seed"`
	NumSamples       *int      `json:"num_samples"`
	ValSamples       float64   `json:"val_samples"`
	TestSamples      float64   `json:"test_samples"`
	TestLongrunShare float64   `json:"test_longrun_share"`
	TotalSamples     int       `json:"total_samples"`
	CreatedAt        time.Time `json:"created_at"`
}

// ArtifactMeta is stored alongside a persisted sample collection.
type ArtifactMeta struct {
	FilesID     string
	Split       string
	RunID       string
	Seed        int64
	SampleCount int
}
