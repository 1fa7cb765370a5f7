package dataset

import (
	"github.com/M2oDA-Lab/roq/pkg/models"
)

// Dataset is a loaded sample collection: one split of a processed dataset,
// or the whole dataset for the unsplit variant.
type Dataset struct {
	split     string
	meta      *models.ArtifactMeta
	samples   []*models.Sample
	transform TransformFunc
}

// New wraps loaded samples. transform may be nil.
func New(split string, meta *models.ArtifactMeta, samples []*models.Sample, transform TransformFunc) *Dataset {
	return &Dataset{
		split:     split,
		meta:      meta,
		samples:   samples,
		transform: transform,
	}
}

// Split returns the split name, or "all" for the unsplit variant.
func (d *Dataset) Split() string {
	return d.split
}

// Meta returns the metadata stored with the artifact.
func (d *Dataset) Meta() *models.ArtifactMeta {
	return d.meta
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.samples)
}

// Get returns sample i with the access transform applied.
func (d *Dataset) Get(i int) *models.Sample {
	s := d.samples[i]
	if d.transform != nil {
		return d.transform(s)
	}
	return s
}

// QueryIDs returns the distinct query ids of the dataset in sample order.
func (d *Dataset) QueryIDs() []int64 {
	ids := make([]int64, len(d.samples))
	for i, s := range d.samples {
		ids[i] = s.QueryID
	}
	return uniqueInOrder(ids)
}
