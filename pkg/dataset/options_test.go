package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M2oDA-Lab/roq/pkg/errors"
)

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr string
	}{
		{name: "defaults", mutate: func(o *Options) {}},
		{name: "derived share", mutate: func(o *Options) { o.TestLongrunShare = nil }},
		{name: "explicit zero samples", mutate: func(o *Options) { o.NumSamples = count(0) }},
		{name: "missing files id", mutate: func(o *Options) { o.FilesID = "" }, wantErr: "files id"},
		{name: "negative num samples", mutate: func(o *Options) { o.NumSamples = count(-1) }, wantErr: "num samples"},
		{name: "negative val samples", mutate: func(o *Options) { o.ValSamples = -0.1 }, wantErr: "val samples"},
		{name: "infinite test samples", mutate: func(o *Options) { o.TestSamples = math.Inf(1) }, wantErr: "test samples"},
		{name: "zero share", mutate: func(o *Options) { o.TestLongrunShare = share(0) }, wantErr: "fraction in (0, 1)"},
		{name: "share of one", mutate: func(o *Options) { o.TestLongrunShare = share(1) }, wantErr: "fraction in (0, 1)"},
		{name: "share above one", mutate: func(o *Options) { o.TestLongrunShare = share(3) }, wantErr: "fraction in (0, 1)"},
		{name: "NaN share", mutate: func(o *Options) { o.TestLongrunShare = share(math.NaN()) }, wantErr: "fraction in (0, 1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions("job")
			tt.mutate(&opts)

			err := opts.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfig, errors.GetCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
