package chart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderWritesFiles(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer()

	specs := map[string]Spec{
		"bar.png":     {Kind: Bar, Title: "Revenue", Labels: []string{"a", "b", "c"}, Values: []float64{3, 1, 2}},
		"line.svg":    {Kind: Line, X: []float64{1, 2, 3}, Y: []float64{2, 4, 8}},
		"scatter.png": {Kind: Scatter, X: []float64{1, 2, 3}, Y: []float64{3, 1, 2}},
		"hist.png":    {Kind: Hist, Values: []float64{1, 1, 2, 3, 5, 8}, Bins: 3},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, r.Render(spec, path))
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Positive(t, info.Size())
		})
	}
}

func TestRenderRejectsBadSpecs(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer()

	tests := []struct {
		name string
		spec Spec
		file string
	}{
		{"label mismatch", Spec{Kind: Bar, Labels: []string{"a"}, Values: []float64{1, 2}}, "x.png"},
		{"xy mismatch", Spec{Kind: Line, X: []float64{1, 2}, Y: []float64{1}}, "x.png"},
		{"no bins", Spec{Kind: Hist, Values: []float64{1}}, "x.png"},
		{"unknown kind", Spec{Kind: "pie", Values: []float64{1}}, "x.png"},
		{"bad format", Spec{Kind: Hist, Values: []float64{1}, Bins: 2}, "x.gif"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Render(tt.spec, filepath.Join(dir, tt.file))
			require.Error(t, err)
			_, statErr := os.Stat(filepath.Join(dir, tt.file))
			assert.True(t, os.IsNotExist(statErr), "nothing written on error")
		})
	}
}
