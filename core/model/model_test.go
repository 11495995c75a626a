package model

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

type persisted struct {
	Name    string
	Weights []float64
	State   *StateManager
}

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	assert.False(t, s.IsFitted())

	err := s.RequireFitted("Tree", "Predict")
	var nf *errors.NotFittedError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Predict", nf.Method)

	s.MarkFitted(3, 10)
	assert.True(t, s.IsFitted())
	assert.NoError(t, s.RequireFitted("Tree", "Predict"))
	assert.NoError(t, s.CheckFeatures("Predict", 3))

	var de *errors.DimensionError
	require.True(t, errors.As(s.CheckFeatures("Predict", 4), &de))
	assert.Equal(t, 3, de.Expected)
	assert.Equal(t, 4, de.Got)

	s.Reset()
	nFeatures, nSamples := s.GetDimensions()
	assert.Equal(t, 0, nFeatures)
	assert.Equal(t, 0, nSamples)

	var nilState *StateManager
	assert.False(t, nilState.IsFitted())
}

func TestSaveLoadModel(t *testing.T) {
	state := NewStateManager()
	state.MarkFitted(2, 5)
	in := persisted{Name: "rf", Weights: []float64{1.5, -2}, State: state}

	path := filepath.Join(t.TempDir(), "nested", "model.gob")
	require.NoError(t, SaveModel(&in, path))

	var out persisted
	require.NoError(t, LoadModel(&out, path))
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Weights, out.Weights)
	assert.True(t, out.State.IsFitted())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestLoadModel_Errors(t *testing.T) {
	var out persisted
	assert.Error(t, LoadModel(&out, filepath.Join(t.TempDir(), "missing.gob")))
	assert.Error(t, LoadModelFromReader(&out, bytes.NewBufferString("not gob")))
}

func TestIntParam(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    int
		wantErr bool
	}{
		{"int", 5, 5, false},
		{"int64", int64(7), 7, false},
		{"float64 integral", 10.0, 10, false},
		{"nil means none", nil, 0, false},
		{"fractional", 2.5, 0, true},
		{"string", "3", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntParam("p", tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	b, err := BoolParam("bootstrap", true)
	require.NoError(t, err)
	assert.True(t, b)
	_, err = BoolParam("bootstrap", 1)
	assert.Error(t, err)
}
