package ensemble

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadArtifactsEmptyDir(t *testing.T) {
	res, err := LoadArtifacts(LoadOptions{
		ModelsDir:    t.TempDir(),
		WindowSize:   128,
		IndicatorDim: 10,
		Timeout:      10 * time.Second,
	})
	require.NoError(t, err)

	assert.Empty(t, res.Bases, "empty models dir must yield the not-loaded state")
	assert.Nil(t, res.Meta)
	assert.Nil(t, res.Weights)
	assert.Nil(t, res.Isotonic)
}

func TestLoadArtifactsMissingDir(t *testing.T) {
	res, err := LoadArtifacts(LoadOptions{
		ModelsDir:    filepath.Join(t.TempDir(), "does-not-exist"),
		WindowSize:   128,
		IndicatorDim: 10,
		Timeout:      10 * time.Second,
	})
	require.NoError(t, err, "a missing directory is the same as an empty one")
	assert.Empty(t, res.Bases)
}

func TestBaseModelFileNaming(t *testing.T) {
	assert.Equal(t, "base_model_0.onnx", baseModelFile(0))
	assert.Equal(t, "base_model_7.onnx", baseModelFile(7))
}
